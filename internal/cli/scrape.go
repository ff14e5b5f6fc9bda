package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pfrederiksen/dpwh-projects/internal/project"
	"github.com/pfrederiksen/dpwh-projects/internal/storage"
	"github.com/pfrederiksen/dpwh-projects/internal/tracker"
)

var (
	flagRegion string
	flagDryRun bool
	flagFormat string
	flagSort   string
)

func newScrapeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Scrape one region or all active regions",
		Long: `Scrape the listing page of one region, or of every active region in name
order, and record new, updated and potentially deleted projects.`,
		Args: cobra.NoArgs,
		RunE: runScrape,
	}

	cmd.Flags().StringVar(&flagRegion, "region", "", "Region name to scrape (default: all active regions)")
	cmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "Scrape without saving projects or changes")
	cmd.Flags().StringVar(&flagFormat, "format", "text", "Output format: text or json")
	cmd.Flags().StringVar(&flagSort, "sort", "name", "Sort regions by: name, changes or duration")

	return cmd
}

func runScrape(cmd *cobra.Command, args []string) error {
	format, err := parseFormat(flagFormat)
	if err != nil {
		return err
	}
	order, err := parseSortOrder(flagSort)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, flagDryRun)
	if err != nil {
		return err
	}
	defer a.Close()

	t, err := a.tracker()
	if err != nil {
		return err
	}
	n, err := a.newNotifier(cmd.ErrOrStderr(), flagDryRun)
	if err != nil {
		return err
	}

	var results map[string]tracker.RegionResult
	var sweepErr error
	if flagRegion != "" {
		region, err := findRegion(ctx, a.backend.regions, flagRegion)
		if err != nil {
			return err
		}
		results = map[string]tracker.RegionResult{region.Name: t.ScrapeRegion(ctx, region)}
	} else {
		regions, err := a.backend.regions.ListActive(ctx)
		if err != nil {
			return fmt.Errorf("listing regions: %w", err)
		}
		if len(regions) == 0 {
			return errors.New("no active regions; run seed-regions first")
		}

		if bar := newProgressBar(len(regions), "Scraping regions", format); bar != nil {
			t.OnRegion = func(index, total int, result tracker.RegionResult) {
				bar.Describe(result.Region)
				_ = bar.Add(1)
			}
			defer func() { _ = bar.Finish() }()
		}

		results, sweepErr = t.ScrapeAllRegions(ctx)
		if results == nil {
			return sweepErr
		}
	}

	ordered := sortResults(results, order)
	out := &ScrapeOutput{
		ScrapedAt: time.Now().UTC(),
		DryRun:    flagDryRun,
		Regions:   ordered,
		Totals:    summarize(ordered),
	}
	if a.backend.dryRun != nil {
		out.Pending = a.backend.dryRun.Pending()
	}

	if err := WriteScrape(cmd.OutOrStdout(), out, format, flagVerbose); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}
	a.notifyChanges(ctx, n)
	return sweepErr
}

// findRegion looks up an active region by name, ignoring case.
func findRegion(ctx context.Context, regions storage.RegionStore, name string) (project.Region, error) {
	active, err := regions.ListActive(ctx)
	if err != nil {
		return project.Region{}, fmt.Errorf("listing regions: %w", err)
	}
	for _, r := range active {
		if strings.EqualFold(r.Name, strings.TrimSpace(name)) {
			return r, nil
		}
	}
	return project.Region{}, fmt.Errorf("no active region named %q", name)
}

func newScrapeNextCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scrape-next",
		Short: "Scrape the next region in the rotation",
		Long: `Scrape the region after the last one scraped, wrapping around to the first
active region. A failed scrape is reported but does not fail the command.`,
		Args: cobra.NoArgs,
		RunE: runScrapeNext,
	}

	cmd.Flags().StringVar(&flagFormat, "format", "text", "Output format: text or json")

	return cmd
}

func runScrapeNext(cmd *cobra.Command, args []string) error {
	format, err := parseFormat(flagFormat)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	t, err := a.tracker()
	if err != nil {
		return err
	}

	n, err := a.newNotifier(cmd.ErrOrStderr(), false)
	if err != nil {
		return err
	}

	region, result, err := t.AdvanceRotation(ctx)
	if errors.Is(err, tracker.ErrBusy) {
		a.log.Warn("Rotation tick skipped, another run holds the lease", nil)
		fmt.Fprintln(cmd.OutOrStdout(), "Skipped: another run holds the rotation lease.")
		return nil
	}
	if err != nil {
		return fmt.Errorf("advancing rotation: %w", err)
	}
	a.notifyChanges(ctx, n)

	st, err := t.RotationStatus(ctx)
	if err != nil {
		return err
	}

	out := &NextOutput{
		ScrapedAt: time.Now().UTC(),
		Region:    region.Name,
		Result:    result,
		Rotation:  st,
	}
	if err := WriteNext(cmd.OutOrStdout(), out, format); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}
	return nil
}
