package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pfrederiksen/dpwh-projects/internal/config"
	"github.com/pfrederiksen/dpwh-projects/internal/logger"
)

var (
	flagReset       bool
	flagRegionsFile string
	flagLimit       int
)

func newRotationCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rotation",
		Short: "Show or reset the region rotation",
		Args:  cobra.NoArgs,
		RunE:  runRotation,
	}

	cmd.Flags().BoolVar(&flagReset, "reset", false, "Clear the cursor so the next tick starts at the first region")
	cmd.Flags().StringVar(&flagFormat, "format", "text", "Output format: text or json")

	return cmd
}

func runRotation(cmd *cobra.Command, args []string) error {
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

	if flagReset {
		if err := t.ResetRotation(ctx); err != nil {
			return err
		}
	}

	st, err := t.RotationStatus(ctx)
	if err != nil {
		return err
	}
	return WriteRotation(cmd.OutOrStdout(), st, format)
}

func newSeedRegionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed-regions",
		Short: "Create or update the list of regions",
		Long: `Upsert regions by name from a YAML file, or from the built-in list of DPWH
regional listing pages when no file is given.`,
		Args: cobra.NoArgs,
		RunE: runSeedRegions,
	}

	cmd.Flags().StringVar(&flagRegionsFile, "file", "", "Regions YAML file (default: regions.file from config or the built-in list)")

	return cmd
}

func runSeedRegions(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	path := flagRegionsFile
	if path == "" {
		path = a.cfg.Regions.File
	}
	seeds, err := config.LoadRegions(path)
	if err != nil {
		return err
	}

	regions, err := a.backend.regions.SeedRegions(ctx, seeds)
	if err != nil {
		return fmt.Errorf("seeding regions: %w", err)
	}

	a.log.Info("Seeded regions", logger.Fields{"count": len(regions), "file": path})
	fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d regions.\n", len(regions))
	return nil
}

func newChangesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "changes",
		Short: "List recent project changes",
		Args:  cobra.NoArgs,
		RunE:  runChanges,
	}

	cmd.Flags().IntVar(&flagLimit, "limit", 20, "Maximum number of changes to show (0 for all)")
	cmd.Flags().StringVar(&flagFormat, "format", "text", "Output format: text or json")

	return cmd
}

func runChanges(cmd *cobra.Command, args []string) error {
	format, err := parseFormat(flagFormat)
	if err != nil {
		return err
	}
	if flagLimit < 0 {
		return fmt.Errorf("invalid limit: %d", flagLimit)
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	events, err := a.backend.changes.Recent(ctx, flagLimit)
	if err != nil {
		return fmt.Errorf("reading changes: %w", err)
	}

	return WriteChanges(cmd.OutOrStdout(), &ChangesOutput{Changes: events, Count: len(events)}, format, flagVerbose)
}
