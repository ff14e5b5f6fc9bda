package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/pfrederiksen/dpwh-projects/internal/project"
	"github.com/pfrederiksen/dpwh-projects/internal/rotation"
	"github.com/pfrederiksen/dpwh-projects/internal/tracker"
)

// OutputFormat specifies the output format
type OutputFormat string

const (
	FormatText OutputFormat = "text"
	FormatJSON OutputFormat = "json"
)

// Totals sums the results of a scrape.
type Totals struct {
	Regions    int `json:"regions"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
	Found      int `json:"projects_found"`
	New        int `json:"new_projects"`
	Updated    int `json:"updated_projects"`
	Unchanged  int `json:"unchanged_projects"`
	Missing    int `json:"missing_projects"`
	Errors     int `json:"errors"`
}

// ScrapeOutput is the result of the scrape command.
type ScrapeOutput struct {
	ScrapedAt time.Time              `json:"scraped_at"`
	DryRun    bool                   `json:"dry_run,omitempty"`
	Regions   []tracker.RegionResult `json:"regions"`
	Totals    Totals                 `json:"totals"`
	// Pending lists the records a dry run would have written.
	Pending []*project.Record `json:"pending,omitempty"`
}

// NextOutput is the result of one rotation tick.
type NextOutput struct {
	ScrapedAt time.Time            `json:"scraped_at"`
	Region    string               `json:"region"`
	Result    tracker.RegionResult `json:"result"`
	Rotation  rotation.Status      `json:"rotation"`
}

// ChangesOutput lists recent change events, newest first.
type ChangesOutput struct {
	Changes []*project.ChangeEvent `json:"changes"`
	Count   int                    `json:"count"`
}

func summarize(results []tracker.RegionResult) Totals {
	t := Totals{Regions: len(results)}
	for _, r := range results {
		if r.Success {
			t.Successful++
		} else {
			t.Failed++
		}
		t.Found += r.ProjectsFound
		t.New += r.NewProjects
		t.Updated += r.UpdatedProjects
		t.Unchanged += r.UnchangedProjects
		t.Missing += r.MissingProjects
		t.Errors += r.Errors
	}
	return t
}

// FormatPosition renders a rotation position, or "?" when the cursor is not
// on an active region.
func FormatPosition(st rotation.Status) string {
	if st.Position == 0 {
		return fmt.Sprintf("?/%d", st.Total)
	}
	return strconv.Itoa(st.Position) + "/" + strconv.Itoa(st.Total)
}

// writeJSON outputs v as indented JSON
func writeJSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// WriteScrape writes a scrape result in the specified format
func WriteScrape(w io.Writer, out *ScrapeOutput, format OutputFormat, verbose bool) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, out)
	case FormatText:
		return writeScrapeText(w, out, verbose)
	default:
		return fmt.Errorf("unknown format: %s", format)
	}
}

func writeScrapeText(w io.Writer, out *ScrapeOutput, verbose bool) error {
	if len(out.Regions) == 0 {
		fmt.Fprintln(w, "No regions scraped.")
		return nil
	}

	for _, r := range out.Regions {
		writeResultLine(w, r)
		if verbose {
			fmt.Fprintf(w, "       Found: %d  Unchanged: %d  Duration: %s\n",
				r.ProjectsFound, r.UnchangedProjects, r.Duration.Round(time.Millisecond))
		}
	}

	t := out.Totals
	fmt.Fprintf(w, "\nTotal: %d regions (%d ok, %d failed), %d projects: %d new, %d updated, %d missing, %d errors\n",
		t.Regions, t.Successful, t.Failed, t.Found, t.New, t.Updated, t.Missing, t.Errors)
	if out.DryRun {
		fmt.Fprintf(w, "Dry run: %d records not saved.\n", len(out.Pending))
	}
	return nil
}

func writeResultLine(w io.Writer, r tracker.RegionResult) {
	if !r.Success {
		fmt.Fprintf(w, "FAILED %s: %s\n", r.Region, r.Error)
		return
	}
	fmt.Fprintf(w, "%s: %d new, %d updated, %d missing", r.Region, r.NewProjects, r.UpdatedProjects, r.MissingProjects)
	if r.Errors > 0 {
		fmt.Fprintf(w, ", %d errors", r.Errors)
	}
	fmt.Fprintln(w)
}

// WriteNext writes a rotation tick in the specified format
func WriteNext(w io.Writer, out *NextOutput, format OutputFormat) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, out)
	case FormatText:
		writeResultLine(w, out.Result)
		fmt.Fprintf(w, "Rotation: %s\n", FormatPosition(out.Rotation))
		return nil
	default:
		return fmt.Errorf("unknown format: %s", format)
	}
}

// WriteRotation writes the rotation status in the specified format
func WriteRotation(w io.Writer, st rotation.Status, format OutputFormat) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, st)
	case FormatText:
		last, next := "(none)", "(none)"
		if st.LastRegion != nil {
			last = st.LastRegion.Name
		}
		if st.NextRegion != nil {
			next = st.NextRegion.Name
		}
		fmt.Fprintf(w, "Last scraped: %s\n", last)
		fmt.Fprintf(w, "Next region:  %s\n", next)
		fmt.Fprintf(w, "Position:     %s\n", FormatPosition(st))
		return nil
	default:
		return fmt.Errorf("unknown format: %s", format)
	}
}

// WriteChanges writes change events in the specified format
func WriteChanges(w io.Writer, out *ChangesOutput, format OutputFormat, verbose bool) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, out)
	case FormatText:
		if out.Count == 0 {
			fmt.Fprintln(w, "No changes recorded.")
			return nil
		}
		for _, evt := range out.Changes {
			fmt.Fprintf(w, "%s  %-19s %s", evt.DetectedAt.Format(time.RFC3339), evt.ChangeType, evt.ContractID)
			if name := changeName(evt); name != "" {
				fmt.Fprintf(w, "  %s", name)
			}
			fmt.Fprintln(w)
			if verbose && len(evt.ChangedFields) > 0 {
				fmt.Fprintf(w, "       Fields: %v\n", evt.ChangedFields)
			}
		}
		fmt.Fprintf(w, "\nTotal: %d changes\n", out.Count)
		return nil
	default:
		return fmt.Errorf("unknown format: %s", format)
	}
}

func changeName(evt *project.ChangeEvent) string {
	if evt.NewSnapshot != nil {
		return evt.NewSnapshot.ProjectName
	}
	if evt.OldSnapshot != nil {
		return evt.OldSnapshot.ProjectName
	}
	return ""
}
