package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pfrederiksen/dpwh-projects/internal/tracker"
)

// SortOrder represents the available sorting options
type SortOrder string

const (
	SortByName     SortOrder = "name"
	SortByChanges  SortOrder = "changes"
	SortByDuration SortOrder = "duration"
)

func parseSortOrder(s string) (SortOrder, error) {
	switch order := SortOrder(strings.ToLower(s)); order {
	case SortByName, SortByChanges, SortByDuration:
		return order, nil
	}
	return "", fmt.Errorf("invalid sort order: %s (must be 'name', 'changes' or 'duration')", s)
}

// sortResults flattens sweep results into the specified order
func sortResults(results map[string]tracker.RegionResult, sortOrder SortOrder) []tracker.RegionResult {
	out := make([]tracker.RegionResult, 0, len(results))
	for _, r := range results {
		out = append(out, r)
	}

	switch sortOrder {
	case SortByChanges:
		sort.Slice(out, func(i, j int) bool {
			ci, cj := changeCount(out[i]), changeCount(out[j])
			if ci != cj {
				return ci > cj
			}
			// If counts are equal, sort by name
			return out[i].Region < out[j].Region
		})
	case SortByDuration:
		sort.Slice(out, func(i, j int) bool {
			if out[i].Duration != out[j].Duration {
				return out[i].Duration > out[j].Duration
			}
			return out[i].Region < out[j].Region
		})
	default:
		sort.Slice(out, func(i, j int) bool {
			return out[i].Region < out[j].Region
		})
	}
	return out
}

// changeCount is the number of change events a result produced. Failed
// regions sort last.
func changeCount(r tracker.RegionResult) int {
	if !r.Success {
		return -1
	}
	return r.NewProjects + r.UpdatedProjects + r.MissingProjects
}
