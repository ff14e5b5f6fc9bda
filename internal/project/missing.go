package project

import "time"

// DefaultMissingThreshold is how long a record may go unseen before its absence
// from a scrape is reported.
const DefaultMissingThreshold = 6 * time.Hour

// DetectMissing returns a potentially_deleted event for every stored record
// whose contract ID is absent from scraped and that was last scraped before
// cutoff. An empty scraped set is treated as a failed scrape and yields nothing.
func DetectMissing(stored []*Record, scraped map[string]struct{}, cutoff, now time.Time) []*ChangeEvent {
	if len(scraped) == 0 {
		return nil
	}

	var events []*ChangeEvent
	for _, rec := range stored {
		if _, seen := scraped[rec.ContractID]; seen {
			continue
		}
		if !rec.LastScrapedAt.Before(cutoff) {
			continue
		}
		events = append(events, newChangeEvent(rec, ChangePotentiallyDeleted, rec.Clone(), nil, nil, now.UTC()))
	}
	return events
}
