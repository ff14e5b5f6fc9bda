package project

import (
	"time"

	"github.com/google/uuid"
)

// Action is the outcome of reconciling one scraped candidate.
type Action string

const (
	ActionCreated   Action = "created"
	ActionUpdated   Action = "updated"
	ActionUnchanged Action = "unchanged"
)

// Reconciliation is the result of Reconcile: the record to persist and the
// change event to append, if any.
type Reconciliation struct {
	Action Action
	Event  *ChangeEvent
	Record *Record
}

// Reconcile compares a freshly scraped candidate with the stored record that
// has the same contract ID (nil when there is none).
func Reconcile(candidate, existing *Record, now time.Time) Reconciliation {
	now = now.UTC()

	if existing == nil {
		rec := candidate.Clone()
		rec.ID = 0
		rec.FirstSeenAt = now
		rec.LastScrapedAt = now
		rec.ContentHash = ContentHash(rec)

		return Reconciliation{
			Action: ActionCreated,
			Event:  newChangeEvent(rec, ChangeCreated, nil, rec.Clone(), nil, now),
			Record: rec,
		}
	}

	newHash := ContentHash(candidate)
	if newHash != existing.ContentHash {
		changed := ChangedFields(existing, candidate)
		if len(changed) > 0 {
			old := existing.Clone()

			rec := existing.Clone()
			rec.assignComparable(candidate)
			rec.ContentHash = newHash
			rec.LastScrapedAt = now

			return Reconciliation{
				Action: ActionUpdated,
				Event:  newChangeEvent(rec, ChangeUpdated, old, rec.Clone(), changed, now),
				Record: rec,
			}
		}
	}

	// Same content. The stored hash may still predate the current encoding,
	// so it is rewritten along with the scrape time.
	rec := existing.Clone()
	rec.ContentHash = newHash
	rec.LastScrapedAt = now
	return Reconciliation{
		Action: ActionUnchanged,
		Record: rec,
	}
}

func newChangeEvent(rec *Record, changeType ChangeType, old, updated *Record, changed []string, now time.Time) *ChangeEvent {
	return &ChangeEvent{
		ID:            uuid.NewString(),
		ContractID:    rec.ContractID,
		RegionID:      rec.RegionID,
		ChangeType:    changeType,
		OldSnapshot:   old,
		NewSnapshot:   updated,
		ChangedFields: changed,
		DetectedAt:    now,
	}
}
