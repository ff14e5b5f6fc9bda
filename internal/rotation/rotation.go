// Package rotation picks the next region to scrape from a persisted cursor
// over the ring of active regions.
package rotation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pfrederiksen/dpwh-projects/internal/project"
	"github.com/pfrederiksen/dpwh-projects/internal/storage"
)

// DefaultCursorTTL is how long the cursor survives without a tick.
const DefaultCursorTTL = 30 * 24 * time.Hour

// ErrNoActiveRegions is returned when the ring is empty.
var ErrNoActiveRegions = errors.New("no active regions")

// Policy says when the cursor moves relative to the scrape.
type Policy string

const (
	// AdvanceBeforeScrape commits the cursor before scraping, so a failing
	// region never blocks the rotation.
	AdvanceBeforeScrape Policy = "before-scrape"
	// AdvanceAfterSuccess commits the cursor only once the scrape succeeded,
	// so a failing region is retried on the next tick.
	AdvanceAfterSuccess Policy = "after-success"
)

// ParsePolicy parses a policy name. Empty means AdvanceBeforeScrape.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", AdvanceBeforeScrape:
		return AdvanceBeforeScrape, nil
	case AdvanceAfterSuccess:
		return AdvanceAfterSuccess, nil
	}
	return "", fmt.Errorf("unknown advance policy %q", s)
}

// Next returns the region after lastID in ring. Without a cursor, or when
// lastID is no longer in the ring, it restarts at the first region. ok is
// false only for an empty ring.
func Next(ring []project.Region, lastID int64, hasCursor bool) (project.Region, bool) {
	if len(ring) == 0 {
		return project.Region{}, false
	}
	if !hasCursor {
		return ring[0], true
	}
	for i, r := range ring {
		if r.ID == lastID {
			return ring[(i+1)%len(ring)], true
		}
	}
	return ring[0], true
}

// Status describes where the rotation stands.
type Status struct {
	LastRegion *project.Region `json:"last_region,omitempty"`
	NextRegion *project.Region `json:"next_region,omitempty"`
	// Position is the 1-based index of LastRegion in the ring, or 0 when the
	// cursor is unset or points at a region that is no longer active.
	Position int `json:"position"`
	Total    int `json:"total"`
}

// Scheduler reads the ring from a RegionStore and keeps the cursor in a
// CursorStore.
type Scheduler struct {
	regions storage.RegionStore
	cursor  storage.CursorStore
	ttl     time.Duration
}

// NewScheduler creates a Scheduler. A non-positive ttl uses DefaultCursorTTL.
func NewScheduler(regions storage.RegionStore, cursor storage.CursorStore, ttl time.Duration) *Scheduler {
	if ttl <= 0 {
		ttl = DefaultCursorTTL
	}
	return &Scheduler{regions: regions, cursor: cursor, ttl: ttl}
}

func (s *Scheduler) ring(ctx context.Context) ([]project.Region, error) {
	ring, err := s.regions.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing active regions: %w", err)
	}
	return ring, nil
}

// Peek returns the region the next tick will scrape without moving the
// cursor.
func (s *Scheduler) Peek(ctx context.Context) (project.Region, error) {
	ring, err := s.ring(ctx)
	if err != nil {
		return project.Region{}, err
	}
	lastID, ok, err := s.cursor.Get(ctx)
	if err != nil {
		return project.Region{}, fmt.Errorf("reading cursor: %w", err)
	}
	next, found := Next(ring, lastID, ok)
	if !found {
		return project.Region{}, ErrNoActiveRegions
	}
	return next, nil
}

// Commit records region as the last scraped one.
func (s *Scheduler) Commit(ctx context.Context, region project.Region) error {
	if err := s.cursor.Set(ctx, region.ID, s.ttl); err != nil {
		return fmt.Errorf("updating cursor: %w", err)
	}
	return nil
}

// Advance picks the next region and commits it as the cursor before
// returning it.
func (s *Scheduler) Advance(ctx context.Context) (project.Region, error) {
	next, err := s.Peek(ctx)
	if err != nil {
		return project.Region{}, err
	}
	if err := s.Commit(ctx, next); err != nil {
		return project.Region{}, err
	}
	return next, nil
}

// Status reports the last and next regions and the cursor position.
func (s *Scheduler) Status(ctx context.Context) (Status, error) {
	ring, err := s.ring(ctx)
	if err != nil {
		return Status{}, err
	}
	lastID, ok, err := s.cursor.Get(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("reading cursor: %w", err)
	}

	st := Status{Total: len(ring)}
	if ok {
		for i := range ring {
			if ring[i].ID == lastID {
				last := ring[i]
				st.LastRegion = &last
				st.Position = i + 1
				break
			}
		}
	}
	if next, found := Next(ring, lastID, ok); found {
		st.NextRegion = &next
	}
	return st, nil
}

// Reset clears the cursor so the next tick starts at the first region.
func (s *Scheduler) Reset(ctx context.Context) error {
	if err := s.cursor.Clear(ctx); err != nil {
		return fmt.Errorf("clearing cursor: %w", err)
	}
	return nil
}
