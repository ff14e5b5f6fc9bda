package storage

import (
	"context"
	"errors"
	"time"

	"github.com/pfrederiksen/dpwh-projects/internal/project"
)

// ErrLocked is returned by a Locker when the key is held by someone else.
var ErrLocked = errors.New("lock is held elsewhere")

// RegionStore reads and seeds regions.
type RegionStore interface {
	// ListActive returns the active regions ordered by name.
	ListActive(ctx context.Context) ([]project.Region, error)
	// SeedRegions inserts or updates regions by name and returns them with
	// their store IDs.
	SeedRegions(ctx context.Context, regions []project.Region) ([]project.Region, error)
}

// ProjectStore persists project records keyed by contract ID.
type ProjectStore interface {
	// FindByContractID returns nil, nil when no record exists.
	FindByContractID(ctx context.Context, contractID string) (*project.Record, error)
	// Upsert inserts or replaces the record with rec.ContractID and sets
	// rec.ID on insert.
	Upsert(ctx context.Context, rec *project.Record) error
	// ListByRegionOlderThan returns the region's records last scraped before
	// cutoff.
	ListByRegionOlderThan(ctx context.Context, regionID int64, cutoff time.Time) ([]*project.Record, error)
}

// Flusher is implemented by project stores that buffer upserts.
type Flusher interface {
	Flush(ctx context.Context) error
}

// ChangeLog is the append-only log of change events.
type ChangeLog interface {
	Append(ctx context.Context, evt *project.ChangeEvent) error
	// Recent returns up to limit events, newest first.
	Recent(ctx context.Context, limit int) ([]*project.ChangeEvent, error)
}

// CursorStore holds the rotation cursor.
type CursorStore interface {
	// Get returns the last scraped region ID. ok is false when no cursor is
	// set or it has expired.
	Get(ctx context.Context) (id int64, ok bool, err error)
	Set(ctx context.Context, id int64, ttl time.Duration) error
	Clear(ctx context.Context) error
}

// Lease is a held lock.
type Lease interface {
	Release(ctx context.Context) error
}

// Locker hands out short-lived exclusive leases.
type Locker interface {
	// Obtain returns ErrLocked when key is already held.
	Obtain(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// Store bundles every store the tracker needs.
type Store interface {
	RegionStore
	ProjectStore
	ChangeLog
	CursorStore
	Close() error
}
