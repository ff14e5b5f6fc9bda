package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pfrederiksen/dpwh-projects/internal/project"
)

// Memory is an in-process Store. Records are cloned on the way in and out.
type Memory struct {
	mu sync.RWMutex

	regions  []project.Region
	projects map[string]*project.Record
	changes  []*project.ChangeEvent
	nextID   int64

	cursor       int64
	cursorSet    bool
	cursorExpiry time.Time

	leases map[string]time.Time

	now func() time.Time
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		projects: make(map[string]*project.Record),
		leases:   make(map[string]time.Time),
		now:      time.Now,
	}
}

// SetClock replaces the clock used for cursor and lease expiry.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// ListActive returns the active regions ordered by name.
func (m *Memory) ListActive(ctx context.Context) ([]project.Region, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return activeSorted(m.regions), nil
}

// SeedRegions inserts or updates regions by name, assigning IDs to new ones.
func (m *Memory) SeedRegions(ctx context.Context, regions []project.Region) ([]project.Region, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.regions = mergeRegions(m.regions, regions)
	return seededSubset(m.regions, regions), nil
}

// FindByContractID returns a copy of the stored record, or nil when absent.
func (m *Memory) FindByContractID(ctx context.Context, contractID string) (*project.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.projects[contractID].Clone(), nil
}

// Upsert stores a copy of rec and sets rec.ID on insert.
func (m *Memory) Upsert(ctx context.Context, rec *project.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.projects[rec.ContractID]; ok {
		rec.ID = existing.ID
	} else {
		m.nextID++
		rec.ID = m.nextID
	}
	m.projects[rec.ContractID] = rec.Clone()
	return nil
}

// ListByRegionOlderThan returns copies of the region's records last scraped
// before cutoff.
func (m *Memory) ListByRegionOlderThan(ctx context.Context, regionID int64, cutoff time.Time) ([]*project.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*project.Record
	for _, rec := range m.projects {
		if rec.RegionID == regionID && rec.LastScrapedAt.Before(cutoff) {
			out = append(out, rec.Clone())
		}
	}
	sortRecords(out)
	return out, nil
}

// All returns every stored record ordered by contract ID.
func (m *Memory) All() []*project.Record {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*project.Record, 0, len(m.projects))
	for _, rec := range m.projects {
		out = append(out, rec.Clone())
	}
	sortRecords(out)
	return out
}

// Append adds evt to the in-memory change log.
func (m *Memory) Append(ctx context.Context, evt *project.ChangeEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.changes = append(m.changes, evt)
	return nil
}

// Recent returns up to limit events, newest first.
func (m *Memory) Recent(ctx context.Context, limit int) ([]*project.ChangeEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return newestFirst(m.changes, limit), nil
}

// Get returns the rotation cursor unless it is unset or expired.
func (m *Memory) Get(ctx context.Context) (int64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.cursorSet {
		return 0, false, nil
	}
	if !m.cursorExpiry.IsZero() && !m.now().Before(m.cursorExpiry) {
		return 0, false, nil
	}
	return m.cursor, true, nil
}

// Set moves the cursor to id. A zero ttl never expires.
func (m *Memory) Set(ctx context.Context, id int64, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cursor = id
	m.cursorSet = true
	m.cursorExpiry = time.Time{}
	if ttl > 0 {
		m.cursorExpiry = m.now().Add(ttl)
	}
	return nil
}

// Clear unsets the cursor.
func (m *Memory) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursorSet = false
	m.cursor = 0
	return nil
}

// Obtain implements Locker for a single process.
func (m *Memory) Obtain(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if expiry, held := m.leases[key]; held && now.Before(expiry) {
		return nil, ErrLocked
	}
	m.leases[key] = now.Add(ttl)
	return &memoryLease{store: m, key: key}, nil
}

// Close is a no-op.
func (m *Memory) Close() error {
	return nil
}

type memoryLease struct {
	store *Memory
	key   string
}

func (l *memoryLease) Release(ctx context.Context) error {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()
	delete(l.store.leases, l.key)
	return nil
}

// activeSorted returns the active regions stably sorted by name.
func activeSorted(regions []project.Region) []project.Region {
	out := make([]project.Region, 0, len(regions))
	for _, r := range regions {
		if r.Active {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// mergeRegions upserts seeds into existing by name, assigning IDs to new
// regions.
func mergeRegions(existing, seeds []project.Region) []project.Region {
	var maxID int64
	byName := make(map[string]int, len(existing))
	for i, r := range existing {
		byName[r.Name] = i
		if r.ID > maxID {
			maxID = r.ID
		}
	}

	for _, seed := range seeds {
		if i, ok := byName[seed.Name]; ok {
			existing[i].URL = seed.URL
			existing[i].Active = seed.Active
			continue
		}
		maxID++
		seed.ID = maxID
		byName[seed.Name] = len(existing)
		existing = append(existing, seed)
	}
	return existing
}

func seededSubset(all, seeds []project.Region) []project.Region {
	byName := make(map[string]project.Region, len(all))
	for _, r := range all {
		byName[r.Name] = r
	}
	out := make([]project.Region, 0, len(seeds))
	for _, s := range seeds {
		out = append(out, byName[s.Name])
	}
	return out
}

func sortRecords(recs []*project.Record) {
	sort.Slice(recs, func(i, j int) bool { return recs[i].ContractID < recs[j].ContractID })
}

func newestFirst(events []*project.ChangeEvent, limit int) []*project.ChangeEvent {
	n := len(events)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]*project.ChangeEvent, 0, n)
	for i := len(events) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, events[i])
	}
	return out
}
