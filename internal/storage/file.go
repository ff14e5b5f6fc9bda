package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/pfrederiksen/dpwh-projects/internal/project"
)

const (
	regionsFile  = "regions.json"
	projectsFile = "projects.json"
	changesFile  = "changes.jsonl"
	cursorFile   = "cursor.json"
	lockFile     = "projects.lock"

	lockRetry = 50 * time.Millisecond
)

// DefaultDataDir is where FileStore keeps its files unless told otherwise.
const DefaultDataDir = "~/.local/share/dpwh-projects"

// FileStore persists everything as JSON files in a data directory. Upserts
// are buffered and written to projects.json by Flush, which merges them into
// the file's current contents under an exclusive file lock. Change events are
// appended one per line.
type FileStore struct {
	dataDir string
	lock    *flock.Flock

	mu       sync.Mutex
	snapshot *projectSnapshot
	stamp    fileStamp
	pending  map[string]*project.Record

	now func() time.Time
}

// fileStamp identifies the version of projects.json a snapshot was read from.
type fileStamp struct {
	modTime time.Time
	size    int64
}

// projectSnapshot is the on-disk form of projects.json.
type projectSnapshot struct {
	NextID    int64                      `json:"next_id"`
	Projects  map[string]*project.Record `json:"projects"`
	UpdatedAt string                     `json:"updated_at"`
}

type cursorState struct {
	RegionID  int64     `json:"region_id"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// NewFileStore creates a FileStore rooted at dataDir, creating it if needed.
// A leading ~/ is expanded to the home directory.
func NewFileStore(dataDir string) (*FileStore, error) {
	dataDir, err := PrepareDir(dataDir)
	if err != nil {
		return nil, err
	}

	return &FileStore{
		dataDir: dataDir,
		lock:    flock.New(filepath.Join(dataDir, lockFile)),
		pending: make(map[string]*project.Record),
		now:     time.Now,
	}, nil
}

// PrepareDir expands a leading ~/ in dir and creates the directory.
func PrepareDir(dir string) (string, error) {
	if strings.HasPrefix(dir, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting home directory: %w", err)
		}
		dir = filepath.Join(home, dir[2:])
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating data directory: %w", err)
	}
	return dir, nil
}

// DataDir returns the resolved data directory.
func (s *FileStore) DataDir() string {
	return s.dataDir
}

func (s *FileStore) path(name string) string {
	return filepath.Join(s.dataDir, name)
}

// ListActive reads regions.json and returns its active regions by name.
func (s *FileStore) ListActive(ctx context.Context) ([]project.Region, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	regions, err := s.loadRegions()
	if err != nil {
		return nil, err
	}
	return activeSorted(regions), nil
}

// SeedRegions merges seeds into regions.json by name.
func (s *FileStore) SeedRegions(ctx context.Context, seeds []project.Region) ([]project.Region, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	regions, err := s.loadRegions()
	if err != nil {
		return nil, err
	}
	regions = mergeRegions(regions, seeds)
	if err := writeJSON(s.path(regionsFile), regions); err != nil {
		return nil, fmt.Errorf("writing regions: %w", err)
	}
	return seededSubset(regions, seeds), nil
}

func (s *FileStore) loadRegions() ([]project.Region, error) {
	var regions []project.Region
	if err := readJSON(s.path(regionsFile), &regions); err != nil {
		return nil, fmt.Errorf("reading regions: %w", err)
	}
	return regions, nil
}

// loadSnapshot returns the cached snapshot, re-reading projects.json when
// another process has rewritten it. Buffered upserts stay on top.
func (s *FileStore) loadSnapshot() (*projectSnapshot, error) {
	stamp, err := s.statProjects()
	if err != nil {
		return nil, err
	}
	if s.snapshot != nil && stamp == s.stamp {
		return s.snapshot, nil
	}

	snap, err := s.readSnapshot()
	if err != nil {
		return nil, err
	}
	s.overlayPending(snap)
	s.snapshot = snap
	s.stamp = stamp
	return snap, nil
}

func (s *FileStore) statProjects() (fileStamp, error) {
	info, err := os.Stat(s.path(projectsFile))
	if err != nil {
		if os.IsNotExist(err) {
			return fileStamp{}, nil
		}
		return fileStamp{}, fmt.Errorf("reading projects: %w", err)
	}
	return fileStamp{modTime: info.ModTime(), size: info.Size()}, nil
}

func (s *FileStore) readSnapshot() (*projectSnapshot, error) {
	snap := &projectSnapshot{}
	if err := readJSON(s.path(projectsFile), snap); err != nil {
		return nil, fmt.Errorf("reading projects: %w", err)
	}
	if snap.Projects == nil {
		snap.Projects = make(map[string]*project.Record)
	}
	return snap, nil
}

// overlayPending copies buffered upserts into snap. A record that another
// process inserted under the same contract ID keeps that process's ID; a
// provisional ID that collides with the file's sequence is reassigned.
func (s *FileStore) overlayPending(snap *projectSnapshot) {
	taken := make(map[int64]string, len(snap.Projects))
	for cid, rec := range snap.Projects {
		taken[rec.ID] = cid
	}

	for cid, rec := range s.pending {
		if disk, ok := snap.Projects[cid]; ok {
			rec.ID = disk.ID
		} else if owner, ok := taken[rec.ID]; rec.ID == 0 || (ok && owner != cid) {
			snap.NextID++
			rec.ID = snap.NextID
		}
		if rec.ID > snap.NextID {
			snap.NextID = rec.ID
		}
		taken[rec.ID] = cid
		snap.Projects[cid] = rec
	}
}

// FindByContractID looks up a record, including buffered upserts.
func (s *FileStore) FindByContractID(ctx context.Context, contractID string) (*project.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.loadSnapshot()
	if err != nil {
		return nil, err
	}
	return snap.Projects[contractID].Clone(), nil
}

// Upsert buffers rec until the next Flush. rec.ID is provisional until then.
func (s *FileStore) Upsert(ctx context.Context, rec *project.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.loadSnapshot()
	if err != nil {
		return err
	}

	if prev, ok := snap.Projects[rec.ContractID]; ok {
		rec.ID = prev.ID
	} else {
		snap.NextID++
		rec.ID = snap.NextID
	}

	stored := rec.Clone()
	snap.Projects[rec.ContractID] = stored
	s.pending[rec.ContractID] = stored
	return nil
}

// Flush writes buffered upserts to projects.json. It holds the data
// directory's file lock while it re-reads, merges and rewrites the file, so
// records written by other processes in the meantime are kept.
func (s *FileStore) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) == 0 {
		return nil
	}

	locked, err := s.lock.TryLockContext(ctx, lockRetry)
	if err != nil {
		return fmt.Errorf("locking projects: %w", err)
	}
	if !locked {
		return fmt.Errorf("locking projects: %w", ctx.Err())
	}
	defer s.lock.Unlock()

	snap, err := s.readSnapshot()
	if err != nil {
		return err
	}
	s.overlayPending(snap)
	snap.UpdatedAt = s.now().UTC().Format(time.RFC3339)

	if err := writeJSON(s.path(projectsFile), snap); err != nil {
		return fmt.Errorf("writing projects: %w", err)
	}

	stamp, err := s.statProjects()
	if err != nil {
		return err
	}
	s.snapshot = snap
	s.stamp = stamp
	s.pending = make(map[string]*project.Record)
	return nil
}

// ListByRegionOlderThan returns the region's records, buffered ones included,
// last scraped before cutoff.
func (s *FileStore) ListByRegionOlderThan(ctx context.Context, regionID int64, cutoff time.Time) ([]*project.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.loadSnapshot()
	if err != nil {
		return nil, err
	}

	var out []*project.Record
	for _, rec := range snap.Projects {
		if rec.RegionID == regionID && rec.LastScrapedAt.Before(cutoff) {
			out = append(out, rec.Clone())
		}
	}
	sortRecords(out)
	return out, nil
}

// Append writes evt as one line of changes.jsonl.
func (s *FileStore) Append(ctx context.Context, evt *project.ChangeEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	line, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encoding change event: %w", err)
	}

	f, err := os.OpenFile(s.path(changesFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening change log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("writing change log: %w", err)
	}
	return nil
}

// Recent reads changes.jsonl and returns up to limit events, newest first.
func (s *FileStore) Recent(ctx context.Context, limit int) ([]*project.ChangeEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path(changesFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening change log: %w", err)
	}
	defer f.Close()

	var events []*project.ChangeEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var evt project.ChangeEvent
		if err := json.Unmarshal(line, &evt); err != nil {
			return nil, fmt.Errorf("parsing change log: %w", err)
		}
		events = append(events, &evt)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading change log: %w", err)
	}

	return newestFirst(events, limit), nil
}

// Get reads cursor.json. An expired cursor counts as unset.
func (s *FileStore) Get(ctx context.Context) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var state *cursorState
	if err := readJSON(s.path(cursorFile), &state); err != nil {
		return 0, false, fmt.Errorf("reading cursor: %w", err)
	}
	if state == nil {
		return 0, false, nil
	}
	if !state.ExpiresAt.IsZero() && !s.now().Before(state.ExpiresAt) {
		return 0, false, nil
	}
	return state.RegionID, true, nil
}

// Set writes cursor.json. A zero ttl never expires.
func (s *FileStore) Set(ctx context.Context, id int64, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := cursorState{RegionID: id}
	if ttl > 0 {
		state.ExpiresAt = s.now().UTC().Add(ttl)
	}
	if err := writeJSON(s.path(cursorFile), state); err != nil {
		return fmt.Errorf("writing cursor: %w", err)
	}
	return nil
}

// Clear removes cursor.json.
func (s *FileStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(cursorFile)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing cursor: %w", err)
	}
	return nil
}

// Obtain takes an exclusive lock file for key in the data directory. The lock
// is held until Release or process exit; ttl is not used.
func (s *FileStore) Obtain(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	fl := flock.New(s.path(strings.NewReplacer(":", "-", "/", "-").Replace(key) + ".lock"))
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("locking %s: %w", key, err)
	}
	if !locked {
		return nil, ErrLocked
	}
	return &fileLease{lock: fl}, nil
}

type fileLease struct {
	lock *flock.Flock
}

func (l *fileLease) Release(ctx context.Context) error {
	return l.lock.Unlock()
}

// Close flushes any buffered upserts.
func (s *FileStore) Close() error {
	return s.Flush(context.Background())
}

// readJSON decodes path into v. A missing file leaves v untouched.
func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return json.Unmarshal(data, v)
}

// writeJSON writes v to a temp file and renames it over path.
func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
