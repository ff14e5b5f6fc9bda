package tracker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/pfrederiksen/dpwh-projects/internal/fieldmap"
	"github.com/pfrederiksen/dpwh-projects/internal/logger"
	"github.com/pfrederiksen/dpwh-projects/internal/metrics"
	"github.com/pfrederiksen/dpwh-projects/internal/project"
	"github.com/pfrederiksen/dpwh-projects/internal/rotation"
	"github.com/pfrederiksen/dpwh-projects/internal/scraper"
	"github.com/pfrederiksen/dpwh-projects/internal/storage"
)

const (
	DefaultMinDelay = 2 * time.Second
	DefaultMaxDelay = 5 * time.Second

	regionLockPrefix = "dpwh:lock:region:"
	rotationLockKey  = "dpwh:lock:rotation"
)

// PageFetcher retrieves a region page.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// RegionResult is the outcome of scraping one region.
type RegionResult struct {
	Region            string        `json:"region"`
	ProjectsFound     int           `json:"projects_found"`
	NewProjects       int           `json:"new_projects"`
	UpdatedProjects   int           `json:"updated_projects"`
	UnchangedProjects int           `json:"unchanged_projects"`
	MissingProjects   int           `json:"missing_projects"`
	Errors            int           `json:"errors"`
	Success           bool          `json:"success"`
	Error             string        `json:"error,omitempty"`
	Duration          time.Duration `json:"duration"`

	// Err is the failure behind Error, for errors.Is / errors.As.
	Err error `json:"-"`
}

func (r *RegionResult) fail(err error) {
	r.Success = false
	r.Err = err
	r.Error = err.Error()
}

// Options tunes the tracker. Zero values use the defaults.
type Options struct {
	MissingThreshold time.Duration
	MinDelay         time.Duration
	MaxDelay         time.Duration
	Policy           rotation.Policy
	CursorTTL        time.Duration
	LeaseTTL         time.Duration
}

func (o Options) withDefaults() Options {
	if o.MissingThreshold <= 0 {
		o.MissingThreshold = project.DefaultMissingThreshold
	}
	if o.MinDelay <= 0 {
		o.MinDelay = DefaultMinDelay
	}
	if o.MaxDelay < o.MinDelay {
		o.MaxDelay = DefaultMaxDelay
		if o.MaxDelay < o.MinDelay {
			o.MaxDelay = o.MinDelay
		}
	}
	if o.Policy == "" {
		o.Policy = rotation.AdvanceBeforeScrape
	}
	if o.LeaseTTL <= 0 {
		o.LeaseTTL = 5 * time.Minute
	}
	return o
}

// Deps are the collaborators of a Tracker. Locker, Metrics and Logger are
// optional.
type Deps struct {
	Regions  storage.RegionStore
	Projects storage.ProjectStore
	Changes  storage.ChangeLog
	Cursor   storage.CursorStore
	Fetcher  PageFetcher
	Locker   storage.Locker
	Metrics  *metrics.Recorder
	Logger   *logger.Logger
}

// Tracker scrapes regions and keeps project state current.
type Tracker struct {
	regions   storage.RegionStore
	projects  storage.ProjectStore
	changes   storage.ChangeLog
	scheduler *rotation.Scheduler
	fetcher   PageFetcher
	locator   *scraper.Locator
	mapper    *fieldmap.Mapper
	locker    storage.Locker
	metrics   *metrics.Recorder
	log       *logger.Logger
	opts      Options

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	// OnRegion, when set, is called after each region of a sweep.
	OnRegion func(index, total int, result RegionResult)
}

// New creates a Tracker.
func New(deps Deps, opts Options) *Tracker {
	opts = opts.withDefaults()

	log := deps.Logger
	if log == nil {
		log = logger.Default()
	}
	fetcher := deps.Fetcher
	if fetcher == nil {
		fetcher = scraper.NewFetcher()
	}

	return &Tracker{
		regions:   deps.Regions,
		projects:  deps.Projects,
		changes:   deps.Changes,
		scheduler: rotation.NewScheduler(deps.Regions, deps.Cursor, opts.CursorTTL),
		fetcher:   fetcher,
		locator:   scraper.NewLocator(),
		mapper:    fieldmap.New(),
		locker:    deps.Locker,
		metrics:   deps.Metrics,
		log:       log,
		opts:      opts,
		now:       time.Now,
		sleep:     sleepContext,
	}
}

// SetMapper replaces the field mapper.
func (t *Tracker) SetMapper(m *fieldmap.Mapper) {
	t.mapper = m
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// obtain takes the lease for key when a Locker is configured. The returned
// release func is always safe to call.
func (t *Tracker) obtain(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if t.locker == nil {
		return func() {}, nil
	}
	lease, err := t.locker.Obtain(ctx, key, ttl)
	if errors.Is(err, storage.ErrLocked) {
		return nil, fmt.Errorf("%s: %w", key, ErrBusy)
	}
	if err != nil {
		return nil, err
	}
	return func() {
		// The lease runs out on its own if this fails.
		_ = lease.Release(context.Background())
	}, nil
}

// ScrapeRegion runs the full pipeline for one region. It never returns an
// error; failures are reported in the result.
func (t *Tracker) ScrapeRegion(ctx context.Context, region project.Region) RegionResult {
	start := t.now()
	result := RegionResult{Region: region.Name, Success: true}

	defer func() {
		result.Duration = t.now().Sub(start)
		t.metrics.ObserveRegion(metrics.RegionObservation{
			Region:    region.Name,
			Success:   result.Success,
			Duration:  result.Duration,
			Found:     result.ProjectsFound,
			New:       result.NewProjects,
			Updated:   result.UpdatedProjects,
			Unchanged: result.UnchangedProjects,
			Missing:   result.MissingProjects,
			Errors:    result.Errors,
		})
	}()

	release, err := t.obtain(ctx, regionLockPrefix+strconv.FormatInt(region.ID, 10), t.opts.LeaseTTL)
	if err != nil {
		result.fail(err)
		t.log.Warn("Region scrape skipped", logger.Fields{"region": region.Name, "error": err.Error()})
		return result
	}
	defer release()

	t.log.Info("Scraping region", logger.Fields{"region": region.Name, "url": region.URL})

	html, err := t.fetcher.Fetch(ctx, region.URL)
	if err != nil {
		result.fail(err)
		t.log.Error("Failed to fetch region page", logger.Fields{"region": region.Name, "url": region.URL}, err)
		return result
	}

	table, err := t.locator.LocateAndExtract(html)
	if err != nil {
		result.fail(err)
		t.log.Error("Failed to parse region page", logger.Fields{"region": region.Name}, err)
		return result
	}
	if !table.Found() {
		t.log.Warn("No project table found", logger.Fields{
			"region":          region.Name,
			"content_preview": table.Snippet,
		})
	} else {
		t.log.Debug("Found table", logger.Fields{"region": region.Name, "matcher": table.Matcher, "rows": len(table.Rows)})
	}

	records, rowErrs := t.mapper.MapRows(table.Headers, table.RawHeaders, table.Rows, region.ID)
	for _, rowErr := range rowErrs {
		result.Errors++
		t.log.Warn("Failed to parse row", logger.Fields{"region": region.Name, "error": rowErr.Error()})
	}
	result.ProjectsFound = len(records)

	now := t.now().UTC()
	seen := make(map[string]struct{}, len(records))
	for _, candidate := range records {
		seen[candidate.ContractID] = struct{}{}

		action, err := t.reconcile(ctx, candidate, now)
		if err != nil {
			result.Errors++
			t.log.Error("Failed to save project", logger.Fields{"region": region.Name, "contract_id": candidate.ContractID}, err)
			continue
		}
		switch action {
		case project.ActionCreated:
			result.NewProjects++
		case project.ActionUpdated:
			result.UpdatedProjects++
		default:
			result.UnchangedProjects++
		}
	}

	if f, ok := t.projects.(storage.Flusher); ok {
		if err := f.Flush(ctx); err != nil {
			result.fail(fmt.Errorf("saving projects: %w", err))
			t.log.Error("Failed to save projects", logger.Fields{"region": region.Name}, err)
			return result
		}
	}

	missing, errs := t.markMissing(ctx, region, seen, now)
	result.MissingProjects = missing
	result.Errors += errs

	t.log.Info("Region scrape completed", logger.Fields{
		"region":             region.Name,
		"projects_found":     result.ProjectsFound,
		"new_projects":       result.NewProjects,
		"updated_projects":   result.UpdatedProjects,
		"unchanged_projects": result.UnchangedProjects,
		"missing_projects":   result.MissingProjects,
		"errors":             result.Errors,
	})
	return result
}

// reconcile persists one candidate and appends its change event.
func (t *Tracker) reconcile(ctx context.Context, candidate *project.Record, now time.Time) (project.Action, error) {
	existing, err := t.projects.FindByContractID(ctx, candidate.ContractID)
	if err != nil {
		return "", &PersistError{ContractID: candidate.ContractID, Op: "find", Err: err}
	}

	rec := project.Reconcile(candidate, existing, now)
	if err := t.projects.Upsert(ctx, rec.Record); err != nil {
		return "", &PersistError{ContractID: candidate.ContractID, Op: "upsert", Err: err}
	}
	if rec.Event != nil {
		if err := t.changes.Append(ctx, rec.Event); err != nil {
			return "", &PersistError{ContractID: candidate.ContractID, Op: "append change", Err: err}
		}
		t.metrics.ObserveChanges(string(rec.Event.ChangeType), 1)
	}
	return rec.Action, nil
}

// markMissing appends potentially_deleted events for stale records absent
// from seen and returns how many were appended and how many failed.
func (t *Tracker) markMissing(ctx context.Context, region project.Region, seen map[string]struct{}, now time.Time) (int, int) {
	if len(seen) == 0 {
		t.log.Warn("No projects scraped, skipping missing project check", logger.Fields{"region": region.Name})
		return 0, 0
	}

	cutoff := now.Add(-t.opts.MissingThreshold)
	stale, err := t.projects.ListByRegionOlderThan(ctx, region.ID, cutoff)
	if err != nil {
		t.log.Error("Failed to list stale projects", logger.Fields{"region": region.Name}, err)
		return 0, 1
	}

	var appended, failed int
	for _, evt := range project.DetectMissing(stale, seen, cutoff, now) {
		if err := t.changes.Append(ctx, evt); err != nil {
			failed++
			t.log.Error("Failed to record missing project", logger.Fields{"region": region.Name, "contract_id": evt.ContractID}, err)
			continue
		}
		appended++
	}
	t.metrics.ObserveChanges(string(project.ChangePotentiallyDeleted), appended)

	if appended > 0 {
		t.log.Info("Marked missing projects", logger.Fields{"region": region.Name, "missing_count": appended})
	}
	return appended, failed
}

// Delay returns the pause between regions of a sweep over count regions:
// count/6 seconds clamped to [lo, hi].
func Delay(count int, lo, hi time.Duration) time.Duration {
	d := time.Duration(count/6) * time.Second
	if d < lo {
		d = lo
	}
	if d > hi {
		d = hi
	}
	return d
}

// ScrapeAllRegions scrapes every active region in name order, pausing
// between regions. A region failure does not stop the sweep; only a
// cancelled context or a failure to list regions does.
func (t *Tracker) ScrapeAllRegions(ctx context.Context) (map[string]RegionResult, error) {
	regions, err := t.regions.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing active regions: %w", err)
	}

	t.log.Info("Starting scrape for all regions", logger.Fields{"region_count": len(regions)})

	results := make(map[string]RegionResult, len(regions))
	delay := Delay(len(regions), t.opts.MinDelay, t.opts.MaxDelay)

	for i, region := range regions {
		result := t.ScrapeRegion(ctx, region)
		results[region.Name] = result
		if t.OnRegion != nil {
			t.OnRegion(i, len(regions), result)
		}

		if i < len(regions)-1 {
			if err := t.sleep(ctx, delay); err != nil {
				return results, err
			}
		}
	}

	var ok int
	for _, r := range results {
		if r.Success {
			ok++
		}
	}
	t.log.Info("Completed scrape for all regions", logger.Fields{
		"total_regions": len(regions),
		"successful":    ok,
		"failed":        len(regions) - ok,
	})
	return results, nil
}

// AdvanceRotation scrapes the next region of the rotation. The error is only
// for failures of the rotation itself; a failed scrape is reported in the
// result.
func (t *Tracker) AdvanceRotation(ctx context.Context) (project.Region, RegionResult, error) {
	release, err := t.obtain(ctx, rotationLockKey, t.opts.LeaseTTL)
	if err != nil {
		return project.Region{}, RegionResult{}, err
	}
	defer release()

	var region project.Region
	if t.opts.Policy == rotation.AdvanceAfterSuccess {
		region, err = t.scheduler.Peek(ctx)
	} else {
		region, err = t.scheduler.Advance(ctx)
	}
	if err != nil {
		return project.Region{}, RegionResult{}, err
	}

	t.log.Info("Rotation tick", logger.Fields{"region": region.Name, "policy": string(t.opts.Policy)})

	result := t.ScrapeRegion(ctx, region)

	if t.opts.Policy == rotation.AdvanceAfterSuccess && result.Success {
		if err := t.scheduler.Commit(ctx, region); err != nil {
			return region, result, err
		}
	}

	if st, err := t.scheduler.Status(ctx); err == nil {
		t.metrics.ObserveRotation(st.Position, st.Total)
	}
	return region, result, nil
}

// RotationStatus reports the rotation cursor.
func (t *Tracker) RotationStatus(ctx context.Context) (rotation.Status, error) {
	return t.scheduler.Status(ctx)
}

// ResetRotation clears the rotation cursor.
func (t *Tracker) ResetRotation(ctx context.Context) error {
	if err := t.scheduler.Reset(ctx); err != nil {
		return err
	}
	t.log.Info("Rotation reset", nil)
	return nil
}
