package tracker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/pfrederiksen/dpwh-projects/internal/logger"
	"github.com/pfrederiksen/dpwh-projects/internal/metrics"
	"github.com/pfrederiksen/dpwh-projects/internal/project"
	"github.com/pfrederiksen/dpwh-projects/internal/rotation"
	"github.com/pfrederiksen/dpwh-projects/internal/scraper"
	"github.com/pfrederiksen/dpwh-projects/internal/storage"
)

// fakeFetcher serves pages by URL.
type fakeFetcher struct {
	pages map[string]string
	calls []string
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (string, error) {
	f.calls = append(f.calls, url)
	page, ok := f.pages[url]
	if !ok {
		return "", &scraper.FetchError{URL: url, StatusCode: 503, Message: "Service Unavailable"}
	}
	return page, nil
}

const header = `<tr><th>Contract ID</th><th>Project Name</th><th>a) Status<br>b) % Accomplishment</th><th>Remarks</th></tr>`

func page(rows ...string) string {
	var b strings.Builder
	b.WriteString(`<html><body><table class="gridview">` + header)
	for _, r := range rows {
		b.WriteString(r)
	}
	b.WriteString(`</table></body></html>`)
	return b.String()
}

func row(id, name, status, progress string) string {
	return fmt.Sprintf(`<tr><td>%s</td><td>%s</td><td>a) %s<br>b) %s</td><td></td></tr>`, id, name, status, progress)
}

type harness struct {
	tracker *Tracker
	store   *storage.Memory
	fetcher *fakeFetcher
	regions []project.Region
	now     time.Time
	sleeps  []time.Duration
	logs    *bytes.Buffer
}

func newHarness(t *testing.T, regionNames ...string) *harness {
	t.Helper()
	h := &harness{
		store:   storage.NewMemory(),
		fetcher: &fakeFetcher{pages: map[string]string{}},
		now:     time.Date(2025, time.October, 1, 12, 0, 0, 0, time.UTC),
		logs:    &bytes.Buffer{},
	}

	var seeds []project.Region
	for _, name := range regionNames {
		seeds = append(seeds, project.Region{Name: name, URL: "https://example.test/?region=" + name, Active: true})
	}
	regions, err := h.store.SeedRegions(context.Background(), seeds)
	if err != nil {
		t.Fatalf("SeedRegions failed: %v", err)
	}
	h.regions = regions

	h.tracker = New(Deps{
		Regions:  h.store,
		Projects: h.store,
		Changes:  h.store,
		Cursor:   h.store,
		Fetcher:  h.fetcher,
		Logger:   logger.New(logger.LevelDebug, h.logs),
	}, Options{})
	h.tracker.now = func() time.Time { return h.now }
	h.tracker.sleep = func(ctx context.Context, d time.Duration) error {
		h.sleeps = append(h.sleeps, d)
		return nil
	}
	return h
}

func (h *harness) serve(region project.Region, html string) {
	h.fetcher.pages[region.URL] = html
}

func (h *harness) events(t *testing.T) []*project.ChangeEvent {
	t.Helper()
	events, err := h.store.Recent(context.Background(), 0)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	return events
}

func TestScrapeRegion_Fixture(t *testing.T) {
	data, err := os.ReadFile("../../testdata/fixtures/region_page.html")
	if err != nil {
		t.Fatalf("failed to load test fixture: %v", err)
	}

	h := newHarness(t, "Region I")
	region := h.regions[0]
	h.serve(region, string(data))

	result := h.tracker.ScrapeRegion(context.Background(), region)

	if !result.Success {
		t.Fatalf("scrape failed: %s", result.Error)
	}
	if result.ProjectsFound != 2 || result.NewProjects != 2 {
		t.Errorf("found %d, new %d; want 2, 2", result.ProjectsFound, result.NewProjects)
	}
	// The pager row cannot be aligned with the headers.
	if result.Errors != 1 {
		t.Errorf("Errors = %d, want 1", result.Errors)
	}

	rec, _ := h.store.FindByContractID(context.Background(), "24A00678")
	if rec == nil {
		t.Fatal("expected 24A00678 to be stored")
	}
	if rec.Contractor != "ALPHATEC CHEMICAL CORPORATION" || rec.RegionID != region.ID {
		t.Errorf("stored record = %+v", rec)
	}
	if rec.ContentHash != project.ContentHash(rec) {
		t.Error("stored hash should match the record")
	}

	events := h.events(t)
	if len(events) != 2 {
		t.Fatalf("expected 2 created events, got %d", len(events))
	}
	for _, evt := range events {
		if evt.ChangeType != project.ChangeCreated {
			t.Errorf("event type = %s, want created", evt.ChangeType)
		}
	}
}

func TestScrapeRegion_Idempotent(t *testing.T) {
	h := newHarness(t, "Region I")
	region := h.regions[0]
	h.serve(region, page(row("A-1", "Bridge", "On-Going", "10.00"), row("A-2", "Road", "Completed", "100.00")))
	ctx := context.Background()

	first := h.tracker.ScrapeRegion(ctx, region)
	h.now = h.now.Add(time.Hour)
	second := h.tracker.ScrapeRegion(ctx, region)

	if first.NewProjects != 2 {
		t.Errorf("first scrape new = %d, want 2", first.NewProjects)
	}
	if second.NewProjects != 0 || second.UpdatedProjects != 0 || second.UnchangedProjects != 2 {
		t.Errorf("second scrape = %+v, want 2 unchanged", second)
	}
	if n := len(h.events(t)); n != 2 {
		t.Errorf("expected only the 2 created events, got %d", n)
	}

	rec, _ := h.store.FindByContractID(ctx, "A-1")
	if !rec.LastScrapedAt.Equal(h.now) {
		t.Errorf("LastScrapedAt = %v, want %v", rec.LastScrapedAt, h.now)
	}
}

func TestScrapeRegion_Update(t *testing.T) {
	h := newHarness(t, "Region I")
	region := h.regions[0]
	ctx := context.Background()

	h.serve(region, page(row("A-1", "Bridge", "On-Going", "10.00")))
	h.tracker.ScrapeRegion(ctx, region)

	h.serve(region, page(row("A-1", "Bridge", "On-Going", "35.00")))
	result := h.tracker.ScrapeRegion(ctx, region)

	if result.UpdatedProjects != 1 {
		t.Fatalf("UpdatedProjects = %d, want 1", result.UpdatedProjects)
	}
	latest := h.events(t)[0]
	if latest.ChangeType != project.ChangeUpdated {
		t.Fatalf("latest event = %s, want updated", latest.ChangeType)
	}
	if len(latest.ChangedFields) != 1 || latest.ChangedFields[0] != "physical_progress" {
		t.Errorf("ChangedFields = %v, want [physical_progress]", latest.ChangedFields)
	}
}

func TestScrapeRegion_FetchFailure(t *testing.T) {
	h := newHarness(t, "Region I")

	result := h.tracker.ScrapeRegion(context.Background(), h.regions[0])

	if result.Success {
		t.Fatal("expected failure")
	}
	var fetchErr *scraper.FetchError
	if !errors.As(result.Err, &fetchErr) {
		t.Fatalf("Err = %v, want *scraper.FetchError", result.Err)
	}
	if result.Error == "" {
		t.Error("Error text should be set")
	}
}

func TestScrapeRegion_Missing(t *testing.T) {
	tests := []struct {
		name        string
		lastScraped time.Duration
		wantMissing int
	}{
		{name: "seven hours old", lastScraped: 7 * time.Hour, wantMissing: 1},
		{name: "one hour old", lastScraped: time.Hour, wantMissing: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, "Region I")
			region := h.regions[0]
			ctx := context.Background()

			gone := &project.Record{RegionID: region.ID, ContractID: "GONE-1", LastScrapedAt: h.now.Add(-tt.lastScraped)}
			_ = h.store.Upsert(ctx, gone)

			h.serve(region, page(row("A-1", "Bridge", "On-Going", "10.00")))
			result := h.tracker.ScrapeRegion(ctx, region)

			if result.MissingProjects != tt.wantMissing {
				t.Errorf("MissingProjects = %d, want %d", result.MissingProjects, tt.wantMissing)
			}

			var deleted int
			for _, evt := range h.events(t) {
				if evt.ChangeType == project.ChangePotentiallyDeleted {
					deleted++
					if evt.ContractID != "GONE-1" || evt.OldSnapshot == nil || evt.NewSnapshot != nil {
						t.Errorf("unexpected event %+v", evt)
					}
				}
			}
			if deleted != tt.wantMissing {
				t.Errorf("potentially_deleted events = %d, want %d", deleted, tt.wantMissing)
			}
		})
	}
}

func TestScrapeRegion_EmptyPageSkipsMissingCheck(t *testing.T) {
	h := newHarness(t, "Region I")
	region := h.regions[0]
	ctx := context.Background()

	_ = h.store.Upsert(ctx, &project.Record{RegionID: region.ID, ContractID: "OLD-1", LastScrapedAt: h.now.Add(-48 * time.Hour)})
	h.serve(region, "<html><body><p>Maintenance</p></body></html>")

	result := h.tracker.ScrapeRegion(ctx, region)

	if !result.Success {
		t.Errorf("a page without a table is not a failure: %s", result.Error)
	}
	if result.MissingProjects != 0 || len(h.events(t)) != 0 {
		t.Error("an empty scrape must not mark projects missing")
	}
	if !strings.Contains(h.logs.String(), "Maintenance") {
		t.Error("expected the page snippet in the logs")
	}
}

// failingProjects fails upserts for one contract ID.
type failingProjects struct {
	storage.ProjectStore
	failID string
}

func (f *failingProjects) Upsert(ctx context.Context, rec *project.Record) error {
	if rec.ContractID == f.failID {
		return errors.New("disk full")
	}
	return f.ProjectStore.Upsert(ctx, rec)
}

func TestScrapeRegion_PersistErrorIsCounted(t *testing.T) {
	h := newHarness(t, "Region I")
	region := h.regions[0]
	h.tracker.projects = &failingProjects{ProjectStore: h.store, failID: "A-1"}
	h.serve(region, page(row("A-1", "Bridge", "On-Going", "10.00"), row("A-2", "Road", "On-Going", "5.00")))

	result := h.tracker.ScrapeRegion(context.Background(), region)

	if !result.Success {
		t.Errorf("persist errors should not fail the region: %s", result.Error)
	}
	if result.Errors != 1 || result.NewProjects != 1 {
		t.Errorf("Errors = %d, NewProjects = %d; want 1, 1", result.Errors, result.NewProjects)
	}
}

// bufferedProjects counts upserts and flushes, optionally failing the flush.
type bufferedProjects struct {
	storage.ProjectStore
	upserts  int
	flushes  int
	flushErr error
}

func (b *bufferedProjects) Upsert(ctx context.Context, rec *project.Record) error {
	b.upserts++
	return b.ProjectStore.Upsert(ctx, rec)
}

func (b *bufferedProjects) Flush(ctx context.Context) error {
	b.flushes++
	return b.flushErr
}

func TestScrapeRegion_FlushesOncePerRegion(t *testing.T) {
	h := newHarness(t, "Region I")
	region := h.regions[0]
	store := &bufferedProjects{ProjectStore: h.store}
	h.tracker.projects = store
	h.serve(region, page(row("A-1", "Bridge", "On-Going", "10.00"), row("A-2", "Road", "On-Going", "5.00")))

	result := h.tracker.ScrapeRegion(context.Background(), region)

	if !result.Success {
		t.Fatalf("ScrapeRegion failed: %s", result.Error)
	}
	if store.upserts != 2 || store.flushes != 1 {
		t.Errorf("upserts = %d, flushes = %d; want 2, 1", store.upserts, store.flushes)
	}
}

func TestScrapeRegion_FlushFailureFailsRegion(t *testing.T) {
	h := newHarness(t, "Region I")
	region := h.regions[0]
	h.tracker.projects = &bufferedProjects{ProjectStore: h.store, flushErr: errors.New("disk full")}
	h.serve(region, page(row("A-1", "Bridge", "On-Going", "10.00")))

	result := h.tracker.ScrapeRegion(context.Background(), region)

	if result.Success {
		t.Fatal("a failed flush should fail the region")
	}
	if !strings.Contains(result.Error, "disk full") {
		t.Errorf("Error = %q", result.Error)
	}
}

func TestScrapeAllRegions(t *testing.T) {
	h := newHarness(t, "Region II", "Central Office", "Region I")
	byName := map[string]project.Region{}
	for _, r := range h.regions {
		byName[r.Name] = r
	}
	h.serve(byName["Central Office"], page(row("C-1", "HQ", "On-Going", "1.00")))
	h.serve(byName["Region II"], page(row("R2-1", "Road", "On-Going", "2.00")))
	// Region I is not served and fails.

	var order []string
	h.tracker.OnRegion = func(i, total int, r RegionResult) {
		order = append(order, r.Region)
	}

	results, err := h.tracker.ScrapeAllRegions(context.Background())
	if err != nil {
		t.Fatalf("ScrapeAllRegions failed: %v", err)
	}

	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results["Region I"].Success {
		t.Error("Region I should have failed")
	}
	if !results["Region II"].Success || !results["Central Office"].Success {
		t.Error("other regions should succeed after a failure")
	}
	if strings.Join(order, ",") != "Central Office,Region I,Region II" {
		t.Errorf("sweep order = %v", order)
	}

	if len(h.sleeps) != 2 {
		t.Fatalf("expected 2 pauses for 3 regions, got %d", len(h.sleeps))
	}
	for _, d := range h.sleeps {
		if d != 2*time.Second {
			t.Errorf("pause = %v, want 2s", d)
		}
	}
}

func TestScrapeAllRegions_Cancelled(t *testing.T) {
	h := newHarness(t, "A", "B", "C")
	ctx, cancel := context.WithCancel(context.Background())
	h.tracker.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	results, err := h.tracker.ScrapeAllRegions(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if len(results) != 1 {
		t.Errorf("expected 1 result before cancellation, got %d", len(results))
	}
}

func TestDelay(t *testing.T) {
	tests := []struct {
		count int
		want  time.Duration
	}{
		{1, 2 * time.Second},
		{12, 2 * time.Second},
		{18, 3 * time.Second},
		{24, 4 * time.Second},
		{60, 5 * time.Second},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.count), func(t *testing.T) {
			if got := Delay(tt.count, DefaultMinDelay, DefaultMaxDelay); got != tt.want {
				t.Errorf("Delay(%d) = %v, want %v", tt.count, got, tt.want)
			}
		})
	}
}

func TestAdvanceRotation(t *testing.T) {
	h := newHarness(t, "Central Office", "Region I")
	ctx := context.Background()
	h.serve(h.regions[1], page(row("R1-1", "Road", "On-Going", "2.00")))

	// Central Office fails, but the tick is still not an error.
	region, result, err := h.tracker.AdvanceRotation(ctx)
	if err != nil {
		t.Fatalf("AdvanceRotation failed: %v", err)
	}
	if region.Name != "Central Office" || result.Success {
		t.Errorf("first tick = %s (success %v), want failed Central Office", region.Name, result.Success)
	}

	region, result, err = h.tracker.AdvanceRotation(ctx)
	if err != nil {
		t.Fatalf("AdvanceRotation failed: %v", err)
	}
	if region.Name != "Region I" || !result.Success {
		t.Errorf("second tick = %s (success %v), want successful Region I", region.Name, result.Success)
	}

	st, _ := h.tracker.RotationStatus(ctx)
	if st.Position != 2 || st.NextRegion.Name != "Central Office" {
		t.Errorf("status = %+v", st)
	}

	if err := h.tracker.ResetRotation(ctx); err != nil {
		t.Fatalf("ResetRotation failed: %v", err)
	}
	region, _, _ = h.tracker.AdvanceRotation(ctx)
	if region.Name != "Central Office" {
		t.Errorf("tick after reset = %s, want Central Office", region.Name)
	}
}

func TestAdvanceRotation_AfterSuccessPolicy(t *testing.T) {
	h := newHarness(t, "Central Office", "Region I")
	h.tracker.opts.Policy = rotation.AdvanceAfterSuccess
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		region, _, err := h.tracker.AdvanceRotation(ctx)
		if err != nil {
			t.Fatalf("AdvanceRotation failed: %v", err)
		}
		if region.Name != "Central Office" {
			t.Errorf("tick %d = %s, want Central Office retried", i+1, region.Name)
		}
	}

	h.serve(h.regions[0], page(row("C-1", "HQ", "On-Going", "1.00")))
	_, _, _ = h.tracker.AdvanceRotation(ctx)
	region, _, _ := h.tracker.AdvanceRotation(ctx)
	if region.Name != "Region I" {
		t.Errorf("tick after success = %s, want Region I", region.Name)
	}
}

func TestAdvanceRotation_NoRegions(t *testing.T) {
	h := newHarness(t)
	if _, _, err := h.tracker.AdvanceRotation(context.Background()); !errors.Is(err, rotation.ErrNoActiveRegions) {
		t.Errorf("err = %v, want ErrNoActiveRegions", err)
	}
}

func TestLeases(t *testing.T) {
	h := newHarness(t, "Region I")
	h.tracker.locker = h.store
	ctx := context.Background()
	region := h.regions[0]
	h.serve(region, page(row("A-1", "Bridge", "On-Going", "10.00")))

	held, err := h.store.Obtain(ctx, fmt.Sprintf("dpwh:lock:region:%d", region.ID), time.Minute)
	if err != nil {
		t.Fatalf("Obtain failed: %v", err)
	}

	result := h.tracker.ScrapeRegion(ctx, region)
	if result.Success || !errors.Is(result.Err, ErrBusy) {
		t.Errorf("scrape under a held lease = %+v, want ErrBusy", result)
	}
	if len(h.fetcher.calls) != 0 {
		t.Error("a busy region must not be fetched")
	}

	_ = held.Release(ctx)
	if result := h.tracker.ScrapeRegion(ctx, region); !result.Success {
		t.Errorf("scrape after release failed: %s", result.Error)
	}

	rot, _ := h.store.Obtain(ctx, "dpwh:lock:rotation", time.Minute)
	if _, _, err := h.tracker.AdvanceRotation(ctx); !errors.Is(err, ErrBusy) {
		t.Errorf("AdvanceRotation err = %v, want ErrBusy", err)
	}
	if _, ok, _ := h.store.Get(ctx); ok {
		t.Error("a busy tick must not move the cursor")
	}
	_ = rot.Release(ctx)
}

func TestScrapeRegion_Metrics(t *testing.T) {
	h := newHarness(t, "Region I", "Region II")
	rec := metrics.New()
	h.tracker.metrics = rec
	h.serve(h.regions[0], page(row("A-1", "Bridge", "On-Going", "10.00")))

	h.tracker.ScrapeRegion(context.Background(), h.regions[0])
	h.tracker.ScrapeRegion(context.Background(), h.regions[1])

	n, err := testutil.GatherAndCount(rec.Registry(), "dpwh_region_scrapes_total")
	if err != nil {
		t.Fatalf("GatherAndCount failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected a success and a failure series, got %d", n)
	}
	if n, _ := testutil.GatherAndCount(rec.Registry(), "dpwh_change_events_total"); n != 1 {
		t.Errorf("expected one change type series, got %d", n)
	}
}
