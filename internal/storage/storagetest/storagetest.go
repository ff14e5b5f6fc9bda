// Package storagetest holds behaviour tests shared by every storage.Store
// implementation.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/pfrederiksen/dpwh-projects/internal/project"
	"github.com/pfrederiksen/dpwh-projects/internal/storage"
	"github.com/shopspring/decimal"
)

// Factory returns a fresh, empty store. The store is closed by the suite.
type Factory func(t *testing.T) storage.Store

// Run exercises the region, project, change log and cursor contracts.
func Run(t *testing.T, newStore Factory) {
	t.Run("regions", func(t *testing.T) { testRegions(t, newStore(t)) })
	t.Run("projects", func(t *testing.T) { testProjects(t, newStore(t)) })
	t.Run("change log", func(t *testing.T) { testChangeLog(t, newStore(t)) })
	t.Run("cursor", func(t *testing.T) { testCursor(t, newStore(t)) })
}

func testRegions(t *testing.T, s storage.Store) {
	defer s.Close()
	ctx := context.Background()

	seeded, err := s.SeedRegions(ctx, []project.Region{
		{Name: "Region II", URL: "https://example.com/?region=Region+II", Active: true},
		{Name: "Central Office", URL: "https://example.com/?region=Central+Office", Active: true},
		{Name: "Region I", URL: "https://example.com/?region=Region+I", Active: false},
	})
	if err != nil {
		t.Fatalf("SeedRegions failed: %v", err)
	}
	if len(seeded) != 3 {
		t.Fatalf("expected 3 seeded regions, got %d", len(seeded))
	}
	for _, r := range seeded {
		if r.ID == 0 {
			t.Errorf("region %q has no ID", r.Name)
		}
	}

	active, err := s.ListActive(ctx)
	if err != nil {
		t.Fatalf("ListActive failed: %v", err)
	}
	if len(active) != 2 || active[0].Name != "Central Office" || active[1].Name != "Region II" {
		t.Fatalf("ListActive = %+v, want Central Office, Region II", active)
	}

	// Re-seeding by name updates in place.
	again, err := s.SeedRegions(ctx, []project.Region{{Name: "Region I", URL: "https://example.com/r1", Active: true}})
	if err != nil {
		t.Fatalf("SeedRegions failed: %v", err)
	}
	if again[0].ID != seeded[2].ID {
		t.Errorf("re-seeded region ID = %d, want %d", again[0].ID, seeded[2].ID)
	}
	active, _ = s.ListActive(ctx)
	if len(active) != 3 {
		t.Errorf("expected 3 active regions after re-seed, got %d", len(active))
	}
}

func sampleRecord(contractID string, regionID int64, scraped time.Time) *project.Record {
	start := time.Date(2025, time.April, 7, 0, 0, 0, 0, time.UTC)
	rec := &project.Record{
		RegionID:         regionID,
		ContractID:       contractID,
		ProjectName:      "REPAIR OF BAAG BR.",
		ContractAmount:   decimal.NewNullDecimal(decimal.RequireFromString("12345678.90")),
		Contractor:       "ALPHATEC CHEMICAL CORPORATION",
		Status:           "On-Going",
		StartDate:        &start,
		PhysicalProgress: decimal.NewNullDecimal(decimal.RequireFromString("45.50")),
		FirstSeenAt:      scraped,
		LastScrapedAt:    scraped,
	}
	rec.AdditionalData.Set("Source of Funds", "GAA 2025")
	rec.ContentHash = project.ContentHash(rec)
	return rec
}

func testProjects(t *testing.T, s storage.Store) {
	defer s.Close()
	ctx := context.Background()
	now := time.Date(2025, time.October, 1, 12, 0, 0, 0, time.UTC)

	missing, err := s.FindByContractID(ctx, "NOPE")
	if err != nil {
		t.Fatalf("FindByContractID failed: %v", err)
	}
	if missing != nil {
		t.Fatal("expected nil for an unknown contract ID")
	}

	rec := sampleRecord("24A00678", 1, now.Add(-7*time.Hour))
	if err := s.Upsert(ctx, rec); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if rec.ID == 0 {
		t.Fatal("Upsert should assign an ID")
	}
	firstID := rec.ID

	got, err := s.FindByContractID(ctx, "24A00678")
	if err != nil {
		t.Fatalf("FindByContractID failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected stored record")
	}
	if got.ContentHash != rec.ContentHash {
		t.Errorf("ContentHash = %q, want %q", got.ContentHash, rec.ContentHash)
	}
	if project.ContentHash(got) != rec.ContentHash {
		t.Error("stored record should hash the same after a round trip")
	}
	if v, _ := got.AdditionalData.Get("Source of Funds"); v != "GAA 2025" {
		t.Errorf("additional data = %q", v)
	}

	rec.Status = "Completed"
	rec.LastScrapedAt = now
	if err := s.Upsert(ctx, rec); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if rec.ID != firstID {
		t.Errorf("second Upsert changed ID from %d to %d", firstID, rec.ID)
	}
	got, _ = s.FindByContractID(ctx, "24A00678")
	if got.Status != "Completed" {
		t.Errorf("Status = %q, want Completed", got.Status)
	}

	if err := s.Upsert(ctx, sampleRecord("OLD-1", 1, now.Add(-7*time.Hour))); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if err := s.Upsert(ctx, sampleRecord("OTHER-1", 2, now.Add(-7*time.Hour))); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	stale, err := s.ListByRegionOlderThan(ctx, 1, now.Add(-6*time.Hour))
	if err != nil {
		t.Fatalf("ListByRegionOlderThan failed: %v", err)
	}
	if len(stale) != 1 || stale[0].ContractID != "OLD-1" {
		t.Errorf("ListByRegionOlderThan = %v, want [OLD-1]", contractIDs(stale))
	}
}

func contractIDs(recs []*project.Record) []string {
	ids := make([]string, 0, len(recs))
	for _, r := range recs {
		ids = append(ids, r.ContractID)
	}
	return ids
}

func testChangeLog(t *testing.T, s storage.Store) {
	defer s.Close()
	ctx := context.Background()
	now := time.Date(2025, time.October, 1, 12, 0, 0, 0, time.UTC)

	created := project.Reconcile(sampleRecord("A-1", 1, now), nil, now)
	if err := s.Append(ctx, created.Event); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	candidate := sampleRecord("A-1", 1, now)
	candidate.Status = "Completed"
	updated := project.Reconcile(candidate, created.Record, now.Add(time.Hour))
	if err := s.Append(ctx, updated.Event); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	events, err := s.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].ChangeType != project.ChangeUpdated {
		t.Errorf("newest event = %s, want updated", events[0].ChangeType)
	}
	if got := events[0].ChangedFields; len(got) != 1 || got[0] != "status" {
		t.Errorf("ChangedFields = %v, want [status]", got)
	}
	if events[0].OldSnapshot == nil || events[0].OldSnapshot.Status != "On-Going" {
		t.Error("old snapshot should survive storage")
	}
	if events[1].ChangeType != project.ChangeCreated || events[1].OldSnapshot != nil {
		t.Errorf("oldest event should be a created event without old snapshot")
	}

	limited, _ := s.Recent(ctx, 1)
	if len(limited) != 1 {
		t.Errorf("Recent(1) returned %d events", len(limited))
	}
}

func testCursor(t *testing.T, s storage.Store) {
	defer s.Close()
	ctx := context.Background()

	if _, ok, err := s.Get(ctx); err != nil || ok {
		t.Fatalf("Get on empty store = ok %v, err %v", ok, err)
	}

	if err := s.Set(ctx, 7, time.Hour); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	id, ok, err := s.Get(ctx)
	if err != nil || !ok || id != 7 {
		t.Fatalf("Get = %d, %v, %v; want 7, true, nil", id, ok, err)
	}

	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if _, ok, _ := s.Get(ctx); ok {
		t.Error("cursor should be gone after Clear")
	}
	if err := s.Clear(ctx); err != nil {
		t.Errorf("Clear on an empty cursor failed: %v", err)
	}
}
