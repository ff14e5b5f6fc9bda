package project

import (
	"testing"
	"time"
)

func TestReconcile_Created(t *testing.T) {
	now := time.Date(2025, time.October, 1, 12, 0, 0, 0, time.UTC)
	candidate := sampleRecord()

	result := Reconcile(candidate, nil, now)

	if result.Action != ActionCreated {
		t.Fatalf("Action = %s, want %s", result.Action, ActionCreated)
	}
	if result.Record.ContentHash != ContentHash(candidate) {
		t.Error("created record should carry the canonical hash")
	}
	if !result.Record.FirstSeenAt.Equal(now) || !result.Record.LastScrapedAt.Equal(now) {
		t.Error("created record should have FirstSeenAt and LastScrapedAt set to now")
	}

	evt := result.Event
	if evt == nil {
		t.Fatal("expected a change event")
	}
	if evt.ChangeType != ChangeCreated {
		t.Errorf("ChangeType = %s, want %s", evt.ChangeType, ChangeCreated)
	}
	if evt.OldSnapshot != nil {
		t.Error("created event should have no old snapshot")
	}
	if evt.NewSnapshot == nil || evt.NewSnapshot.ContractID != "24A00678" {
		t.Error("created event should carry the new snapshot")
	}
	if len(evt.ChangedFields) != 0 {
		t.Errorf("created event should have no changed fields, got %v", evt.ChangedFields)
	}
	if evt.ID == "" {
		t.Error("event ID should be set")
	}
}

func TestReconcile_Updated(t *testing.T) {
	earlier := time.Date(2025, time.September, 1, 0, 0, 0, 0, time.UTC)
	now := earlier.Add(24 * time.Hour)

	stored := Reconcile(sampleRecord(), nil, earlier).Record
	stored.ID = 42

	candidate := sampleRecord()
	candidate.Status = "Completed"

	result := Reconcile(candidate, stored, now)

	if result.Action != ActionUpdated {
		t.Fatalf("Action = %s, want %s", result.Action, ActionUpdated)
	}
	if got := result.Event.ChangedFields; len(got) != 1 || got[0] != "status" {
		t.Errorf("ChangedFields = %v, want [status]", got)
	}
	if result.Event.OldSnapshot.Status != "On-Going" {
		t.Errorf("old snapshot status = %q, want On-Going", result.Event.OldSnapshot.Status)
	}
	if result.Event.NewSnapshot.Status != "Completed" {
		t.Errorf("new snapshot status = %q, want Completed", result.Event.NewSnapshot.Status)
	}

	rec := result.Record
	if rec.ID != 42 {
		t.Errorf("updated record should keep its ID, got %d", rec.ID)
	}
	if !rec.FirstSeenAt.Equal(earlier) {
		t.Error("updated record should keep FirstSeenAt")
	}
	if !rec.LastScrapedAt.Equal(now) {
		t.Error("updated record should refresh LastScrapedAt")
	}
	if rec.ContentHash != ContentHash(candidate) {
		t.Error("updated record should carry the candidate's hash")
	}
	if stored.Status != "On-Going" {
		t.Error("Reconcile must not mutate the stored record")
	}
}

func TestReconcile_Unchanged(t *testing.T) {
	earlier := time.Date(2025, time.September, 1, 0, 0, 0, 0, time.UTC)
	now := earlier.Add(time.Hour)

	stored := Reconcile(sampleRecord(), nil, earlier).Record

	result := Reconcile(sampleRecord(), stored, now)

	if result.Action != ActionUnchanged {
		t.Fatalf("Action = %s, want %s", result.Action, ActionUnchanged)
	}
	if result.Event != nil {
		t.Error("unchanged records should not emit events")
	}
	if !result.Record.LastScrapedAt.Equal(now) {
		t.Error("unchanged record should refresh LastScrapedAt")
	}
}

func TestReconcile_StaleHashWithoutFieldChanges(t *testing.T) {
	now := time.Date(2025, time.September, 1, 0, 0, 0, 0, time.UTC)

	stored := sampleRecord()
	stored.ContentHash = "d41d8cd98f00b204e9800998ecf8427e" // hash from an older encoding

	result := Reconcile(sampleRecord(), stored, now)

	if result.Action != ActionUnchanged {
		t.Fatalf("Action = %s, want %s", result.Action, ActionUnchanged)
	}
	if result.Event != nil {
		t.Error("no event expected when no comparable field changed")
	}
	if result.Record.ContentHash != ContentHash(stored) {
		t.Error("stored hash should be refreshed")
	}
}

func TestReconcile_Idempotent(t *testing.T) {
	now := time.Date(2025, time.September, 1, 0, 0, 0, 0, time.UTC)

	first := Reconcile(sampleRecord(), nil, now)
	second := Reconcile(sampleRecord(), first.Record, now.Add(time.Hour))

	if second.Action != ActionUnchanged {
		t.Errorf("second reconcile of identical data = %s, want unchanged", second.Action)
	}
}
