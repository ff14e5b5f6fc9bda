package storage

import (
	"context"
	"time"

	"github.com/pfrederiksen/dpwh-projects/internal/project"
)

// DryRun reads through to a base project store and change log but keeps all
// writes in memory, so a scrape can be run without persisting anything.
type DryRun struct {
	base    ProjectStore
	overlay *Memory
}

// NewDryRun wraps base. The change log is never read from base.
func NewDryRun(base ProjectStore) *DryRun {
	return &DryRun{
		base:    base,
		overlay: NewMemory(),
	}
}

func (d *DryRun) FindByContractID(ctx context.Context, contractID string) (*project.Record, error) {
	if rec, _ := d.overlay.FindByContractID(ctx, contractID); rec != nil {
		return rec, nil
	}
	return d.base.FindByContractID(ctx, contractID)
}

func (d *DryRun) Upsert(ctx context.Context, rec *project.Record) error {
	id := rec.ID
	if err := d.overlay.Upsert(ctx, rec); err != nil {
		return err
	}
	// Keep the ID the base store assigned.
	if id != 0 {
		rec.ID = id
	}
	return nil
}

func (d *DryRun) ListByRegionOlderThan(ctx context.Context, regionID int64, cutoff time.Time) ([]*project.Record, error) {
	base, err := d.base.ListByRegionOlderThan(ctx, regionID, cutoff)
	if err != nil {
		return nil, err
	}

	var out []*project.Record
	for _, rec := range base {
		// A record written in this run shadows its base copy.
		if shadow, _ := d.overlay.FindByContractID(ctx, rec.ContractID); shadow != nil {
			continue
		}
		out = append(out, rec)
	}
	overlay, _ := d.overlay.ListByRegionOlderThan(ctx, regionID, cutoff)
	out = append(out, overlay...)
	sortRecords(out)
	return out, nil
}

func (d *DryRun) Append(ctx context.Context, evt *project.ChangeEvent) error {
	return d.overlay.Append(ctx, evt)
}

func (d *DryRun) Recent(ctx context.Context, limit int) ([]*project.ChangeEvent, error) {
	return d.overlay.Recent(ctx, limit)
}

// Pending returns the records written during the dry run.
func (d *DryRun) Pending() []*project.Record {
	return d.overlay.All()
}
