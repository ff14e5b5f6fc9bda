package sqlstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pfrederiksen/dpwh-projects/internal/project"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type regionRow struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	Name      string `gorm:"type:varchar(191);uniqueIndex;not null"`
	URL       string `gorm:"type:text;not null"`
	Active    bool   `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (regionRow) TableName() string {
	return "regions"
}

func (r regionRow) toRegion() project.Region {
	return project.Region{ID: r.ID, Name: r.Name, URL: r.URL, Active: r.Active}
}

type projectRow struct {
	ID                int64               `gorm:"primaryKey;autoIncrement"`
	RegionID          int64               `gorm:"index:idx_region_scraped;not null"`
	ContractID        string              `gorm:"type:varchar(191);uniqueIndex;not null"`
	ProjectName       string              `gorm:"type:text"`
	Description       string              `gorm:"type:text"`
	ContractAmount    decimal.NullDecimal `gorm:"type:decimal(20,2)"`
	Contractor        string              `gorm:"type:varchar(255)"`
	Status            string              `gorm:"type:varchar(100);index"`
	ContractDate      *time.Time          `gorm:"type:date"`
	StartDate         *time.Time          `gorm:"type:date"`
	TargetCompletion  *time.Time          `gorm:"type:date"`
	ActualCompletion  *time.Time          `gorm:"type:date"`
	PhysicalProgress  decimal.NullDecimal `gorm:"type:decimal(5,2)"`
	FinancialProgress decimal.NullDecimal `gorm:"type:decimal(5,2)"`
	ImplementingUnit  string              `gorm:"type:varchar(255)"`
	Location          string              `gorm:"type:text"`
	AdditionalData    datatypes.JSON
	FirstSeenAt       time.Time
	LastScrapedAt     time.Time `gorm:"index:idx_region_scraped"`
	DataHash          string    `gorm:"type:varchar(64)"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (projectRow) TableName() string {
	return "infrastructure_projects"
}

func newProjectRow(rec *project.Record) (*projectRow, error) {
	row := &projectRow{
		ID:                rec.ID,
		RegionID:          rec.RegionID,
		ContractID:        rec.ContractID,
		ProjectName:       rec.ProjectName,
		Description:       rec.Description,
		ContractAmount:    rec.ContractAmount,
		Contractor:        rec.Contractor,
		Status:            rec.Status,
		ContractDate:      rec.ContractDate,
		StartDate:         rec.StartDate,
		TargetCompletion:  rec.TargetCompletion,
		ActualCompletion:  rec.ActualCompletion,
		PhysicalProgress:  rec.PhysicalProgress,
		FinancialProgress: rec.FinancialProgress,
		ImplementingUnit:  rec.ImplementingUnit,
		Location:          rec.Location,
		FirstSeenAt:       rec.FirstSeenAt.UTC(),
		LastScrapedAt:     rec.LastScrapedAt.UTC(),
		DataHash:          rec.ContentHash,
	}
	if rec.AdditionalData.Len() > 0 {
		data, err := json.Marshal(rec.AdditionalData)
		if err != nil {
			return nil, fmt.Errorf("encoding additional data: %w", err)
		}
		row.AdditionalData = datatypes.JSON(data)
	}
	return row, nil
}

func (r *projectRow) toRecord() (*project.Record, error) {
	rec := &project.Record{
		ID:                r.ID,
		RegionID:          r.RegionID,
		ContractID:        r.ContractID,
		ProjectName:       r.ProjectName,
		Description:       r.Description,
		ContractAmount:    r.ContractAmount,
		Contractor:        r.Contractor,
		Status:            r.Status,
		ContractDate:      utcDate(r.ContractDate),
		StartDate:         utcDate(r.StartDate),
		TargetCompletion:  utcDate(r.TargetCompletion),
		ActualCompletion:  utcDate(r.ActualCompletion),
		PhysicalProgress:  r.PhysicalProgress,
		FinancialProgress: r.FinancialProgress,
		ImplementingUnit:  r.ImplementingUnit,
		Location:          r.Location,
		FirstSeenAt:       r.FirstSeenAt.UTC(),
		LastScrapedAt:     r.LastScrapedAt.UTC(),
		ContentHash:       r.DataHash,
	}
	if len(r.AdditionalData) > 0 {
		if err := json.Unmarshal(r.AdditionalData, &rec.AdditionalData); err != nil {
			return nil, fmt.Errorf("decoding additional data for %s: %w", r.ContractID, err)
		}
	}
	return rec, nil
}

// utcDate drops any zone the driver attached to a date column.
func utcDate(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return &d
}

type changeRow struct {
	ID            int64  `gorm:"primaryKey;autoIncrement"`
	EventID       string `gorm:"type:varchar(36);uniqueIndex;not null"`
	ContractID    string `gorm:"type:varchar(191);index;not null"`
	RegionID      int64  `gorm:"index"`
	ChangeType    string `gorm:"type:varchar(32);index;not null"`
	OldData       datatypes.JSON
	NewData       datatypes.JSON
	ChangedFields datatypes.JSON
	DetectedAt    time.Time `gorm:"index"`
	CreatedAt     time.Time
}

func (changeRow) TableName() string {
	return "project_changes"
}

func newChangeRow(evt *project.ChangeEvent) (*changeRow, error) {
	row := &changeRow{
		EventID:    evt.ID,
		ContractID: evt.ContractID,
		RegionID:   evt.RegionID,
		ChangeType: string(evt.ChangeType),
		DetectedAt: evt.DetectedAt,
	}

	var err error
	if row.OldData, err = encodeSnapshot(evt.OldSnapshot); err != nil {
		return nil, err
	}
	if row.NewData, err = encodeSnapshot(evt.NewSnapshot); err != nil {
		return nil, err
	}
	if len(evt.ChangedFields) > 0 {
		data, err := json.Marshal(evt.ChangedFields)
		if err != nil {
			return nil, fmt.Errorf("encoding changed fields: %w", err)
		}
		row.ChangedFields = datatypes.JSON(data)
	}
	return row, nil
}

func encodeSnapshot(rec *project.Record) (datatypes.JSON, error) {
	if rec == nil {
		return nil, nil
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot: %w", err)
	}
	return datatypes.JSON(data), nil
}

func (r *changeRow) toEvent() (*project.ChangeEvent, error) {
	evt := &project.ChangeEvent{
		ID:         r.EventID,
		ContractID: r.ContractID,
		RegionID:   r.RegionID,
		ChangeType: project.ChangeType(r.ChangeType),
		DetectedAt: r.DetectedAt.UTC(),
	}

	var err error
	if evt.OldSnapshot, err = decodeSnapshot(r.OldData); err != nil {
		return nil, err
	}
	if evt.NewSnapshot, err = decodeSnapshot(r.NewData); err != nil {
		return nil, err
	}
	if len(r.ChangedFields) > 0 {
		if err := json.Unmarshal(r.ChangedFields, &evt.ChangedFields); err != nil {
			return nil, fmt.Errorf("decoding changed fields: %w", err)
		}
	}
	return evt, nil
}

func decodeSnapshot(data datatypes.JSON) (*project.Record, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var rec project.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	return &rec, nil
}

// cacheRow is a small key/value table with expiry, used for the rotation
// cursor.
type cacheRow struct {
	Key       string `gorm:"primaryKey;type:varchar(191)"`
	Value     string `gorm:"type:text;not null"`
	ExpiresAt *time.Time
}

func (cacheRow) TableName() string {
	return "cache"
}
