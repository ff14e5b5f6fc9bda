package project

import (
	"time"

	"github.com/shopspring/decimal"
)

// Region is one regional listing page on the DPWH site.
type Region struct {
	ID     int64  `json:"id" yaml:"id"`
	Name   string `json:"name" yaml:"name"`
	URL    string `json:"url" yaml:"url"`
	Active bool   `json:"active" yaml:"active"`
}

// Record is an infrastructure project as last persisted.
type Record struct {
	ID                int64               `json:"id,omitempty"`
	RegionID          int64               `json:"region_id"`
	ContractID        string              `json:"contract_id"`
	ProjectName       string              `json:"project_name"`
	Description       string              `json:"description,omitempty"`
	ContractAmount    decimal.NullDecimal `json:"contract_amount"`
	Contractor        string              `json:"contractor,omitempty"`
	Status            string              `json:"status,omitempty"`
	ContractDate      *time.Time          `json:"contract_date,omitempty"`
	StartDate         *time.Time          `json:"start_date,omitempty"`
	TargetCompletion  *time.Time          `json:"target_completion,omitempty"`
	ActualCompletion  *time.Time          `json:"actual_completion,omitempty"`
	PhysicalProgress  decimal.NullDecimal `json:"physical_progress"`
	FinancialProgress decimal.NullDecimal `json:"financial_progress"`
	ImplementingUnit  string              `json:"implementing_unit,omitempty"`
	Location          string              `json:"location,omitempty"`
	AdditionalData    AdditionalData      `json:"additional_data"`
	FirstSeenAt       time.Time           `json:"first_seen_at"`
	LastScrapedAt     time.Time           `json:"last_scraped_at"`
	ContentHash       string              `json:"content_hash"`
}

// Clone returns a deep copy of the record, safe to keep as a snapshot.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.ContractDate = cloneDate(r.ContractDate)
	c.StartDate = cloneDate(r.StartDate)
	c.TargetCompletion = cloneDate(r.TargetCompletion)
	c.ActualCompletion = cloneDate(r.ActualCompletion)
	c.AdditionalData = r.AdditionalData.Clone()
	return &c
}

// assignComparable copies the scraped fields of src over r, leaving identity
// and bookkeeping fields alone.
func (r *Record) assignComparable(src *Record) {
	r.RegionID = src.RegionID
	r.ProjectName = src.ProjectName
	r.Description = src.Description
	r.ContractAmount = src.ContractAmount
	r.Contractor = src.Contractor
	r.Status = src.Status
	r.ContractDate = cloneDate(src.ContractDate)
	r.StartDate = cloneDate(src.StartDate)
	r.TargetCompletion = cloneDate(src.TargetCompletion)
	r.ActualCompletion = cloneDate(src.ActualCompletion)
	r.PhysicalProgress = src.PhysicalProgress
	r.FinancialProgress = src.FinancialProgress
	r.ImplementingUnit = src.ImplementingUnit
	r.Location = src.Location
	r.AdditionalData = src.AdditionalData.Clone()
}

func cloneDate(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// ChangeType classifies a ChangeEvent.
type ChangeType string

const (
	ChangeCreated            ChangeType = "created"
	ChangeUpdated            ChangeType = "updated"
	ChangePotentiallyDeleted ChangeType = "potentially_deleted"
)

// ChangeEvent is an immutable audit entry for a detected creation, update or
// disappearance of a project.
type ChangeEvent struct {
	ID            string     `json:"id"`
	ContractID    string     `json:"contract_id"`
	RegionID      int64      `json:"region_id"`
	ChangeType    ChangeType `json:"change_type"`
	OldSnapshot   *Record    `json:"old_data,omitempty"`
	NewSnapshot   *Record    `json:"new_data,omitempty"`
	ChangedFields []string   `json:"changed_fields,omitempty"`
	DetectedAt    time.Time  `json:"detected_at"`
}
