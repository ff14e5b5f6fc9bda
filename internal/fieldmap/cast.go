package fieldmap

import (
	"strings"
	"time"

	"github.com/pfrederiksen/dpwh-projects/internal/project"
	"github.com/shopspring/decimal"
)

// numericNoise is stripped from monetary and percentage cells before parsing.
var numericNoise = strings.NewReplacer("₱", "", "$", "", ",", "", "%", "")

// ParseNumeric parses a monetary or percentage cell such as "₱1,234.50" or
// "45.5 %". The result is rounded to two places. Anything that is not a
// number after the noise is removed yields an invalid NullDecimal.
func ParseNumeric(value string) decimal.NullDecimal {
	cleaned := strings.Join(strings.Fields(numericNoise.Replace(value)), "")
	if cleaned == "" {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d.Round(2))
}

// ParseDate parses a date cell. Unparseable text yields nil.
func ParseDate(value string) *time.Time {
	return project.ParseDate(value)
}

// isBlank reports whether a cell carries no value.
func isBlank(value string) bool {
	return value == "" || strings.EqualFold(value, "null")
}

// assignScalar casts value and stores it on rec. Blank values leave the
// field untouched.
func assignScalar(rec *project.Record, field Field, value string) {
	value = strings.TrimSpace(value)
	if isBlank(value) {
		return
	}

	switch field {
	case FieldContractID:
		rec.ContractID = collapse(value)
	case FieldProjectName:
		rec.ProjectName = collapse(value)
	case FieldDescription:
		rec.Description = collapse(value)
	case FieldContractor:
		rec.Contractor = collapse(value)
	case FieldStatus:
		rec.Status = collapse(value)
	case FieldImplementingUnit:
		rec.ImplementingUnit = collapse(value)
	case FieldLocation:
		rec.Location = collapse(value)
	case FieldContractAmount:
		rec.ContractAmount = ParseNumeric(value)
	case FieldPhysicalProgress:
		rec.PhysicalProgress = ParseNumeric(value)
	case FieldFinancialProgress:
		rec.FinancialProgress = ParseNumeric(value)
	case FieldContractDate:
		rec.ContractDate = ParseDate(value)
	case FieldStartDate:
		rec.StartDate = ParseDate(value)
	case FieldTargetCompletion:
		rec.TargetCompletion = ParseDate(value)
	case FieldActualCompletion:
		rec.ActualCompletion = ParseDate(value)
	}
}
