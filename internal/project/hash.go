package project

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// DateLayout is the canonical text form of calendar dates.
const DateLayout = "2006-01-02"

// ComparableFields lists, in order, the fields that take part in the content
// hash and in changed-field detection.
var ComparableFields = []string{
	"project_name",
	"description",
	"contract_amount",
	"contractor",
	"status",
	"contract_date",
	"start_date",
	"target_completion",
	"actual_completion",
	"physical_progress",
	"financial_progress",
	"implementing_unit",
	"location",
	"additional_data",
}

// comparableValue returns the canonical value of one comparable field.
// Empty text, null decimals and missing dates all encode as null.
func comparableValue(r *Record, field string) interface{} {
	switch field {
	case "project_name":
		return text(r.ProjectName)
	case "description":
		return text(r.Description)
	case "contract_amount":
		return number(r.ContractAmount.Valid, r.ContractAmount.Decimal.String())
	case "contractor":
		return text(r.Contractor)
	case "status":
		return text(r.Status)
	case "contract_date":
		return date(r.ContractDate)
	case "start_date":
		return date(r.StartDate)
	case "target_completion":
		return date(r.TargetCompletion)
	case "actual_completion":
		return date(r.ActualCompletion)
	case "physical_progress":
		return number(r.PhysicalProgress.Valid, r.PhysicalProgress.Decimal.String())
	case "financial_progress":
		return number(r.FinancialProgress.Valid, r.FinancialProgress.Decimal.String())
	case "implementing_unit":
		return text(r.ImplementingUnit)
	case "location":
		return text(r.Location)
	case "additional_data":
		// encoding/json sorts map keys, which makes the encoding order-independent.
		if m := r.AdditionalData.Map(); m != nil {
			return m
		}
		return nil
	}
	return nil
}

func text(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func number(valid bool, s string) interface{} {
	if !valid {
		return nil
	}
	return s
}

func date(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(DateLayout)
}

// canonicalField encodes one comparable field.
func canonicalField(r *Record, field string) []byte {
	data, err := json.Marshal(comparableValue(r, field))
	if err != nil {
		// Only strings, string maps and nil reach json.Marshal.
		return []byte("null")
	}
	return data
}

// CanonicalJSON encodes the comparable fields of r as a JSON object with the
// fields in ComparableFields order.
func CanonicalJSON(r *Record) []byte {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, field := range ComparableFields {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('"')
		buf.WriteString(field)
		buf.WriteString(`":`)
		buf.Write(canonicalField(r, field))
	}
	buf.WriteByte('}')
	return buf.Bytes()
}

// ContentHash returns the hex SHA-256 of the record's canonical encoding.
func ContentHash(r *Record) string {
	sum := sha256.Sum256(CanonicalJSON(r))
	return hex.EncodeToString(sum[:])
}

// ChangedFields returns, in ComparableFields order, the fields whose canonical
// encodings differ between old and updated.
func ChangedFields(old, updated *Record) []string {
	var changed []string
	for _, field := range ComparableFields {
		if !bytes.Equal(canonicalField(old, field), canonicalField(updated, field)) {
			changed = append(changed, field)
		}
	}
	return changed
}
