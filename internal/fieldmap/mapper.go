package fieldmap

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/pfrederiksen/dpwh-projects/internal/project"
)

// maxFallbackIDLength bounds the length of a cell taken as a positional
// contract ID.
const maxFallbackIDLength = 50

// RowParseError reports a row that cannot be aligned with the header row.
type RowParseError struct {
	Row     int
	Cells   int
	Headers int
	Reason  string
}

func (e *RowParseError) Error() string {
	return fmt.Sprintf("row %d: %s (%d cells, %d headers)", e.Row, e.Reason, e.Cells, e.Headers)
}

// Mapper maps table rows to project records.
type Mapper struct {
	synonyms map[string]Field
}

// New creates a Mapper using Synonyms.
func New() *Mapper {
	return &Mapper{synonyms: Synonyms}
}

// NewWithSynonyms creates a Mapper with extra header synonyms layered over
// Synonyms. Keys are normalized.
func NewWithSynonyms(extra map[string]Field) *Mapper {
	merged := make(map[string]Field, len(Synonyms)+len(extra))
	for k, v := range Synonyms {
		merged[k] = v
	}
	for k, v := range extra {
		merged[normalize(k)] = v
	}
	return &Mapper{synonyms: merged}
}

// Row is a single table row ready for mapping. Headers are normalized labels
// and RawHeaders the original header texts, index-aligned with Cells.
type Row struct {
	Index      int
	Headers    []string
	RawHeaders []string
	Cells      []string
}

// MapRow builds a candidate record for regionID from one row. It returns
// (nil, nil) when no contract ID could be determined; such rows cannot be
// reconciled and are dropped. A row that does not line up with the headers
// is a *RowParseError.
func (m *Mapper) MapRow(row Row, regionID int64) (*project.Record, error) {
	if err := checkAlignment(row); err != nil {
		return nil, err
	}

	rec := &project.Record{RegionID: regionID}

	for i, header := range row.Headers {
		if i >= len(row.Cells) {
			break
		}
		value := strings.TrimSpace(row.Cells[i])

		field, ok := m.synonyms[normalize(header)]
		if !ok {
			rec.AdditionalData.Set(rawHeader(row, i), value)
			continue
		}
		if isBlank(value) {
			continue
		}

		switch field {
		case FieldProjectDetails:
			applyProjectDetails(rec, DecodeProjectDetails(value))
		case FieldStatusProgress:
			applyStatusProgress(rec, DecodeStatusProgress(value))
		case FieldContractDates:
			applyContractDates(rec, DecodeContractDates(value))
		default:
			assignScalar(rec, field, value)
		}
	}

	if rec.ContractID == "" {
		rec.ContractID = fallbackContractID(row.Cells)
	}
	if rec.ContractID == "" {
		return nil, nil
	}
	return rec, nil
}

// MapRows maps every row of a table. Rows that fail alignment are returned as
// errors and skipped; rows without a contract ID are dropped silently.
func (m *Mapper) MapRows(headers, rawHeaders []string, rows [][]string, regionID int64) ([]*project.Record, []error) {
	var (
		records []*project.Record
		errs    []error
	)
	for i, cells := range rows {
		rec, err := m.MapRow(Row{Index: i + 1, Headers: headers, RawHeaders: rawHeaders, Cells: cells}, regionID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if rec != nil {
			records = append(records, rec)
		}
	}
	return records, errs
}

func checkAlignment(row Row) error {
	headers, cells := len(row.Headers), len(row.Cells)
	if headers <= 1 {
		return nil
	}
	switch {
	case cells == 1:
		return &RowParseError{Row: row.Index, Cells: cells, Headers: headers, Reason: "single cell spans a multi-column table"}
	case cells > headers:
		return &RowParseError{Row: row.Index, Cells: cells, Headers: headers, Reason: "more cells than headers"}
	}
	return nil
}

func rawHeader(row Row, i int) string {
	if i < len(row.RawHeaders) && row.RawHeaders[i] != "" {
		return row.RawHeaders[i]
	}
	return row.Headers[i]
}

func applyProjectDetails(rec *project.Record, d ProjectDetails) {
	if d.ContractID != "" {
		rec.ContractID = d.ContractID
	}
	if d.ProjectName != "" {
		rec.ProjectName = d.ProjectName
	}
	if d.Contractor != "" {
		rec.Contractor = d.Contractor
	}
	if d.ImplementingUnit != "" {
		rec.ImplementingUnit = d.ImplementingUnit
	}
	if d.SourceOfFunds != "" {
		rec.AdditionalData.Set(SourceOfFundsKey, d.SourceOfFunds)
	}
}

func applyStatusProgress(rec *project.Record, s StatusProgress) {
	if s.Status != "" {
		rec.Status = s.Status
	}
	if s.Progress != "" {
		if p := ParseNumeric(s.Progress); p.Valid {
			rec.PhysicalProgress = p
		}
	}
}

func applyContractDates(rec *project.Record, d ContractDates) {
	if t := ParseDate(d.Effectivity); t != nil {
		rec.StartDate = t
	}
	if t := ParseDate(d.Expiry); t != nil {
		rec.TargetCompletion = t
	}
}

func fallbackContractID(cells []string) string {
	for _, cell := range cells {
		cell = collapse(cell)
		if cell != "" && utf8.RuneCountInString(cell) < maxFallbackIDLength {
			return cell
		}
	}
	return ""
}
