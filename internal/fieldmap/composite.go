package fieldmap

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	contractorCode = regexp.MustCompile(`\s*\(\d+\)$`)
	leadingNumber  = regexp.MustCompile(`^[₱$]?\s*[\d.,]+`)
)

// ProjectDetails is the decoded form of a
// "<id> a) <name> b) <contractor> c) <unit> d) <funds>" cell.
type ProjectDetails struct {
	ContractID       string
	ProjectName      string
	Contractor       string
	ImplementingUnit string
	SourceOfFunds    string
}

// StatusProgress is the decoded form of an "a) <status> b) <percent>" cell.
type StatusProgress struct {
	Status   string
	Progress string
}

// ContractDates is the decoded form of an "a) <date> b) <date>" cell.
type ContractDates struct {
	Effectivity string
	Expiry      string
}

// DecodeProjectDetails splits a project details cell on its markers. A field
// is set only when both of its bounding markers are present; the fund source
// runs to the end of the cell.
func DecodeProjectDetails(value string) ProjectDetails {
	m := findMarkers(value, "a)", "b)", "c)", "d)")

	var d ProjectDetails
	if m[0] >= 0 {
		d.ContractID = collapse(value[:m[0]])
	}
	d.ProjectName = between(value, m, 0, 1)
	d.Contractor = contractorCode.ReplaceAllString(between(value, m, 1, 2), "")
	d.ImplementingUnit = between(value, m, 2, 3)
	d.SourceOfFunds = after(value, m, 3)
	return d
}

// DecodeStatusProgress splits a status/progress cell. Progress is the numeric
// text at the start of the b) part, if any.
func DecodeStatusProgress(value string) StatusProgress {
	m := findMarkers(value, "a)", "b)")

	var s StatusProgress
	s.Status = between(value, m, 0, 1)
	if rest := after(value, m, 1); rest != "" {
		s.Progress = leadingNumber.FindString(rest)
	}
	return s
}

// DecodeContractDates splits a contract dates cell into its raw date texts.
func DecodeContractDates(value string) ContractDates {
	m := findMarkers(value, "a)", "b)")
	return ContractDates{
		Effectivity: between(value, m, 0, 1),
		Expiry:      after(value, m, 1),
	}
}

// findMarkers returns the byte offset of each marker, searched in order, or
// -1 for markers that are absent. A marker only counts at the start of the
// value or right after whitespace, so codes like "(B04590LZ)" never match.
// The search for a marker starts where the previous one was found.
func findMarkers(value string, markers ...string) []int {
	pos := make([]int, len(markers))
	from := 0
	for i, marker := range markers {
		pos[i] = indexMarker(value, marker, from)
		if pos[i] >= 0 {
			from = pos[i] + len(marker)
		}
	}
	return pos
}

func indexMarker(value, marker string, from int) int {
	for from <= len(value) {
		idx := strings.Index(value[from:], marker)
		if idx < 0 {
			return -1
		}
		at := from + idx
		if at == 0 {
			return at
		}
		prev, _ := utf8.DecodeLastRuneInString(value[:at])
		if unicode.IsSpace(prev) {
			return at
		}
		from = at + len(marker)
	}
	return -1
}

// between returns the collapsed text strictly between markers i and j.
func between(value string, pos []int, i, j int) string {
	if pos[i] < 0 || pos[j] < 0 {
		return ""
	}
	start := pos[i] + 2
	if start > pos[j] {
		return ""
	}
	return collapse(value[start:pos[j]])
}

// after returns the collapsed text from marker i to the end of value.
func after(value string, pos []int, i int) string {
	if pos[i] < 0 {
		return ""
	}
	return collapse(value[pos[i]+2:])
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
