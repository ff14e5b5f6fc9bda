package fieldmap

import "strings"

// Field is the canonical destination of a table column.
type Field string

const (
	FieldContractID        Field = "contract_id"
	FieldProjectName       Field = "project_name"
	FieldDescription       Field = "description"
	FieldContractAmount    Field = "contract_amount"
	FieldContractor        Field = "contractor"
	FieldStatus            Field = "status"
	FieldContractDate      Field = "contract_date"
	FieldStartDate         Field = "start_date"
	FieldTargetCompletion  Field = "target_completion"
	FieldActualCompletion  Field = "actual_completion"
	FieldPhysicalProgress  Field = "physical_progress"
	FieldFinancialProgress Field = "financial_progress"
	FieldImplementingUnit  Field = "implementing_unit"
	FieldLocation          Field = "location"

	// Composite cells.
	FieldProjectDetails Field = "project_details"
	FieldStatusProgress Field = "status_progress"
	FieldContractDates  Field = "contract_dates"
)

// SourceOfFundsKey is the additional data key for the fund source decoded
// from a project details cell.
const SourceOfFundsKey = "Source of Funds"

// Synonyms maps normalized header labels to fields.
var Synonyms = map[string]Field{
	"contract":        FieldContractID,
	"contract id":     FieldContractID,
	"contract no":     FieldContractID,
	"contract no.":    FieldContractID,
	"contract number": FieldContractID,

	"contract id a) contract description b) contractor c) implementing office d) source of funds": FieldProjectDetails,

	"project":      FieldProjectName,
	"project name": FieldProjectName,
	"title":        FieldProjectName,
	"description":  FieldDescription,

	"amount":              FieldContractAmount,
	"contract amount":     FieldContractAmount,
	"contract cost (php)": FieldContractAmount,
	"cost":                FieldContractAmount,

	"contractor": FieldContractor,
	"status":     FieldStatus,

	"a) status b) % accomplishment": FieldStatusProgress,

	"date":          FieldContractDate,
	"contract date": FieldContractDate,

	"a) contract effectivity date b) contract expiry date": FieldContractDates,

	"start":             FieldStartDate,
	"start date":        FieldStartDate,
	"completion":        FieldTargetCompletion,
	"target completion": FieldTargetCompletion,
	"end date":          FieldTargetCompletion,
	"actual completion": FieldActualCompletion,
	"date completed":    FieldActualCompletion,

	"progress":           FieldPhysicalProgress,
	"physical progress":  FieldPhysicalProgress,
	"financial progress": FieldFinancialProgress,

	"location":          FieldLocation,
	"unit":              FieldImplementingUnit,
	"implementing unit": FieldImplementingUnit,
}

// Lookup returns the field a header maps to. The header is normalized first.
func Lookup(header string) (Field, bool) {
	f, ok := Synonyms[normalize(header)]
	return f, ok
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
