package fieldmap

import "testing"

func TestDecodeProjectDetails(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  ProjectDetails
	}{
		{
			name:  "all markers",
			value: "24A00678 a) REPAIR OF BAAG BR. b) ALPHATEC CHEMICAL CORPORATION (39938) c) Region I d) Regular Infra - GAA 2025",
			want: ProjectDetails{
				ContractID:       "24A00678",
				ProjectName:      "REPAIR OF BAAG BR.",
				Contractor:       "ALPHATEC CHEMICAL CORPORATION",
				ImplementingUnit: "Region I",
				SourceOfFunds:    "Regular Infra - GAA 2025",
			},
		},
		{
			name:  "line breaks between markers",
			value: "24A00701\na) CONSTRUCTION OF FLOOD CONTROL\n  STRUCTURE\nb) NORTHERN BUILDERS (11203)\nc) La Union 1st DEO\nd) GAA 2025",
			want: ProjectDetails{
				ContractID:       "24A00701",
				ProjectName:      "CONSTRUCTION OF FLOOD CONTROL STRUCTURE",
				Contractor:       "NORTHERN BUILDERS",
				ImplementingUnit: "La Union 1st DEO",
				SourceOfFunds:    "GAA 2025",
			},
		},
		{
			name:  "parenthesized codes are not markers",
			value: "24A00678 a) REPAIR OF BAAG BR. (B04590LZ) ALONG ROAD (SEC-a) b) ACME (1) c) Region I d) GAA",
			want: ProjectDetails{
				ContractID:       "24A00678",
				ProjectName:      "REPAIR OF BAAG BR. (B04590LZ) ALONG ROAD (SEC-a)",
				Contractor:       "ACME",
				ImplementingUnit: "Region I",
				SourceOfFunds:    "GAA",
			},
		},
		{
			name:  "names containing the marker letters",
			value: "X1 a) bridge b) builders co c) cebu d) district",
			want: ProjectDetails{
				ContractID:       "X1",
				ProjectName:      "bridge",
				Contractor:       "builders co",
				ImplementingUnit: "cebu",
				SourceOfFunds:    "district",
			},
		},
		{
			name:  "missing c marker",
			value: "24A00678 a) REPAIR b) ACME CORP d) GAA 2025",
			want: ProjectDetails{
				ContractID:    "24A00678",
				ProjectName:   "REPAIR",
				SourceOfFunds: "GAA 2025",
			},
		},
		{
			name:  "contractor code only stripped at the end",
			value: "C1 a) P b) ACME (123) HOLDINGS c) U d) F",
			want: ProjectDetails{
				ContractID:       "C1",
				ProjectName:      "P",
				Contractor:       "ACME (123) HOLDINGS",
				ImplementingUnit: "U",
				SourceOfFunds:    "F",
			},
		},
		{
			name:  "no markers",
			value: "24A00678",
			want:  ProjectDetails{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DecodeProjectDetails(tt.value)
			if got != tt.want {
				t.Errorf("DecodeProjectDetails(%q)\n got  %+v\n want %+v", tt.value, got, tt.want)
			}
		})
	}
}

func TestDecodeStatusProgress(t *testing.T) {
	tests := []struct {
		value string
		want  StatusProgress
	}{
		{"a) On-Going b) 45.50", StatusProgress{Status: "On-Going", Progress: "45.50"}},
		{"a) Completed b) 100.00", StatusProgress{Status: "Completed", Progress: "100.00"}},
		{"a) Not Yet Started b) .00", StatusProgress{Status: "Not Yet Started", Progress: ".00"}},
		{"a) On-Going\nb) 12.5 %", StatusProgress{Status: "On-Going", Progress: "12.5"}},
		{"a) Terminated b) n/a", StatusProgress{Status: "Terminated"}},
		{"On-Going", StatusProgress{}},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			got := DecodeStatusProgress(tt.value)
			if got != tt.want {
				t.Errorf("DecodeStatusProgress(%q) = %+v, want %+v", tt.value, got, tt.want)
			}
		})
	}
}

func TestDecodeContractDates(t *testing.T) {
	tests := []struct {
		value string
		want  ContractDates
	}{
		{"a) April 7, 2025 b) July 20, 2025", ContractDates{Effectivity: "April 7, 2025", Expiry: "July 20, 2025"}},
		{"a) 2025-02-03\nb) 2025-09-30", ContractDates{Effectivity: "2025-02-03", Expiry: "2025-09-30"}},
		{"b) July 20, 2025", ContractDates{Expiry: "July 20, 2025"}},
		{"", ContractDates{}},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			got := DecodeContractDates(tt.value)
			if got != tt.want {
				t.Errorf("DecodeContractDates(%q) = %+v, want %+v", tt.value, got, tt.want)
			}
		})
	}
}
