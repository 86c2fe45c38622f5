// Package risk implements the contamination risk scoring engine for shrimp
// lots: a standards-based lab test evaluator, a multi-factor lot scorer with
// an explainable variant, and a node suspicion estimator over a lot's supply
// chain path. The engine is stateless; all inputs arrive through the View
// interface and all outputs are returned by value.
package risk

// Comparator selects how a measured value is checked against a limit.
type Comparator string

// Supported comparison rules.
const (
	// CompareMax flags values strictly above the limit.
	CompareMax Comparator = "<="
	// CompareBelow flags values at or above the limit.
	CompareBelow Comparator = "<"
	// CompareExact flags any deviation from the limit; used for
	// zero-tolerance parameters.
	CompareExact Comparator = "=="
)

// Standard holds the allowed limit, comparison rule and severity weight for a
// single lab parameter.
type Standard struct {
	Limit      float64
	Comparator Comparator
	Severity   int
	Label      string
}

// StandardsTable maps a lab parameter name to its standard. The table is
// plain data so new parameters can be added without touching engine control
// flow.
type StandardsTable map[string]Standard

// CriticalSeverity is the violation weight at which a single lab result
// forces the lot into the high-risk band regardless of other factors.
const CriticalSeverity = 60

// DefaultStandards returns the built-in quality standards for export shrimp.
// Limits follow the BPOM / SNI thresholds the lab reports against.
func DefaultStandards() StandardsTable {
	return StandardsTable{
		"ALT":                  {Limit: 500000, Comparator: CompareMax, Severity: 25, Label: "ALT (total plate count)"},
		"E.coli":               {Limit: 3, Comparator: CompareMax, Severity: 40, Label: "E.coli"},
		"Vibrio":               {Limit: 3, Comparator: CompareBelow, Severity: 40, Label: "Vibrio"},
		"Salmonella":           {Limit: 0, Comparator: CompareExact, Severity: 60, Label: "Salmonella"},
		"Kloramfenikol":        {Limit: 0, Comparator: CompareExact, Severity: 60, Label: "Kloramfenikol"},
		"Metabolit Nitrofurans": {Limit: 0, Comparator: CompareExact, Severity: 60, Label: "Metabolit Nitrofurans"},
		"Merkuri (Hg)":         {Limit: 0.5, Comparator: CompareMax, Severity: 30, Label: "Merkuri (Hg)"},
		"Timbal (Pb)":          {Limit: 0.2, Comparator: CompareMax, Severity: 30, Label: "Timbal (Pb)"},
		"Kadmium (Cd)":         {Limit: 0.1, Comparator: CompareMax, Severity: 30, Label: "Kadmium (Cd)"},
		"Tetrasiklin":          {Limit: 0.1, Comparator: CompareMax, Severity: 30, Label: "Tetrasiklin"},
	}
}

// Covers reports whether the table defines a standard for the parameter.
func (t StandardsTable) Covers(parameter string) bool {
	_, ok := t[parameter]
	return ok
}
