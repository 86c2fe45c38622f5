package risk

import (
	"fmt"

	"shrimptrace/pkg/domain"
)

// Evaluation is the outcome of checking one lab test against the standards
// table. Delta is the severity weight contributed to the lot score when
// Violated is set; Message is empty otherwise.
type Evaluation struct {
	Violated bool
	Delta    int
	Message  string
}

// Evaluate checks a single lab test against the table. Parameters without a
// standard yield a zero Evaluation; their pass/fail result is scored
// separately by the engine. A missing measured value is always treated as a
// violation.
func (t StandardsTable) Evaluate(test domain.LabTest) Evaluation {
	std, ok := t[test.Parameter]
	if !ok {
		return Evaluation{}
	}
	if test.Value == nil {
		return Evaluation{
			Violated: true,
			Delta:    std.Severity,
			Message:  fmt.Sprintf("%s: no measured value reported", std.Label),
		}
	}
	value := *test.Value
	violated := false
	switch std.Comparator {
	case CompareMax:
		violated = value > std.Limit
	case CompareBelow:
		violated = value >= std.Limit
	case CompareExact:
		violated = value != std.Limit
	}
	if !violated {
		return Evaluation{}
	}
	return Evaluation{
		Violated: true,
		Delta:    std.Severity,
		Message:  fmt.Sprintf("%s measured %s against limit %s", std.Label, formatValue(value, test.Unit), formatValue(std.Limit, test.Unit)),
	}
}

func formatValue(value float64, unit string) string {
	if unit == "" {
		return trimFloat(value)
	}
	return trimFloat(value) + " " + unit
}

// trimFloat renders a measurement without trailing zeros.
func trimFloat(v float64) string {
	return fmt.Sprintf("%g", v)
}
