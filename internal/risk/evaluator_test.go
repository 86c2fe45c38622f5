package risk

import (
	"strings"
	"testing"

	"shrimptrace/pkg/domain"
)

func TestEvaluateComparators(t *testing.T) {
	table := StandardsTable{
		"max":   {Limit: 10, Comparator: CompareMax, Severity: 25, Label: "max param"},
		"below": {Limit: 3, Comparator: CompareBelow, Severity: 40, Label: "below param"},
		"exact": {Limit: 0, Comparator: CompareExact, Severity: 60, Label: "exact param"},
	}
	cases := []struct {
		name     string
		param    string
		value    float64
		violated bool
	}{
		{"max at limit passes", "max", 10, false},
		{"max above limit fails", "max", 10.01, true},
		{"below under limit passes", "below", 2.9, false},
		{"below at limit fails", "below", 3, true},
		{"exact at limit passes", "exact", 0, false},
		{"exact off limit fails", "exact", 0.001, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			value := tc.value
			ev := table.Evaluate(domain.LabTest{Parameter: tc.param, Value: &value})
			if ev.Violated != tc.violated {
				t.Fatalf("expected violated=%v, got %+v", tc.violated, ev)
			}
			if ev.Violated && ev.Delta != table[tc.param].Severity {
				t.Fatalf("expected delta %d, got %d", table[tc.param].Severity, ev.Delta)
			}
		})
	}
}

func TestEvaluateMissingValueViolates(t *testing.T) {
	table := DefaultStandards()
	ev := table.Evaluate(domain.LabTest{Parameter: "E.coli"})
	if !ev.Violated {
		t.Fatalf("expected violation for missing value")
	}
	if !strings.Contains(ev.Message, "no measured value") {
		t.Fatalf("unexpected message %q", ev.Message)
	}
}

func TestEvaluateUncoveredParameter(t *testing.T) {
	table := DefaultStandards()
	if table.Covers("Histamin") {
		t.Fatalf("Histamin should not be covered")
	}
	value := 500.0
	if ev := table.Evaluate(domain.LabTest{Parameter: "Histamin", Value: &value}); ev.Violated {
		t.Fatalf("uncovered parameter must yield zero evaluation, got %+v", ev)
	}
}

func TestEvaluateMessageIncludesUnit(t *testing.T) {
	table := DefaultStandards()
	value := 0.3
	ev := table.Evaluate(domain.LabTest{Parameter: "Timbal (Pb)", Value: &value, Unit: "ppm"})
	if !ev.Violated {
		t.Fatalf("expected violation, got %+v", ev)
	}
	if !strings.Contains(ev.Message, "0.3 ppm") || !strings.Contains(ev.Message, "0.2 ppm") {
		t.Fatalf("unexpected message %q", ev.Message)
	}
}

func TestDefaultStandardsCriticalParameters(t *testing.T) {
	table := DefaultStandards()
	for _, param := range []string{"Salmonella", "Kloramfenikol", "Metabolit Nitrofurans"} {
		std, ok := table[param]
		if !ok {
			t.Fatalf("missing standard for %s", param)
		}
		if std.Severity < CriticalSeverity {
			t.Fatalf("%s severity %d below critical threshold", param, std.Severity)
		}
	}
}
