package risk

import (
	"fmt"
	"strings"
	"time"

	"shrimptrace/pkg/domain"
)

// View is the read-only query surface the engine requires from storage. A
// snapshot view of the persistent store satisfies it.
type View interface {
	LotsByFarm(farmID string) []domain.Lot
	LabTestsByLot(lotID string) []domain.LabTest
	IncidentsByLot(lotID string) []domain.Incident
	FarmHasIncident(farmID string) bool
	LatestPondLog(farmID string) (domain.PondLog, bool)
	MovementsByLot(lotID string) []domain.LotMovement
	NodeTraffic(nodeIDs []string) []domain.NodeTraffic
}

// Assessment is the derived risk outcome for a lot. Level and Status are a
// deterministic function of Score (see Classify).
type Assessment struct {
	Score  int              `json:"score"`
	Level  domain.RiskLevel `json:"level"`
	Status domain.LotStatus `json:"status"`
}

// Explanation pairs an assessment with one human-readable reason per
// contributing factor, in evaluation order. The arithmetic is identical to
// the plain assessment; reasons are a pure superset.
type Explanation struct {
	Assessment
	Reasons []string `json:"reasons"`
}

// Engine computes lot risk assessments against a standards table. It holds no
// mutable state between calls; scoring twice over unchanged inputs yields
// identical output.
type Engine struct {
	standards StandardsTable
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithStandards replaces the built-in standards table.
func WithStandards(table StandardsTable) Option {
	return func(e *Engine) { e.standards = table }
}

// WithNow fixes the engine clock, primarily for tests.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine constructs an engine with the default standards and wall clock.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		standards: DefaultStandards(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Standards exposes the active standards table.
func (e *Engine) Standards() StandardsTable { return e.standards }

// Score computes the lot's risk assessment.
func (e *Engine) Score(view View, lot domain.Lot) Assessment {
	return e.assess(view, lot, false).Assessment
}

// Explain computes the lot's risk assessment along with the ordered reasons
// behind every contributing factor.
func (e *Engine) Explain(view View, lot domain.Lot) Explanation {
	return e.assess(view, lot, true)
}

// assess is the single source of truth for the scoring arithmetic. The
// explain flag only controls whether reason strings are accumulated.
func (e *Engine) assess(view View, lot domain.Lot, explain bool) Explanation {
	score := 0
	var reasons []string
	reason := func(format string, args ...any) {
		if explain {
			reasons = append(reasons, fmt.Sprintf(format, args...))
		}
	}

	// Factor 1: farm reputation. Skipped when the lot has no farm or the
	// farm has no lots on record.
	if lot.FarmID != nil {
		farmLots := view.LotsByFarm(*lot.FarmID)
		if len(farmLots) > 0 {
			problematic := 0
			for _, l := range farmLots {
				if l.Problematic() {
					problematic++
				}
			}
			ratio := float64(problematic) / float64(len(farmLots))
			var delta int
			switch {
			case ratio >= 0.5:
				delta = 30
			case ratio >= 0.2:
				delta = 20
			case ratio >= 0.1:
				delta = 10
			}
			if delta > 0 {
				score += delta
				reason("farm history: %d of %d lots problematic (+%d)", problematic, len(farmLots), delta)
			}
		}
	}

	// Factor 2: lot age. An unknown harvest date carries a flat uncertainty
	// penalty.
	if lot.HarvestDate != nil {
		days := int(e.now().Sub(*lot.HarvestDate).Hours() / 24)
		var delta int
		switch {
		case days <= 2:
			delta = 5
		case days <= 5:
			delta = 10
		case days <= 10:
			delta = 20
		default:
			delta = 30
		}
		score += delta
		reason("lot age %d days since harvest (+%d)", days, delta)
	} else {
		score += 10
		reason("harvest date unknown (+10)")
	}

	// Factor 3: volume. Skipped when absent or zero.
	if lot.VolumeKg > 0 {
		var delta int
		switch {
		case lot.VolumeKg > 5000:
			delta = 15
		case lot.VolumeKg > 1000:
			delta = 10
		default:
			delta = 5
		}
		score += delta
		reason("volume %.0f kg (+%d)", lot.VolumeKg, delta)
	}

	// Factor 4: lab results. Standards-table violations accumulate severity
	// weights; tests outside the table fall back to their pass/fail result.
	critical := false
	tests := view.LabTestsByLot(lot.ID)
	if len(tests) == 0 {
		score += 20
		reason("no lab results on record (+20)")
	} else {
		unmappedFails := 0
		for _, test := range tests {
			if e.standards.Covers(test.Parameter) {
				ev := e.standards.Evaluate(test)
				if !ev.Violated {
					continue
				}
				score += ev.Delta
				if ev.Delta >= CriticalSeverity {
					critical = true
				}
				reason("%s (+%d)", ev.Message, ev.Delta)
				continue
			}
			if strings.EqualFold(string(test.Result), string(domain.ResultFail)) {
				unmappedFails++
			}
		}
		if unmappedFails > 0 {
			delta := 20 * unmappedFails
			score += delta
			reason("%d failed lab tests outside the standards table (+%d)", unmappedFails, delta)
		}
	}

	// Factor 5: incidents. Open incidents on the lot itself weigh more than
	// incident history elsewhere at the same farm.
	for _, inc := range view.IncidentsByLot(lot.ID) {
		if !inc.Closed() {
			score += 30
			reason("open incident on lot (+30)")
			break
		}
	}
	if lot.FarmID != nil && view.FarmHasIncident(*lot.FarmID) {
		score += 10
		reason("incident history at farm (+10)")
	}

	// Factor 6: latest pond water quality. Null readings are skipped.
	if lot.FarmID != nil {
		if log, ok := view.LatestPondLog(*lot.FarmID); ok {
			if log.PH != nil && (*log.PH < 7 || *log.PH > 8.5) {
				score += 10
				reason("pond pH %.1f outside 7.0-8.5 (+10)", *log.PH)
			}
			if log.SalinityPPT != nil && (*log.SalinityPPT < 10 || *log.SalinityPPT > 30) {
				score += 10
				reason("pond salinity %.1f ppt outside 10-30 (+10)", *log.SalinityPPT)
			}
		}
	}

	if critical && score < 90 {
		score = 90
		reason("critical lab violation forces score to at least 90")
	}
	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}

	level, status := Classify(score)
	return Explanation{
		Assessment: Assessment{Score: score, Level: level, Status: status},
		Reasons:    reasons,
	}
}

// Classify maps a risk score to its level and workflow status. This mapping
// is the single source of truth; no other code path may set lot status.
func Classify(score int) (domain.RiskLevel, domain.LotStatus) {
	switch {
	case score >= 70:
		return domain.RiskHigh, domain.StatusInvestigate
	case score >= 40:
		return domain.RiskMedium, domain.StatusHold
	default:
		return domain.RiskLow, domain.StatusOK
	}
}
