package core

import (
	"context"
	"fmt"

	"shrimptrace/internal/risk"
	"shrimptrace/pkg/domain"
)

// riskConsistencyRule blocks commits that leave a lot's risk level or workflow
// status out of step with its stored score. The score-to-band mapping has a
// single source of truth; this rule catches any caller that bypasses it.
type riskConsistencyRule struct{}

// NewRiskConsistencyRule constructs the blocking consistency rule.
func NewRiskConsistencyRule() Rule { return riskConsistencyRule{} }

func (riskConsistencyRule) Name() string { return "risk_consistency" }

func (riskConsistencyRule) Evaluate(_ context.Context, view TransactionView, changes []Change) (Result, error) {
	var result Result
	checked := make(map[string]struct{})
	for _, change := range changes {
		if change.Entity != domain.EntityLot || change.Action == domain.ActionDelete {
			continue
		}
		changed, ok := change.After.(Lot)
		if !ok {
			continue
		}
		if _, dup := checked[changed.ID]; dup {
			continue
		}
		checked[changed.ID] = struct{}{}
		// Check the lot's final state within the transaction, not the
		// intermediate change payload; a later rescore in the same
		// transaction may have already realigned it.
		lot, ok := view.FindLot(changed.ID)
		if !ok {
			continue
		}
		level, status := risk.Classify(lot.RiskScore)
		if lot.RiskLevel == level && lot.Status == status {
			continue
		}
		result.Violations = append(result.Violations, domain.Violation{
			Rule:     "risk_consistency",
			Severity: domain.SeverityBlock,
			Message:  fmt.Sprintf("lot %s: score %d requires level %s and status %s, got %s/%s", lot.Code, lot.RiskScore, level, status, lot.RiskLevel, lot.Status),
			Entity:   domain.EntityLot,
			EntityID: lot.ID,
		})
	}
	return result, nil
}
