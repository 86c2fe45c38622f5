package core

import (
	"context"
	"fmt"

	"shrimptrace/pkg/domain"
)

// movementSequenceRule warns when a movement is recorded out of chronological
// order for its lot, or when the moved quantity grows along the chain.
// Backdated entries and weight corrections happen in the field, so this never
// blocks a commit; it surfaces the anomaly for review.
type movementSequenceRule struct{}

// NewMovementSequenceRule constructs the warning sequence rule.
func NewMovementSequenceRule() Rule { return movementSequenceRule{} }

func (movementSequenceRule) Name() string { return "movement_sequence" }

func (movementSequenceRule) Evaluate(_ context.Context, view TransactionView, changes []Change) (Result, error) {
	var result Result
	for _, change := range changes {
		if change.Entity != domain.EntityMovement || change.Action != domain.ActionCreate {
			continue
		}
		created, ok := change.After.(LotMovement)
		if !ok {
			continue
		}
		for _, mv := range view.MovementsByLot(created.LotID) {
			if mv.ID == created.ID {
				continue
			}
			if mv.Timestamp.After(created.Timestamp) {
				result.Violations = append(result.Violations, domain.Violation{
					Rule:     "movement_sequence",
					Severity: domain.SeverityWarn,
					Message:  fmt.Sprintf("movement for lot %s recorded at %s, before existing movement at %s", created.LotID, created.Timestamp.Format("2006-01-02 15:04"), mv.Timestamp.Format("2006-01-02 15:04")),
					Entity:   domain.EntityMovement,
					EntityID: created.ID,
				})
				break
			}
		}
		// Quantity can only shrink downstream; more shrimp arriving than the
		// previous stop handed over points at a data entry problem.
		var prev *LotMovement
		for _, mv := range view.MovementsByLot(created.LotID) {
			if mv.ID == created.ID {
				break
			}
			m := mv
			prev = &m
		}
		if prev != nil && created.QuantityKg > prev.QuantityKg && prev.QuantityKg > 0 {
			result.Violations = append(result.Violations, domain.Violation{
				Rule:     "movement_sequence",
				Severity: domain.SeverityWarn,
				Message:  fmt.Sprintf("movement for lot %s carries %.1f kg, more than the %.1f kg at the previous stop", created.LotID, created.QuantityKg, prev.QuantityKg),
				Entity:   domain.EntityMovement,
				EntityID: created.ID,
			})
		}
	}
	return result, nil
}
