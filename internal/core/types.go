// Package core wires the traceability domain together: transactional CRUD
// services, commit-time rules, risk rescoring and observability hooks.
package core

import (
	"fmt"

	"shrimptrace/pkg/domain"
)

type (
	// Node is an alias of domain.Node.
	Node = domain.Node
	// Farm is an alias of domain.Farm.
	Farm = domain.Farm
	// Lot is an alias of domain.Lot.
	Lot = domain.Lot
	// LotMovement is an alias of domain.LotMovement.
	LotMovement = domain.LotMovement
	// PondLog is an alias of domain.PondLog.
	PondLog = domain.PondLog
	// Sampling is an alias of domain.Sampling.
	Sampling = domain.Sampling
	// LabTest is an alias of domain.LabTest.
	LabTest = domain.LabTest
	// Incident is an alias of domain.Incident.
	Incident = domain.Incident
	// Document is an alias of domain.Document.
	Document = domain.Document
	// Change is an alias of domain.Change.
	Change = domain.Change
	// Result is an alias of domain.Result.
	Result = domain.Result
	// Rule is an alias of domain.Rule.
	Rule = domain.Rule
	// RulesEngine is an alias of domain.RulesEngine.
	RulesEngine = domain.RulesEngine
	// Transaction is an alias of domain.Transaction.
	Transaction = domain.Transaction
	// TransactionView is an alias of domain.TransactionView.
	TransactionView = domain.TransactionView
	// PersistentStore is an alias of domain.PersistentStore.
	PersistentStore = domain.PersistentStore
)

// ErrNotFound reports a missing entity reference inside a transaction.
type ErrNotFound struct {
	Entity domain.EntityType
	ID     string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}
