package domain

import "context"

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope.
type Transaction interface {
	Snapshot() TransactionView
	CreateNode(Node) (Node, error)
	CreateFarm(Farm) (Farm, error)
	UpdateFarm(id string, mutator func(*Farm) error) (Farm, error)
	CreateLot(Lot) (Lot, error)
	UpdateLot(id string, mutator func(*Lot) error) (Lot, error)
	DeleteLot(id string) error
	CreateMovement(LotMovement) (LotMovement, error)
	CreatePondLog(PondLog) (PondLog, error)
	CreateSampling(Sampling) (Sampling, error)
	UpdateSampling(id string, mutator func(*Sampling) error) (Sampling, error)
	CreateLabTest(LabTest) (LabTest, error)
	CreateIncident(Incident) (Incident, error)
	UpdateIncident(id string, mutator func(*Incident) error) (Incident, error)
	CreateDocument(Document) (Document, error)
	DeleteDocument(id string) error
	FindNode(id string) (Node, bool)
	FindFarm(id string) (Farm, bool)
	FindLot(id string) (Lot, bool)
	FindSampling(id string) (Sampling, bool)
}

// TransactionView provides read-only access to snapshot data for rules and
// for the risk engine. The query methods mirror the aggregate contracts the
// engine requires from storage.
type TransactionView interface {
	ListNodes() []Node
	ListFarms() []Farm
	ListLots() []Lot
	ListIncidents() []Incident
	FindNode(id string) (Node, bool)
	FindFarm(id string) (Farm, bool)
	FindLot(id string) (Lot, bool)

	// LotsByFarm returns all lots originating from the farm.
	LotsByFarm(farmID string) []Lot
	// LabTestsByLot returns all lab tests attached to the lot via its samplings.
	LabTestsByLot(lotID string) []LabTest
	// IncidentsByLot returns incidents referencing the lot directly or through
	// a related-lot link.
	IncidentsByLot(lotID string) []Incident
	// FarmHasIncident reports whether any incident is linked to any lot of the
	// farm, regardless of incident status.
	FarmHasIncident(farmID string) bool
	// LatestPondLog returns the farm's most recent pond log by date.
	LatestPondLog(farmID string) (PondLog, bool)
	// MovementsByLot returns the lot's movements ordered by timestamp ascending.
	MovementsByLot(lotID string) []LotMovement
	// NodeTraffic returns cross-lot aggregate counts for the given nodes, in
	// the order requested.
	NodeTraffic(nodeIDs []string) []NodeTraffic
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetLot(id string) (Lot, bool)
	ListLots() []Lot
	GetFarm(id string) (Farm, bool)
	ListFarms() []Farm
	ListNodes() []Node
	ListIncidents() []Incident
	ListDocuments() []Document
}
