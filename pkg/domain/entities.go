// Package domain defines the core persistent entities, value types, and
// rule evaluation primitives used by shrimptrace.
package domain

import (
	"strings"
	"time"
)

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityNode identifies a supply-chain node record.
	EntityNode EntityType = "node"
	// EntityFarm identifies a farm record.
	EntityFarm EntityType = "farm"
	// EntityLot identifies a harvested lot record.
	EntityLot EntityType = "lot"
	// EntityMovement identifies a lot movement record.
	EntityMovement EntityType = "movement"
	// EntityPondLog identifies a pond water-quality log record.
	EntityPondLog EntityType = "pond_log"
	// EntitySampling identifies a sampling event record.
	EntitySampling EntityType = "sampling"
	// EntityLabTest identifies a lab test record.
	EntityLabTest EntityType = "lab_test"
	// EntityIncident identifies a food-safety incident record.
	EntityIncident EntityType = "incident"
	// EntityDocument identifies a certificate or report document record.
	EntityDocument EntityType = "document"
)

// LotStatus represents the workflow state gating downstream actions on a lot.
type LotStatus string

// Canonical lot workflow statuses derived from the risk score.
const (
	// StatusOK allows the lot to continue through the chain.
	StatusOK LotStatus = "OK"
	// StatusHold detains the lot pending review.
	StatusHold LotStatus = "HOLD"
	// StatusInvestigate escalates the lot for investigation.
	StatusInvestigate LotStatus = "INVESTIGATE"
)

// RiskLevel buckets the numeric risk score.
type RiskLevel string

// Canonical risk levels.
const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// NodeType enumerates physical stages in the supply chain.
type NodeType string

// Canonical node types.
const (
	NodeFarm      NodeType = "FARM"
	NodeCollector NodeType = "COLLECTOR"
	NodeProcessor NodeType = "PROCESSOR"
	NodeExporter  NodeType = "EXPORTER"
)

// IncidentStatus enumerates incident lifecycle states. Comparisons against
// these values are case-insensitive throughout the engine.
type IncidentStatus string

// Canonical incident statuses.
const (
	IncidentOpen       IncidentStatus = "OPEN"
	IncidentInProgress IncidentStatus = "IN_PROGRESS"
	IncidentClosed     IncidentStatus = "CLOSED"
)

// IncidentType classifies the origin of an incident report.
type IncidentType string

// Canonical incident types.
const (
	IncidentExportReject IncidentType = "EXPORT_REJECT"
	IncidentLabFail      IncidentType = "LAB_FAIL"
	IncidentComplaint    IncidentType = "COMPLAINT"
)

// LabResult is the binary outcome recorded by the lab, used as fallback when
// a parameter is not covered by the standards table.
type LabResult string

// Canonical lab results.
const (
	ResultPass LabResult = "PASS"
	ResultFail LabResult = "FAIL"
)

// SamplingStatus enumerates sampling workflow states.
type SamplingStatus string

// Canonical sampling statuses.
const (
	SamplingSampled   SamplingStatus = "SAMPLED"
	SamplingSentToLab SamplingStatus = "SENT_TO_LAB"
	SamplingCompleted SamplingStatus = "COMPLETED"
)

// DocumentType classifies stored documents.
type DocumentType string

// Canonical document types.
const (
	DocFarmCert     DocumentType = "FARM_CERT"
	DocLabCert      DocumentType = "LAB_CERT"
	DocExportPermit DocumentType = "EXPORT_PERMIT"
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Base contains common fields for all domain records.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Node represents a physical stage in the supply chain.
type Node struct {
	Base
	Name     string   `json:"name"`
	Type     NodeType `json:"type"`
	Location string   `json:"location,omitempty"`
}

// Farm represents a shrimp pond operation that originates lots.
type Farm struct {
	Base
	NodeID    *string `json:"node_id"`
	Name      string  `json:"name"`
	Location  string  `json:"location"`
	OwnerName string  `json:"owner_name"`
}

// Lot represents a traceable batch of harvested shrimp.
//
// RiskScore, RiskLevel and Status are derived fields: the risk engine is
// their sole writer, and level/status are always a deterministic function of
// the score.
type Lot struct {
	Base
	Code              string     `json:"code"`
	FarmID            *string    `json:"farm_id"`
	HarvestDate       *time.Time `json:"harvest_date"`
	VolumeKg          float64    `json:"volume_kg"`
	ContaminationType string     `json:"contamination_type,omitempty"`
	Status            LotStatus  `json:"status"`
	RiskScore         int        `json:"risk_score"`
	RiskLevel         RiskLevel  `json:"risk_level"`
}

// Problematic reports whether the lot is currently held or under investigation.
func (l Lot) Problematic() bool {
	return l.Status == StatusHold || l.Status == StatusInvestigate
}

// LotMovement records a visit of a lot to a node at a point in time.
type LotMovement struct {
	Base
	LotID      string    `json:"lot_id"`
	NodeID     string    `json:"node_id"`
	Timestamp  time.Time `json:"timestamp"`
	Location   string    `json:"location,omitempty"`
	QuantityKg float64   `json:"quantity_kg"`
}

// PondLog captures a water-quality reading for a farm's ponds. Nil fields mean
// the reading was not taken.
type PondLog struct {
	Base
	FarmID        string    `json:"farm_id"`
	Date          time.Time `json:"date"`
	PH            *float64  `json:"ph"`
	TemperatureC  *float64  `json:"temperature_c"`
	SalinityPPT   *float64  `json:"salinity_ppt"`
	FeedType      string    `json:"feed_type,omitempty"`
	ChemicalsUsed string    `json:"chemicals_used,omitempty"`
	Notes         string    `json:"notes,omitempty"`
}

// Sampling represents a sampling event taken from a lot for lab analysis.
type Sampling struct {
	Base
	LotID       string         `json:"lot_id"`
	Date        time.Time      `json:"date"`
	Location    string         `json:"location,omitempty"`
	RequestedBy string         `json:"requested_by,omitempty"`
	Status      SamplingStatus `json:"status"`
}

// LabTest records a single measured parameter for a sampling. Value is nil
// when the lab could not produce a measurement; LimitValue is the lab's own
// reported limit and is informational only.
type LabTest struct {
	Base
	SamplingID string    `json:"sampling_id"`
	Parameter  string    `json:"parameter"`
	Value      *float64  `json:"value"`
	Unit       string    `json:"unit,omitempty"`
	LimitValue *float64  `json:"limit_value"`
	Result     LabResult `json:"result"`
}

// Incident records a food-safety event attached to a lot. RelatedLotIDs link
// further lots implicated by the same event, so contamination signal can
// propagate across lots sharing an incident.
type Incident struct {
	Base
	LotID         string         `json:"lot_id"`
	Type          IncidentType   `json:"type"`
	Description   string         `json:"description,omitempty"`
	Date          time.Time      `json:"date"`
	Status        IncidentStatus `json:"status"`
	RelatedLotIDs []string       `json:"related_lot_ids"`
}

// Closed reports whether the incident has been resolved. The comparison is
// case-insensitive per the workflow contract.
func (i Incident) Closed() bool {
	return strings.EqualFold(string(i.Status), string(IncidentClosed))
}

// Touches reports whether the incident references the lot directly or via a
// related-lot link.
func (i Incident) Touches(lotID string) bool {
	if i.LotID == lotID {
		return true
	}
	for _, id := range i.RelatedLotIDs {
		if id == lotID {
			return true
		}
	}
	return false
}

// Document represents a stored certificate or report. BlobKey references the
// file payload in the blob store; empty when the record is metadata-only.
type Document struct {
	Base
	Type       DocumentType `json:"type"`
	Title      string       `json:"title"`
	FarmID     *string      `json:"farm_id"`
	LotID      *string      `json:"lot_id"`
	IssuedBy   string       `json:"issued_by,omitempty"`
	IssueDate  time.Time    `json:"issue_date"`
	ExpiryDate *time.Time   `json:"expiry_date"`
	BlobKey    string       `json:"blob_key,omitempty"`
}

// NodeTraffic aggregates cross-lot statistics for a node: how many distinct
// lots ever passed through it, how many of those are currently problematic,
// and how many distinct non-closed incidents belong to those lots.
type NodeTraffic struct {
	NodeID           string `json:"node_id"`
	LotCount         int    `json:"lot_count"`
	ProblematicCount int    `json:"problematic_count"`
	IncidentCount    int    `json:"incident_count"`
}

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported CRUD operations captured in audit trail.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	return "transaction blocked by rules"
}

