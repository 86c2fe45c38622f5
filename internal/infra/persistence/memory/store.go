// Package memory provides an in-memory implementation of the traceability
// persistence store used for tests and ephemeral environments.
package memory

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"shrimptrace/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain persistence interfaces.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Node aliases domain.Node for in-memory persistence operations.
	Node = domain.Node
	// Farm aliases domain.Farm.
	Farm = domain.Farm
	// Lot aliases domain.Lot.
	Lot = domain.Lot
	// LotMovement aliases domain.LotMovement.
	LotMovement = domain.LotMovement
	// PondLog aliases domain.PondLog.
	PondLog = domain.PondLog
	// Sampling aliases domain.Sampling.
	Sampling = domain.Sampling
	// LabTest aliases domain.LabTest.
	LabTest = domain.LabTest
	// Incident aliases domain.Incident.
	Incident = domain.Incident
	// Document aliases domain.Document.
	Document = domain.Document
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
	// PersistentStore aliases domain.PersistentStore abstraction.
	PersistentStore = domain.PersistentStore
)

type memoryState struct {
	nodes     map[string]Node
	farms     map[string]Farm
	lots      map[string]Lot
	movements map[string]LotMovement
	pondLogs  map[string]PondLog
	samplings map[string]Sampling
	labTests  map[string]LabTest
	incidents map[string]Incident
	documents map[string]Document
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Nodes     map[string]Node        `json:"nodes"`
	Farms     map[string]Farm        `json:"farms"`
	Lots      map[string]Lot         `json:"lots"`
	Movements map[string]LotMovement `json:"movements"`
	PondLogs  map[string]PondLog     `json:"pond_logs"`
	Samplings map[string]Sampling    `json:"samplings"`
	LabTests  map[string]LabTest     `json:"lab_tests"`
	Incidents map[string]Incident    `json:"incidents"`
	Documents map[string]Document    `json:"documents"`
}

func newMemoryState() memoryState {
	return memoryState{
		nodes:     make(map[string]Node),
		farms:     make(map[string]Farm),
		lots:      make(map[string]Lot),
		movements: make(map[string]LotMovement),
		pondLogs:  make(map[string]PondLog),
		samplings: make(map[string]Sampling),
		labTests:  make(map[string]LabTest),
		incidents: make(map[string]Incident),
		documents: make(map[string]Document),
	}
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	s := Snapshot{
		Nodes:     make(map[string]Node, len(state.nodes)),
		Farms:     make(map[string]Farm, len(state.farms)),
		Lots:      make(map[string]Lot, len(state.lots)),
		Movements: make(map[string]LotMovement, len(state.movements)),
		PondLogs:  make(map[string]PondLog, len(state.pondLogs)),
		Samplings: make(map[string]Sampling, len(state.samplings)),
		LabTests:  make(map[string]LabTest, len(state.labTests)),
		Incidents: make(map[string]Incident, len(state.incidents)),
		Documents: make(map[string]Document, len(state.documents)),
	}
	for k, v := range state.nodes {
		s.Nodes[k] = cloneNode(v)
	}
	for k, v := range state.farms {
		s.Farms[k] = cloneFarm(v)
	}
	for k, v := range state.lots {
		s.Lots[k] = cloneLot(v)
	}
	for k, v := range state.movements {
		s.Movements[k] = cloneMovement(v)
	}
	for k, v := range state.pondLogs {
		s.PondLogs[k] = clonePondLog(v)
	}
	for k, v := range state.samplings {
		s.Samplings[k] = cloneSampling(v)
	}
	for k, v := range state.labTests {
		s.LabTests[k] = cloneLabTest(v)
	}
	for k, v := range state.incidents {
		s.Incidents[k] = cloneIncident(v)
	}
	for k, v := range state.documents {
		s.Documents[k] = cloneDocument(v)
	}
	return s
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := newMemoryState()
	for k, v := range s.Nodes {
		state.nodes[k] = cloneNode(v)
	}
	for k, v := range s.Farms {
		state.farms[k] = cloneFarm(v)
	}
	for k, v := range s.Lots {
		state.lots[k] = cloneLot(v)
	}
	for k, v := range s.Movements {
		state.movements[k] = cloneMovement(v)
	}
	for k, v := range s.PondLogs {
		state.pondLogs[k] = clonePondLog(v)
	}
	for k, v := range s.Samplings {
		state.samplings[k] = cloneSampling(v)
	}
	for k, v := range s.LabTests {
		state.labTests[k] = cloneLabTest(v)
	}
	for k, v := range s.Incidents {
		state.incidents[k] = cloneIncident(v)
	}
	for k, v := range s.Documents {
		state.documents[k] = cloneDocument(v)
	}
	return state
}

// migrateSnapshot normalizes a loaded snapshot: nil maps become empty and
// records with dangling references are repaired or dropped so every surviving
// record can be traversed safely.
func migrateSnapshot(snapshot Snapshot) Snapshot {
	if snapshot.Nodes == nil {
		snapshot.Nodes = map[string]Node{}
	}
	if snapshot.Farms == nil {
		snapshot.Farms = map[string]Farm{}
	}
	if snapshot.Lots == nil {
		snapshot.Lots = map[string]Lot{}
	}
	if snapshot.Movements == nil {
		snapshot.Movements = map[string]LotMovement{}
	}
	if snapshot.PondLogs == nil {
		snapshot.PondLogs = map[string]PondLog{}
	}
	if snapshot.Samplings == nil {
		snapshot.Samplings = map[string]Sampling{}
	}
	if snapshot.LabTests == nil {
		snapshot.LabTests = map[string]LabTest{}
	}
	if snapshot.Incidents == nil {
		snapshot.Incidents = map[string]Incident{}
	}
	if snapshot.Documents == nil {
		snapshot.Documents = map[string]Document{}
	}

	nodeExists := func(id string) bool {
		_, ok := snapshot.Nodes[id]
		return ok
	}
	farmExists := func(id string) bool {
		_, ok := snapshot.Farms[id]
		return ok
	}
	lotExists := func(id string) bool {
		_, ok := snapshot.Lots[id]
		return ok
	}
	samplingExists := func(id string) bool {
		_, ok := snapshot.Samplings[id]
		return ok
	}

	for id, farm := range snapshot.Farms {
		if farm.NodeID != nil && !nodeExists(*farm.NodeID) {
			farm.NodeID = nil
			snapshot.Farms[id] = farm
		}
	}
	for id, lot := range snapshot.Lots {
		if lot.FarmID != nil && !farmExists(*lot.FarmID) {
			lot.FarmID = nil
		}
		if lot.Status == "" {
			lot.Status = domain.StatusOK
		}
		if lot.RiskLevel == "" {
			lot.RiskLevel = domain.RiskLow
		}
		snapshot.Lots[id] = lot
	}
	for id, mv := range snapshot.Movements {
		if !lotExists(mv.LotID) || !nodeExists(mv.NodeID) {
			delete(snapshot.Movements, id)
		}
	}
	for id, log := range snapshot.PondLogs {
		if !farmExists(log.FarmID) {
			delete(snapshot.PondLogs, id)
		}
	}
	for id, sampling := range snapshot.Samplings {
		if !lotExists(sampling.LotID) {
			delete(snapshot.Samplings, id)
		}
	}
	for id, test := range snapshot.LabTests {
		if !samplingExists(test.SamplingID) {
			delete(snapshot.LabTests, id)
		}
	}
	for id, incident := range snapshot.Incidents {
		if !lotExists(incident.LotID) {
			delete(snapshot.Incidents, id)
			continue
		}
		if filtered, changed := filterIDs(incident.RelatedLotIDs, lotExists); changed {
			incident.RelatedLotIDs = filtered
			snapshot.Incidents[id] = incident
		}
	}
	for id, doc := range snapshot.Documents {
		if doc.FarmID != nil && !farmExists(*doc.FarmID) {
			doc.FarmID = nil
		}
		if doc.LotID != nil && !lotExists(*doc.LotID) {
			doc.LotID = nil
		}
		if doc.FarmID == nil && doc.LotID == nil {
			delete(snapshot.Documents, id)
			continue
		}
		snapshot.Documents[id] = doc
	}
	return snapshot
}

func (s memoryState) clone() memoryState {
	cloned := newMemoryState()
	for k, v := range s.nodes {
		cloned.nodes[k] = cloneNode(v)
	}
	for k, v := range s.farms {
		cloned.farms[k] = cloneFarm(v)
	}
	for k, v := range s.lots {
		cloned.lots[k] = cloneLot(v)
	}
	for k, v := range s.movements {
		cloned.movements[k] = cloneMovement(v)
	}
	for k, v := range s.pondLogs {
		cloned.pondLogs[k] = clonePondLog(v)
	}
	for k, v := range s.samplings {
		cloned.samplings[k] = cloneSampling(v)
	}
	for k, v := range s.labTests {
		cloned.labTests[k] = cloneLabTest(v)
	}
	for k, v := range s.incidents {
		cloned.incidents[k] = cloneIncident(v)
	}
	for k, v := range s.documents {
		cloned.documents[k] = cloneDocument(v)
	}
	return cloned
}

func cloneNode(n Node) Node { return n }

func cloneFarm(f Farm) Farm {
	cp := f
	cp.NodeID = cloneStringPtr(f.NodeID)
	return cp
}

func cloneLot(l Lot) Lot {
	cp := l
	cp.FarmID = cloneStringPtr(l.FarmID)
	cp.HarvestDate = cloneTimePtr(l.HarvestDate)
	return cp
}

func cloneMovement(m LotMovement) LotMovement { return m }

func clonePondLog(p PondLog) PondLog {
	cp := p
	cp.PH = cloneFloatPtr(p.PH)
	cp.TemperatureC = cloneFloatPtr(p.TemperatureC)
	cp.SalinityPPT = cloneFloatPtr(p.SalinityPPT)
	return cp
}

func cloneSampling(s Sampling) Sampling { return s }

func cloneLabTest(t LabTest) LabTest {
	cp := t
	cp.Value = cloneFloatPtr(t.Value)
	cp.LimitValue = cloneFloatPtr(t.LimitValue)
	return cp
}

func cloneIncident(i Incident) Incident {
	cp := i
	cp.RelatedLotIDs = append([]string(nil), i.RelatedLotIDs...)
	return cp
}

func cloneDocument(d Document) Document {
	cp := d
	cp.FarmID = cloneStringPtr(d.FarmID)
	cp.LotID = cloneStringPtr(d.LotID)
	cp.ExpiryDate = cloneTimePtr(d.ExpiryDate)
	return cp
}

func cloneStringPtr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneTimePtr(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneFloatPtr(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func filterIDs(values []string, exists func(string) bool) ([]string, bool) {
	if len(values) == 0 {
		return nil, false
	}
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	changed := false
	for _, v := range values {
		if _, ok := seen[v]; ok {
			changed = true
			continue
		}
		seen[v] = struct{}{}
		if !exists(v) {
			changed = true
			continue
		}
		out = append(out, v)
	}
	if !changed && len(out) == len(values) {
		return values, false
	}
	return out, true
}

// Store provides an in-memory transactional store for the traceability domain.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) newID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b[:])
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(migrateSnapshot(snapshot))
}

// RulesEngine exposes the currently configured engine for integration points.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// SetNowFunc overrides the time provider, primarily for tests.
func (s *Store) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFn = fn
}

// RunInTransaction executes fn within a transactional copy of the store state.
// Commits are serialized by the store mutex, giving concurrent writers for
// the same lot a last-write-wins discipline.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.state.clone()
	view := newTransactionView(&snapshot)
	return fn(view)
}

// GetLot retrieves a lot by ID.
func (s *Store) GetLot(id string) (Lot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.state.lots[id]
	if !ok {
		return Lot{}, false
	}
	return cloneLot(l), true
}

// ListLots returns all lots sorted by code.
func (s *Store) ListLots() []Lot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Lot, 0, len(s.state.lots))
	for _, l := range s.state.lots {
		out = append(out, cloneLot(l))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// GetFarm retrieves a farm by ID.
func (s *Store) GetFarm(id string) (Farm, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.state.farms[id]
	if !ok {
		return Farm{}, false
	}
	return cloneFarm(f), true
}

// ListFarms returns all farms sorted by name.
func (s *Store) ListFarms() []Farm {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Farm, 0, len(s.state.farms))
	for _, f := range s.state.farms {
		out = append(out, cloneFarm(f))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ListNodes returns all nodes sorted by name.
func (s *Store) ListNodes() []Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Node, 0, len(s.state.nodes))
	for _, n := range s.state.nodes {
		out = append(out, cloneNode(n))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ListIncidents returns all incidents sorted by date descending.
func (s *Store) ListIncidents() []Incident {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Incident, 0, len(s.state.incidents))
	for _, i := range s.state.incidents {
		out = append(out, cloneIncident(i))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	return out
}

// ListDocuments returns all documents sorted by issue date descending.
func (s *Store) ListDocuments() []Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Document, 0, len(s.state.documents))
	for _, d := range s.state.documents {
		out = append(out, cloneDocument(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssueDate.After(out[j].IssueDate) })
	return out
}

// transaction represents a mutation set applied to the store state.
type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

// FindNode exposes node lookup within the transaction scope.
func (tx *transaction) FindNode(id string) (Node, bool) {
	n, ok := tx.state.nodes[id]
	if !ok {
		return Node{}, false
	}
	return cloneNode(n), true
}

// FindFarm exposes farm lookup within the transaction scope.
func (tx *transaction) FindFarm(id string) (Farm, bool) {
	f, ok := tx.state.farms[id]
	if !ok {
		return Farm{}, false
	}
	return cloneFarm(f), true
}

// FindLot exposes lot lookup within the transaction scope.
func (tx *transaction) FindLot(id string) (Lot, bool) {
	l, ok := tx.state.lots[id]
	if !ok {
		return Lot{}, false
	}
	return cloneLot(l), true
}

// FindSampling exposes sampling lookup within the transaction scope.
func (tx *transaction) FindSampling(id string) (Sampling, bool) {
	sm, ok := tx.state.samplings[id]
	if !ok {
		return Sampling{}, false
	}
	return cloneSampling(sm), true
}

// CreateNode stores a new supply-chain node within the transaction.
func (tx *transaction) CreateNode(n Node) (Node, error) {
	if n.ID == "" {
		n.ID = tx.store.newID()
	}
	if _, exists := tx.state.nodes[n.ID]; exists {
		return Node{}, fmt.Errorf("node %q already exists", n.ID)
	}
	if n.Type == "" {
		return Node{}, fmt.Errorf("node %q requires a type", n.Name)
	}
	n.CreatedAt = tx.now
	n.UpdatedAt = tx.now
	tx.state.nodes[n.ID] = cloneNode(n)
	tx.recordChange(Change{Entity: domain.EntityNode, Action: domain.ActionCreate, After: cloneNode(n)})
	return cloneNode(n), nil
}

// CreateFarm stores a new farm.
func (tx *transaction) CreateFarm(f Farm) (Farm, error) {
	if f.ID == "" {
		f.ID = tx.store.newID()
	}
	if _, exists := tx.state.farms[f.ID]; exists {
		return Farm{}, fmt.Errorf("farm %q already exists", f.ID)
	}
	if f.NodeID != nil {
		if _, ok := tx.state.nodes[*f.NodeID]; !ok {
			return Farm{}, fmt.Errorf("farm %q references unknown node %q", f.Name, *f.NodeID)
		}
	}
	f.CreatedAt = tx.now
	f.UpdatedAt = tx.now
	tx.state.farms[f.ID] = cloneFarm(f)
	tx.recordChange(Change{Entity: domain.EntityFarm, Action: domain.ActionCreate, After: cloneFarm(f)})
	return cloneFarm(f), nil
}

// UpdateFarm mutates a farm using the provided mutator function.
func (tx *transaction) UpdateFarm(id string, mutator func(*Farm) error) (Farm, error) {
	current, ok := tx.state.farms[id]
	if !ok {
		return Farm{}, fmt.Errorf("farm %q not found", id)
	}
	before := cloneFarm(current)
	if err := mutator(&current); err != nil {
		return Farm{}, err
	}
	current.ID = id
	current.UpdatedAt = tx.now
	tx.state.farms[id] = cloneFarm(current)
	tx.recordChange(Change{Entity: domain.EntityFarm, Action: domain.ActionUpdate, Before: before, After: cloneFarm(current)})
	return cloneFarm(current), nil
}

// CreateLot stores a new lot.
func (tx *transaction) CreateLot(l Lot) (Lot, error) {
	if l.ID == "" {
		l.ID = tx.store.newID()
	}
	if _, exists := tx.state.lots[l.ID]; exists {
		return Lot{}, fmt.Errorf("lot %q already exists", l.ID)
	}
	if l.Code == "" {
		return Lot{}, fmt.Errorf("lot %q requires a code", l.ID)
	}
	if l.FarmID != nil {
		if _, ok := tx.state.farms[*l.FarmID]; !ok {
			return Lot{}, fmt.Errorf("lot %q references unknown farm %q", l.Code, *l.FarmID)
		}
	}
	if l.Status == "" {
		l.Status = domain.StatusOK
	}
	if l.RiskLevel == "" {
		l.RiskLevel = domain.RiskLow
	}
	l.CreatedAt = tx.now
	l.UpdatedAt = tx.now
	tx.state.lots[l.ID] = cloneLot(l)
	tx.recordChange(Change{Entity: domain.EntityLot, Action: domain.ActionCreate, After: cloneLot(l)})
	return cloneLot(l), nil
}

// UpdateLot mutates a lot using the provided mutator function.
func (tx *transaction) UpdateLot(id string, mutator func(*Lot) error) (Lot, error) {
	current, ok := tx.state.lots[id]
	if !ok {
		return Lot{}, fmt.Errorf("lot %q not found", id)
	}
	before := cloneLot(current)
	if err := mutator(&current); err != nil {
		return Lot{}, err
	}
	current.ID = id
	current.UpdatedAt = tx.now
	tx.state.lots[id] = cloneLot(current)
	tx.recordChange(Change{Entity: domain.EntityLot, Action: domain.ActionUpdate, Before: before, After: cloneLot(current)})
	return cloneLot(current), nil
}

// DeleteLot removes a lot, refusing while dependent records remain.
func (tx *transaction) DeleteLot(id string) error {
	current, ok := tx.state.lots[id]
	if !ok {
		return fmt.Errorf("lot %q not found", id)
	}
	for _, mv := range tx.state.movements {
		if mv.LotID == id {
			return fmt.Errorf("lot %q still referenced by movement %q", id, mv.ID)
		}
	}
	for _, sm := range tx.state.samplings {
		if sm.LotID == id {
			return fmt.Errorf("lot %q still referenced by sampling %q", id, sm.ID)
		}
	}
	for _, inc := range tx.state.incidents {
		if inc.Touches(id) {
			return fmt.Errorf("lot %q still referenced by incident %q", id, inc.ID)
		}
	}
	delete(tx.state.lots, id)
	tx.recordChange(Change{Entity: domain.EntityLot, Action: domain.ActionDelete, Before: cloneLot(current)})
	return nil
}

// CreateMovement stores a new lot movement.
func (tx *transaction) CreateMovement(m LotMovement) (LotMovement, error) {
	if m.ID == "" {
		m.ID = tx.store.newID()
	}
	if _, exists := tx.state.movements[m.ID]; exists {
		return LotMovement{}, fmt.Errorf("movement %q already exists", m.ID)
	}
	if _, ok := tx.state.lots[m.LotID]; !ok {
		return LotMovement{}, fmt.Errorf("movement references unknown lot %q", m.LotID)
	}
	if _, ok := tx.state.nodes[m.NodeID]; !ok {
		return LotMovement{}, fmt.Errorf("movement references unknown node %q", m.NodeID)
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = tx.now
	}
	m.CreatedAt = tx.now
	m.UpdatedAt = tx.now
	tx.state.movements[m.ID] = cloneMovement(m)
	tx.recordChange(Change{Entity: domain.EntityMovement, Action: domain.ActionCreate, After: cloneMovement(m)})
	return cloneMovement(m), nil
}

// CreatePondLog stores a new pond water-quality log.
func (tx *transaction) CreatePondLog(p PondLog) (PondLog, error) {
	if p.ID == "" {
		p.ID = tx.store.newID()
	}
	if _, exists := tx.state.pondLogs[p.ID]; exists {
		return PondLog{}, fmt.Errorf("pond log %q already exists", p.ID)
	}
	if _, ok := tx.state.farms[p.FarmID]; !ok {
		return PondLog{}, fmt.Errorf("pond log references unknown farm %q", p.FarmID)
	}
	if p.Date.IsZero() {
		p.Date = tx.now
	}
	p.CreatedAt = tx.now
	p.UpdatedAt = tx.now
	tx.state.pondLogs[p.ID] = clonePondLog(p)
	tx.recordChange(Change{Entity: domain.EntityPondLog, Action: domain.ActionCreate, After: clonePondLog(p)})
	return clonePondLog(p), nil
}

// CreateSampling stores a new sampling event.
func (tx *transaction) CreateSampling(sm Sampling) (Sampling, error) {
	if sm.ID == "" {
		sm.ID = tx.store.newID()
	}
	if _, exists := tx.state.samplings[sm.ID]; exists {
		return Sampling{}, fmt.Errorf("sampling %q already exists", sm.ID)
	}
	if _, ok := tx.state.lots[sm.LotID]; !ok {
		return Sampling{}, fmt.Errorf("sampling references unknown lot %q", sm.LotID)
	}
	if sm.Status == "" {
		sm.Status = domain.SamplingSampled
	}
	if sm.Date.IsZero() {
		sm.Date = tx.now
	}
	sm.CreatedAt = tx.now
	sm.UpdatedAt = tx.now
	tx.state.samplings[sm.ID] = cloneSampling(sm)
	tx.recordChange(Change{Entity: domain.EntitySampling, Action: domain.ActionCreate, After: cloneSampling(sm)})
	return cloneSampling(sm), nil
}

// UpdateSampling mutates a sampling.
func (tx *transaction) UpdateSampling(id string, mutator func(*Sampling) error) (Sampling, error) {
	current, ok := tx.state.samplings[id]
	if !ok {
		return Sampling{}, fmt.Errorf("sampling %q not found", id)
	}
	before := cloneSampling(current)
	if err := mutator(&current); err != nil {
		return Sampling{}, err
	}
	current.ID = id
	current.UpdatedAt = tx.now
	tx.state.samplings[id] = cloneSampling(current)
	tx.recordChange(Change{Entity: domain.EntitySampling, Action: domain.ActionUpdate, Before: before, After: cloneSampling(current)})
	return cloneSampling(current), nil
}

// CreateLabTest stores a new lab test result.
func (tx *transaction) CreateLabTest(t LabTest) (LabTest, error) {
	if t.ID == "" {
		t.ID = tx.store.newID()
	}
	if _, exists := tx.state.labTests[t.ID]; exists {
		return LabTest{}, fmt.Errorf("lab test %q already exists", t.ID)
	}
	if _, ok := tx.state.samplings[t.SamplingID]; !ok {
		return LabTest{}, fmt.Errorf("lab test references unknown sampling %q", t.SamplingID)
	}
	if t.Parameter == "" {
		return LabTest{}, fmt.Errorf("lab test %q requires a parameter", t.ID)
	}
	t.CreatedAt = tx.now
	t.UpdatedAt = tx.now
	tx.state.labTests[t.ID] = cloneLabTest(t)
	tx.recordChange(Change{Entity: domain.EntityLabTest, Action: domain.ActionCreate, After: cloneLabTest(t)})
	return cloneLabTest(t), nil
}

// CreateIncident stores a new incident.
func (tx *transaction) CreateIncident(i Incident) (Incident, error) {
	if i.ID == "" {
		i.ID = tx.store.newID()
	}
	if _, exists := tx.state.incidents[i.ID]; exists {
		return Incident{}, fmt.Errorf("incident %q already exists", i.ID)
	}
	if _, ok := tx.state.lots[i.LotID]; !ok {
		return Incident{}, fmt.Errorf("incident references unknown lot %q", i.LotID)
	}
	for _, related := range i.RelatedLotIDs {
		if _, ok := tx.state.lots[related]; !ok {
			return Incident{}, fmt.Errorf("incident references unknown related lot %q", related)
		}
	}
	if i.Status == "" {
		i.Status = domain.IncidentOpen
	}
	if i.Date.IsZero() {
		i.Date = tx.now
	}
	i.CreatedAt = tx.now
	i.UpdatedAt = tx.now
	tx.state.incidents[i.ID] = cloneIncident(i)
	tx.recordChange(Change{Entity: domain.EntityIncident, Action: domain.ActionCreate, After: cloneIncident(i)})
	return cloneIncident(i), nil
}

// UpdateIncident mutates an incident.
func (tx *transaction) UpdateIncident(id string, mutator func(*Incident) error) (Incident, error) {
	current, ok := tx.state.incidents[id]
	if !ok {
		return Incident{}, fmt.Errorf("incident %q not found", id)
	}
	before := cloneIncident(current)
	if err := mutator(&current); err != nil {
		return Incident{}, err
	}
	current.ID = id
	current.UpdatedAt = tx.now
	tx.state.incidents[id] = cloneIncident(current)
	tx.recordChange(Change{Entity: domain.EntityIncident, Action: domain.ActionUpdate, Before: before, After: cloneIncident(current)})
	return cloneIncident(current), nil
}

// CreateDocument stores a new document record.
func (tx *transaction) CreateDocument(d Document) (Document, error) {
	if d.ID == "" {
		d.ID = tx.store.newID()
	}
	if _, exists := tx.state.documents[d.ID]; exists {
		return Document{}, fmt.Errorf("document %q already exists", d.ID)
	}
	if d.FarmID == nil && d.LotID == nil {
		return Document{}, fmt.Errorf("document %q requires a farm or lot reference", d.Title)
	}
	if d.FarmID != nil {
		if _, ok := tx.state.farms[*d.FarmID]; !ok {
			return Document{}, fmt.Errorf("document references unknown farm %q", *d.FarmID)
		}
	}
	if d.LotID != nil {
		if _, ok := tx.state.lots[*d.LotID]; !ok {
			return Document{}, fmt.Errorf("document references unknown lot %q", *d.LotID)
		}
	}
	if d.IssueDate.IsZero() {
		d.IssueDate = tx.now
	}
	d.CreatedAt = tx.now
	d.UpdatedAt = tx.now
	tx.state.documents[d.ID] = cloneDocument(d)
	tx.recordChange(Change{Entity: domain.EntityDocument, Action: domain.ActionCreate, After: cloneDocument(d)})
	return cloneDocument(d), nil
}

// DeleteDocument removes a document record.
func (tx *transaction) DeleteDocument(id string) error {
	current, ok := tx.state.documents[id]
	if !ok {
		return fmt.Errorf("document %q not found", id)
	}
	delete(tx.state.documents, id)
	tx.recordChange(Change{Entity: domain.EntityDocument, Action: domain.ActionDelete, Before: cloneDocument(current)})
	return nil
}

// transactionView exposes a read-only snapshot of the transactional state.
type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

// ListNodes returns all nodes in the snapshot sorted by name.
func (v transactionView) ListNodes() []Node {
	out := make([]Node, 0, len(v.state.nodes))
	for _, n := range v.state.nodes {
		out = append(out, cloneNode(n))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ListFarms returns all farms in the snapshot sorted by name.
func (v transactionView) ListFarms() []Farm {
	out := make([]Farm, 0, len(v.state.farms))
	for _, f := range v.state.farms {
		out = append(out, cloneFarm(f))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ListLots returns all lots in the snapshot sorted by code.
func (v transactionView) ListLots() []Lot {
	out := make([]Lot, 0, len(v.state.lots))
	for _, l := range v.state.lots {
		out = append(out, cloneLot(l))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// ListIncidents returns all incidents in the snapshot sorted by date descending.
func (v transactionView) ListIncidents() []Incident {
	out := make([]Incident, 0, len(v.state.incidents))
	for _, i := range v.state.incidents {
		out = append(out, cloneIncident(i))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	return out
}

// FindNode retrieves a node by ID from the snapshot.
func (v transactionView) FindNode(id string) (Node, bool) {
	n, ok := v.state.nodes[id]
	if !ok {
		return Node{}, false
	}
	return cloneNode(n), true
}

// FindFarm retrieves a farm by ID from the snapshot.
func (v transactionView) FindFarm(id string) (Farm, bool) {
	f, ok := v.state.farms[id]
	if !ok {
		return Farm{}, false
	}
	return cloneFarm(f), true
}

// FindLot retrieves a lot by ID from the snapshot.
func (v transactionView) FindLot(id string) (Lot, bool) {
	l, ok := v.state.lots[id]
	if !ok {
		return Lot{}, false
	}
	return cloneLot(l), true
}

// LotsByFarm returns the farm's lots sorted by code.
func (v transactionView) LotsByFarm(farmID string) []Lot {
	var out []Lot
	for _, l := range v.state.lots {
		if l.FarmID != nil && *l.FarmID == farmID {
			out = append(out, cloneLot(l))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// LabTestsByLot returns all lab tests reached through the lot's samplings.
func (v transactionView) LabTestsByLot(lotID string) []LabTest {
	samplings := make(map[string]struct{})
	for id, sm := range v.state.samplings {
		if sm.LotID == lotID {
			samplings[id] = struct{}{}
		}
	}
	var out []LabTest
	for _, t := range v.state.labTests {
		if _, ok := samplings[t.SamplingID]; ok {
			out = append(out, cloneLabTest(t))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SamplingID != out[j].SamplingID {
			return out[i].SamplingID < out[j].SamplingID
		}
		if out[i].Parameter != out[j].Parameter {
			return out[i].Parameter < out[j].Parameter
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// IncidentsByLot returns incidents referencing the lot directly or via a
// related-lot link, sorted by date.
func (v transactionView) IncidentsByLot(lotID string) []Incident {
	var out []Incident
	for _, i := range v.state.incidents {
		if i.Touches(lotID) {
			out = append(out, cloneIncident(i))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// FarmHasIncident reports whether any incident touches any lot of the farm.
func (v transactionView) FarmHasIncident(farmID string) bool {
	for _, i := range v.state.incidents {
		for _, lotID := range incidentLotIDs(i) {
			lot, ok := v.state.lots[lotID]
			if ok && lot.FarmID != nil && *lot.FarmID == farmID {
				return true
			}
		}
	}
	return false
}

// LatestPondLog returns the farm's most recent pond log by date.
func (v transactionView) LatestPondLog(farmID string) (PondLog, bool) {
	var latest PondLog
	found := false
	for _, log := range v.state.pondLogs {
		if log.FarmID != farmID {
			continue
		}
		if !found || log.Date.After(latest.Date) || (log.Date.Equal(latest.Date) && log.ID > latest.ID) {
			latest = log
			found = true
		}
	}
	if !found {
		return PondLog{}, false
	}
	return clonePondLog(latest), true
}

// MovementsByLot returns the lot's movements ordered by timestamp ascending.
func (v transactionView) MovementsByLot(lotID string) []LotMovement {
	var out []LotMovement
	for _, mv := range v.state.movements {
		if mv.LotID == lotID {
			out = append(out, cloneMovement(mv))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// NodeTraffic returns cross-lot aggregate counts for the requested nodes:
// distinct lots ever moved through the node, how many of those are currently
// problematic, and distinct non-closed incidents attached to them.
func (v transactionView) NodeTraffic(nodeIDs []string) []domain.NodeTraffic {
	out := make([]domain.NodeTraffic, 0, len(nodeIDs))
	for _, nodeID := range nodeIDs {
		lotSet := make(map[string]struct{})
		for _, mv := range v.state.movements {
			if mv.NodeID == nodeID {
				lotSet[mv.LotID] = struct{}{}
			}
		}
		traffic := domain.NodeTraffic{NodeID: nodeID, LotCount: len(lotSet)}
		for lotID := range lotSet {
			if lot, ok := v.state.lots[lotID]; ok && lot.Problematic() {
				traffic.ProblematicCount++
			}
		}
		incidentSet := make(map[string]struct{})
		for id, inc := range v.state.incidents {
			if inc.Closed() {
				continue
			}
			for _, lotID := range incidentLotIDs(inc) {
				if _, ok := lotSet[lotID]; ok {
					incidentSet[id] = struct{}{}
					break
				}
			}
		}
		traffic.IncidentCount = len(incidentSet)
		out = append(out, traffic)
	}
	return out
}

// incidentLotIDs lists the direct and related lots an incident touches.
func incidentLotIDs(i Incident) []string {
	ids := make([]string, 0, 1+len(i.RelatedLotIDs))
	ids = append(ids, i.LotID)
	seen := map[string]struct{}{i.LotID: {}}
	for _, id := range i.RelatedLotIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}
