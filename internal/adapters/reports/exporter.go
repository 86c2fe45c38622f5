// Package reports generates lot trace reports asynchronously and stores the
// rendered artifacts in the blob store.
package reports

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"shrimptrace/internal/blob"
	"shrimptrace/internal/core"
	"shrimptrace/internal/risk"
	"shrimptrace/pkg/domain"
)

// Format identifies a report artifact encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// Status describes the lifecycle stage of a report request.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Artifact captures one stored report rendering.
type Artifact struct {
	Key         string    `json:"key"`
	Format      Format    `json:"format"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	ETag        string    `json:"etag,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Record tracks a report request and its resulting artifacts.
type Record struct {
	ID          string     `json:"id"`
	LotID       string     `json:"lot_id"`
	Formats     []Format   `json:"formats"`
	Status      Status     `json:"status"`
	Error       string     `json:"error,omitempty"`
	Artifacts   []Artifact `json:"artifacts,omitempty"`
	RequestedBy string     `json:"requested_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (r Record) copy() Record {
	out := r
	out.Formats = append([]Format(nil), r.Formats...)
	out.Artifacts = append([]Artifact(nil), r.Artifacts...)
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		out.CompletedAt = &t
	}
	return out
}

// Input represents an enqueue request for the worker.
type Input struct {
	LotID       string
	Formats     []Format
	RequestedBy string
}

// TraceReport is the assembled report payload. One document covers the lot,
// its origin farm, custody chain, evidence, and the live risk assessment with
// per-node suspicion.
type TraceReport struct {
	GeneratedAt time.Time            `json:"generated_at"`
	Lot         domain.Lot           `json:"lot"`
	Farm        *domain.Farm         `json:"farm,omitempty"`
	Path        []PathEntry          `json:"path"`
	LabTests    []domain.LabTest     `json:"lab_tests"`
	Incidents   []domain.Incident    `json:"incidents"`
	Assessment  risk.Explanation     `json:"assessment"`
	Suspicion   []risk.NodeSuspicion `json:"node_suspicion"`
}

// PathEntry is one custody movement annotated with the node's descriptive
// fields, so the report reads without a node lookup.
type PathEntry struct {
	Movement domain.LotMovement `json:"movement"`
	NodeName string             `json:"node_name"`
	NodeType domain.NodeType    `json:"node_type"`
}

// Worker renders trace reports asynchronously. Requests queue onto a buffered
// channel and are processed by a single goroutine; status is tracked per job.
type Worker struct {
	svc   *core.Service
	store blob.Store

	queue chan reportTask
	mu    sync.RWMutex
	jobs  map[string]*Record

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type reportTask struct {
	id    string
	lotID string
}

// NewWorker constructs a report worker over the given service and blob store.
func NewWorker(svc *core.Service, store blob.Store) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		svc:    svc,
		store:  store,
		queue:  make(chan reportTask, 32),
		jobs:   make(map[string]*Record),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins processing report requests.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Stop signals the worker to halt and waits for completion.
func (w *Worker) Stop(ctx context.Context) error {
	w.cancel()
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case task := <-w.queue:
			w.process(task)
		}
	}
}

// Enqueue schedules a report job and returns the queued record. The lot must
// exist at enqueue time; rendering happens against live state later.
func (w *Worker) Enqueue(_ context.Context, input Input) (Record, error) {
	if w.store == nil {
		return Record{}, fmt.Errorf("report blob store not configured")
	}
	if _, ok := w.svc.GetLot(input.LotID); !ok {
		return Record{}, fmt.Errorf("lot %s not found", input.LotID)
	}

	formats := input.Formats
	if len(formats) == 0 {
		formats = []Format{FormatJSON, FormatCSV}
	}
	uniq := make([]Format, 0, len(formats))
	seen := make(map[Format]struct{})
	for _, format := range formats {
		if _, duplicate := seen[format]; duplicate {
			continue
		}
		if format != FormatJSON && format != FormatCSV {
			return Record{}, fmt.Errorf("format %s not supported", format)
		}
		uniq = append(uniq, format)
		seen[format] = struct{}{}
	}

	now := time.Now().UTC()
	record := Record{
		ID:          uuid.NewString(),
		LotID:       input.LotID,
		Formats:     uniq,
		Status:      StatusQueued,
		RequestedBy: input.RequestedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	w.mu.Lock()
	w.jobs[record.ID] = &record
	queued := record.copy()
	w.mu.Unlock()

	select {
	case w.queue <- reportTask{id: record.ID, lotID: input.LotID}:
	default:
		w.fail(record.ID, "report queue full")
		return Record{}, fmt.Errorf("report queue full")
	}
	return queued, nil
}

// Get returns a snapshot of the report record.
func (w *Worker) Get(id string) (Record, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	record, ok := w.jobs[id]
	if !ok {
		return Record{}, false
	}
	return record.copy(), true
}

func (w *Worker) process(task reportTask) {
	w.updateStatus(task.id, StatusRunning, "")

	report, err := w.build(task.lotID)
	if err != nil {
		w.fail(task.id, err.Error())
		return
	}

	record, ok := w.Get(task.id)
	if !ok {
		return
	}
	artifacts := make([]Artifact, 0, len(record.Formats))
	for _, format := range record.Formats {
		payload, contentType, err := render(format, report)
		if err != nil {
			w.fail(task.id, err.Error())
			return
		}
		key := fmt.Sprintf("reports/%s/trace-%s.%s", task.id, report.Lot.Code, format)
		info, err := w.store.Put(w.ctx, key, bytes.NewReader(payload), blob.PutOptions{
			ContentType: contentType,
			Metadata:    map[string]string{"lot_code": report.Lot.Code, "report_id": task.id},
		})
		if err != nil {
			w.fail(task.id, fmt.Sprintf("store artifact: %v", err))
			return
		}
		artifacts = append(artifacts, Artifact{
			Key:         info.Key,
			Format:      format,
			ContentType: contentType,
			SizeBytes:   info.Size,
			ETag:        info.ETag,
			CreatedAt:   info.LastModified,
		})
	}

	now := time.Now().UTC()
	w.mu.Lock()
	if record, ok := w.jobs[task.id]; ok {
		record.Status = StatusSucceeded
		record.Error = ""
		record.Artifacts = artifacts
		record.UpdatedAt = now
		record.CompletedAt = &now
	}
	w.mu.Unlock()
}

// build assembles the report from a single consistent view of the store.
func (w *Worker) build(lotID string) (TraceReport, error) {
	var report TraceReport
	err := w.svc.Store().View(w.ctx, func(view core.TransactionView) error {
		lot, ok := view.FindLot(lotID)
		if !ok {
			return core.ErrNotFound{Entity: domain.EntityLot, ID: lotID}
		}
		report.GeneratedAt = time.Now().UTC()
		report.Lot = lot
		if lot.FarmID != nil {
			if farm, ok := view.FindFarm(*lot.FarmID); ok {
				report.Farm = &farm
			}
		}
		for _, mv := range view.MovementsByLot(lot.ID) {
			entry := PathEntry{Movement: mv}
			if node, ok := view.FindNode(mv.NodeID); ok {
				entry.NodeName = node.Name
				entry.NodeType = node.Type
			}
			report.Path = append(report.Path, entry)
		}
		report.LabTests = view.LabTestsByLot(lot.ID)
		report.Incidents = view.IncidentsByLot(lot.ID)
		sort.Slice(report.Incidents, func(i, j int) bool {
			return report.Incidents[i].Date.Before(report.Incidents[j].Date)
		})
		engine := w.svc.Engine()
		report.Assessment = engine.Explain(view, lot)
		report.Suspicion = engine.EstimateNodeSuspicion(view, lot)
		return nil
	})
	return report, err
}

func render(format Format, report TraceReport) ([]byte, string, error) {
	switch format {
	case FormatJSON:
		payload, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return nil, "", fmt.Errorf("encode report json: %w", err)
		}
		return payload, "application/json", nil
	case FormatCSV:
		payload, err := renderCSV(report)
		if err != nil {
			return nil, "", err
		}
		return payload, "text/csv", nil
	default:
		return nil, "", fmt.Errorf("format %s not supported", format)
	}
}

// renderCSV flattens the trace into one row per record. The row shape is
// uniform so the file loads into a spreadsheet without post-processing.
func renderCSV(report TraceReport) ([]byte, error) {
	var buf bytes.Buffer
	wr := csv.NewWriter(&buf)
	rows := [][]string{{"record", "timestamp", "reference", "detail", "value"}}

	rows = append(rows, []string{
		"lot", report.GeneratedAt.Format(time.RFC3339), report.Lot.Code,
		fmt.Sprintf("risk %s / status %s", report.Lot.RiskLevel, report.Lot.Status),
		strconv.Itoa(report.Lot.RiskScore),
	})
	if report.Farm != nil {
		rows = append(rows, []string{"farm", "", report.Farm.Name, report.Farm.Location, report.Farm.OwnerName})
	}
	for _, entry := range report.Path {
		rows = append(rows, []string{
			"movement", entry.Movement.Timestamp.Format(time.RFC3339), entry.NodeName,
			string(entry.NodeType), strconv.FormatFloat(entry.Movement.QuantityKg, 'f', -1, 64),
		})
	}
	for _, test := range report.LabTests {
		value := ""
		if test.Value != nil {
			value = strconv.FormatFloat(*test.Value, 'f', -1, 64)
		}
		rows = append(rows, []string{"lab_test", "", test.Parameter, string(test.Result), value})
	}
	for _, inc := range report.Incidents {
		rows = append(rows, []string{
			"incident", inc.Date.Format(time.RFC3339), string(inc.Type), inc.Description, string(inc.Status),
		})
	}
	for _, reason := range report.Assessment.Reasons {
		rows = append(rows, []string{"risk_reason", "", "", reason, ""})
	}
	for _, s := range report.Suspicion {
		rows = append(rows, []string{
			"node_suspicion", "", s.NodeID, "contamination probability",
			strconv.FormatFloat(s.Probability, 'f', 1, 64),
		})
	}

	if err := wr.WriteAll(rows); err != nil {
		return nil, fmt.Errorf("encode report csv: %w", err)
	}
	wr.Flush()
	if err := wr.Error(); err != nil {
		return nil, fmt.Errorf("encode report csv: %w", err)
	}
	return buf.Bytes(), nil
}

func (w *Worker) updateStatus(id string, status Status, message string) {
	now := time.Now().UTC()
	w.mu.Lock()
	if record, ok := w.jobs[id]; ok {
		record.Status = status
		record.Error = message
		record.UpdatedAt = now
	}
	w.mu.Unlock()
}

func (w *Worker) fail(id, reason string) {
	now := time.Now().UTC()
	w.mu.Lock()
	if record, ok := w.jobs[id]; ok {
		record.Status = StatusFailed
		record.Error = reason
		record.UpdatedAt = now
		record.CompletedAt = &now
	}
	w.mu.Unlock()
}
