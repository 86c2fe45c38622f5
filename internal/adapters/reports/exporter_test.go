package reports

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"shrimptrace/internal/blob"
	"shrimptrace/internal/core"
	"shrimptrace/internal/infra/persistence/memory"
	"shrimptrace/pkg/domain"
)

func newTestWorker(t *testing.T) (*Worker, *core.Service, blob.Store) {
	t.Helper()
	store := memory.NewStore(core.NewDefaultRulesEngine())
	blobs := blob.NewMemory()
	svc := core.NewService(store, core.WithBlobStore(blobs))
	worker := NewWorker(svc, blobs)
	worker.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := worker.Stop(ctx); err != nil {
			t.Fatalf("stop worker: %v", err)
		}
	})
	return worker, svc, blobs
}

func seedTracedLot(t *testing.T, svc *core.Service) domain.Lot {
	t.Helper()
	ctx := context.Background()
	farmNode, _, err := svc.CreateNode(ctx, domain.Node{Name: "Tambak Jaya", Type: domain.NodeFarm})
	if err != nil {
		t.Fatalf("create node: %v", err)
	}
	collector, _, err := svc.CreateNode(ctx, domain.Node{Name: "Collector Depot", Type: domain.NodeCollector})
	if err != nil {
		t.Fatalf("create node: %v", err)
	}
	farm, _, err := svc.CreateFarm(ctx, domain.Farm{NodeID: &farmNode.ID, Name: "Tambak Jaya", Location: "Lampung", OwnerName: "Pak Budi"})
	if err != nil {
		t.Fatalf("create farm: %v", err)
	}
	harvest := time.Now().UTC().Add(-24 * time.Hour)
	lot, _, err := svc.CreateLot(ctx, domain.Lot{Code: "LOT-TRACE", FarmID: &farm.ID, HarvestDate: &harvest, VolumeKg: 800})
	if err != nil {
		t.Fatalf("create lot: %v", err)
	}
	for i, nodeID := range []string{farmNode.ID, collector.ID} {
		_, _, err := svc.RecordMovement(ctx, domain.LotMovement{
			LotID:      lot.ID,
			NodeID:     nodeID,
			Timestamp:  harvest.Add(time.Duration(i) * time.Hour),
			QuantityKg: 800,
		})
		if err != nil {
			t.Fatalf("record movement: %v", err)
		}
	}
	sampling, _, err := svc.RecordSampling(ctx, domain.Sampling{LotID: lot.ID, Date: harvest, Status: domain.SamplingSampled})
	if err != nil {
		t.Fatalf("record sampling: %v", err)
	}
	value := 0.0
	if _, _, err := svc.RecordLabTest(ctx, domain.LabTest{SamplingID: sampling.ID, Parameter: "Salmonella", Value: &value, Result: domain.ResultPass}); err != nil {
		t.Fatalf("record lab test: %v", err)
	}
	current, ok := svc.GetLot(lot.ID)
	if !ok {
		t.Fatalf("lot missing after seed")
	}
	return current
}

func waitForRecord(t *testing.T, worker *Worker, id string) Record {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		record, ok := worker.Get(id)
		if !ok {
			t.Fatalf("record %s missing", id)
		}
		if record.Status == StatusSucceeded || record.Status == StatusFailed {
			return record
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("report %s did not complete in time", id)
	return Record{}
}

func TestWorkerRendersTraceReport(t *testing.T) {
	worker, svc, blobs := newTestWorker(t)
	lot := seedTracedLot(t, svc)

	queued, err := worker.Enqueue(context.Background(), Input{LotID: lot.ID, RequestedBy: "qa"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if queued.Status != StatusQueued {
		t.Fatalf("expected queued status, got %s", queued.Status)
	}
	if len(queued.Formats) != 2 {
		t.Fatalf("expected default json+csv formats, got %v", queued.Formats)
	}

	record := waitForRecord(t, worker, queued.ID)
	if record.Status != StatusSucceeded {
		t.Fatalf("report failed: %s", record.Error)
	}
	if record.CompletedAt == nil {
		t.Fatalf("expected completion timestamp")
	}
	if len(record.Artifacts) != 2 {
		t.Fatalf("expected 2 artifacts, got %d", len(record.Artifacts))
	}

	var jsonKey string
	for _, artifact := range record.Artifacts {
		if !strings.HasPrefix(artifact.Key, "reports/"+record.ID+"/") {
			t.Fatalf("unexpected artifact key %s", artifact.Key)
		}
		if artifact.SizeBytes == 0 {
			t.Fatalf("artifact %s has no content", artifact.Key)
		}
		if artifact.Format == FormatJSON {
			jsonKey = artifact.Key
		}
	}
	if jsonKey == "" {
		t.Fatalf("no json artifact in %v", record.Artifacts)
	}

	_, rc, err := blobs.Get(context.Background(), jsonKey)
	if err != nil {
		t.Fatalf("get artifact: %v", err)
	}
	payload, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	var report TraceReport
	if err := json.Unmarshal(payload, &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.Lot.Code != "LOT-TRACE" {
		t.Fatalf("unexpected lot code %s", report.Lot.Code)
	}
	if report.Farm == nil || report.Farm.Name != "Tambak Jaya" {
		t.Fatalf("expected farm in report, got %+v", report.Farm)
	}
	if len(report.Path) != 2 || report.Path[0].NodeName != "Tambak Jaya" {
		t.Fatalf("unexpected path %+v", report.Path)
	}
	if len(report.LabTests) != 1 {
		t.Fatalf("expected 1 lab test, got %d", len(report.LabTests))
	}
	if report.Assessment.Score != lot.RiskScore {
		t.Fatalf("report score %d disagrees with stored score %d", report.Assessment.Score, lot.RiskScore)
	}
	if len(report.Suspicion) != 2 {
		t.Fatalf("expected suspicion for 2 nodes, got %d", len(report.Suspicion))
	}
}

func TestWorkerRejectsBadRequests(t *testing.T) {
	worker, svc, _ := newTestWorker(t)
	lot := seedTracedLot(t, svc)

	if _, err := worker.Enqueue(context.Background(), Input{LotID: "missing"}); err == nil {
		t.Fatalf("expected error for unknown lot")
	}
	if _, err := worker.Enqueue(context.Background(), Input{LotID: lot.ID, Formats: []Format{"pdf"}}); err == nil {
		t.Fatalf("expected error for unsupported format")
	}
}

func TestWorkerDedupesFormats(t *testing.T) {
	worker, svc, _ := newTestWorker(t)
	lot := seedTracedLot(t, svc)

	queued, err := worker.Enqueue(context.Background(), Input{LotID: lot.ID, Formats: []Format{FormatCSV, FormatCSV, FormatJSON}})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	record := waitForRecord(t, worker, queued.ID)
	if record.Status != StatusSucceeded {
		t.Fatalf("report failed: %s", record.Error)
	}
	if len(record.Artifacts) != 2 {
		t.Fatalf("expected deduped artifacts, got %d", len(record.Artifacts))
	}
}
