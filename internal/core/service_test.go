package core

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"shrimptrace/internal/blob"
	"shrimptrace/internal/infra/persistence/memory"
	"shrimptrace/internal/risk"
	"shrimptrace/pkg/domain"
)

func newTestService(t *testing.T, now time.Time) (*Service, *memory.Store) {
	t.Helper()
	store := memory.NewStore(NewDefaultRulesEngine())
	store.SetNowFunc(func() time.Time { return now })
	svc := NewService(store,
		WithRiskEngine(risk.NewEngine(risk.WithNow(func() time.Time { return now }))),
		WithBlobStore(blob.NewMemory()),
	)
	return svc, store
}

func seedFarmAndLot(t *testing.T, svc *Service, now time.Time) (Farm, Lot) {
	t.Helper()
	ctx := context.Background()
	node, _, err := svc.CreateNode(ctx, Node{Name: "Tambak Rejeki", Type: domain.NodeFarm})
	if err != nil {
		t.Fatalf("create node: %v", err)
	}
	farm, _, err := svc.CreateFarm(ctx, Farm{Name: "Tambak Rejeki", Location: "Sidoarjo", NodeID: &node.ID})
	if err != nil {
		t.Fatalf("create farm: %v", err)
	}
	harvest := now.Add(-24 * time.Hour)
	lot, _, err := svc.CreateLot(ctx, Lot{Code: "LOT-2025-001", FarmID: &farm.ID, HarvestDate: &harvest, VolumeKg: 500})
	if err != nil {
		t.Fatalf("create lot: %v", err)
	}
	return farm, lot
}

func TestCreateLotScoresImmediately(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestService(t, now)
	_, lot := seedFarmAndLot(t, svc, now)

	// age 1 day (+5), volume 500 kg (+5), no lab results (+20).
	if lot.RiskScore != 30 {
		t.Fatalf("expected initial score 30, got %d", lot.RiskScore)
	}
	if lot.RiskLevel != domain.RiskLow || lot.Status != domain.StatusOK {
		t.Fatalf("unexpected banding %s/%s", lot.RiskLevel, lot.Status)
	}
}

func TestRecordLabTestCriticalForcesInvestigation(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestService(t, now)
	_, lot := seedFarmAndLot(t, svc, now)
	ctx := context.Background()

	sampling, _, err := svc.RecordSampling(ctx, Sampling{LotID: lot.ID, Date: now})
	if err != nil {
		t.Fatalf("record sampling: %v", err)
	}
	value := 1.0
	if _, _, err := svc.RecordLabTest(ctx, LabTest{SamplingID: sampling.ID, Parameter: "Salmonella", Value: &value, Unit: "per 25g", Result: domain.ResultFail}); err != nil {
		t.Fatalf("record lab test: %v", err)
	}

	updated, ok := svc.GetLot(lot.ID)
	if !ok {
		t.Fatalf("lot missing")
	}
	if updated.RiskScore < 90 {
		t.Fatalf("expected critical floor at 90, got %d", updated.RiskScore)
	}
	if updated.RiskLevel != domain.RiskHigh || updated.Status != domain.StatusInvestigate {
		t.Fatalf("unexpected banding %s/%s", updated.RiskLevel, updated.Status)
	}
}

func TestRecordPondLogRescoresFarmLots(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestService(t, now)
	farm, lot := seedFarmAndLot(t, svc, now)
	ctx := context.Background()

	ph := 6.2
	salinity := 35.0
	if _, _, err := svc.RecordPondLog(ctx, PondLog{FarmID: farm.ID, Date: now, PH: &ph, SalinityPPT: &salinity}); err != nil {
		t.Fatalf("record pond log: %v", err)
	}
	updated, _ := svc.GetLot(lot.ID)
	// base 30 plus pH (+10) and salinity (+10).
	if updated.RiskScore != 50 {
		t.Fatalf("expected score 50 after pond log, got %d", updated.RiskScore)
	}
	if updated.Status != domain.StatusHold {
		t.Fatalf("expected HOLD, got %s", updated.Status)
	}
}

func TestReportIncidentRescoresFarm(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestService(t, now)
	farm, lot := seedFarmAndLot(t, svc, now)
	ctx := context.Background()

	harvest := now.Add(-24 * time.Hour)
	sibling, _, err := svc.CreateLot(ctx, Lot{Code: "LOT-2025-002", FarmID: &farm.ID, HarvestDate: &harvest, VolumeKg: 400})
	if err != nil {
		t.Fatalf("create sibling: %v", err)
	}

	if _, _, err := svc.ReportIncident(ctx, Incident{LotID: lot.ID, Type: domain.IncidentExportReject, Description: "container rejected at port", Date: now}); err != nil {
		t.Fatalf("report incident: %v", err)
	}
	updated, _ := svc.GetLot(lot.ID)
	// base 30, open incident (+30), farm incident history (+10).
	if updated.RiskScore != 70 || updated.Status != domain.StatusInvestigate {
		t.Fatalf("expected 70/INVESTIGATE, got %d/%s", updated.RiskScore, updated.Status)
	}
	// Sibling takes the farm incident penalty but not the open-incident one.
	// Farm reputation also moves: 1 of 2 lots is now problematic (+30).
	sib, _ := svc.GetLot(sibling.ID)
	if sib.RiskScore != 70 {
		t.Fatalf("expected sibling score 70, got %d", sib.RiskScore)
	}
}

func TestCloseIncidentReleasesOpenPenalty(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestService(t, now)
	ctx := context.Background()

	harvest := now.Add(-24 * time.Hour)
	lot, _, err := svc.CreateLot(ctx, Lot{Code: "LOT-NOFARM", HarvestDate: &harvest, VolumeKg: 500})
	if err != nil {
		t.Fatalf("create lot: %v", err)
	}
	incident, _, err := svc.ReportIncident(ctx, Incident{LotID: lot.ID, Type: domain.IncidentComplaint, Date: now})
	if err != nil {
		t.Fatalf("report incident: %v", err)
	}
	open, _ := svc.GetLot(lot.ID)
	// base 30 plus open incident (+30).
	if open.RiskScore != 60 || open.Status != domain.StatusHold {
		t.Fatalf("expected 60/HOLD, got %d/%s", open.RiskScore, open.Status)
	}

	if _, _, err := svc.CloseIncident(ctx, incident.ID); err != nil {
		t.Fatalf("close incident: %v", err)
	}
	closed, _ := svc.GetLot(lot.ID)
	if closed.RiskScore != 30 || closed.Status != domain.StatusOK {
		t.Fatalf("expected 30/OK after close, got %d/%s", closed.RiskScore, closed.Status)
	}
}

func TestExplainMatchesScore(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestService(t, now)
	_, lot := seedFarmAndLot(t, svc, now)

	explanation, err := svc.ExplainLot(context.Background(), lot.ID)
	if err != nil {
		t.Fatalf("explain: %v", err)
	}
	stored, _ := svc.GetLot(lot.ID)
	if explanation.Score != stored.RiskScore || explanation.Level != stored.RiskLevel || explanation.Status != stored.Status {
		t.Fatalf("explanation %+v diverges from stored assessment %d/%s/%s", explanation.Assessment, stored.RiskScore, stored.RiskLevel, stored.Status)
	}
	if len(explanation.Reasons) == 0 {
		t.Fatalf("expected reasons")
	}
}

func TestEstimateNodeSuspicionSumsToHundred(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestService(t, now)
	_, lot := seedFarmAndLot(t, svc, now)
	ctx := context.Background()

	collector, _, err := svc.CreateNode(ctx, Node{Name: "Pengepul Baru", Type: domain.NodeCollector})
	if err != nil {
		t.Fatalf("create collector: %v", err)
	}
	exporter, _, err := svc.CreateNode(ctx, Node{Name: "Eksportir Laut", Type: domain.NodeExporter})
	if err != nil {
		t.Fatalf("create exporter: %v", err)
	}
	for i, nodeID := range []string{collector.ID, exporter.ID} {
		if _, _, err := svc.RecordMovement(ctx, LotMovement{LotID: lot.ID, NodeID: nodeID, Timestamp: now.Add(time.Duration(i) * time.Hour)}); err != nil {
			t.Fatalf("record movement: %v", err)
		}
	}

	suspicion, err := svc.EstimateNodeSuspicion(ctx, lot.ID)
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if len(suspicion) != 2 {
		t.Fatalf("expected two path entries, got %d", len(suspicion))
	}
	total := 0.0
	for _, entry := range suspicion {
		total += entry.Probability
	}
	if total < 99.5 || total > 100.5 {
		t.Fatalf("expected probabilities near 100, got %.1f", total)
	}
}

func TestRiskConsistencyRuleBlocksDirectWrites(t *testing.T) {
	store := memory.NewStore(NewDefaultRulesEngine())
	_, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		_, e := tx.CreateLot(Lot{Code: "LOT-BAD", RiskScore: 95, RiskLevel: domain.RiskLow, Status: domain.StatusOK})
		return e
	})
	if err == nil {
		t.Fatalf("expected blocking violation for inconsistent risk fields")
	}
	if _, ok := err.(domain.RuleViolationError); !ok {
		t.Fatalf("expected RuleViolationError, got %T", err)
	}
}

func TestMovementSequenceRuleWarnsOnBackdatedEntry(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestService(t, now)
	_, lot := seedFarmAndLot(t, svc, now)
	ctx := context.Background()

	node, _, err := svc.CreateNode(ctx, Node{Name: "Gudang Dingin", Type: domain.NodeProcessor})
	if err != nil {
		t.Fatalf("create node: %v", err)
	}
	if _, _, err := svc.RecordMovement(ctx, LotMovement{LotID: lot.ID, NodeID: node.ID, Timestamp: now}); err != nil {
		t.Fatalf("first movement: %v", err)
	}
	_, res, err := svc.RecordMovement(ctx, LotMovement{LotID: lot.ID, NodeID: node.ID, Timestamp: now.Add(-48 * time.Hour)})
	if err != nil {
		t.Fatalf("backdated movement should commit: %v", err)
	}
	warned := false
	for _, v := range res.Violations {
		if v.Rule == "movement_sequence" && v.Severity == domain.SeverityWarn {
			warned = true
		}
	}
	if !warned {
		t.Fatalf("expected movement_sequence warning, got %+v", res.Violations)
	}
}

func TestDocumentLifecycle(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestService(t, now)
	farm, _ := seedFarmAndLot(t, svc, now)
	ctx := context.Background()

	doc, _, err := svc.AttachDocument(ctx, Document{
		Type:     domain.DocFarmCert,
		Title:    "Sertifikat CBIB",
		FarmID:   &farm.ID,
		IssuedBy: "KKP",
	}, bytes.NewBufferString("certificate body"), "application/pdf")
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if doc.BlobKey == "" {
		t.Fatalf("expected blob key recorded")
	}
	info, r, err := svc.OpenDocument(ctx, doc)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	body, _ := io.ReadAll(r)
	_ = r.Close()
	if string(body) != "certificate body" || info.ContentType != "application/pdf" {
		t.Fatalf("unexpected content %q %+v", string(body), info)
	}
	if len(svc.ListDocuments()) != 1 {
		t.Fatalf("expected one document")
	}
	if _, err := svc.RemoveDocument(ctx, doc); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(svc.ListDocuments()) != 0 {
		t.Fatalf("expected document removed")
	}
	if _, _, err := svc.OpenDocument(ctx, doc); err == nil {
		t.Fatalf("expected missing blob error")
	}
}

func TestRescoreIsIdempotent(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestService(t, now)
	_, lot := seedFarmAndLot(t, svc, now)
	ctx := context.Background()

	first, _, err := svc.RescoreLot(ctx, lot.ID)
	if err != nil {
		t.Fatalf("rescore: %v", err)
	}
	second, _, err := svc.RescoreLot(ctx, lot.ID)
	if err != nil {
		t.Fatalf("rescore: %v", err)
	}
	if first.RiskScore != second.RiskScore || first.Status != second.Status {
		t.Fatalf("rescore not idempotent: %d/%s vs %d/%s", first.RiskScore, first.Status, second.RiskScore, second.Status)
	}
}
