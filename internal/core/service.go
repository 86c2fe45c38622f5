package core

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"shrimptrace/internal/blob"
	"shrimptrace/internal/risk"
	"shrimptrace/pkg/domain"
)

// Service exposes transactional operations over the traceability schema and
// keeps lot risk assessments current. All writes run inside a store
// transaction; the risk engine is re-run within the same transaction whenever
// an input to a lot's score changes, so persisted scores never lag their
// evidence.
type Service struct {
	store   PersistentStore
	engine  *risk.Engine
	blobs   blob.Store
	metrics MetricsRecorder
	tracer  Tracer
}

// ServiceOption customizes service construction.
type ServiceOption func(*Service)

// WithRiskEngine replaces the default risk engine.
func WithRiskEngine(engine *risk.Engine) ServiceOption {
	return func(s *Service) { s.engine = engine }
}

// WithBlobStore attaches an object store for document content.
func WithBlobStore(store blob.Store) ServiceOption {
	return func(s *Service) { s.blobs = store }
}

// WithMetricsRecorder attaches a metrics recorder to every operation.
func WithMetricsRecorder(rec MetricsRecorder) ServiceOption {
	return func(s *Service) { s.metrics = rec }
}

// WithTracer attaches a tracer to every operation.
func WithTracer(tracer Tracer) ServiceOption {
	return func(s *Service) { s.tracer = tracer }
}

// NewService constructs a service backed by the supplied persistent store.
func NewService(store PersistentStore, opts ...ServiceOption) *Service {
	s := &Service{
		store:  store,
		engine: risk.NewEngine(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store returns the underlying storage implementation.
func (s *Service) Store() PersistentStore { return s.store }

// Engine returns the configured risk engine.
func (s *Service) Engine() *risk.Engine { return s.engine }

// instrument wraps an operation with the optional tracer and metrics recorder.
func (s *Service) instrument(ctx context.Context, operation string, fn func(context.Context) error) error {
	var span TraceSpan
	if s.tracer != nil {
		ctx, span = s.tracer.Start(ctx, operation)
	}
	start := time.Now()
	err := fn(ctx)
	if s.metrics != nil {
		s.metrics.Observe(ctx, operation, err == nil, time.Since(start))
	}
	if span != nil {
		span.End(err)
	}
	return err
}

// CreateNode persists a supply-chain node.
func (s *Service) CreateNode(ctx context.Context, node Node) (Node, Result, error) {
	var created Node
	var res Result
	err := s.instrument(ctx, "create_node", func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var txErr error
			created, txErr = tx.CreateNode(node)
			return txErr
		})
		return err
	})
	return created, res, err
}

// CreateFarm persists a farm.
func (s *Service) CreateFarm(ctx context.Context, farm Farm) (Farm, Result, error) {
	var created Farm
	var res Result
	err := s.instrument(ctx, "create_farm", func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var txErr error
			created, txErr = tx.CreateFarm(farm)
			return txErr
		})
		return err
	})
	return created, res, err
}

// UpdateFarm mutates a farm using the provided mutator.
func (s *Service) UpdateFarm(ctx context.Context, id string, mutator func(*Farm) error) (Farm, Result, error) {
	var updated Farm
	var res Result
	err := s.instrument(ctx, "update_farm", func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var txErr error
			updated, txErr = tx.UpdateFarm(id, mutator)
			return txErr
		})
		return err
	})
	return updated, res, err
}

// CreateLot registers a new harvest lot and computes its initial risk
// assessment in the same transaction.
func (s *Service) CreateLot(ctx context.Context, lot Lot) (Lot, Result, error) {
	var created Lot
	var res Result
	err := s.instrument(ctx, "create_lot", func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var txErr error
			created, txErr = tx.CreateLot(lot)
			if txErr != nil {
				return txErr
			}
			created, txErr = s.rescoreLot(tx, created.ID)
			return txErr
		})
		return err
	})
	return created, res, err
}

// UpdateLot mutates lot descriptive fields, then rescores so the stored
// assessment reflects the change. Mutators must not set risk fields directly;
// the engine overwrites them.
func (s *Service) UpdateLot(ctx context.Context, id string, mutator func(*Lot) error) (Lot, Result, error) {
	var updated Lot
	var res Result
	err := s.instrument(ctx, "update_lot", func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			if _, txErr := tx.UpdateLot(id, mutator); txErr != nil {
				return txErr
			}
			var txErr error
			updated, txErr = s.rescoreLot(tx, id)
			return txErr
		})
		return err
	})
	return updated, res, err
}

// DeleteLot removes a lot that has no dependent records.
func (s *Service) DeleteLot(ctx context.Context, id string) (Result, error) {
	var res Result
	err := s.instrument(ctx, "delete_lot", func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			return tx.DeleteLot(id)
		})
		return err
	})
	return res, err
}

// RecordMovement appends a custody movement for a lot and rescores it.
func (s *Service) RecordMovement(ctx context.Context, movement LotMovement) (LotMovement, Result, error) {
	var created LotMovement
	var res Result
	err := s.instrument(ctx, "record_movement", func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var txErr error
			created, txErr = tx.CreateMovement(movement)
			if txErr != nil {
				return txErr
			}
			_, txErr = s.rescoreLot(tx, created.LotID)
			return txErr
		})
		return err
	})
	return created, res, err
}

// RecordPondLog stores a water-quality log and rescores every lot of the farm,
// since the latest log feeds each of their assessments.
func (s *Service) RecordPondLog(ctx context.Context, log PondLog) (PondLog, Result, error) {
	var created PondLog
	var res Result
	err := s.instrument(ctx, "record_pond_log", func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var txErr error
			created, txErr = tx.CreatePondLog(log)
			if txErr != nil {
				return txErr
			}
			return s.rescoreFarmLots(tx, created.FarmID)
		})
		return err
	})
	return created, res, err
}

// RecordSampling registers a sampling event for a lot.
func (s *Service) RecordSampling(ctx context.Context, sampling Sampling) (Sampling, Result, error) {
	var created Sampling
	var res Result
	err := s.instrument(ctx, "record_sampling", func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var txErr error
			created, txErr = tx.CreateSampling(sampling)
			return txErr
		})
		return err
	})
	return created, res, err
}

// RecordLabTest stores a lab result against a sampling, marks the sampling
// completed and rescores the sampled lot.
func (s *Service) RecordLabTest(ctx context.Context, test LabTest) (LabTest, Result, error) {
	var created LabTest
	var res Result
	err := s.instrument(ctx, "record_lab_test", func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			sampling, ok := tx.FindSampling(test.SamplingID)
			if !ok {
				return ErrNotFound{Entity: domain.EntitySampling, ID: test.SamplingID}
			}
			var txErr error
			created, txErr = tx.CreateLabTest(test)
			if txErr != nil {
				return txErr
			}
			if _, txErr = tx.UpdateSampling(sampling.ID, func(sm *Sampling) error {
				sm.Status = domain.SamplingCompleted
				return nil
			}); txErr != nil {
				return txErr
			}
			lot, ok := tx.FindLot(sampling.LotID)
			if !ok {
				return ErrNotFound{Entity: domain.EntityLot, ID: sampling.LotID}
			}
			// A lab result moves the farm reputation ratio for sibling lots
			// too, so the whole farm is refreshed.
			if lot.FarmID != nil {
				return s.rescoreFarmLots(tx, *lot.FarmID)
			}
			_, txErr = s.rescoreLot(tx, lot.ID)
			return txErr
		})
		return err
	})
	return created, res, err
}

// ReportIncident records an incident and rescores every lot it touches along
// with their farms, since farm incident history feeds sibling assessments.
func (s *Service) ReportIncident(ctx context.Context, incident Incident) (Incident, Result, error) {
	var created Incident
	var res Result
	err := s.instrument(ctx, "report_incident", func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var txErr error
			created, txErr = tx.CreateIncident(incident)
			if txErr != nil {
				return txErr
			}
			return s.rescoreIncidentLots(tx, created)
		})
		return err
	})
	return created, res, err
}

// CloseIncident transitions an incident to CLOSED and rescores affected lots.
func (s *Service) CloseIncident(ctx context.Context, id string) (Incident, Result, error) {
	var updated Incident
	var res Result
	err := s.instrument(ctx, "close_incident", func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var txErr error
			updated, txErr = tx.UpdateIncident(id, func(inc *Incident) error {
				inc.Status = domain.IncidentClosed
				return nil
			})
			if txErr != nil {
				return txErr
			}
			return s.rescoreIncidentLots(tx, updated)
		})
		return err
	})
	return updated, res, err
}

// RescoreLot recomputes and persists one lot's risk assessment.
func (s *Service) RescoreLot(ctx context.Context, id string) (Lot, Result, error) {
	var updated Lot
	var res Result
	err := s.instrument(ctx, "rescore_lot", func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var txErr error
			updated, txErr = s.rescoreLot(tx, id)
			return txErr
		})
		return err
	})
	return updated, res, err
}

// RescoreAllLots recomputes every stored lot, for batch refreshes after a
// standards table change.
func (s *Service) RescoreAllLots(ctx context.Context) (Result, error) {
	var res Result
	err := s.instrument(ctx, "rescore_all_lots", func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			for _, lot := range tx.Snapshot().ListLots() {
				if _, txErr := s.rescoreLot(tx, lot.ID); txErr != nil {
					return txErr
				}
			}
			return nil
		})
		return err
	})
	return res, err
}

// ExplainLot computes the lot's current assessment with per-factor reasons.
// The result is derived from live state and never persisted.
func (s *Service) ExplainLot(ctx context.Context, id string) (risk.Explanation, error) {
	var explanation risk.Explanation
	err := s.instrument(ctx, "explain_lot", func(ctx context.Context) error {
		return s.store.View(ctx, func(view TransactionView) error {
			lot, ok := view.FindLot(id)
			if !ok {
				return ErrNotFound{Entity: domain.EntityLot, ID: id}
			}
			explanation = s.engine.Explain(view, lot)
			return nil
		})
	})
	return explanation, err
}

// EstimateNodeSuspicion apportions contamination probability across the lot's
// supply-chain path. Display overlay only; nothing is persisted.
func (s *Service) EstimateNodeSuspicion(ctx context.Context, lotID string) ([]risk.NodeSuspicion, error) {
	var suspicion []risk.NodeSuspicion
	err := s.instrument(ctx, "estimate_node_suspicion", func(ctx context.Context) error {
		return s.store.View(ctx, func(view TransactionView) error {
			lot, ok := view.FindLot(lotID)
			if !ok {
				return ErrNotFound{Entity: domain.EntityLot, ID: lotID}
			}
			suspicion = s.engine.EstimateNodeSuspicion(view, lot)
			return nil
		})
	})
	return suspicion, err
}

// AttachDocument stores the document content in the blob store and records
// the document row pointing at it.
func (s *Service) AttachDocument(ctx context.Context, doc Document, content io.Reader, contentType string) (Document, Result, error) {
	var created Document
	var res Result
	err := s.instrument(ctx, "attach_document", func(ctx context.Context) error {
		if s.blobs == nil {
			return fmt.Errorf("no blob store configured")
		}
		key := fmt.Sprintf("documents/%s/%s", doc.Type, uuid.NewString())
		info, err := s.blobs.Put(ctx, key, content, blob.PutOptions{
			ContentType: contentType,
			Metadata:    map[string]string{"title": doc.Title, "issued_by": doc.IssuedBy},
		})
		if err != nil {
			return fmt.Errorf("store document content: %w", err)
		}
		doc.BlobKey = info.Key
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var txErr error
			created, txErr = tx.CreateDocument(doc)
			return txErr
		})
		if err != nil {
			// The metadata row failed; drop the orphaned blob.
			_, _ = s.blobs.Delete(ctx, info.Key)
			return err
		}
		return nil
	})
	return created, res, err
}

// OpenDocument returns the stored content of a document.
func (s *Service) OpenDocument(ctx context.Context, doc Document) (blob.Info, io.ReadCloser, error) {
	if s.blobs == nil {
		return blob.Info{}, nil, fmt.Errorf("no blob store configured")
	}
	if doc.BlobKey == "" {
		return blob.Info{}, nil, fmt.Errorf("document %q has no stored content", doc.ID)
	}
	return s.blobs.Get(ctx, doc.BlobKey)
}

// RemoveDocument deletes the document row and its stored content.
func (s *Service) RemoveDocument(ctx context.Context, doc Document) (Result, error) {
	var res Result
	err := s.instrument(ctx, "remove_document", func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			return tx.DeleteDocument(doc.ID)
		})
		if err != nil {
			return err
		}
		if s.blobs != nil && doc.BlobKey != "" {
			_, _ = s.blobs.Delete(ctx, doc.BlobKey)
		}
		return nil
	})
	return res, err
}

// rescoreLot recomputes one lot against the transactional snapshot and writes
// the assessment back. Level and status always derive from the score.
func (s *Service) rescoreLot(tx Transaction, lotID string) (Lot, error) {
	lot, ok := tx.FindLot(lotID)
	if !ok {
		return Lot{}, ErrNotFound{Entity: domain.EntityLot, ID: lotID}
	}
	assessment := s.engine.Score(tx.Snapshot(), lot)
	return tx.UpdateLot(lotID, func(l *Lot) error {
		l.RiskScore = assessment.Score
		l.RiskLevel = assessment.Level
		l.Status = assessment.Status
		return nil
	})
}

// rescoreFarmLots refreshes every lot of a farm.
func (s *Service) rescoreFarmLots(tx Transaction, farmID string) error {
	for _, lot := range tx.Snapshot().LotsByFarm(farmID) {
		if _, err := s.rescoreLot(tx, lot.ID); err != nil {
			return err
		}
	}
	return nil
}

// rescoreIncidentLots refreshes every lot an incident touches plus all lots
// of their farms.
func (s *Service) rescoreIncidentLots(tx Transaction, incident Incident) error {
	lotIDs := append([]string{incident.LotID}, incident.RelatedLotIDs...)
	farms := make(map[string]struct{})
	seen := make(map[string]struct{})
	for _, lotID := range lotIDs {
		if _, dup := seen[lotID]; dup {
			continue
		}
		seen[lotID] = struct{}{}
		lot, ok := tx.FindLot(lotID)
		if !ok {
			return ErrNotFound{Entity: domain.EntityLot, ID: lotID}
		}
		if lot.FarmID != nil {
			farms[*lot.FarmID] = struct{}{}
			continue
		}
		if _, err := s.rescoreLot(tx, lotID); err != nil {
			return err
		}
	}
	for farmID := range farms {
		if err := s.rescoreFarmLots(tx, farmID); err != nil {
			return err
		}
	}
	return nil
}

// GetLot retrieves a lot by ID.
func (s *Service) GetLot(id string) (Lot, bool) { return s.store.GetLot(id) }

// ListLots returns all lots.
func (s *Service) ListLots() []Lot { return s.store.ListLots() }

// GetFarm retrieves a farm by ID.
func (s *Service) GetFarm(id string) (Farm, bool) { return s.store.GetFarm(id) }

// ListFarms returns all farms.
func (s *Service) ListFarms() []Farm { return s.store.ListFarms() }

// ListNodes returns all nodes.
func (s *Service) ListNodes() []Node { return s.store.ListNodes() }

// ListIncidents returns all incidents.
func (s *Service) ListIncidents() []Incident { return s.store.ListIncidents() }

// ListDocuments returns all documents.
func (s *Service) ListDocuments() []Document { return s.store.ListDocuments() }
