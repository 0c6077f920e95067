// Package posting is the HTTP-facing surface that drives the
// coordinator: one batch per request, committed atomically against
// the local journal and the external ledger, or previewed through the
// simulation wrapper.
package posting

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerbridge/ledgerbridge/internal/booking"
	"github.com/ledgerbridge/ledgerbridge/internal/coordinator"
	"github.com/ledgerbridge/ledgerbridge/internal/journal"
	"github.com/ledgerbridge/ledgerbridge/internal/observability"
)

// Service runs posting batches. Each batch gets its own coordinator
// instance; the shared registry and lock inside the base config are
// what serialize batches against each other.
type Service struct {
	repo    journal.Repository
	base    coordinator.Config
	logger  *slog.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewService constructs the posting service.
func NewService(repo journal.Repository, base coordinator.Config, logger *slog.Logger, metrics *observability.Metrics) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, base: base, logger: logger, metrics: metrics, now: time.Now}
}

// Post runs the batch through a production coordinator.
func (s *Service) Post(ctx context.Context, in BatchInput) (BatchResult, error) {
	requests, err := buildRequests(in)
	if err != nil {
		return BatchResult{}, err
	}
	batchID := in.BatchID
	if batchID == "" {
		batchID = uuid.NewString()
	}

	sess, err := s.repo.Begin(ctx)
	if err != nil {
		return BatchResult{}, err
	}

	start := s.now()
	coord := coordinator.New(s.base)
	queued := make([]bool, len(requests))
	err = coord.Run(ctx, sess, func(ctx context.Context) error {
		for i, req := range requests {
			ok, err := coord.RegisterRequest(ctx, req)
			if err != nil {
				return err
			}
			queued[i] = ok
		}
		return nil
	})
	elapsed := s.now().Sub(start)
	if err != nil {
		s.metrics.ObserveBatch("failed", 0, elapsed)
		s.logger.Error("posting batch failed",
			slog.String("batch", batchID), slog.Int("requests", len(requests)), slog.Any("error", err))
		return BatchResult{}, err
	}

	result := BatchResult{BatchID: batchID}
	queuedCount := 0
	for i, req := range requests {
		if queued[i] {
			queuedCount++
		}
		result.Results = append(result.Results, resultFor(req, queued[i]))
	}
	s.metrics.ObserveBatch("committed", queuedCount, elapsed)
	s.logger.Info("posting batch committed",
		slog.String("batch", batchID), slog.Int("requests", len(requests)), slog.Int("queued", queuedCount))
	return result, nil
}

// Preview runs the batch through the simulation wrapper: identical
// code paths, separate number sequences, nothing persisted.
func (s *Service) Preview(ctx context.Context, in BatchInput) (BatchResult, error) {
	requests, err := buildRequests(in)
	if err != nil {
		return BatchResult{}, err
	}
	batchID := in.BatchID
	if batchID == "" {
		batchID = uuid.NewString()
	}

	sess, err := s.repo.Begin(ctx)
	if err != nil {
		return BatchResult{}, err
	}

	sim := coordinator.NewSimulation(s.base, false)
	queued := make([]bool, len(requests))
	err = sim.Preview(ctx, sess, func(ctx context.Context) error {
		for i, req := range requests {
			ok, err := sim.Coordinator().RegisterRequest(ctx, req)
			if err != nil {
				return err
			}
			queued[i] = ok
		}
		return nil
	})
	if err != nil {
		return BatchResult{}, err
	}

	result := BatchResult{BatchID: batchID, Simulated: true}
	for i, req := range requests {
		result.Results = append(result.Results, resultFor(req, queued[i]))
	}
	return result, nil
}

func buildRequests(in BatchInput) ([]booking.Request, error) {
	requests := make([]booking.Request, 0, len(in.Requests))
	for _, item := range in.Requests {
		req, err := item.toRequest()
		if err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}
	return requests, nil
}
