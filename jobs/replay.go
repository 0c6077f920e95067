package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/ledgerbridge/ledgerbridge/internal/booking"
	"github.com/ledgerbridge/ledgerbridge/internal/coordinator"
	"github.com/ledgerbridge/ledgerbridge/internal/journal"
	"github.com/ledgerbridge/ledgerbridge/internal/numbering"
	"github.com/ledgerbridge/ledgerbridge/internal/posting"
)

// BatchPoster is the slice of the posting service the replay handler needs.
type BatchPoster interface {
	Post(ctx context.Context, in posting.BatchInput) (posting.BatchResult, error)
}

// NewPostingReplayHandler builds the handler for TaskTypePostingReplay.
// Batches that fail for a reason a retry cannot fix (validation, frozen
// documents, exhausted ranges) are dropped; everything else is retried
// by Asynq's backoff schedule.
func NewPostingReplayHandler(svc BatchPoster, logger *slog.Logger) asynq.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, t *asynq.Task) error {
		var payload PostingReplayPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			logger.Error("posting replay: bad payload", slog.Any("error", err))
			return asynq.SkipRetry
		}
		in := payload.Batch
		if payload.BatchID != "" {
			in.BatchID = payload.BatchID
		}

		result, err := svc.Post(ctx, in)
		if err != nil {
			if permanentBatchError(err) {
				logger.Error("posting replay: permanent failure",
					slog.String("batch", in.BatchID), slog.Any("error", err))
				return asynq.SkipRetry
			}
			logger.Warn("posting replay: retryable failure",
				slog.String("batch", in.BatchID), slog.Any("error", err))
			return err
		}
		logger.Info("posting replay: batch committed",
			slog.String("batch", result.BatchID), slog.Int("requests", len(result.Results)))
		return nil
	}
}

func permanentBatchError(err error) bool {
	var (
		validation *booking.ValidationError
		multiYear  *coordinator.MultiYearConflictError
		frozen     *coordinator.FrozenDocumentError
		exhausted  *numbering.RangeExhaustedError
	)
	switch {
	case errors.As(err, &validation),
		errors.As(err, &multiYear),
		errors.As(err, &frozen),
		errors.As(err, &exhausted),
		errors.Is(err, journal.ErrDuplicateEntry):
		return true
	}
	return false
}
