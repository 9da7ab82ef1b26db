package reminder

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/antoine13330/INKSPOT-5z-sub000/internal/outbox"
	"github.com/antoine13330/INKSPOT-5z-sub000/libs/db"
	otelx "github.com/antoine13330/INKSPOT-5z-sub000/libs/otel"
)

// Sender delivers one reminder over a notification channel. A returned error
// means the channel failed and the delivery may be retried.
type Sender interface {
	Send(ctx context.Context, evt Event) error
}

// ActivityReader reports when a user was last seen, nil for never.
type ActivityReader interface {
	LastActivity(ctx context.Context, userID string) (*time.Time, error)
}

type Worker struct {
	pool      *db.Pool
	repo      *Repository
	outbox    *outbox.Repository
	sender    Sender
	activity  ActivityReader
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
	backoff   time.Duration
}

type WorkerConfig struct {
	Interval  time.Duration
	BatchSize int
	Backoff   time.Duration
}

func NewWorker(pool *db.Pool, repo *Repository, outboxRepo *outbox.Repository, sender Sender, activity ActivityReader, logger *slog.Logger, cfg WorkerConfig) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 1 * time.Minute
	}
	return &Worker{
		pool:      pool,
		repo:      repo,
		outbox:    outboxRepo,
		sender:    sender,
		activity:  activity,
		logger:    logger,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		backoff:   cfg.Backoff,
	}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.processBatch(ctx); err != nil {
				w.logger.Error("reminder batch failed", "err", err)
			}
		}
	}
}

func (w *Worker) processBatch(ctx context.Context) error {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	due, err := w.repo.FetchDue(ctx, tx, w.batchSize)
	if err != nil {
		return err
	}
	if len(due) == 0 {
		return tx.Commit(ctx)
	}

	now := time.Now().UTC()
	var sent []int64
	for _, stored := range due {
		evtCtx := otelx.ContextWithTraceContext(ctx, stored.Traceparent, stored.Tracestate)
		evt := stored.Event

		lastActivity, err := w.activity.LastActivity(evtCtx, evt.UserID)
		if err != nil {
			if err := w.markFailure(evtCtx, tx, stored, "activity lookup failed: "+err.Error(), now); err != nil {
				return err
			}
			continue
		}

		// Conditions are re-checked against the present moment. A miss is a
		// drop, not a deferral.
		decision := Evaluate(evt, now, lastActivity)
		if !decision.Send {
			w.logger.Info("reminder skipped",
				"reminder_id", evt.ID, "user_id", evt.UserID, "reason", decision.Reason)
			if err := w.repo.MarkSkipped(evtCtx, tx, stored.RowID, decision.Reason); err != nil {
				return err
			}
			continue
		}

		if err := w.sender.Send(evtCtx, evt); err != nil {
			w.logger.Warn("reminder delivery failed",
				"reminder_id", evt.ID, "user_id", evt.UserID, "err", err)
			if err := w.markFailure(evtCtx, tx, stored, err.Error(), now); err != nil {
				return err
			}
			continue
		}

		sent = append(sent, stored.RowID)
		if evt.Repeat != nil && evt.Repeat.Count > 1 {
			next := evt.ScheduledFor.Add(evt.Repeat.Every)
			if err := w.repo.Requeue(evtCtx, tx, evt, next, evt.Repeat.Count-1); err != nil {
				return err
			}
		}
	}

	if err := w.repo.MarkSent(ctx, tx, sent); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (w *Worker) markFailure(ctx context.Context, tx pgx.Tx, stored StoredEvent, reason string, now time.Time) error {
	retries := stored.Event.RetryCount + 1
	if err := w.repo.MarkFailed(ctx, tx, stored.RowID, retries, stored.Event.MaxRetries, now.Add(w.backoff), reason); err != nil {
		return err
	}
	if retries >= stored.Event.MaxRetries {
		return w.enqueueDLQ(ctx, tx, stored.Event, reason)
	}
	return nil
}

func (w *Worker) enqueueDLQ(ctx context.Context, tx pgx.Tx, evt Event, reason string) error {
	body, err := MarshalPayload(evt.Payload)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(map[string]any{
		"reminder_id":   evt.ID,
		"user_id":       evt.UserID,
		"type":          string(evt.Type),
		"scheduled_for": evt.ScheduledFor.UTC().Format(time.RFC3339),
		"payload":       json.RawMessage(body),
		"error_reason":  reason,
		"failed_at":     time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	return w.outbox.Insert(ctx, tx, outbox.Event{
		AggregateType: "reminder",
		AggregateID:   evt.ID,
		EventType:     "booking.reminder.dlq.v1",
		Payload:       payload,
	})
}
