package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/antoine13330/INKSPOT-5z-sub000/internal/booking"
	"github.com/antoine13330/INKSPOT-5z-sub000/internal/storage"
)

// Sweeper finalizes paid appointments whose scheduled end has passed. It is
// the safety net behind the explicit complete endpoint.
type Sweeper struct {
	repo      *storage.AppointmentRepository
	svc       *booking.Service
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
}

type Config struct {
	Interval  time.Duration
	BatchSize int
}

func New(repo *storage.AppointmentRepository, svc *booking.Service, logger *slog.Logger, cfg Config) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Sweeper{
		repo:      repo,
		svc:       svc,
		logger:    logger,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
	}
}

func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.sweep(ctx); err != nil {
				s.logger.Error("completion sweep failed", "err", err)
			}
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) error {
	tx, err := s.repo.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	due, err := s.repo.ListDuePaid(ctx, tx, now, s.batchSize)
	if err != nil {
		return err
	}
	for _, appt := range due {
		if _, err := s.svc.Complete(ctx, tx, appt.ID, now); err != nil {
			return err
		}
		s.logger.Info("appointment completed by sweep", "appointment_id", appt.ID)
	}
	return tx.Commit(ctx)
}
