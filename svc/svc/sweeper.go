package svc

import (
	"context"
	"time"
	"upaste/metrics"
	"upaste/svc/util"
)

type OutdatedDeleter interface {
	DeleteOutdated(ctx context.Context, cutoff, now time.Time) (int64, error)
}

// Sweeper deletes expired and stale pastes on a fixed interval. A failed
// cycle is logged and the next one runs on schedule.
type Sweeper struct {
	repo     OutdatedDeleter
	interval time.Duration
	maxAge   time.Duration
	clock    util.Clock
}

func NewSweeper(repo OutdatedDeleter, interval, maxAge time.Duration, clock util.Clock) *Sweeper {
	if clock == nil {
		clock = util.SystemClock{}
	}
	return &Sweeper{repo: repo, interval: interval, maxAge: maxAge, clock: clock}
}

func (s *Sweeper) Run(ctx context.Context) error {
	requestID := util.NewRequestID()
	ctx = util.SetRequestID(ctx, requestID)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	util.Info().
		Str("request_id", requestID).
		Dur("interval", s.interval).
		Dur("max_age", s.maxAge).
		Msg("sweeper started")
	for {
		select {
		case <-ctx.Done():
			util.Info().
				Str("request_id", requestID).
				Msg("sweeper shutting down")
			return nil
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

func (s *Sweeper) SweepOnce(ctx context.Context) (int64, error) {
	now := s.clock.Now()
	metrics.SweepCycles.Inc()
	deleted, err := s.repo.DeleteOutdated(ctx, now.Add(-s.maxAge), now)
	if err != nil {
		metrics.SweepFailures.Inc()
		util.Error().
			Err(err).
			Str("request_id", util.GetRequestID(ctx)).
			Msg("sweep failed")
		return 0, err
	}
	metrics.SweptPastes.Add(float64(deleted))
	if deleted > 0 {
		util.Info().
			Int64("deleted", deleted).
			Str("request_id", util.GetRequestID(ctx)).
			Msg("sweep completed")
	}
	return deleted, nil
}
