package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
	"upaste/svc/util"
)

const (
	walLogPagesThreshold      = 1000
	defaultCheckpointInterval = 5 * time.Minute
)

// WALMaintainer periodically checkpoints the write-ahead log and checks
// database integrity afterwards.
type WALMaintainer struct {
	db       *sql.DB
	interval time.Duration
}

func NewWALMaintainer(s *SQLite, interval time.Duration) *WALMaintainer {
	if interval <= 0 {
		interval = defaultCheckpointInterval
	}
	return &WALMaintainer{db: s.db, interval: interval}
}

// Run checkpoints on every tick until ctx is done, then once more.
func (w *WALMaintainer) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := w.Checkpoint(ctx); err != nil {
				util.Error().Err(err).Msg("WAL checkpoint failed")
			}
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := w.Checkpoint(final); err != nil {
				util.Error().Err(err).Msg("final WAL checkpoint failed")
			}
			cancel()
			return nil
		}
	}
}

func (w *WALMaintainer) Checkpoint(ctx context.Context) error {
	start := time.Now()
	var busyPages, logPages, checkpointed int
	err := w.db.QueryRowContext(ctx, "PRAGMA wal_checkpoint(PASSIVE)").Scan(&busyPages, &logPages, &checkpointed)
	if err != nil {
		return fmt.Errorf("PASSIVE checkpoint failed: %w", err)
	}
	util.Debug().
		Int("busy", busyPages).
		Int("log", logPages).
		Int("checkpointed", checkpointed).
		Msg("PASSIVE checkpoint result")
	if logPages > walLogPagesThreshold {
		util.Info().Int("log", logPages).Msg("escalating to TRUNCATE checkpoint")
		err = w.db.QueryRowContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)").Scan(&busyPages, &logPages, &checkpointed)
		if err != nil {
			return fmt.Errorf("TRUNCATE checkpoint failed: %w", err)
		}
	}
	if err := w.verifyIntegrity(ctx); err != nil {
		util.Error().Err(err).Msg("CRITICAL: database integrity check failed after checkpoint")
		return fmt.Errorf("integrity check failed: %w", err)
	}
	util.Debug().Dur("duration", time.Since(start)).Msg("WAL checkpoint completed")
	return nil
}
func (w *WALMaintainer) verifyIntegrity(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	var result string
	err := w.db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result)
	if err != nil {
		return fmt.Errorf("integrity_check query failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity_check returned: %s", result)
	}
	return nil
}
