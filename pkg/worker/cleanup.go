package worker

import (
	"context"
	"time"

	"github.com/jwalitptl/billing-api/pkg/logger"
)

// CleanupFunc deletes rows older than before and returns how many it removed.
type CleanupFunc func(ctx context.Context, before time.Time) (int64, error)

// CleanupWorker periodically prunes a table by age: audit logs past their
// retention, relayed outbox events.
type CleanupWorker struct {
	name      string
	cleanup   CleanupFunc
	retention time.Duration
	interval  time.Duration
	logger    *logger.Logger
}

func NewCleanupWorker(name string, cleanup CleanupFunc, retention, interval time.Duration, logger *logger.Logger) *CleanupWorker {
	return &CleanupWorker{
		name:      name,
		cleanup:   cleanup,
		retention: retention,
		interval:  interval,
		logger:    logger.WithFields(map[string]interface{}{"worker": name}),
	}
}

func (w *CleanupWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

func (w *CleanupWorker) RunOnce(ctx context.Context) int64 {
	cutoff := time.Now().Add(-w.retention)

	rows, err := w.cleanup(ctx, cutoff)
	if err != nil {
		w.logger.Error(err, "Cleanup failed")
		return 0
	}
	if rows > 0 {
		w.logger.Info("Cleanup finished", "rows", rows, "cutoff", cutoff)
	}
	return rows
}
