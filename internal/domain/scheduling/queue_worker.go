package scheduling

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// DueAssigner numbers the appointments whose slot has started.
type DueAssigner interface {
	AssignDue(ctx context.Context) (int, error)
}

// QueueWorker periodically hands out queue numbers for started slots.
type QueueWorker struct {
	assigner DueAssigner
	interval time.Duration
	logger   zerolog.Logger
}

func NewQueueWorker(assigner DueAssigner, interval time.Duration, logger zerolog.Logger) *QueueWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &QueueWorker{
		assigner: assigner,
		interval: interval,
		logger:   logger.With().Str("component", "queue-worker").Logger(),
	}
}

// Start runs one pass immediately and then one per interval until ctx is
// cancelled.
func (w *QueueWorker) Start(ctx context.Context) {
	w.logger.Info().Dur("interval", w.interval).Msg("queue worker started")
	w.RunOnce(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("queue worker stopped")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single assignment pass and returns how many numbers
// were handed out.
func (w *QueueWorker) RunOnce(ctx context.Context) int {
	n, err := w.assigner.AssignDue(ctx)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error().Err(err).Msg("assign due queue numbers")
		}
		return n
	}
	if n > 0 {
		w.logger.Info().Int("assigned", n).Msg("queue numbers assigned")
	}
	return n
}
