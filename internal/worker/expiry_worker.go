package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// sweepTimeout bounds one sweep so a stuck query cannot pin the schedule.
const sweepTimeout = 25 * time.Second

// OverdueExpirer finalizes attempts that ran past their deadline.
type OverdueExpirer interface {
	ExpireOverdue(ctx context.Context, limit int) (int, error)
}

// ExpiryWorker periodically finalizes in-progress attempts whose clients
// disappeared before the deadline. Reads also expire attempts lazily; the
// sweep makes results and the monitor converge without any further request.
type ExpiryWorker struct {
	expirer  OverdueExpirer
	schedule string
	batch    int
	log      zerolog.Logger
}

// NewExpiryWorker creates a new ExpiryWorker. schedule uses cron syntax,
// including descriptors such as "@every 30s".
func NewExpiryWorker(expirer OverdueExpirer, schedule string, batch int, log zerolog.Logger) *ExpiryWorker {
	return &ExpiryWorker{
		expirer:  expirer,
		schedule: schedule,
		batch:    batch,
		log:      log.With().Str("component", "expiry_worker").Logger(),
	}
}

// Start runs the sweep on schedule until ctx is cancelled, then waits for a
// running sweep to finish. Overlapping runs are skipped.
func (w *ExpiryWorker) Start(ctx context.Context) error {
	clog := cronLogger{log: w.log}
	c := cron.New(cron.WithLogger(clog), cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)))

	if _, err := c.AddFunc(w.schedule, func() { w.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("schedule expiry sweep %q: %w", w.schedule, err)
	}

	w.log.Info().Str("schedule", w.schedule).Int("batch", w.batch).Msg("Expiry worker started")
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	w.log.Info().Msg("Expiry worker stopped")
	return nil
}

// RunOnce performs a single sweep. A full batch is followed immediately by
// another so a backlog drains within one tick.
func (w *ExpiryWorker) RunOnce(parent context.Context) int {
	total := 0
	for parent.Err() == nil {
		ctx, cancel := context.WithTimeout(parent, sweepTimeout)
		n, err := w.expirer.ExpireOverdue(ctx, w.batch)
		cancel()

		total += n
		if err != nil {
			w.log.Error().Err(err).Msg("Expiry sweep failed")
			break
		}
		if n < w.batch {
			break
		}
	}

	if total > 0 {
		w.log.Info().Int("expired", total).Msg("Expired overdue attempts")
	}
	return total
}

// cronLogger routes cron's internal logging through zerolog.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
