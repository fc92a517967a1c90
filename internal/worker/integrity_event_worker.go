package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assessment/internal/config"
	"github.com/stemsi/exstem-assessment/internal/model"
)

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
	PollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis
)

var integrityEventColumns = []string{"attempt_id", "test_id", "student_id", "warning_count", "event_data", "recorded_at"}

// IntegrityEventWorker drains warning events queued by the event publisher
// into the integrity_events audit table. The attempt row is already the
// source of truth for the count; this table keeps each event's payload.
type IntegrityEventWorker struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
	log  zerolog.Logger
}

// NewIntegrityEventWorker creates a new IntegrityEventWorker.
func NewIntegrityEventWorker(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *IntegrityEventWorker {
	return &IntegrityEventWorker{
		pool: pool,
		rdb:  rdb,
		log:  log.With().Str("component", "integrity_event_worker").Logger(),
	}
}

// queuedEvent keeps the raw message so a failed insert can be requeued verbatim.
type queuedEvent struct {
	raw   string
	event model.AttemptEvent
}

// Start blocks until ctx is cancelled, flushing by size or age.
func (w *IntegrityEventWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Integrity event worker started")

	buffer := make([]queuedEvent, 0, BatchSize)
	lastFlush := time.Now()

	for {
		if len(buffer) > 0 && (len(buffer) >= BatchSize || time.Since(lastFlush) >= BatchTimeout) {
			w.flushSafe(ctx, buffer)
			buffer = buffer[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.shutdown(buffer)
			return
		default:
		}

		result, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.PersistIntegrityEventsQueue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				continue
			}
			w.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			sleepCtx(ctx, 3*time.Second)
			continue
		}
		if len(result) < 2 {
			continue
		}

		ev, err := decodeIntegrityEvent(result[1])
		if err != nil {
			// Malformed messages can never succeed; drop them.
			w.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed integrity event")
			continue
		}
		buffer = append(buffer, queuedEvent{raw: result[1], event: ev})
	}
}

func decodeIntegrityEvent(raw string) (model.AttemptEvent, error) {
	var ev model.AttemptEvent
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		return ev, err
	}
	if ev.Type != model.AttemptEventWarning {
		return ev, errors.New("unexpected event type " + string(ev.Type))
	}
	return ev, nil
}

// integrityRow maps an event to the integrity_events columns.
func integrityRow(ev model.AttemptEvent) []interface{} {
	payload := ev.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	return []interface{}{ev.AttemptID, ev.TestID, ev.StudentID, ev.WarningCount, string(payload), ev.OccurredAt}
}

// flushSafe attempts a bulk copy, then row-by-row inserts, then a requeue.
func (w *IntegrityEventWorker) flushSafe(ctx context.Context, batch []queuedEvent) {
	if err := w.bulkInsert(ctx, batch); err != nil {
		w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk insert failed, attempting row-by-row recovery")
		w.fallbackInsert(ctx, batch)
		return
	}
	w.log.Debug().Int("count", len(batch)).Msg("Integrity events persisted")
}

func (w *IntegrityEventWorker) bulkInsert(ctx context.Context, batch []queuedEvent) error {
	rows := make([][]interface{}, 0, len(batch))
	for _, q := range batch {
		rows = append(rows, integrityRow(q.event))
	}

	_, err := w.pool.CopyFrom(ctx, pgx.Identifier{"integrity_events"}, integrityEventColumns, pgx.CopyFromRows(rows))
	return err
}

func (w *IntegrityEventWorker) fallbackInsert(ctx context.Context, batch []queuedEvent) {
	var requeue []queuedEvent

	for _, q := range batch {
		_, err := w.pool.Exec(ctx,
			`INSERT INTO integrity_events (attempt_id, test_id, student_id, warning_count, event_data, recorded_at)
			 VALUES ($1, $2, $3, $4, $5::jsonb, $6)`,
			integrityRow(q.event)...,
		)
		if err != nil {
			w.log.Error().Err(err).Str("attempt_id", q.event.AttemptID.String()).Msg("Insert failed, requeueing")
			requeue = append(requeue, q)
		}
	}

	if len(requeue) > 0 {
		w.requeue(ctx, requeue)
	}
}

func (w *IntegrityEventWorker) requeue(ctx context.Context, items []queuedEvent) {
	pipe := w.rdb.Pipeline()
	for _, q := range items {
		pipe.RPush(ctx, config.WorkerKey.PersistIntegrityEventsQueue, q.raw)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Error().Err(err).Int("count", len(items)).Msg("Failed to requeue integrity events, events lost")
		return
	}

	w.log.Info().Int("count", len(items)).Msg("Requeued failed integrity events")
	// Back off so a database outage does not spin the loop.
	sleepCtx(ctx, 2*time.Second)
}

func (w *IntegrityEventWorker) shutdown(buffer []queuedEvent) {
	w.log.Info().Int("buffered", len(buffer)).Msg("Integrity event worker stopping, flushing buffer")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if len(buffer) > 0 {
		w.flushSafe(shutdownCtx, buffer)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
