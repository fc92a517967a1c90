package service

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assessment/internal/config"
	"github.com/stemsi/exstem-assessment/internal/model"
)

// RedisEventPublisher fans attempt events out to the test's monitor channel
// and queues warnings for the integrity audit log.
type RedisEventPublisher struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewRedisEventPublisher creates a new RedisEventPublisher.
func NewRedisEventPublisher(rdb *redis.Client, log zerolog.Logger) *RedisEventPublisher {
	return &RedisEventPublisher{
		rdb: rdb,
		log: log.With().Str("component", "event_publisher").Logger(),
	}
}

// Publish never fails the caller; delivery problems are logged.
func (p *RedisEventPublisher) Publish(ctx context.Context, ev model.AttemptEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		p.log.Error().Err(err).Str("attempt_id", ev.AttemptID.String()).Msg("Failed to marshal attempt event")
		return
	}

	pipe := p.rdb.Pipeline()
	pipe.Publish(ctx, config.CacheKey.TestMonitorChannel(ev.TestID.String()), data)
	if ev.Type == model.AttemptEventWarning {
		pipe.RPush(ctx, config.WorkerKey.PersistIntegrityEventsQueue, data)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		p.log.Warn().
			Err(err).
			Str("attempt_id", ev.AttemptID.String()).
			Str("type", string(ev.Type)).
			Msg("Failed to publish attempt event")
	}
}
