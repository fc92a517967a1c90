package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assessment/internal/config"
	"github.com/stemsi/exstem-assessment/internal/model"
	"github.com/stemsi/exstem-assessment/internal/repository"
	"golang.org/x/sync/singleflight"
)

const testLoadTimeout = 10 * time.Second

// TestSource loads a test definition from the system of record.
type TestSource interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.TestDefinition, error)
}

// TestCatalog serves test definitions through a Redis read-through cache.
// Concurrent misses for the same test share one database load.
type TestCatalog struct {
	source TestSource
	rdb    *redis.Client
	ttl    time.Duration
	group  singleflight.Group
	log    zerolog.Logger
}

// NewTestCatalog creates a new TestCatalog. A nil rdb disables caching.
func NewTestCatalog(source TestSource, rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *TestCatalog {
	return &TestCatalog{
		source: source,
		rdb:    rdb,
		ttl:    ttl,
		log:    log.With().Str("component", "test_catalog").Logger(),
	}
}

// GetTest returns the definition for testID.
func (c *TestCatalog) GetTest(ctx context.Context, testID uuid.UUID) (*model.TestDefinition, error) {
	key := config.CacheKey.TestDefinitionKey(testID.String())

	if c.rdb != nil {
		data, err := c.rdb.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			var t model.TestDefinition
			if err := json.Unmarshal(data, &t); err == nil {
				return &t, nil
			}
			c.log.Warn().Str("test_id", testID.String()).Msg("Discarding undecodable cached test")
		case !errors.Is(err, redis.Nil):
			c.log.Warn().Err(err).Str("test_id", testID.String()).Msg("Test cache read failed, falling back to database")
		}
	}

	// The load is shared by every caller waiting on this test, so it must
	// not die with whichever request happened to start it.
	ch := c.group.DoChan(testID.String(), func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), testLoadTimeout)
		defer cancel()

		t, err := c.source.GetByID(loadCtx, testID)
		if err != nil {
			return nil, err
		}
		c.store(loadCtx, key, t)
		return t, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	v, err := res.Val, res.Err
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return nil, ErrNotFound
		case errors.Is(err, model.ErrInvalidRules):
			return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
		return nil, fmt.Errorf("load test: %w", err)
	}
	return v.(*model.TestDefinition), nil
}

// Invalidate drops the cached definition so the next read reloads it.
// Attempts already started keep their own snapshot.
func (c *TestCatalog) Invalidate(ctx context.Context, testID uuid.UUID) error {
	if _, err := c.source.GetByID(ctx, testID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		if !errors.Is(err, model.ErrInvalidRules) {
			return fmt.Errorf("load test: %w", err)
		}
	}
	if c.rdb == nil {
		return nil
	}
	if err := c.rdb.Del(ctx, config.CacheKey.TestDefinitionKey(testID.String())).Err(); err != nil {
		return fmt.Errorf("invalidate test cache: %w", err)
	}

	c.log.Info().Str("test_id", testID.String()).Msg("Test cache invalidated")
	return nil
}

func (c *TestCatalog) store(ctx context.Context, key string, t *model.TestDefinition) {
	if c.rdb == nil {
		return
	}
	data, err := json.Marshal(t)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.log.Warn().Err(err).Str("test_id", t.ID.String()).Msg("Failed to cache test")
	}
}
