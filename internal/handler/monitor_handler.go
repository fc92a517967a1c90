package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assessment/internal/config"
	"github.com/stemsi/exstem-assessment/internal/model"
	"github.com/stemsi/exstem-assessment/internal/response"
	"github.com/stemsi/exstem-assessment/internal/service"
	"github.com/stemsi/exstem-assessment/internal/validator"
)

const (
	refreshInterval   = 15 * time.Second
	keepAliveInterval = 30 * time.Second
	refreshTimeout    = 5 * time.Second // prevent slow queries from blocking the SSE loop
)

// MonitorHandler streams a test's attempt events to staff.
type MonitorHandler struct {
	rdb      *redis.Client
	catalog  *service.TestCatalog
	sessions *service.SessionManager
	log      zerolog.Logger
}

// NewMonitorHandler creates a new MonitorHandler.
func NewMonitorHandler(rdb *redis.Client, catalog *service.TestCatalog, sessions *service.SessionManager, log zerolog.Logger) *MonitorHandler {
	return &MonitorHandler{
		rdb:      rdb,
		catalog:  catalog,
		sessions: sessions,
		log:      log.With().Str("component", "monitor_handler").Logger(),
	}
}

// MonitorTestSSE godoc
// GET /api/v1/staff/tests/:test_id/monitor
// Sends a progress snapshot, then forwards every attempt event published for
// the test, with a periodic progress refresh and keepalive pings.
func (h *MonitorHandler) MonitorTestSSE(c *gin.Context) {
	var uri model.TestURI
	if fields := validator.BindURI(c, &uri); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidID, fields)
		return
	}
	testID := uuid.MustParse(uri.TestID)

	reqCtx := c.Request.Context()

	test, err := h.catalog.GetTest(reqCtx, testID)
	if err != nil {
		failService(c, h.log, err)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	// Subscribe before the snapshot so no event falls between the two.
	pubsub := h.rdb.Subscribe(reqCtx, config.CacheKey.TestMonitorChannel(testID.String()))
	defer pubsub.Close()
	ch := pubsub.Channel()

	h.sendSnapshot(c, reqCtx, test)

	keepAliveTicker := time.NewTicker(keepAliveInterval)
	defer keepAliveTicker.Stop()

	refreshTicker := time.NewTicker(refreshInterval)
	defer refreshTicker.Stop()

	// Skip refresh queries while the test is idle.
	dirty := false

	h.log.Info().Str("test_id", testID.String()).Msg("Staff attached to live monitor")

	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Str("test_id", testID.String()).Msg("Staff detached from live monitor")
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}
			// Events are already JSON; forward them untouched.
			c.Writer.Write([]byte("data: "))
			c.Writer.Write([]byte(msg.Payload))
			c.Writer.Write([]byte("\n\n"))
			c.Writer.Flush()
			dirty = true

		case <-refreshTicker.C:
			if !dirty {
				continue
			}
			h.sendRefresh(c, reqCtx, testID)
			dirty = false

		case <-keepAliveTicker.C:
			c.Writer.Write([]byte(": ping\n\n"))
			c.Writer.Flush()
		}
	}
}

func (h *MonitorHandler) sendSnapshot(c *gin.Context, ctx context.Context, test *model.TestDefinition) {
	fetchCtx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()

	progress, err := h.sessions.GetProgress(fetchCtx, test.ID)
	if err != nil {
		h.log.Warn().Err(err).Str("test_id", test.ID.String()).Msg("Failed to load monitor snapshot")
		progress = &model.TestProgress{TestID: test.ID}
	}

	c.SSEvent("message", gin.H{
		"type": "snapshot",
		"data": gin.H{
			"test": gin.H{
				"id":          test.ID,
				"title":       test.Title,
				"duration_ms": test.DurationMs,
				"total_marks": test.TotalMarks,
				"status":      test.Status,
			},
			"progress": progress,
		},
	})
	c.Writer.Flush()
}

func (h *MonitorHandler) sendRefresh(c *gin.Context, parentCtx context.Context, testID uuid.UUID) {
	ctx, cancel := context.WithTimeout(parentCtx, refreshTimeout)
	defer cancel()

	progress, err := h.sessions.GetProgress(ctx, testID)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to refresh monitor progress")
		return
	}

	c.SSEvent("message", gin.H{"type": "refresh", "progress": progress})
	c.Writer.Flush()
}
