package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assessment/internal/middleware"
	"github.com/stemsi/exstem-assessment/internal/model"
	"github.com/stemsi/exstem-assessment/internal/response"
	"github.com/stemsi/exstem-assessment/internal/service"
	"github.com/stemsi/exstem-assessment/internal/validator"
	ws "github.com/stemsi/exstem-assessment/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler carries an attempt over a single WebSocket: answers, heartbeats,
// warnings, and submission share the same operations as the REST endpoints.
type WSHandler struct {
	sessions *service.SessionManager
	warnings *middleware.RateLimiter
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler. warnings limits integrity reports
// per student, matching the REST warning route.
func NewWSHandler(sessions *service.SessionManager, warnings *middleware.RateLimiter, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		sessions: sessions,
		warnings: warnings,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// AttemptStream godoc
// WS /ws/v1/student/attempts/:attempt_id/stream?token=
func (h *WSHandler) AttemptStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var uri model.AttemptURI
	if fields := validator.BindURI(c, &uri); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidID, fields)
		return
	}
	attemptID := uuid.MustParse(uri.AttemptID)
	studentID := claims.UserID
	ctx := c.Request.Context()

	// Ownership and status are checked before the upgrade so failures
	// surface as ordinary HTTP errors.
	view, err := h.sessions.GetStudentView(ctx, attemptID, studentID)
	if err != nil {
		failService(c, h.log, err)
		return
	}
	if view.Status != model.AttemptStatusInProgress {
		response.Fail(c, http.StatusConflict, response.ErrAttemptNotActive)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().
		Int("student_id", studentID).
		Str("attempt_id", attemptID.String()).
		Logger()

	wsLog.Info().Msg("Student connected")
	ws.WriteJSON(conn, ws.EventTime, ws.TimeData{TimeSpentMs: view.TimeSpentMs, RemainingMs: view.RemainingMs})

	for {
		var msg ws.RequestPayload
		if err := ws.ReadJSON(conn, &msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		var done bool
		switch msg.Action {
		case ws.ActionAnswer:
			done = h.handleAnswer(ctx, conn, wsLog, attemptID, studentID, &msg)
		case ws.ActionHeartbeat:
			done = h.handleHeartbeat(ctx, conn, wsLog, attemptID, studentID, &msg)
		case ws.ActionWarning:
			done = h.handleWarning(ctx, conn, wsLog, attemptID, studentID, &msg)
		case ws.ActionSubmit:
			done = h.handleSubmit(ctx, conn, wsLog, attemptID, studentID)
		case ws.ActionPing:
			ws.WriteJSON(conn, ws.EventPong, nil)
		default:
			wsLog.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
			ws.WriteError(conn, string(response.ErrInvalidPayload), "unknown action: "+string(msg.Action))
		}

		if done {
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "attempt completed"))
			return
		}
	}
}

// handleAnswer records one answer. It reports true once the attempt is over.
func (h *WSHandler) handleAnswer(ctx context.Context, conn *websocket.Conn, wsLog zerolog.Logger, attemptID uuid.UUID, studentID int, msg *ws.RequestPayload) bool {
	questionID, err := uuid.Parse(msg.QID)
	if err != nil {
		ws.WriteError(conn, string(response.ErrInvalidPayload), "invalid q_id format")
		return false
	}

	a, err := h.sessions.SubmitAnswer(ctx, attemptID, studentID, questionID, msg.Answer, msg.ElapsedMs)
	if err != nil {
		return h.writeServiceError(ctx, conn, wsLog, attemptID, studentID, err)
	}
	if a.Status == model.AttemptStatusCompleted {
		return h.writeCompleted(conn, a)
	}

	view, err := h.sessions.StudentView(a)
	if err != nil {
		return h.writeServiceError(ctx, conn, wsLog, attemptID, studentID, err)
	}
	ws.WriteJSON(conn, ws.EventSaved, ws.SavedData{
		QuestionID:  questionID.String(),
		TimeSpentMs: view.TimeSpentMs,
		RemainingMs: view.RemainingMs,
	})
	return false
}

func (h *WSHandler) handleHeartbeat(ctx context.Context, conn *websocket.Conn, wsLog zerolog.Logger, attemptID uuid.UUID, studentID int, msg *ws.RequestPayload) bool {
	res, err := h.sessions.Heartbeat(ctx, attemptID, studentID, msg.ElapsedMs)
	if err != nil {
		return h.writeServiceError(ctx, conn, wsLog, attemptID, studentID, err)
	}
	if res.Expired {
		return h.writeCompleted(conn, res.Attempt)
	}
	ws.WriteJSON(conn, ws.EventTime, ws.TimeData{TimeSpentMs: res.TimeSpentMs, RemainingMs: res.RemainingMs})
	return false
}

func (h *WSHandler) handleWarning(ctx context.Context, conn *websocket.Conn, wsLog zerolog.Logger, attemptID uuid.UUID, studentID int, msg *ws.RequestPayload) bool {
	if h.warnings != nil && !h.warnings.Allow("user:"+strconv.Itoa(studentID)) {
		ws.WriteError(conn, string(response.ErrRateLimitExceeded), response.GetMessage(response.ErrRateLimitExceeded))
		return false
	}

	out, err := h.sessions.RecordWarning(ctx, attemptID, studentID, msg.Payload)
	if err != nil {
		return h.writeServiceError(ctx, conn, wsLog, attemptID, studentID, err)
	}

	ws.WriteJSON(conn, ws.EventWarning, out)
	if out.Terminated {
		return h.writeCompleted(conn, out.Attempt)
	}
	return false
}

func (h *WSHandler) handleSubmit(ctx context.Context, conn *websocket.Conn, wsLog zerolog.Logger, attemptID uuid.UUID, studentID int) bool {
	a, err := h.sessions.Submit(ctx, attemptID, studentID)
	if err != nil {
		return h.writeServiceError(ctx, conn, wsLog, attemptID, studentID, err)
	}

	wsLog.Info().Msg("Attempt submitted over WebSocket")
	return h.writeCompleted(conn, a)
}

// writeCompleted sends the final student view. The connection has nothing
// left to do afterwards.
func (h *WSHandler) writeCompleted(conn *websocket.Conn, a *model.Attempt) bool {
	view, err := h.sessions.StudentView(a)
	if err != nil {
		ws.WriteError(conn, string(response.ErrInternal), response.GetMessage(response.ErrInternal))
		return true
	}
	ws.WriteJSON(conn, ws.EventCompleted, view)
	return true
}

// writeServiceError reports err to the client. When the attempt is no
// longer active the final result is sent and the stream ends.
func (h *WSHandler) writeServiceError(ctx context.Context, conn *websocket.Conn, wsLog zerolog.Logger, attemptID uuid.UUID, studentID int, err error) bool {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		wsLog.Error().Err(err).Msg("Attempt operation failed")
	}
	ws.WriteError(conn, string(code), response.GetMessage(code))

	if errors.Is(err, service.ErrAttemptNotActive) || errors.Is(err, service.ErrAttemptAlreadyCompleted) {
		if a, gerr := h.sessions.GetAttempt(ctx, attemptID); gerr == nil && a.StudentID == studentID {
			h.writeCompleted(conn, a)
		}
		return true
	}
	return false
}
