package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assessment/internal/middleware"
	"github.com/stemsi/exstem-assessment/internal/model"
	"github.com/stemsi/exstem-assessment/internal/response"
	"github.com/stemsi/exstem-assessment/internal/service"
	"github.com/stemsi/exstem-assessment/internal/validator"
)

// AttemptHandler handles the student side of an attempt.
type AttemptHandler struct {
	sessions *service.SessionManager
	log      zerolog.Logger
}

// NewAttemptHandler creates a new AttemptHandler.
func NewAttemptHandler(sessions *service.SessionManager, log zerolog.Logger) *AttemptHandler {
	return &AttemptHandler{
		sessions: sessions,
		log:      log.With().Str("component", "attempt_handler").Logger(),
	}
}

// StartAttempt godoc
// POST /api/v1/student/tests/:test_id/attempt
// Starts the student's attempt or resumes the one in progress.
func (h *AttemptHandler) StartAttempt(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var uri model.TestURI
	if fields := validator.BindURI(c, &uri); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidID, fields)
		return
	}
	testID := uuid.MustParse(uri.TestID)

	a, err := h.sessions.StartOrResume(c.Request.Context(), testID, claims.UserID)
	if errors.Is(err, service.ErrAttemptAlreadyCompleted) && a != nil {
		// Return the final result alongside the error so a reconnecting
		// client can render it.
		view, verr := h.sessions.StudentView(a)
		if verr != nil {
			failService(c, h.log, verr)
			return
		}
		response.FailWithData(c, http.StatusConflict, response.ErrAttemptAlreadyCompleted, view)
		return
	}
	if err != nil {
		failService(c, h.log, err)
		return
	}

	h.respondView(c, http.StatusOK, a)
}

// GetAttempt godoc
// GET /api/v1/student/attempts/:attempt_id
func (h *AttemptHandler) GetAttempt(c *gin.Context) {
	claims, attemptID, ok := h.attemptScope(c)
	if !ok {
		return
	}

	view, err := h.sessions.GetStudentView(c.Request.Context(), attemptID, claims.UserID)
	if err != nil {
		failService(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, view)
}

// SubmitAnswer godoc
// POST /api/v1/student/attempts/:attempt_id/answers
func (h *AttemptHandler) SubmitAnswer(c *gin.Context) {
	claims, attemptID, ok := h.attemptScope(c)
	if !ok {
		return
	}

	var req model.SubmitAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	a, err := h.sessions.SubmitAnswer(c.Request.Context(), attemptID, claims.UserID, uuid.MustParse(req.QuestionID), req.Value, req.ElapsedMs)
	if err != nil {
		failService(c, h.log, err)
		return
	}
	h.respondView(c, http.StatusOK, a)
}

// Heartbeat godoc
// POST /api/v1/student/attempts/:attempt_id/heartbeat
func (h *AttemptHandler) Heartbeat(c *gin.Context) {
	claims, attemptID, ok := h.attemptScope(c)
	if !ok {
		return
	}

	var req model.HeartbeatRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	res, err := h.sessions.Heartbeat(c.Request.Context(), attemptID, claims.UserID, req.ElapsedMs)
	if err != nil {
		failService(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, res)
}

// RecordWarning godoc
// POST /api/v1/student/attempts/:attempt_id/warnings
// Reports a client-detected integrity event such as leaving the test tab.
func (h *AttemptHandler) RecordWarning(c *gin.Context) {
	claims, attemptID, ok := h.attemptScope(c)
	if !ok {
		return
	}

	var req model.WarningRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	out, err := h.sessions.RecordWarning(c.Request.Context(), attemptID, claims.UserID, req.Payload)
	if err != nil {
		failService(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, out)
}

// Finalize godoc
// POST /api/v1/student/attempts/:attempt_id/finalize
// Submits the attempt. Repeating the call returns the same result.
func (h *AttemptHandler) Finalize(c *gin.Context) {
	claims, attemptID, ok := h.attemptScope(c)
	if !ok {
		return
	}

	a, err := h.sessions.Submit(c.Request.Context(), attemptID, claims.UserID)
	if err != nil {
		failService(c, h.log, err)
		return
	}
	h.respondView(c, http.StatusOK, a)
}

// attemptScope resolves the caller and the :attempt_id parameter,
// writing the failure response itself when either is missing.
func (h *AttemptHandler) attemptScope(c *gin.Context) (*service.Claims, uuid.UUID, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return nil, uuid.Nil, false
	}

	var uri model.AttemptURI
	if fields := validator.BindURI(c, &uri); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidID, fields)
		return nil, uuid.Nil, false
	}
	return claims, uuid.MustParse(uri.AttemptID), true
}

func (h *AttemptHandler) respondView(c *gin.Context, status int, a *model.Attempt) {
	view, err := h.sessions.StudentView(a)
	if err != nil {
		failService(c, h.log, err)
		return
	}
	response.Success(c, status, view)
}
