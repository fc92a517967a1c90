package handler

import (
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

const defaultPerPage = 50

// StaffAttemptHandler serves results, grading, and cache control to staff.
type StaffAttemptHandler struct {
	sessions *service.SessionManager
	grading  *service.GradingService
	catalog  *service.TestCatalog
	log      zerolog.Logger
}

// NewStaffAttemptHandler creates a new StaffAttemptHandler.
func NewStaffAttemptHandler(
	sessions *service.SessionManager,
	grading *service.GradingService,
	catalog *service.TestCatalog,
	log zerolog.Logger,
) *StaffAttemptHandler {
	return &StaffAttemptHandler{
		sessions: sessions,
		grading:  grading,
		catalog:  catalog,
		log:      log.With().Str("component", "staff_attempt_handler").Logger(),
	}
}

// GetAttempt godoc
// GET /api/v1/staff/attempts/:attempt_id
// Returns the full record, including answer keys and adjustments.
func (h *StaffAttemptHandler) GetAttempt(c *gin.Context) {
	var uri model.AttemptURI
	if fields := validator.BindURI(c, &uri); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidID, fields)
		return
	}

	a, err := h.sessions.GetAttempt(c.Request.Context(), uuid.MustParse(uri.AttemptID))
	if err != nil {
		failService(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, a)
}

// ListAttempts godoc
// GET /api/v1/staff/tests/:test_id/attempts?page=&per_page=&status=
func (h *StaffAttemptHandler) ListAttempts(c *gin.Context) {
	var uri model.TestURI
	if fields := validator.BindURI(c, &uri); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidID, fields)
		return
	}

	var q model.ListAttemptsQuery
	if fields := validator.BindQuery(c, &q); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	if q.Page == 0 {
		q.Page = 1
	}
	if q.PerPage == 0 {
		q.PerPage = defaultPerPage
	}

	var status *model.AttemptStatus
	if q.Status != "" {
		s := model.AttemptStatus(q.Status)
		status = &s
	}

	results, total, err := h.sessions.ListResults(c.Request.Context(), uuid.MustParse(uri.TestID), status, q.Page, q.PerPage)
	if err != nil {
		failService(c, h.log, err)
		return
	}

	response.SuccessWithPagination(c, http.StatusOK, results, response.NewPagination(q.Page, q.PerPage, total))
}

// GradeAnswer godoc
// PUT /api/v1/staff/attempts/:attempt_id/answers/:question_id/grade
func (h *StaffAttemptHandler) GradeAnswer(c *gin.Context) {
	attemptID, questionID, staffID, ok := h.answerScope(c)
	if !ok {
		return
	}

	var req model.GradeAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	a, err := h.grading.GradeAnswer(c.Request.Context(), attemptID, questionID, *req.MarksAwarded, req.IsCorrect, staffID)
	if err != nil {
		failService(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, a)
}

// AdjustAnswer godoc
// PUT /api/v1/staff/attempts/:attempt_id/answers/:question_id/adjustment
func (h *StaffAttemptHandler) AdjustAnswer(c *gin.Context) {
	attemptID, questionID, staffID, ok := h.answerScope(c)
	if !ok {
		return
	}

	var req model.AdjustmentRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	a, err := h.grading.AdjustAnswer(c.Request.Context(), attemptID, questionID, *req.AdjustmentMarks, staffID)
	if err != nil {
		failService(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, a)
}

// SetGraceMarks godoc
// PUT /api/v1/staff/attempts/:attempt_id/grace
func (h *StaffAttemptHandler) SetGraceMarks(c *gin.Context) {
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

	var req model.GraceRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	a, err := h.grading.SetGraceMarks(c.Request.Context(), uuid.MustParse(uri.AttemptID), *req.GraceMarks, req.GraceReason, claims.UserID)
	if err != nil {
		failService(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, a)
}

// RefreshTestCache godoc
// POST /api/v1/staff/tests/:test_id/refresh-cache
// Drops the cached definition after the test is edited. Running attempts
// keep their snapshot.
func (h *StaffAttemptHandler) RefreshTestCache(c *gin.Context) {
	var uri model.TestURI
	if fields := validator.BindURI(c, &uri); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidID, fields)
		return
	}

	if err := h.catalog.Invalidate(c.Request.Context(), uuid.MustParse(uri.TestID)); err != nil {
		failService(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"message": "Test cache refreshed"})
}

func (h *StaffAttemptHandler) answerScope(c *gin.Context) (attemptID, questionID uuid.UUID, staffID int, ok bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return uuid.Nil, uuid.Nil, 0, false
	}

	var uri model.AnswerURI
	if fields := validator.BindURI(c, &uri); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidID, fields)
		return uuid.Nil, uuid.Nil, 0, false
	}
	return uuid.MustParse(uri.AttemptID), uuid.MustParse(uri.QuestionID), claims.UserID, true
}
