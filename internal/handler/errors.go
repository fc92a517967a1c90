package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assessment/internal/response"
	"github.com/stemsi/exstem-assessment/internal/service"
)

// serviceErrors maps engine errors to their HTTP status and error code.
var serviceErrors = []struct {
	err    error
	status int
	code   response.ErrCode
}{
	{service.ErrUnauthorized, http.StatusUnauthorized, response.ErrTokenInvalid},
	{service.ErrNotFound, http.StatusNotFound, response.ErrNotFound},
	{service.ErrTestNotAvailable, http.StatusForbidden, response.ErrTestNotAvailable},
	{service.ErrAttemptAlreadyCompleted, http.StatusConflict, response.ErrAttemptAlreadyCompleted},
	{service.ErrAttemptNotActive, http.StatusConflict, response.ErrAttemptNotActive},
	{service.ErrAttemptNotCompleted, http.StatusConflict, response.ErrAttemptNotCompleted},
	{service.ErrConcurrentModification, http.StatusConflict, response.ErrConcurrentModification},
	{service.ErrInvalidAnswerTarget, http.StatusBadRequest, response.ErrInvalidAnswerTarget},
	{service.ErrInvalidGrade, http.StatusBadRequest, response.ErrInvalidGrade},
	{service.ErrConfiguration, http.StatusUnprocessableEntity, response.ErrConfiguration},
}

// classify resolves err to a status and code. Unknown errors are internal.
func classify(err error) (int, response.ErrCode) {
	for _, m := range serviceErrors {
		if errors.Is(err, m.err) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, response.ErrInternal
}

// failService writes the response for a service error. Internal errors are
// logged with the request ID; the client only sees the generic message.
func failService(c *gin.Context, log zerolog.Logger, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).
			Str("request_id", response.RequestID(c)).
			Str("path", c.FullPath()).
			Msg("Request failed")
	} else if code == response.ErrConfiguration {
		log.Warn().Err(err).Str("path", c.FullPath()).Msg("Misconfigured test")
	}
	response.Fail(c, status, code)
}
