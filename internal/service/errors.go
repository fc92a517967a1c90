package service

import "errors"

// Attempt engine errors. Handlers map these to response codes with errors.Is.
var (
	ErrUnauthorized            = errors.New("unauthorized")
	ErrNotFound                = errors.New("not found")
	ErrAttemptAlreadyCompleted = errors.New("attempt already completed")
	ErrAttemptNotActive        = errors.New("attempt is not in progress")
	ErrAttemptNotCompleted     = errors.New("attempt is not completed")
	ErrInvalidAnswerTarget     = errors.New("question is not part of this attempt")
	ErrInvalidGrade            = errors.New("marks exceed the question's maximum")
	ErrConcurrentModification  = errors.New("attempt was modified concurrently")
	ErrConfiguration           = errors.New("test configuration error")
	ErrTestNotAvailable        = errors.New("test is not available")
)
