package model

import "encoding/json"

// AttemptURI binds the :attempt_id path parameter.
type AttemptURI struct {
	AttemptID string `uri:"attempt_id" binding:"required,uuid"`
}

// TestURI binds the :test_id path parameter.
type TestURI struct {
	TestID string `uri:"test_id" binding:"required,uuid"`
}

// AnswerURI binds the :attempt_id and :question_id path parameters.
type AnswerURI struct {
	AttemptID  string `uri:"attempt_id" binding:"required,uuid"`
	QuestionID string `uri:"question_id" binding:"required,uuid"`
}

// SubmitAnswerRequest records one answer. ElapsedMs is the client's active
// time since its previous report.
type SubmitAnswerRequest struct {
	QuestionID string `json:"question_id" binding:"required,uuid"`
	Value      string `json:"value" binding:"max=10000"`
	ElapsedMs  int64  `json:"elapsed_ms" binding:"min=0"`
}

// HeartbeatRequest reports active time without answering.
type HeartbeatRequest struct {
	ElapsedMs int64 `json:"elapsed_ms" binding:"min=0"`
}

// WarningRequest reports an integrity event; Payload is stored verbatim.
type WarningRequest struct {
	Payload json.RawMessage `json:"payload"`
}

// GradeAnswerRequest sets marks for a free-text answer or overrides automatic grading.
type GradeAnswerRequest struct {
	MarksAwarded *float64 `json:"marks_awarded" binding:"required,min=0"`
	IsCorrect    *bool    `json:"is_correct"`
}

// AdjustmentRequest sets the per-question correction; it may be negative.
type AdjustmentRequest struct {
	AdjustmentMarks *float64 `json:"adjustment_marks" binding:"required"`
}

// GraceRequest grants bonus marks on the whole attempt.
type GraceRequest struct {
	GraceMarks  *float64 `json:"grace_marks" binding:"required"`
	GraceReason string   `json:"grace_reason" binding:"required,min=3,max=500"`
}

// ListAttemptsQuery binds the staff results list query string.
type ListAttemptsQuery struct {
	Page    int    `form:"page" binding:"omitempty,min=1"`
	PerPage int    `form:"per_page" binding:"omitempty,min=1,max=200"`
	Status  string `form:"status" binding:"omitempty,oneof=not_started in_progress completed"`
}
