package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AttemptStatus enumerates the attempt lifecycle states.
type AttemptStatus string

const (
	AttemptStatusNotStarted AttemptStatus = "not_started"
	AttemptStatusInProgress AttemptStatus = "in_progress"
	AttemptStatusCompleted  AttemptStatus = "completed"
)

// TerminationReason records why an attempt reached completed.
type TerminationReason string

const (
	TerminationSubmitted          TerminationReason = "submitted"
	TerminationTimeout            TerminationReason = "timeout"
	TerminationIntegrityViolation TerminationReason = "integrity_violation"
)

// Valid reports whether r is a known reason.
func (r TerminationReason) Valid() bool {
	switch r {
	case TerminationSubmitted, TerminationTimeout, TerminationIntegrityViolation:
		return true
	}
	return false
}

// Answer is the recorded response to one snapshot question.
// IsCorrect and MarksAwarded stay nil until the answer is graded.
type Answer struct {
	Value           string    `json:"value"`
	IsCorrect       *bool     `json:"is_correct,omitempty"`
	MarksAwarded    *float64  `json:"marks_awarded,omitempty"`
	AdjustmentMarks float64   `json:"adjustment_marks"`
	AnsweredAt      time.Time `json:"answered_at"`
}

// Attempt is one student's single run of one test.
// TotalMarks and DurationMs are frozen from the test when the attempt starts.
type Attempt struct {
	ID                uuid.UUID          `json:"id"`
	TestID            uuid.UUID          `json:"test_id"`
	StudentID         int                `json:"student_id"`
	Status            AttemptStatus      `json:"status"`
	QuestionSnapshot  []Question         `json:"question_snapshot"`
	Answers           map[string]Answer  `json:"answers"`
	TotalMarks        float64            `json:"total_marks"`
	DurationMs        int64              `json:"duration_ms"`
	DeadlineAt        *time.Time         `json:"deadline_at,omitempty"`
	StartedAt         *time.Time         `json:"started_at,omitempty"`
	SubmittedAt       *time.Time         `json:"submitted_at,omitempty"`
	TimeSpentMs       int64              `json:"time_spent_ms"`
	WarningCount      int                `json:"warning_count"`
	TerminationReason *TerminationReason `json:"termination_reason,omitempty"`
	Score             *float64           `json:"score,omitempty"`
	Percentage        *float64           `json:"percentage,omitempty"`
	GraceMarks        float64            `json:"grace_marks"`
	GraceReason       *string            `json:"grace_reason,omitempty"`
	Version           int64              `json:"version"`
	CreatedAt         time.Time          `json:"created_at"`
}

// SnapshotQuestion finds a question in the attempt's snapshot.
func (a *Attempt) SnapshotQuestion(id uuid.UUID) (*Question, bool) {
	for i := range a.QuestionSnapshot {
		if a.QuestionSnapshot[i].ID == id {
			return &a.QuestionSnapshot[i], true
		}
	}
	return nil, false
}

// IsActive reports whether the attempt still accepts answers and warnings.
func (a *Attempt) IsActive() bool {
	return a.Status == AttemptStatusInProgress
}

// AttemptActivation is the state written by the not_started to in_progress transition.
type AttemptActivation struct {
	Snapshot   []Question
	TotalMarks float64
	DurationMs int64
	StartedAt  time.Time
	DeadlineAt time.Time
}

// AttemptResult is the derived grading outcome of an attempt.
type AttemptResult struct {
	Score      float64 `json:"score"`
	Percentage float64 `json:"percentage"`
}

// AttemptSummary is a row in the staff results list.
type AttemptSummary struct {
	ID                uuid.UUID          `json:"id"`
	StudentID         int                `json:"student_id"`
	Status            AttemptStatus      `json:"status"`
	StartedAt         *time.Time         `json:"started_at,omitempty"`
	SubmittedAt       *time.Time         `json:"submitted_at,omitempty"`
	WarningCount      int                `json:"warning_count"`
	TerminationReason *TerminationReason `json:"termination_reason,omitempty"`
	Score             *float64           `json:"score,omitempty"`
	Percentage        *float64           `json:"percentage,omitempty"`
}

// ─── Student-facing projection ──────────────────────────────────────

// StudentAnswerView hides grading until the attempt is completed and never
// exposes adjustments.
type StudentAnswerView struct {
	Value        string    `json:"value"`
	IsCorrect    *bool     `json:"is_correct,omitempty"`
	MarksAwarded *float64  `json:"marks_awarded,omitempty"`
	AnsweredAt   time.Time `json:"answered_at"`
}

// StudentAttemptView is the attempt as returned to the student.
type StudentAttemptView struct {
	ID                uuid.UUID                    `json:"id"`
	TestID            uuid.UUID                    `json:"test_id"`
	Status            AttemptStatus                `json:"status"`
	Questions         []QuestionForStudent         `json:"questions"`
	Answers           map[string]StudentAnswerView `json:"answers" copier:"-"`
	TotalMarks        float64                      `json:"total_marks"`
	DurationMs        int64                        `json:"duration_ms"`
	DeadlineAt        *time.Time                   `json:"deadline_at,omitempty"`
	StartedAt         *time.Time                   `json:"started_at,omitempty"`
	SubmittedAt       *time.Time                   `json:"submitted_at,omitempty"`
	TimeSpentMs       int64                        `json:"time_spent_ms"`
	RemainingMs       int64                        `json:"remaining_ms"`
	WarningCount      int                          `json:"warning_count"`
	TerminationReason *TerminationReason           `json:"termination_reason,omitempty"`
	Score             *float64                     `json:"score,omitempty"`
	Percentage        *float64                     `json:"percentage,omitempty"`
}

// ─── Live monitor events ────────────────────────────────────────────

// AttemptEventType names a lifecycle event published to the test monitor.
type AttemptEventType string

const (
	AttemptEventStarted   AttemptEventType = "attempt_started"
	AttemptEventWarning   AttemptEventType = "attempt_warning"
	AttemptEventCompleted AttemptEventType = "attempt_completed"
)

// AttemptEvent is published whenever an attempt changes state.
type AttemptEvent struct {
	Type              AttemptEventType   `json:"type"`
	AttemptID         uuid.UUID          `json:"attempt_id"`
	TestID            uuid.UUID          `json:"test_id"`
	StudentID         int                `json:"student_id"`
	Status            AttemptStatus      `json:"status"`
	WarningCount      int                `json:"warning_count"`
	TerminationReason *TerminationReason `json:"termination_reason,omitempty"`
	Score             *float64           `json:"score,omitempty"`
	Percentage        *float64           `json:"percentage,omitempty"`
	Payload           json.RawMessage    `json:"payload,omitempty"`
	OccurredAt        time.Time          `json:"occurred_at"`
}

// NewAttemptEvent builds an event from the attempt's current state.
func NewAttemptEvent(t AttemptEventType, a *Attempt, at time.Time) AttemptEvent {
	return AttemptEvent{
		Type:              t,
		AttemptID:         a.ID,
		TestID:            a.TestID,
		StudentID:         a.StudentID,
		Status:            a.Status,
		WarningCount:      a.WarningCount,
		TerminationReason: a.TerminationReason,
		Score:             a.Score,
		Percentage:        a.Percentage,
		OccurredAt:        at,
	}
}

// TestProgress aggregates attempt states of one test for the live monitor.
type TestProgress struct {
	TestID        uuid.UUID `json:"test_id"`
	NotStarted    int64     `json:"not_started"`
	InProgress    int64     `json:"in_progress"`
	Completed     int64     `json:"completed"`
	TotalWarnings int64     `json:"total_warnings"`
}
