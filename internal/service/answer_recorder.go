package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-assessment/internal/model"
	"github.com/stemsi/exstem-assessment/internal/repository"
)

// AnswerRecorder validates and stores answers for an active attempt.
type AnswerRecorder struct {
	attempts AttemptStore
	tracker  *TimeTracker
	scoring  ScoringEngine
}

// NewAnswerRecorder creates a new AnswerRecorder.
func NewAnswerRecorder(attempts AttemptStore, tracker *TimeTracker) *AnswerRecorder {
	return &AnswerRecorder{attempts: attempts, tracker: tracker}
}

// Record stores value for questionID, replacing any earlier answer to the
// same question. Objective questions are graded against the snapshot key
// immediately; other types are left for a grader.
func (r *AnswerRecorder) Record(ctx context.Context, a *model.Attempt, questionID uuid.UUID, value string, clientDeltaMs int64, now time.Time) (*model.Attempt, error) {
	if !a.IsActive() {
		return nil, ErrAttemptNotActive
	}

	q, ok := a.SnapshotQuestion(questionID)
	if !ok {
		return nil, ErrInvalidAnswerTarget
	}

	ans := model.Answer{Value: value, AnsweredAt: now}
	if isCorrect, marks, graded := r.scoring.GradeObjective(q, value); graded {
		ans.IsCorrect = &isCorrect
		ans.MarksAwarded = &marks
	}

	deltaMs, ceilingMs := r.tracker.Bound(a, clientDeltaMs, now)

	updated, err := r.attempts.SaveAnswer(ctx, a.ID, questionID, ans, deltaMs, ceilingMs, now)
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrAttemptNotActive
		}
		return nil, fmt.Errorf("save answer: %w", err)
	}
	return updated, nil
}
