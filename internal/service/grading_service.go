package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assessment/internal/model"
	"github.com/stemsi/exstem-assessment/internal/repository"
)

// GradingService is the staff adjustment path for completed attempts. It
// changes grading inputs only; submitted answer values are never touched.
type GradingService struct {
	attempts AttemptStore
	scoring  ScoringEngine
	log      zerolog.Logger
}

// NewGradingService creates a new GradingService.
func NewGradingService(attempts AttemptStore, log zerolog.Logger) *GradingService {
	return &GradingService{
		attempts: attempts,
		log:      log.With().Str("component", "grading_service").Logger(),
	}
}

// gradingState is the mutable part of a completed attempt.
type gradingState struct {
	attempt     *model.Attempt
	answers     map[string]model.Answer
	graceMarks  float64
	graceReason *string
}

// GradeAnswer sets marks on one answered question, typically a free-text
// answer awaiting a grader. A nil isCorrect is derived from full marks.
func (g *GradingService) GradeAnswer(ctx context.Context, attemptID, questionID uuid.UUID, marks float64, isCorrect *bool, staffID int) (*model.Attempt, error) {
	updated, err := g.regrade(ctx, attemptID, func(st *gradingState) error {
		q, ans, err := answeredQuestion(st, questionID)
		if err != nil {
			return err
		}
		if marks < 0 || marks > q.Marks {
			return ErrInvalidGrade
		}

		correct := marks >= q.Marks
		if isCorrect != nil {
			correct = *isCorrect
		}
		ans.MarksAwarded = &marks
		ans.IsCorrect = &correct
		st.answers[questionID.String()] = ans
		return nil
	})
	if err != nil {
		return nil, err
	}

	g.log.Info().
		Str("attempt_id", attemptID.String()).
		Str("question_id", questionID.String()).
		Float64("marks", marks).
		Int("staff_id", staffID).
		Msg("Answer graded")
	return updated, nil
}

// AdjustAnswer sets the per-question correction, which may be negative.
func (g *GradingService) AdjustAnswer(ctx context.Context, attemptID, questionID uuid.UUID, adjustment float64, staffID int) (*model.Attempt, error) {
	updated, err := g.regrade(ctx, attemptID, func(st *gradingState) error {
		_, ans, err := answeredQuestion(st, questionID)
		if err != nil {
			return err
		}
		ans.AdjustmentMarks = adjustment
		st.answers[questionID.String()] = ans
		return nil
	})
	if err != nil {
		return nil, err
	}

	g.log.Info().
		Str("attempt_id", attemptID.String()).
		Str("question_id", questionID.String()).
		Float64("adjustment", adjustment).
		Int("staff_id", staffID).
		Msg("Answer adjusted")
	return updated, nil
}

// SetGraceMarks replaces the attempt's grace marks and reason.
func (g *GradingService) SetGraceMarks(ctx context.Context, attemptID uuid.UUID, grace float64, reason string, staffID int) (*model.Attempt, error) {
	updated, err := g.regrade(ctx, attemptID, func(st *gradingState) error {
		st.graceMarks = grace
		st.graceReason = &reason
		return nil
	})
	if err != nil {
		return nil, err
	}

	g.log.Info().
		Str("attempt_id", attemptID.String()).
		Float64("grace_marks", grace).
		Int("staff_id", staffID).
		Msg("Grace marks set")
	return updated, nil
}

// regrade applies mutate to a copy of the grading state, recomputes the
// result, and commits it against the version that was read. A concurrent
// change surfaces as ErrConcurrentModification for the caller to reread.
func (g *GradingService) regrade(ctx context.Context, attemptID uuid.UUID, mutate func(st *gradingState) error) (*model.Attempt, error) {
	a, err := g.attempts.GetByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	if a.Status != model.AttemptStatusCompleted {
		return nil, ErrAttemptNotCompleted
	}

	st := &gradingState{
		attempt:     a,
		answers:     make(map[string]model.Answer, len(a.Answers)),
		graceMarks:  a.GraceMarks,
		graceReason: a.GraceReason,
	}
	for k, v := range a.Answers {
		st.answers[k] = v
	}

	if err := mutate(st); err != nil {
		return nil, err
	}

	res := g.scoring.ComputeScore(st.answers, st.graceMarks, a.TotalMarks)

	updated, err := g.attempts.SaveGrading(ctx, a.ID, a.Version, st.answers, st.graceMarks, st.graceReason, res)
	if errors.Is(err, repository.ErrConflict) {
		return nil, ErrConcurrentModification
	}
	if err != nil {
		return nil, fmt.Errorf("save grading: %w", err)
	}
	return updated, nil
}

func answeredQuestion(st *gradingState, questionID uuid.UUID) (*model.Question, model.Answer, error) {
	q, ok := st.attempt.SnapshotQuestion(questionID)
	if !ok {
		return nil, model.Answer{}, ErrInvalidAnswerTarget
	}
	ans, ok := st.answers[questionID.String()]
	if !ok {
		return nil, model.Answer{}, ErrInvalidAnswerTarget
	}
	return q, ans, nil
}
