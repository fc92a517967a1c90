package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-assessment/internal/model"
)

// AttemptStore persists attempts with atomic conditional writes.
// Conditional writes that match no row return repository.ErrConflict.
type AttemptStore interface {
	InsertIfAbsent(ctx context.Context, testID uuid.UUID, studentID int) (*model.Attempt, bool, error)
	Activate(ctx context.Context, id uuid.UUID, act model.AttemptActivation) (*model.Attempt, error)
	GetByID(ctx context.Context, id uuid.UUID) (*model.Attempt, error)
	GetByTestAndStudent(ctx context.Context, testID uuid.UUID, studentID int) (*model.Attempt, error)
	SaveAnswer(ctx context.Context, id, questionID uuid.UUID, ans model.Answer, deltaMs, ceilingMs int64, now time.Time) (*model.Attempt, error)
	AddTimeSpent(ctx context.Context, id uuid.UUID, deltaMs, ceilingMs int64) (*model.Attempt, error)
	IncrementWarnings(ctx context.Context, id uuid.UUID, now time.Time) (*model.Attempt, error)
	Complete(ctx context.Context, id uuid.UUID, version int64, reason model.TerminationReason, res model.AttemptResult, submittedAt time.Time) (*model.Attempt, error)
	SaveGrading(ctx context.Context, id uuid.UUID, version int64, answers map[string]model.Answer, graceMarks float64, graceReason *string, res model.AttemptResult) (*model.Attempt, error)
	ListByTest(ctx context.Context, testID uuid.UUID, status *model.AttemptStatus, page, perPage int) ([]model.AttemptSummary, int64, error)
	ListOverdue(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
	GetProgress(ctx context.Context, testID uuid.UUID) (*model.TestProgress, error)
}

// QuestionSetStore persists per-student random draws.
type QuestionSetStore interface {
	Get(ctx context.Context, testID uuid.UUID, studentID int) ([]uuid.UUID, error)
	CreateIfAbsent(ctx context.Context, testID uuid.UUID, studentID int, ids []uuid.UUID) ([]uuid.UUID, error)
}

// TestProvider resolves test definitions.
type TestProvider interface {
	GetTest(ctx context.Context, testID uuid.UUID) (*model.TestDefinition, error)
}

// QuestionSource looks up question definitions.
type QuestionSource interface {
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]model.Question, error)
}

// EventPublisher broadcasts attempt lifecycle events. Delivery is best effort.
type EventPublisher interface {
	Publish(ctx context.Context, ev model.AttemptEvent)
}
