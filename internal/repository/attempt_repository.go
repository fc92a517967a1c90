package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-assessment/internal/database"
	"github.com/stemsi/exstem-assessment/internal/model"
)

const attemptColumns = `id, test_id, student_id, status, question_snapshot, answers,
	total_marks, duration_ms, deadline_at, started_at, submitted_at, time_spent_ms,
	warning_count, termination_reason, score, percentage, grace_marks, grace_reason,
	version, created_at`

// AttemptRepository persists attempts. Every state change is a single
// conditional UPDATE so concurrent service instances never overwrite each other.
type AttemptRepository struct {
	pool  *pgxpool.Pool
	retry database.RetryPolicy
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool, retry database.RetryPolicy) *AttemptRepository {
	return &AttemptRepository{pool: pool, retry: retry}
}

// InsertIfAbsent creates a not_started attempt for the pair unless one exists.
// created is false when another request won the insert; the existing row is returned.
func (r *AttemptRepository) InsertIfAbsent(ctx context.Context, testID uuid.UUID, studentID int) (*model.Attempt, bool, error) {
	a, err := r.queryAttempt(ctx,
		`INSERT INTO attempts (test_id, student_id, status)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (test_id, student_id) DO NOTHING
		 RETURNING `+attemptColumns,
		testID, studentID, model.AttemptStatusNotStarted,
	)
	if err == nil {
		return a, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("insert attempt: %w", err)
	}

	existing, err := r.GetByTestAndStudent(ctx, testID, studentID)
	if err != nil {
		return nil, false, fmt.Errorf("reread attempt after conflict: %w", err)
	}
	return existing, false, nil
}

// Activate performs the not_started to in_progress transition. It returns
// ErrConflict if the attempt was already activated.
func (r *AttemptRepository) Activate(ctx context.Context, id uuid.UUID, act model.AttemptActivation) (*model.Attempt, error) {
	snapshot, err := json.Marshal(act.Snapshot)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}

	a, err := r.queryAttempt(ctx,
		`UPDATE attempts
		 SET status = $2, question_snapshot = $3, total_marks = $4, duration_ms = $5,
		     started_at = $6, deadline_at = $7, version = version + 1
		 WHERE id = $1 AND status = $8
		 RETURNING `+attemptColumns,
		id, model.AttemptStatusInProgress, snapshot, act.TotalMarks, act.DurationMs,
		act.StartedAt, act.DeadlineAt, model.AttemptStatusNotStarted,
	)
	return a, conflictOnNoRows(err, "activate attempt")
}

// GetByID retrieves an attempt.
func (r *AttemptRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Attempt, error) {
	a, err := r.queryAttempt(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE id = $1`, id)
	return a, notFoundOnNoRows(err, "get attempt")
}

// GetByTestAndStudent retrieves the attempt for a test-student pair.
func (r *AttemptRepository) GetByTestAndStudent(ctx context.Context, testID uuid.UUID, studentID int) (*model.Attempt, error) {
	a, err := r.queryAttempt(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE test_id = $1 AND student_id = $2`,
		testID, studentID)
	return a, notFoundOnNoRows(err, "get attempt by test and student")
}

// SaveAnswer merges one answer into the attempt and accumulates bounded
// active time. It only applies while the attempt is in progress and before
// its deadline; otherwise ErrConflict is returned.
func (r *AttemptRepository) SaveAnswer(ctx context.Context, id uuid.UUID, questionID uuid.UUID, ans model.Answer, deltaMs, ceilingMs int64, now time.Time) (*model.Attempt, error) {
	raw, err := json.Marshal(ans)
	if err != nil {
		return nil, fmt.Errorf("marshal answer: %w", err)
	}

	a, err := r.queryAttempt(ctx,
		`UPDATE attempts
		 SET answers = answers || jsonb_build_object($2::text, $3::jsonb),
		     time_spent_ms = GREATEST(time_spent_ms, LEAST(time_spent_ms + $4, $5)),
		     version = version + 1
		 WHERE id = $1 AND status = $6 AND deadline_at > $7
		 RETURNING `+attemptColumns,
		id, questionID.String(), raw, deltaMs, ceilingMs, model.AttemptStatusInProgress, now,
	)
	return a, conflictOnNoRows(err, "save answer")
}

// AddTimeSpent accumulates bounded active time without touching answers.
func (r *AttemptRepository) AddTimeSpent(ctx context.Context, id uuid.UUID, deltaMs, ceilingMs int64) (*model.Attempt, error) {
	a, err := r.queryAttempt(ctx,
		`UPDATE attempts
		 SET time_spent_ms = GREATEST(time_spent_ms, LEAST(time_spent_ms + $2, $3))
		 WHERE id = $1 AND status = $4
		 RETURNING `+attemptColumns,
		id, deltaMs, ceilingMs, model.AttemptStatusInProgress,
	)
	return a, conflictOnNoRows(err, "add time spent")
}

// IncrementWarnings atomically bumps warning_count while in progress and
// before the deadline. It does not change version since warnings are not
// scoring inputs.
func (r *AttemptRepository) IncrementWarnings(ctx context.Context, id uuid.UUID, now time.Time) (*model.Attempt, error) {
	a, err := r.queryAttempt(ctx,
		`UPDATE attempts
		 SET warning_count = warning_count + 1
		 WHERE id = $1 AND status = $2 AND deadline_at > $3
		 RETURNING `+attemptColumns,
		id, model.AttemptStatusInProgress, now,
	)
	return a, conflictOnNoRows(err, "increment warnings")
}

// Complete finalizes an attempt scored at the given version.
// ErrConflict means the attempt is no longer in progress or has moved past version.
func (r *AttemptRepository) Complete(ctx context.Context, id uuid.UUID, version int64, reason model.TerminationReason, res model.AttemptResult, submittedAt time.Time) (*model.Attempt, error) {
	a, err := r.queryAttempt(ctx,
		`UPDATE attempts
		 SET status = $3, submitted_at = $4, termination_reason = $5,
		     score = $6, percentage = $7, version = version + 1
		 WHERE id = $1 AND version = $2 AND status = $8
		 RETURNING `+attemptColumns,
		id, version, model.AttemptStatusCompleted, submittedAt, reason,
		res.Score, res.Percentage, model.AttemptStatusInProgress,
	)
	return a, conflictOnNoRows(err, "complete attempt")
}

// SaveGrading writes post-completion grading and the recomputed result.
func (r *AttemptRepository) SaveGrading(ctx context.Context, id uuid.UUID, version int64, answers map[string]model.Answer, graceMarks float64, graceReason *string, res model.AttemptResult) (*model.Attempt, error) {
	raw, err := json.Marshal(answers)
	if err != nil {
		return nil, fmt.Errorf("marshal answers: %w", err)
	}

	a, err := r.queryAttempt(ctx,
		`UPDATE attempts
		 SET answers = $3, grace_marks = $4, grace_reason = $5,
		     score = $6, percentage = $7, version = version + 1
		 WHERE id = $1 AND version = $2 AND status = $8
		 RETURNING `+attemptColumns,
		id, version, raw, graceMarks, graceReason, res.Score, res.Percentage,
		model.AttemptStatusCompleted,
	)
	return a, conflictOnNoRows(err, "save grading")
}

// ListByTest returns a page of attempt summaries for a test.
func (r *AttemptRepository) ListByTest(ctx context.Context, testID uuid.UUID, status *model.AttemptStatus, page, perPage int) ([]model.AttemptSummary, int64, error) {
	offset := (page - 1) * perPage

	where := ` FROM attempts WHERE test_id = $1`
	args := []any{testID}
	if status != nil {
		args = append(args, *status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}

	var total int64
	err := database.Retry(ctx, r.retry, func(ctx context.Context) error {
		return r.pool.QueryRow(ctx, "SELECT COUNT(*)"+where, args...).Scan(&total)
	})
	if err != nil {
		return nil, 0, fmt.Errorf("count attempts: %w", err)
	}

	query := `SELECT id, student_id, status, started_at, submitted_at, warning_count,
	                 termination_reason, score, percentage` + where +
		fmt.Sprintf(" ORDER BY student_id LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, perPage, offset)

	var results []model.AttemptSummary
	err = database.Retry(ctx, r.retry, func(ctx context.Context) error {
		results = results[:0]
		rows, err := r.pool.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var s model.AttemptSummary
			if err := rows.Scan(&s.ID, &s.StudentID, &s.Status, &s.StartedAt, &s.SubmittedAt,
				&s.WarningCount, &s.TerminationReason, &s.Score, &s.Percentage); err != nil {
				return err
			}
			results = append(results, s)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, 0, fmt.Errorf("list attempts: %w", err)
	}
	return results, total, nil
}

// ListOverdue returns in-progress attempts whose deadline is at or before now.
func (r *AttemptRepository) ListOverdue(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := database.Retry(ctx, r.retry, func(ctx context.Context) error {
		ids = ids[:0]
		rows, err := r.pool.Query(ctx,
			`SELECT id FROM attempts
			 WHERE status = $1 AND deadline_at <= $2
			 ORDER BY deadline_at
			 LIMIT $3`,
			model.AttemptStatusInProgress, now, limit,
		)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var id uuid.UUID
			if err := rows.Scan(&id); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list overdue attempts: %w", err)
	}
	return ids, nil
}

// GetProgress aggregates attempt states for the live monitor snapshot.
func (r *AttemptRepository) GetProgress(ctx context.Context, testID uuid.UUID) (*model.TestProgress, error) {
	progress := &model.TestProgress{TestID: testID}
	err := database.Retry(ctx, r.retry, func(ctx context.Context) error {
		*progress = model.TestProgress{TestID: testID}
		rows, err := r.pool.Query(ctx,
			`SELECT status, COUNT(*), COALESCE(SUM(warning_count), 0)
			 FROM attempts
			 WHERE test_id = $1
			 GROUP BY status`, testID,
		)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				status   model.AttemptStatus
				count    int64
				warnings int64
			)
			if err := rows.Scan(&status, &count, &warnings); err != nil {
				return err
			}
			switch status {
			case model.AttemptStatusNotStarted:
				progress.NotStarted = count
			case model.AttemptStatusInProgress:
				progress.InProgress = count
			case model.AttemptStatusCompleted:
				progress.Completed = count
			}
			progress.TotalWarnings += warnings
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("get progress: %w", err)
	}
	return progress, nil
}

func (r *AttemptRepository) queryAttempt(ctx context.Context, sql string, args ...any) (*model.Attempt, error) {
	var a *model.Attempt
	err := database.Retry(ctx, r.retry, func(ctx context.Context) error {
		var err error
		a, err = scanAttempt(r.pool.QueryRow(ctx, sql, args...))
		return err
	})
	return a, err
}

func scanAttempt(row pgx.Row) (*model.Attempt, error) {
	var (
		a        model.Attempt
		snapshot []byte
		answers  []byte
	)
	err := row.Scan(
		&a.ID, &a.TestID, &a.StudentID, &a.Status, &snapshot, &answers,
		&a.TotalMarks, &a.DurationMs, &a.DeadlineAt, &a.StartedAt, &a.SubmittedAt, &a.TimeSpentMs,
		&a.WarningCount, &a.TerminationReason, &a.Score, &a.Percentage, &a.GraceMarks, &a.GraceReason,
		&a.Version, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(snapshot) > 0 {
		if err := json.Unmarshal(snapshot, &a.QuestionSnapshot); err != nil {
			return nil, fmt.Errorf("decode question snapshot: %w", err)
		}
	}
	a.Answers = make(map[string]model.Answer)
	if len(answers) > 0 {
		if err := json.Unmarshal(answers, &a.Answers); err != nil {
			return nil, fmt.Errorf("decode answers: %w", err)
		}
	}
	return &a, nil
}

func notFoundOnNoRows(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}

func conflictOnNoRows(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrConflict
	}
	return fmt.Errorf("%s: %w", op, err)
}
