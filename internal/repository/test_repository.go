package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-assessment/internal/database"
	"github.com/stemsi/exstem-assessment/internal/model"
)

// TestRepository reads test definitions. Tests are authored elsewhere; the
// engine only consumes them.
type TestRepository struct {
	pool  *pgxpool.Pool
	retry database.RetryPolicy
}

// NewTestRepository creates a new TestRepository.
func NewTestRepository(pool *pgxpool.Pool, retry database.RetryPolicy) *TestRepository {
	return &TestRepository{pool: pool, retry: retry}
}

// GetByID retrieves a test definition together with its ordered question pool.
// Malformed rules are reported as model.ErrInvalidRules.
func (r *TestRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.TestDefinition, error) {
	t := &model.TestDefinition{}
	var rules []byte

	err := database.Retry(ctx, r.retry, func(ctx context.Context) error {
		return r.pool.QueryRow(ctx,
			`SELECT id, title, total_marks, duration_ms, window_start, window_end, status, rules
			 FROM tests
			 WHERE id = $1`, id,
		).Scan(&t.ID, &t.Title, &t.TotalMarks, &t.DurationMs, &t.WindowStart, &t.WindowEnd, &t.Status, &rules)
	})
	if err != nil {
		return nil, notFoundOnNoRows(err, "get test")
	}

	if t.Rules, err = model.ParseTestRules(rules); err != nil {
		return nil, fmt.Errorf("test %s: %w", id, err)
	}

	err = database.Retry(ctx, r.retry, func(ctx context.Context) error {
		t.QuestionIDs = t.QuestionIDs[:0]
		rows, err := r.pool.Query(ctx,
			`SELECT question_id FROM test_questions
			 WHERE test_id = $1
			 ORDER BY position`, id,
		)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var qid uuid.UUID
			if err := rows.Scan(&qid); err != nil {
				return err
			}
			t.QuestionIDs = append(t.QuestionIDs, qid)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list test questions: %w", err)
	}

	return t, nil
}
