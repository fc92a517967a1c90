package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-assessment/internal/database"
)

// QuestionSetRepository persists per-student random question draws.
type QuestionSetRepository struct {
	pool  *pgxpool.Pool
	retry database.RetryPolicy
}

// NewQuestionSetRepository creates a new QuestionSetRepository.
func NewQuestionSetRepository(pool *pgxpool.Pool, retry database.RetryPolicy) *QuestionSetRepository {
	return &QuestionSetRepository{pool: pool, retry: retry}
}

// Get returns the persisted ordered set for a test-student pair.
func (r *QuestionSetRepository) Get(ctx context.Context, testID uuid.UUID, studentID int) ([]uuid.UUID, error) {
	var raw []byte
	err := database.Retry(ctx, r.retry, func(ctx context.Context) error {
		return r.pool.QueryRow(ctx,
			`SELECT question_ids FROM question_sets
			 WHERE test_id = $1 AND student_id = $2`, testID, studentID,
		).Scan(&raw)
	})
	if err != nil {
		return nil, notFoundOnNoRows(err, "get question set")
	}
	return decodeQuestionIDs(raw)
}

// CreateIfAbsent stores ids for the pair unless a set already exists, and
// returns whichever set is persisted. Concurrent callers all observe the winner.
func (r *QuestionSetRepository) CreateIfAbsent(ctx context.Context, testID uuid.UUID, studentID int, ids []uuid.UUID) ([]uuid.UUID, error) {
	payload, err := json.Marshal(ids)
	if err != nil {
		return nil, fmt.Errorf("marshal question set: %w", err)
	}

	var raw []byte
	err = database.Retry(ctx, r.retry, func(ctx context.Context) error {
		return r.pool.QueryRow(ctx,
			`INSERT INTO question_sets (test_id, student_id, question_ids)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (test_id, student_id) DO NOTHING
			 RETURNING question_ids`,
			testID, studentID, payload,
		).Scan(&raw)
	})
	if err == nil {
		return decodeQuestionIDs(raw)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("insert question set: %w", err)
	}

	return r.Get(ctx, testID, studentID)
}

func decodeQuestionIDs(raw []byte) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, fmt.Errorf("decode question set: %w", err)
	}
	return ids, nil
}
