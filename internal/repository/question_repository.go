package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-assessment/internal/database"
	"github.com/stemsi/exstem-assessment/internal/model"
)

// QuestionRepository is a read-only lookup of question definitions.
type QuestionRepository struct {
	pool  *pgxpool.Pool
	retry database.RetryPolicy
}

// NewQuestionRepository creates a new QuestionRepository.
func NewQuestionRepository(pool *pgxpool.Pool, retry database.RetryPolicy) *QuestionRepository {
	return &QuestionRepository{pool: pool, retry: retry}
}

// GetByIDs returns the questions with the given IDs in no particular order.
// Unknown IDs are simply absent from the result.
func (r *QuestionRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]model.Question, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var questions []model.Question
	err := database.Retry(ctx, r.retry, func(ctx context.Context) error {
		questions = questions[:0]
		rows, err := r.pool.Query(ctx,
			`SELECT id, question_text, question_type, options, correct_answer, marks
			 FROM questions
			 WHERE id = ANY($1)`, ids,
		)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var q model.Question
			if err := rows.Scan(&q.ID, &q.QuestionText, &q.QuestionType, &q.Options, &q.CorrectAnswer, &q.Marks); err != nil {
				return err
			}
			questions = append(questions, q)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("get questions by ids: %w", err)
	}
	return questions, nil
}
