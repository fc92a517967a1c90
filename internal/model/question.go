package model

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Question represents a single question definition, including its answer key.
type Question struct {
	ID            uuid.UUID       `json:"id"`
	QuestionText  string          `json:"question_text"`
	QuestionType  QuestionType    `json:"question_type"`
	Options       json.RawMessage `json:"options,omitempty"`
	CorrectAnswer string          `json:"correct_answer"`
	Marks         float64         `json:"marks"`
}

type QuestionType string

const (
	QuestionTypeMultipleChoice QuestionType = "MULTIPLE_CHOICE"
	QuestionTypeFillBlank      QuestionType = "FILL_BLANK"
	QuestionTypeFreeText       QuestionType = "FREE_TEXT"
)

// IsObjective reports whether answers of this type are graded automatically.
func (t QuestionType) IsObjective() bool {
	return t == QuestionTypeMultipleChoice || t == QuestionTypeFillBlank
}

// QuestionForStudent is the student-facing question without the answer key.
type QuestionForStudent struct {
	ID           uuid.UUID       `json:"id"`
	QuestionText string          `json:"question_text"`
	QuestionType QuestionType    `json:"question_type"`
	Options      json.RawMessage `json:"options,omitempty"`
	Marks        float64         `json:"marks"`
}
