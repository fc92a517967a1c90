package service

import (
	"fmt"
	"time"

	"github.com/jinzhu/copier"
	"github.com/stemsi/exstem-assessment/internal/model"
)

// BuildStudentView projects an attempt for its owner. Answer keys and
// adjustments are never included; per-answer grading is shown only once
// the attempt is completed.
func BuildStudentView(a *model.Attempt, remaining time.Duration) (*model.StudentAttemptView, error) {
	view := &model.StudentAttemptView{}
	if err := copier.Copy(view, a); err != nil {
		return nil, fmt.Errorf("copy attempt view: %w", err)
	}

	view.Questions = make([]model.QuestionForStudent, 0, len(a.QuestionSnapshot))
	if err := copier.Copy(&view.Questions, a.QuestionSnapshot); err != nil {
		return nil, fmt.Errorf("copy question view: %w", err)
	}

	completed := a.Status == model.AttemptStatusCompleted
	view.Answers = make(map[string]model.StudentAnswerView, len(a.Answers))
	for qid, ans := range a.Answers {
		v := model.StudentAnswerView{Value: ans.Value, AnsweredAt: ans.AnsweredAt}
		if completed {
			v.IsCorrect = ans.IsCorrect
			v.MarksAwarded = ans.MarksAwarded
		}
		view.Answers[qid] = v
	}

	if !completed {
		view.Score = nil
		view.Percentage = nil
	}
	view.RemainingMs = remaining.Milliseconds()
	return view, nil
}
