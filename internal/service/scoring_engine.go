package service

import (
	"math"
	"sort"
	"strings"

	"github.com/stemsi/exstem-assessment/internal/model"
)

// ScoringEngine grades objective answers and derives scores. It holds no
// state; identical inputs always produce identical output.
type ScoringEngine struct{}

// GradeObjective grades value against an objective question's key.
// ok is false for question types that need a manual grader.
func (ScoringEngine) GradeObjective(q *model.Question, value string) (isCorrect bool, marks float64, ok bool) {
	if !q.QuestionType.IsObjective() {
		return false, 0, false
	}

	switch q.QuestionType {
	case model.QuestionTypeFillBlank:
		isCorrect = strings.EqualFold(normalizeBlank(value), normalizeBlank(q.CorrectAnswer))
	default:
		isCorrect = strings.EqualFold(strings.TrimSpace(value), strings.TrimSpace(q.CorrectAnswer))
	}

	if isCorrect {
		marks = q.Marks
	}
	return isCorrect, marks, true
}

// ComputeScore sums marksAwarded plus adjustmentMarks over every answer, adds
// graceMarks, and expresses the total as a percentage of totalMarks clamped
// to [0, 100]. Answers are summed in key order so float addition is stable.
func (ScoringEngine) ComputeScore(answers map[string]model.Answer, graceMarks, totalMarks float64) model.AttemptResult {
	keys := make([]string, 0, len(answers))
	for k := range answers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var score float64
	for _, k := range keys {
		ans := answers[k]
		if ans.MarksAwarded != nil {
			score += *ans.MarksAwarded
		}
		score += ans.AdjustmentMarks
	}
	score += graceMarks

	var percentage float64
	if totalMarks > 0 {
		percentage = score / totalMarks * 100
	}
	percentage = math.Min(100, math.Max(0, percentage))

	return model.AttemptResult{
		Score:      round2(score),
		Percentage: round2(percentage),
	}
}

// ComputeAttempt scores an attempt from its own answers, grace marks, and frozen total.
func (e ScoringEngine) ComputeAttempt(a *model.Attempt) model.AttemptResult {
	return e.ComputeScore(a.Answers, a.GraceMarks, a.TotalMarks)
}

// round2 matches the two decimal places the store keeps.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func normalizeBlank(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
