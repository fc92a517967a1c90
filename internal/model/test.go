package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TestStatus enumerates the publication states of a test.
type TestStatus string

const (
	TestStatusDraft    TestStatus = "draft"
	TestStatusDeployed TestStatus = "deployed"
	TestStatusClosed   TestStatus = "closed"
)

// ErrInvalidRules is returned when a test definition cannot be run as configured.
var ErrInvalidRules = errors.New("invalid test rules")

// TestDefinition is the read-only description of a timed test.
// QuestionIDs is the pool in its defined order.
type TestDefinition struct {
	ID          uuid.UUID   `json:"id"`
	Title       string      `json:"title"`
	TotalMarks  float64     `json:"total_marks"`
	DurationMs  int64       `json:"duration_ms"`
	WindowStart *time.Time  `json:"window_start,omitempty"`
	WindowEnd   *time.Time  `json:"window_end,omitempty"`
	Status      TestStatus  `json:"status"`
	Rules       TestRules   `json:"rules"`
	QuestionIDs []uuid.UUID `json:"question_ids"`
}

// Duration returns the configured attempt length.
func (t *TestDefinition) Duration() time.Duration {
	return time.Duration(t.DurationMs) * time.Millisecond
}

// IsOpenAt reports whether a new attempt may be started at now.
func (t *TestDefinition) IsOpenAt(now time.Time) bool {
	if t.Status != TestStatusDeployed {
		return false
	}
	if t.WindowStart != nil && now.Before(*t.WindowStart) {
		return false
	}
	if t.WindowEnd != nil && !now.Before(*t.WindowEnd) {
		return false
	}
	return true
}

// Validate checks the definition is internally consistent.
func (t *TestDefinition) Validate() error {
	if t.TotalMarks <= 0 {
		return fmt.Errorf("%w: total_marks must be positive", ErrInvalidRules)
	}
	if t.DurationMs <= 0 {
		return fmt.Errorf("%w: duration_ms must be positive", ErrInvalidRules)
	}
	if t.WindowStart != nil && t.WindowEnd != nil && !t.WindowEnd.After(*t.WindowStart) {
		return fmt.Errorf("%w: window_end must be after window_start", ErrInvalidRules)
	}

	seen := make(map[uuid.UUID]struct{}, len(t.QuestionIDs))
	for _, id := range t.QuestionIDs {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: question %s appears twice in pool", ErrInvalidRules, id)
		}
		seen[id] = struct{}{}
	}

	return t.Rules.Validate(len(t.QuestionIDs))
}

// TestRules is the per-test configuration stored alongside a test.
// Unset integrity fields fall back to the service-wide defaults.
type TestRules struct {
	// RandomCount > 0 draws that many questions per student from the pool.
	RandomCount int `json:"random_count,omitempty"`
	// WarningThreshold is the warning count at which the integrity policy triggers.
	WarningThreshold *int `json:"warning_threshold,omitempty"`
	// TerminateOnBreach finalizes the attempt once the threshold is reached.
	// When false warnings are advisory only.
	TerminateOnBreach *bool `json:"terminate_on_breach,omitempty"`
}

// ParseTestRules decodes stored rules, rejecting unknown keys.
func ParseTestRules(raw []byte) (TestRules, error) {
	var rules TestRules
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return rules, nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&rules); err != nil {
		return TestRules{}, fmt.Errorf("%w: %v", ErrInvalidRules, err)
	}
	return rules, nil
}

// Validate checks the rules against a pool of poolSize questions.
func (r TestRules) Validate(poolSize int) error {
	if poolSize == 0 {
		return fmt.Errorf("%w: question pool is empty", ErrInvalidRules)
	}
	if r.RandomCount < 0 {
		return fmt.Errorf("%w: random_count must not be negative", ErrInvalidRules)
	}
	if r.RandomCount > poolSize {
		return fmt.Errorf("%w: random_count %d exceeds pool size %d", ErrInvalidRules, r.RandomCount, poolSize)
	}
	if r.WarningThreshold != nil && *r.WarningThreshold < 1 {
		return fmt.Errorf("%w: warning_threshold must be at least 1", ErrInvalidRules)
	}
	return nil
}

// IsRandomized reports whether each student receives a drawn subset.
func (r TestRules) IsRandomized() bool {
	return r.RandomCount > 0
}
