package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-assessment/internal/model"
	"github.com/stemsi/exstem-assessment/internal/repository"
)

// IntegrityPolicy decides what a warning count means.
type IntegrityPolicy struct {
	Threshold         int
	TerminateOnBreach bool
}

// Reached reports whether count has hit the threshold.
func (p IntegrityPolicy) Reached(count int) bool {
	return p.Threshold > 0 && count >= p.Threshold
}

// Breached reports whether count should force termination.
func (p IntegrityPolicy) Breached(count int) bool {
	return p.TerminateOnBreach && p.Reached(count)
}

// AntiCheatMonitor counts integrity warnings and applies the policy.
type AntiCheatMonitor struct {
	attempts AttemptStore
	defaults IntegrityPolicy
}

// NewAntiCheatMonitor creates an AntiCheatMonitor with service-wide defaults.
func NewAntiCheatMonitor(attempts AttemptStore, defaults IntegrityPolicy) *AntiCheatMonitor {
	return &AntiCheatMonitor{attempts: attempts, defaults: defaults}
}

// PolicyFor merges a test's rules over the defaults. A nil test yields the defaults.
func (m *AntiCheatMonitor) PolicyFor(test *model.TestDefinition) IntegrityPolicy {
	p := m.defaults
	if test == nil {
		return p
	}
	if test.Rules.WarningThreshold != nil {
		p.Threshold = *test.Rules.WarningThreshold
	}
	if test.Rules.TerminateOnBreach != nil {
		p.TerminateOnBreach = *test.Rules.TerminateOnBreach
	}
	return p
}

// Record atomically increments the attempt's warning count. Warnings that
// arrive after the deadline are not counted.
func (m *AntiCheatMonitor) Record(ctx context.Context, attemptID uuid.UUID, now time.Time) (*model.Attempt, error) {
	updated, err := m.attempts.IncrementWarnings(ctx, attemptID, now)
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrAttemptNotActive
		}
		return nil, fmt.Errorf("increment warnings: %w", err)
	}
	return updated, nil
}
