package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assessment/internal/model"
	"github.com/stemsi/exstem-assessment/internal/repository"
)

// maxFinalizeAttempts bounds how often finalize rescored after losing a version race.
const maxFinalizeAttempts = 3

// HeartbeatResult reports accumulated time after a heartbeat.
type HeartbeatResult struct {
	Attempt     *model.Attempt `json:"-"`
	TimeSpentMs int64          `json:"time_spent_ms"`
	RemainingMs int64          `json:"remaining_ms"`
	Expired     bool           `json:"expired"`
}

// WarningOutcome reports the effect of one integrity warning.
type WarningOutcome struct {
	Attempt          *model.Attempt `json:"-"`
	WarningCount     int            `json:"warning_count"`
	Threshold        int            `json:"threshold"`
	ThresholdReached bool           `json:"threshold_reached"`
	Terminated       bool           `json:"terminated"`
}

// SessionManager is the entry point for every attempt operation and owns the
// not_started -> in_progress -> completed state machine.
type SessionManager struct {
	attempts  AttemptStore
	tests     TestProvider
	questions QuestionSource
	selector  *QuestionSelector
	tracker   *TimeTracker
	recorder  *AnswerRecorder
	monitor   *AntiCheatMonitor
	scoring   ScoringEngine
	events    EventPublisher
	log       zerolog.Logger
}

// NewSessionManager creates a new SessionManager.
func NewSessionManager(
	attempts AttemptStore,
	tests TestProvider,
	questions QuestionSource,
	selector *QuestionSelector,
	tracker *TimeTracker,
	recorder *AnswerRecorder,
	monitor *AntiCheatMonitor,
	events EventPublisher,
	log zerolog.Logger,
) *SessionManager {
	return &SessionManager{
		attempts:  attempts,
		tests:     tests,
		questions: questions,
		selector:  selector,
		tracker:   tracker,
		recorder:  recorder,
		monitor:   monitor,
		events:    events,
		log:       log.With().Str("component", "session_manager").Logger(),
	}
}

// StartOrResume returns the student's in-progress attempt for the test,
// creating and activating it on first access. Concurrent calls for the same
// pair converge on one record: the store's unique key arbitrates creation and
// the conditional activation arbitrates the snapshot.
func (s *SessionManager) StartOrResume(ctx context.Context, testID uuid.UUID, studentID int) (*model.Attempt, error) {
	test, err := s.tests.GetTest(ctx, testID)
	if err != nil {
		return nil, err
	}

	now := s.tracker.Now()

	a, err := s.attempts.GetByTestAndStudent(ctx, testID, studentID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		if !test.IsOpenAt(now) {
			return nil, ErrTestNotAvailable
		}
		if err := test.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
		if a, _, err = s.attempts.InsertIfAbsent(ctx, testID, studentID); err != nil {
			return nil, fmt.Errorf("create attempt: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("get attempt: %w", err)
	}

	if a.Status == model.AttemptStatusNotStarted {
		if !test.IsOpenAt(now) {
			return nil, ErrTestNotAvailable
		}
		if a, err = s.activate(ctx, a, test, now); err != nil {
			return nil, err
		}
	}

	return s.resume(ctx, a, now)
}

// activate takes the snapshot and starts the clock. Losing the activation
// race rereads the winner's record instead of writing a second snapshot.
func (s *SessionManager) activate(ctx context.Context, a *model.Attempt, test *model.TestDefinition, now time.Time) (*model.Attempt, error) {
	ids, err := s.selector.Select(ctx, test, a.StudentID)
	if err != nil {
		return nil, err
	}

	snapshot, err := s.loadSnapshot(ctx, ids)
	if err != nil {
		return nil, err
	}

	totalMarks := test.TotalMarks
	if test.Rules.IsRandomized() {
		if drawn := sumMarks(snapshot); drawn > 0 {
			totalMarks = drawn
		}
	}

	activated, err := s.attempts.Activate(ctx, a.ID, model.AttemptActivation{
		Snapshot:   snapshot,
		TotalMarks: totalMarks,
		DurationMs: test.DurationMs,
		StartedAt:  now,
		DeadlineAt: s.tracker.Deadline(now, test),
	})
	if errors.Is(err, repository.ErrConflict) {
		s.log.Debug().Str("attempt_id", a.ID.String()).Msg("Lost activation race, rereading")
		return s.load(ctx, a.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("activate attempt: %w", err)
	}

	s.log.Info().
		Str("attempt_id", activated.ID.String()).
		Str("test_id", activated.TestID.String()).
		Int("student_id", activated.StudentID).
		Int("questions", len(snapshot)).
		Msg("Attempt started")

	s.events.Publish(ctx, model.NewAttemptEvent(model.AttemptEventStarted, activated, now))
	return activated, nil
}

// resume applies the status checks shared by a fresh start and a reconnect.
func (s *SessionManager) resume(ctx context.Context, a *model.Attempt, now time.Time) (*model.Attempt, error) {
	switch a.Status {
	case model.AttemptStatusCompleted:
		return a, ErrAttemptAlreadyCompleted
	case model.AttemptStatusInProgress:
		if s.tracker.IsAttemptExpired(a, now) {
			done, err := s.Finalize(ctx, a.ID, model.TerminationTimeout)
			if err != nil {
				return nil, err
			}
			return done, ErrAttemptAlreadyCompleted
		}
		return a, nil
	default:
		return nil, ErrAttemptNotActive
	}
}

// loadSnapshot fetches the selected questions and orders them as selected.
func (s *SessionManager) loadSnapshot(ctx context.Context, ids []uuid.UUID) ([]model.Question, error) {
	questions, err := s.questions.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("get questions: %w", err)
	}

	byID := make(map[uuid.UUID]model.Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}

	snapshot := make([]model.Question, 0, len(ids))
	for _, id := range ids {
		q, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: question %s does not exist", ErrConfiguration, id)
		}
		snapshot = append(snapshot, q)
	}
	return snapshot, nil
}

// Finalize completes an in-progress attempt with the given reason and scores
// it. Calling it on a completed attempt returns the stored result unchanged.
// The score is committed only against the version it was computed from.
func (s *SessionManager) Finalize(ctx context.Context, attemptID uuid.UUID, reason model.TerminationReason) (*model.Attempt, error) {
	for i := 0; i < maxFinalizeAttempts; i++ {
		a, err := s.load(ctx, attemptID)
		if err != nil {
			return nil, err
		}

		switch a.Status {
		case model.AttemptStatusCompleted:
			return a, nil
		case model.AttemptStatusNotStarted:
			return nil, ErrAttemptNotActive
		}

		now := s.tracker.Now()
		done, err := s.attempts.Complete(ctx, a.ID, a.Version, reason, s.scoring.ComputeAttempt(a), now)
		if errors.Is(err, repository.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("complete attempt: %w", err)
		}

		s.log.Info().
			Str("attempt_id", done.ID.String()).
			Str("test_id", done.TestID.String()).
			Int("student_id", done.StudentID).
			Str("reason", string(reason)).
			Float64("score", derefFloat(done.Score)).
			Float64("percentage", derefFloat(done.Percentage)).
			Msg("Attempt completed")

		s.events.Publish(ctx, model.NewAttemptEvent(model.AttemptEventCompleted, done, now))
		return done, nil
	}

	return nil, ErrConcurrentModification
}

// Submit finalizes the student's own attempt. A submission that arrives
// after time ran out is recorded as a timeout.
func (s *SessionManager) Submit(ctx context.Context, attemptID uuid.UUID, studentID int) (*model.Attempt, error) {
	a, err := s.loadOwned(ctx, attemptID, studentID)
	if err != nil {
		return nil, err
	}

	reason := model.TerminationSubmitted
	if s.tracker.IsAttemptExpired(a, s.tracker.Now()) {
		reason = model.TerminationTimeout
	}
	return s.Finalize(ctx, a.ID, reason)
}

// SubmitAnswer records one answer. Once the attempt is completed, including
// by a forced timeout or integrity termination, it fails with ErrAttemptNotActive.
func (s *SessionManager) SubmitAnswer(ctx context.Context, attemptID uuid.UUID, studentID int, questionID uuid.UUID, value string, elapsedMs int64) (*model.Attempt, error) {
	a, err := s.loadOwned(ctx, attemptID, studentID)
	if err != nil {
		return nil, err
	}
	if !a.IsActive() {
		return nil, ErrAttemptNotActive
	}

	now := s.tracker.Now()
	if s.tracker.IsAttemptExpired(a, now) {
		s.finalizeQuietly(ctx, a.ID, model.TerminationTimeout)
		return nil, ErrAttemptNotActive
	}

	updated, err := s.recorder.Record(ctx, a, questionID, value, elapsedMs, now)
	if err != nil {
		return nil, err
	}

	if s.tracker.IsAttemptExpired(updated, now) {
		return s.Finalize(ctx, updated.ID, model.TerminationTimeout)
	}
	return updated, nil
}

// Heartbeat adds a bounded client delta to the attempt's active time and
// finalizes it with a timeout once the limit is crossed.
func (s *SessionManager) Heartbeat(ctx context.Context, attemptID uuid.UUID, studentID int, elapsedMs int64) (*HeartbeatResult, error) {
	a, err := s.loadOwned(ctx, attemptID, studentID)
	if err != nil {
		return nil, err
	}
	if !a.IsActive() {
		return nil, ErrAttemptNotActive
	}

	now := s.tracker.Now()
	if !s.tracker.IsAttemptExpired(a, now) {
		deltaMs, ceilingMs := s.tracker.Bound(a, elapsedMs, now)
		updated, err := s.attempts.AddTimeSpent(ctx, a.ID, deltaMs, ceilingMs)
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrAttemptNotActive
		}
		if err != nil {
			return nil, fmt.Errorf("add time spent: %w", err)
		}
		a = updated
	}

	if s.tracker.IsAttemptExpired(a, now) {
		done, err := s.Finalize(ctx, a.ID, model.TerminationTimeout)
		if err != nil {
			return nil, err
		}
		return &HeartbeatResult{Attempt: done, TimeSpentMs: done.TimeSpentMs, Expired: true}, nil
	}

	return &HeartbeatResult{
		Attempt:     a,
		TimeSpentMs: a.TimeSpentMs,
		RemainingMs: s.tracker.Remaining(a, now).Milliseconds(),
	}, nil
}

// RecordWarning counts one integrity warning. When the test's policy treats
// the threshold as terminal the attempt is finalized as an integrity violation.
func (s *SessionManager) RecordWarning(ctx context.Context, attemptID uuid.UUID, studentID int, payload json.RawMessage) (*WarningOutcome, error) {
	a, err := s.loadOwned(ctx, attemptID, studentID)
	if err != nil {
		return nil, err
	}
	if !a.IsActive() {
		return nil, ErrAttemptNotActive
	}

	now := s.tracker.Now()
	if s.tracker.IsAttemptExpired(a, now) {
		s.finalizeQuietly(ctx, a.ID, model.TerminationTimeout)
		return nil, ErrAttemptNotActive
	}

	test, err := s.tests.GetTest(ctx, a.TestID)
	if err != nil {
		s.log.Warn().Err(err).Str("test_id", a.TestID.String()).Msg("Test unavailable, applying default integrity policy")
		test = nil
	}
	policy := s.monitor.PolicyFor(test)

	updated, err := s.monitor.Record(ctx, a.ID, now)
	if errors.Is(err, ErrAttemptNotActive) && s.tracker.IsAttemptExpired(a, s.tracker.Now()) {
		s.finalizeQuietly(ctx, a.ID, model.TerminationTimeout)
	}
	if err != nil {
		return nil, err
	}

	ev := model.NewAttemptEvent(model.AttemptEventWarning, updated, now)
	ev.Payload = payload
	s.events.Publish(ctx, ev)

	outcome := &WarningOutcome{
		Attempt:          updated,
		WarningCount:     updated.WarningCount,
		Threshold:        policy.Threshold,
		ThresholdReached: policy.Reached(updated.WarningCount),
	}

	s.log.Warn().
		Str("attempt_id", updated.ID.String()).
		Int("student_id", updated.StudentID).
		Int("warning_count", updated.WarningCount).
		Int("threshold", policy.Threshold).
		Msg("Integrity warning recorded")

	if policy.Breached(updated.WarningCount) {
		done, err := s.Finalize(ctx, updated.ID, model.TerminationIntegrityViolation)
		if err != nil {
			return nil, err
		}
		outcome.Attempt = done
		outcome.Terminated = true
	}

	return outcome, nil
}

// GetAttempt returns the full attempt record, finalizing it first if it ran
// past its deadline without anyone noticing.
func (s *SessionManager) GetAttempt(ctx context.Context, attemptID uuid.UUID) (*model.Attempt, error) {
	a, err := s.load(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if s.tracker.IsAttemptExpired(a, s.tracker.Now()) {
		return s.Finalize(ctx, a.ID, model.TerminationTimeout)
	}
	return a, nil
}

// GetStudentView returns the owner's projection of the attempt.
func (s *SessionManager) GetStudentView(ctx context.Context, attemptID uuid.UUID, studentID int) (*model.StudentAttemptView, error) {
	if _, err := s.loadOwned(ctx, attemptID, studentID); err != nil {
		return nil, err
	}
	a, err := s.GetAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	return s.StudentView(a)
}

// StudentView projects a for its owner at the tracker's current time.
func (s *SessionManager) StudentView(a *model.Attempt) (*model.StudentAttemptView, error) {
	return BuildStudentView(a, s.tracker.Remaining(a, s.tracker.Now()))
}

// ListResults returns a page of attempt summaries for a test.
func (s *SessionManager) ListResults(ctx context.Context, testID uuid.UUID, status *model.AttemptStatus, page, perPage int) ([]model.AttemptSummary, int64, error) {
	results, total, err := s.attempts.ListByTest(ctx, testID, status, page, perPage)
	if err != nil {
		return nil, 0, fmt.Errorf("list results: %w", err)
	}
	if results == nil {
		results = []model.AttemptSummary{}
	}
	return results, total, nil
}

// GetProgress returns the live monitor counters for a test.
func (s *SessionManager) GetProgress(ctx context.Context, testID uuid.UUID) (*model.TestProgress, error) {
	return s.attempts.GetProgress(ctx, testID)
}

// ExpireOverdue finalizes up to limit in-progress attempts whose deadline has
// passed. Failures are logged and skipped so one bad attempt cannot block the rest.
func (s *SessionManager) ExpireOverdue(ctx context.Context, limit int) (int, error) {
	ids, err := s.attempts.ListOverdue(ctx, s.tracker.Now(), limit)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return expired, ctx.Err()
		}
		if _, err := s.Finalize(ctx, id, model.TerminationTimeout); err != nil {
			s.log.Error().Err(err).Str("attempt_id", id.String()).Msg("Failed to expire attempt")
			continue
		}
		expired++
	}
	return expired, nil
}

func (s *SessionManager) finalizeQuietly(ctx context.Context, attemptID uuid.UUID, reason model.TerminationReason) {
	if _, err := s.Finalize(ctx, attemptID, reason); err != nil {
		s.log.Error().Err(err).Str("attempt_id", attemptID.String()).Msg("Forced finalize failed")
	}
}

func (s *SessionManager) load(ctx context.Context, attemptID uuid.UUID) (*model.Attempt, error) {
	a, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	return a, nil
}

// loadOwned hides other students' attempts behind ErrNotFound.
func (s *SessionManager) loadOwned(ctx context.Context, attemptID uuid.UUID, studentID int) (*model.Attempt, error) {
	a, err := s.load(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if a.StudentID != studentID {
		return nil, ErrNotFound
	}
	return a, nil
}

func sumMarks(questions []model.Question) float64 {
	var total float64
	for _, q := range questions {
		total += q.Marks
	}
	return total
}

func derefFloat(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
