package service

import (
	"context"
	"encoding/json"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assessment/internal/model"
	"github.com/stemsi/exstem-assessment/internal/repository"
)

// ─── Clock ──────────────────────────────────────────────────────────

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// ─── Attempt store ──────────────────────────────────────────────────

type pairKey struct {
	testID    uuid.UUID
	studentID int
}

// memAttemptStore mirrors the conditional UPDATE semantics of the
// PostgreSQL repository; the mutex stands in for row-level atomicity.
type memAttemptStore struct {
	mu          sync.Mutex
	byID        map[uuid.UUID]*model.Attempt
	byPair      map[pairKey]uuid.UUID
	activations int

	// beforeComplete and beforeSaveGrading run under the lock and may
	// mutate the stored attempt to simulate a concurrent writer.
	beforeComplete    func(a *model.Attempt)
	beforeSaveGrading func(a *model.Attempt)
}

func newMemAttemptStore() *memAttemptStore {
	return &memAttemptStore{
		byID:   make(map[uuid.UUID]*model.Attempt),
		byPair: make(map[pairKey]uuid.UUID),
	}
}

func cloneAttempt(a *model.Attempt) *model.Attempt {
	raw, err := json.Marshal(a)
	if err != nil {
		panic(err)
	}
	var out model.Attempt
	if err := json.Unmarshal(raw, &out); err != nil {
		panic(err)
	}
	if out.Answers == nil {
		out.Answers = make(map[string]model.Answer)
	}
	return &out
}

func (s *memAttemptStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

func (s *memAttemptStore) InsertIfAbsent(ctx context.Context, testID uuid.UUID, studentID int) (*model.Attempt, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey{testID, studentID}
	if id, ok := s.byPair[key]; ok {
		return cloneAttempt(s.byID[id]), false, nil
	}

	a := &model.Attempt{
		ID:        uuid.New(),
		TestID:    testID,
		StudentID: studentID,
		Status:    model.AttemptStatusNotStarted,
		Answers:   make(map[string]model.Answer),
		Version:   1,
	}
	s.byID[a.ID] = a
	s.byPair[key] = a.ID
	return cloneAttempt(a), true, nil
}

func (s *memAttemptStore) Activate(ctx context.Context, id uuid.UUID, act model.AttemptActivation) (*model.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byID[id]
	if !ok || a.Status != model.AttemptStatusNotStarted {
		return nil, repository.ErrConflict
	}

	a.Status = model.AttemptStatusInProgress
	a.QuestionSnapshot = act.Snapshot
	a.TotalMarks = act.TotalMarks
	a.DurationMs = act.DurationMs
	started, deadline := act.StartedAt, act.DeadlineAt
	a.StartedAt = &started
	a.DeadlineAt = &deadline
	a.Version++
	s.activations++
	return cloneAttempt(a), nil
}

func (s *memAttemptStore) GetByID(ctx context.Context, id uuid.UUID) (*model.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneAttempt(a), nil
}

func (s *memAttemptStore) GetByTestAndStudent(ctx context.Context, testID uuid.UUID, studentID int) (*model.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byPair[pairKey{testID, studentID}]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneAttempt(s.byID[id]), nil
}

func boundedTime(current, deltaMs, ceilingMs int64) int64 {
	next := current + deltaMs
	if next > ceilingMs {
		next = ceilingMs
	}
	if next < current {
		next = current
	}
	return next
}

func (s *memAttemptStore) SaveAnswer(ctx context.Context, id, questionID uuid.UUID, ans model.Answer, deltaMs, ceilingMs int64, now time.Time) (*model.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byID[id]
	if !ok || a.Status != model.AttemptStatusInProgress || a.DeadlineAt == nil || !a.DeadlineAt.After(now) {
		return nil, repository.ErrConflict
	}

	a.Answers[questionID.String()] = ans
	a.TimeSpentMs = boundedTime(a.TimeSpentMs, deltaMs, ceilingMs)
	a.Version++
	return cloneAttempt(a), nil
}

func (s *memAttemptStore) AddTimeSpent(ctx context.Context, id uuid.UUID, deltaMs, ceilingMs int64) (*model.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byID[id]
	if !ok || a.Status != model.AttemptStatusInProgress {
		return nil, repository.ErrConflict
	}
	a.TimeSpentMs = boundedTime(a.TimeSpentMs, deltaMs, ceilingMs)
	return cloneAttempt(a), nil
}

func (s *memAttemptStore) IncrementWarnings(ctx context.Context, id uuid.UUID, now time.Time) (*model.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byID[id]
	if !ok || a.Status != model.AttemptStatusInProgress || a.DeadlineAt == nil || !a.DeadlineAt.After(now) {
		return nil, repository.ErrConflict
	}
	a.WarningCount++
	return cloneAttempt(a), nil
}

func (s *memAttemptStore) Complete(ctx context.Context, id uuid.UUID, version int64, reason model.TerminationReason, res model.AttemptResult, submittedAt time.Time) (*model.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byID[id]
	if !ok {
		return nil, repository.ErrConflict
	}
	if s.beforeComplete != nil {
		s.beforeComplete(a)
	}
	if a.Status != model.AttemptStatusInProgress || a.Version != version {
		return nil, repository.ErrConflict
	}

	a.Status = model.AttemptStatusCompleted
	a.SubmittedAt = &submittedAt
	a.TerminationReason = &reason
	score, pct := res.Score, res.Percentage
	a.Score = &score
	a.Percentage = &pct
	a.Version++
	return cloneAttempt(a), nil
}

func (s *memAttemptStore) SaveGrading(ctx context.Context, id uuid.UUID, version int64, answers map[string]model.Answer, graceMarks float64, graceReason *string, res model.AttemptResult) (*model.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byID[id]
	if !ok {
		return nil, repository.ErrConflict
	}
	if s.beforeSaveGrading != nil {
		s.beforeSaveGrading(a)
	}
	if a.Status != model.AttemptStatusCompleted || a.Version != version {
		return nil, repository.ErrConflict
	}

	a.Answers = answers
	a.GraceMarks = graceMarks
	a.GraceReason = graceReason
	score, pct := res.Score, res.Percentage
	a.Score = &score
	a.Percentage = &pct
	a.Version++
	return cloneAttempt(a), nil
}

func (s *memAttemptStore) ListByTest(ctx context.Context, testID uuid.UUID, status *model.AttemptStatus, page, perPage int) ([]model.AttemptSummary, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []model.AttemptSummary
	for _, a := range s.byID {
		if a.TestID != testID || (status != nil && a.Status != *status) {
			continue
		}
		all = append(all, model.AttemptSummary{
			ID: a.ID, StudentID: a.StudentID, Status: a.Status, WarningCount: a.WarningCount,
			Score: a.Score, Percentage: a.Percentage, TerminationReason: a.TerminationReason,
		})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].StudentID < all[j].StudentID })

	total := int64(len(all))
	start := (page - 1) * perPage
	if start >= len(all) {
		return nil, total, nil
	}
	end := start + perPage
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], total, nil
}

func (s *memAttemptStore) ListOverdue(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []uuid.UUID
	for _, a := range s.byID {
		if a.Status == model.AttemptStatusInProgress && a.DeadlineAt != nil && !a.DeadlineAt.After(now) {
			ids = append(ids, a.ID)
		}
		if len(ids) == limit {
			break
		}
	}
	return ids, nil
}

func (s *memAttemptStore) GetProgress(ctx context.Context, testID uuid.UUID) (*model.TestProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := &model.TestProgress{TestID: testID}
	for _, a := range s.byID {
		if a.TestID != testID {
			continue
		}
		switch a.Status {
		case model.AttemptStatusNotStarted:
			p.NotStarted++
		case model.AttemptStatusInProgress:
			p.InProgress++
		case model.AttemptStatusCompleted:
			p.Completed++
		}
		p.TotalWarnings += int64(a.WarningCount)
	}
	return p, nil
}

// ─── Question sets ──────────────────────────────────────────────────

type memQuestionSetStore struct {
	mu      sync.Mutex
	sets    map[pairKey][]uuid.UUID
	creates int
}

func newMemQuestionSetStore() *memQuestionSetStore {
	return &memQuestionSetStore{sets: make(map[pairKey][]uuid.UUID)}
}

func (s *memQuestionSetStore) Get(ctx context.Context, testID uuid.UUID, studentID int) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids, ok := s.sets[pairKey{testID, studentID}]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return append([]uuid.UUID(nil), ids...), nil
}

func (s *memQuestionSetStore) CreateIfAbsent(ctx context.Context, testID uuid.UUID, studentID int, ids []uuid.UUID) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey{testID, studentID}
	if existing, ok := s.sets[key]; ok {
		return append([]uuid.UUID(nil), existing...), nil
	}
	s.sets[key] = append([]uuid.UUID(nil), ids...)
	s.creates++
	return append([]uuid.UUID(nil), ids...), nil
}

// ─── Tests and questions ────────────────────────────────────────────

type fakeTests struct {
	mu    sync.Mutex
	tests map[uuid.UUID]*model.TestDefinition
}

func (f *fakeTests) GetTest(ctx context.Context, testID uuid.UUID) (*model.TestDefinition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	t, ok := f.tests[testID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	cp.QuestionIDs = append([]uuid.UUID(nil), t.QuestionIDs...)
	return &cp, nil
}

func (f *fakeTests) put(t *model.TestDefinition) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tests[t.ID] = t
}

type fakeQuestions struct {
	mu        sync.Mutex
	questions map[uuid.UUID]model.Question
}

func (f *fakeQuestions) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]model.Question, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []model.Question
	for _, id := range ids {
		if q, ok := f.questions[id]; ok {
			out = append(out, q)
		}
	}
	return out, nil
}

func (f *fakeQuestions) edit(id uuid.UUID, fn func(q *model.Question)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q := f.questions[id]
	fn(&q)
	f.questions[id] = q
}

// ─── Events ─────────────────────────────────────────────────────────

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.AttemptEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, ev model.AttemptEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) count(t model.AttemptEventType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, ev := range p.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

// ─── Harness ────────────────────────────────────────────────────────

type harness struct {
	clock     *fakeClock
	store     *memAttemptStore
	sets      *memQuestionSetStore
	tests     *fakeTests
	questions *fakeQuestions
	events    *recordingPublisher
	tracker   *TimeTracker
	manager   *SessionManager
	grading   *GradingService
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		clock:     newFakeClock(),
		store:     newMemAttemptStore(),
		sets:      newMemQuestionSetStore(),
		tests:     &fakeTests{tests: make(map[uuid.UUID]*model.TestDefinition)},
		questions: &fakeQuestions{questions: make(map[uuid.UUID]model.Question)},
		events:    &recordingPublisher{},
	}

	log := zerolog.New(io.Discard)
	h.tracker = NewTimeTracker(2*time.Minute, h.clock.Now)
	selector := NewQuestionSelector(h.sets, NewSeededRandomizer(42))
	recorder := NewAnswerRecorder(h.store, h.tracker)
	monitor := NewAntiCheatMonitor(h.store, IntegrityPolicy{Threshold: 3, TerminateOnBreach: true})

	h.manager = NewSessionManager(h.store, h.tests, h.questions, selector, h.tracker, recorder, monitor, h.events, log)
	h.grading = NewGradingService(h.store, log)
	return h
}

func (h *harness) addQuestion(qt model.QuestionType, correct string, marks float64) uuid.UUID {
	q := model.Question{
		ID:            uuid.New(),
		QuestionText:  "Question " + correct,
		QuestionType:  qt,
		CorrectAnswer: correct,
		Marks:         marks,
	}
	h.questions.mu.Lock()
	h.questions.questions[q.ID] = q
	h.questions.mu.Unlock()
	return q.ID
}

func (h *harness) addTest(total float64, duration time.Duration, rules model.TestRules, pool ...uuid.UUID) *model.TestDefinition {
	t := &model.TestDefinition{
		ID:          uuid.New(),
		Title:       "Test",
		TotalMarks:  total,
		DurationMs:  duration.Milliseconds(),
		Status:      model.TestStatusDeployed,
		Rules:       rules,
		QuestionIDs: pool,
	}
	h.tests.put(t)
	return t
}

func boolPtr(v bool) *bool { return &v }
func intPtr(v int) *int    { return &v }
