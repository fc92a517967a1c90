package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-assessment/internal/model"
	"github.com/stemsi/exstem-assessment/internal/repository"
)

// Randomizer is the random source used to draw question subsets.
type Randomizer interface {
	Perm(n int) []int
}

type globalRandomizer struct{}

func (globalRandomizer) Perm(n int) []int { return rand.Perm(n) }

type seededRandomizer struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewSeededRandomizer returns a deterministic Randomizer safe for concurrent use.
func NewSeededRandomizer(seed uint64) Randomizer {
	return &seededRandomizer{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (s *seededRandomizer) Perm(n int) []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.Perm(n)
}

// QuestionSelector decides which questions, in which order, a student receives.
type QuestionSelector struct {
	sets QuestionSetStore
	rnd  Randomizer
}

// NewQuestionSelector creates a QuestionSelector. A nil rnd uses the global source.
func NewQuestionSelector(sets QuestionSetStore, rnd Randomizer) *QuestionSelector {
	if rnd == nil {
		rnd = globalRandomizer{}
	}
	return &QuestionSelector{sets: sets, rnd: rnd}
}

// Select returns the student's ordered question IDs. A fixed list is returned
// verbatim. A random draw is generated once, persisted, and returned from the
// store on every later call, including by concurrent callers that lose the insert.
func (s *QuestionSelector) Select(ctx context.Context, test *model.TestDefinition, studentID int) ([]uuid.UUID, error) {
	if err := test.Rules.Validate(len(test.QuestionIDs)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	if !test.Rules.IsRandomized() {
		ids := make([]uuid.UUID, len(test.QuestionIDs))
		copy(ids, test.QuestionIDs)
		return ids, nil
	}

	existing, err := s.sets.Get(ctx, test.ID, studentID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("get question set: %w", err)
	}

	drawn := s.draw(test.QuestionIDs, test.Rules.RandomCount)
	persisted, err := s.sets.CreateIfAbsent(ctx, test.ID, studentID, drawn)
	if err != nil {
		return nil, fmt.Errorf("persist question set: %w", err)
	}
	return persisted, nil
}

// draw picks k IDs uniformly at random without replacement.
func (s *QuestionSelector) draw(pool []uuid.UUID, k int) []uuid.UUID {
	perm := s.rnd.Perm(len(pool))
	out := make([]uuid.UUID, k)
	for i := 0; i < k; i++ {
		out[i] = pool[perm[i]]
	}
	return out
}
