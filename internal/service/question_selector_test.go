package service

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-assessment/internal/model"
)

func newPool(n int) []uuid.UUID {
	pool := make([]uuid.UUID, n)
	for i := range pool {
		pool[i] = uuid.New()
	}
	return pool
}

func TestSelectRandomDrawIsStable(t *testing.T) {
	ctx := context.Background()
	sets := newMemQuestionSetStore()
	sel := NewQuestionSelector(sets, NewSeededRandomizer(7))

	pool := newPool(10)
	test := &model.TestDefinition{ID: uuid.New(), QuestionIDs: pool, Rules: model.TestRules{RandomCount: 3}}

	first, err := sel.Select(ctx, test, 1)
	if err != nil {
		t.Fatalf("first Select: %v", err)
	}
	second, err := sel.Select(ctx, test, 1)
	if err != nil {
		t.Fatalf("second Select: %v", err)
	}

	if len(first) != 3 {
		t.Fatalf("drew %d questions, want 3", len(first))
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("repeat draw differs: %v vs %v", first, second)
	}

	inPool := make(map[uuid.UUID]bool, len(pool))
	for _, id := range pool {
		inPool[id] = true
	}
	seen := make(map[uuid.UUID]bool)
	for _, id := range first {
		if !inPool[id] {
			t.Errorf("drew %s which is not in the pool", id)
		}
		if seen[id] {
			t.Errorf("drew %s twice", id)
		}
		seen[id] = true
	}

	persisted, err := sets.Get(ctx, test.ID, 1)
	if err != nil {
		t.Fatalf("draw was not persisted: %v", err)
	}
	if !reflect.DeepEqual(persisted, first) {
		t.Errorf("persisted %v, returned %v", persisted, first)
	}
	if sets.creates != 1 {
		t.Errorf("creates = %d, want 1", sets.creates)
	}
}

func TestSelectFixedListIsVerbatim(t *testing.T) {
	sets := newMemQuestionSetStore()
	sel := NewQuestionSelector(sets, nil)

	pool := newPool(4)
	test := &model.TestDefinition{ID: uuid.New(), QuestionIDs: pool}

	got, err := sel.Select(context.Background(), test, 1)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if !reflect.DeepEqual(got, pool) {
		t.Errorf("got %v, want %v", got, pool)
	}

	got[0] = uuid.Nil
	if test.QuestionIDs[0] == uuid.Nil {
		t.Error("returned slice aliases the test's pool")
	}
	if sets.creates != 0 {
		t.Errorf("fixed list persisted a question set")
	}
}

func TestSelectSeededRandomizerIsDeterministic(t *testing.T) {
	pool := newPool(20)
	test := &model.TestDefinition{ID: uuid.New(), QuestionIDs: pool, Rules: model.TestRules{RandomCount: 5}}

	a, err := NewQuestionSelector(newMemQuestionSetStore(), NewSeededRandomizer(99)).Select(context.Background(), test, 1)
	if err != nil {
		t.Fatalf("Select a: %v", err)
	}
	b, err := NewQuestionSelector(newMemQuestionSetStore(), NewSeededRandomizer(99)).Select(context.Background(), test, 1)
	if err != nil {
		t.Fatalf("Select b: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Errorf("same seed produced %v and %v", a, b)
	}
}

func TestSelectConcurrentCallersAgree(t *testing.T) {
	sets := newMemQuestionSetStore()
	sel := NewQuestionSelector(sets, nil)
	test := &model.TestDefinition{ID: uuid.New(), QuestionIDs: newPool(30), Rules: model.TestRules{RandomCount: 10}}

	const n = 20
	results := make([][]uuid.UUID, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids, err := sel.Select(context.Background(), test, 5)
			if err != nil {
				t.Errorf("Select: %v", err)
				return
			}
			results[i] = ids
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		if !reflect.DeepEqual(results[i], results[0]) {
			t.Fatalf("caller %d got %v, caller 0 got %v", i, results[i], results[0])
		}
	}
}

func TestSelectRejectsBadRules(t *testing.T) {
	sel := NewQuestionSelector(newMemQuestionSetStore(), nil)

	tests := []struct {
		name string
		def  *model.TestDefinition
	}{
		{"empty pool", &model.TestDefinition{ID: uuid.New()}},
		{"count exceeds pool", &model.TestDefinition{ID: uuid.New(), QuestionIDs: newPool(2), Rules: model.TestRules{RandomCount: 3}}},
		{"negative count", &model.TestDefinition{ID: uuid.New(), QuestionIDs: newPool(2), Rules: model.TestRules{RandomCount: -1}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := sel.Select(context.Background(), tt.def, 1)
			if !errors.Is(err, ErrConfiguration) {
				t.Errorf("err = %v, want ErrConfiguration", err)
			}
			if !errors.Is(err, model.ErrInvalidRules) {
				t.Errorf("err = %v, want it to wrap ErrInvalidRules", err)
			}
		})
	}
}
