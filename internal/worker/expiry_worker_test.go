package worker

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type stubExpirer struct {
	mu      sync.Mutex
	results []int
	err     error
	calls   int
}

func (s *stubExpirer) ExpireOverdue(ctx context.Context, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return 0, s.err
	}
	if len(s.results) == 0 {
		return 0, nil
	}
	n := s.results[0]
	s.results = s.results[1:]
	return n, nil
}

func TestRunOnceDrainsBacklog(t *testing.T) {
	tests := []struct {
		name      string
		results   []int
		err       error
		wantTotal int
		wantCalls int
	}{
		{"nothing overdue", nil, nil, 0, 1},
		{"partial batch", []int{3}, nil, 3, 1},
		{"backlog", []int{10, 10, 4}, nil, 24, 3},
		{"store failure", nil, errors.New("db down"), 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exp := &stubExpirer{results: tt.results, err: tt.err}
			w := NewExpiryWorker(exp, "@every 1s", 10, zerolog.New(io.Discard))

			if got := w.RunOnce(context.Background()); got != tt.wantTotal {
				t.Errorf("RunOnce = %d, want %d", got, tt.wantTotal)
			}
			if exp.calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", exp.calls, tt.wantCalls)
			}
		})
	}
}

func TestStartRejectsBadSchedule(t *testing.T) {
	w := NewExpiryWorker(&stubExpirer{}, "not a schedule", 10, zerolog.New(io.Discard))
	if err := w.Start(context.Background()); err == nil {
		t.Fatal("Start accepted an invalid schedule")
	}
}

func TestStartStopsWithContext(t *testing.T) {
	w := NewExpiryWorker(&stubExpirer{}, "@every 1h", 10, zerolog.New(io.Discard))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
