package model

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func intPtr(v int) *int { return &v }

func TestParseTestRules(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    TestRules
		wantErr bool
	}{
		{"empty", "", TestRules{}, false},
		{"null", "null", TestRules{}, false},
		{"random count", `{"random_count":3}`, TestRules{RandomCount: 3}, false},
		{"unknown key rejected", `{"random_count":3,"shuffle":true}`, TestRules{}, true},
		{"wrong type rejected", `{"random_count":"three"}`, TestRules{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTestRules([]byte(tt.raw))
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidRules) {
					t.Fatalf("err = %v, want ErrInvalidRules", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.RandomCount != tt.want.RandomCount {
				t.Errorf("RandomCount = %d, want %d", got.RandomCount, tt.want.RandomCount)
			}
		})
	}

	rules, err := ParseTestRules([]byte(`{"warning_threshold":4,"terminate_on_breach":false}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rules.WarningThreshold == nil || *rules.WarningThreshold != 4 {
		t.Errorf("WarningThreshold = %v, want 4", rules.WarningThreshold)
	}
	if rules.TerminateOnBreach == nil || *rules.TerminateOnBreach {
		t.Errorf("TerminateOnBreach = %v, want false", rules.TerminateOnBreach)
	}
}

func TestTestRulesValidate(t *testing.T) {
	tests := []struct {
		name     string
		rules    TestRules
		poolSize int
		wantErr  bool
	}{
		{"fixed list", TestRules{}, 2, false},
		{"random within pool", TestRules{RandomCount: 3}, 10, false},
		{"random equals pool", TestRules{RandomCount: 10}, 10, false},
		{"random exceeds pool", TestRules{RandomCount: 11}, 10, true},
		{"negative random", TestRules{RandomCount: -1}, 10, true},
		{"empty pool", TestRules{}, 0, true},
		{"zero threshold", TestRules{WarningThreshold: intPtr(0)}, 5, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rules.Validate(tt.poolSize)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidRules) {
				t.Errorf("err = %v, want wrapped ErrInvalidRules", err)
			}
		})
	}
}

func TestTestDefinitionIsOpenAt(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	before := now.Add(-time.Hour)
	after := now.Add(time.Hour)

	tests := []struct {
		name string
		def  TestDefinition
		want bool
	}{
		{"deployed without window", TestDefinition{Status: TestStatusDeployed}, true},
		{"draft", TestDefinition{Status: TestStatusDraft}, false},
		{"closed", TestDefinition{Status: TestStatusClosed}, false},
		{"inside window", TestDefinition{Status: TestStatusDeployed, WindowStart: &before, WindowEnd: &after}, true},
		{"not yet open", TestDefinition{Status: TestStatusDeployed, WindowStart: &after}, false},
		{"window ended", TestDefinition{Status: TestStatusDeployed, WindowEnd: &before}, false},
		{"window ends exactly now", TestDefinition{Status: TestStatusDeployed, WindowEnd: &now}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.def.IsOpenAt(now); got != tt.want {
				t.Errorf("IsOpenAt() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTestDefinitionValidateRejectsDuplicatePoolEntries(t *testing.T) {
	id := uuid.New()
	def := TestDefinition{
		TotalMarks:  10,
		DurationMs:  60000,
		QuestionIDs: []uuid.UUID{id, uuid.New(), id},
	}
	if err := def.Validate(); !errors.Is(err, ErrInvalidRules) {
		t.Fatalf("err = %v, want ErrInvalidRules", err)
	}
}

func TestQuestionTypeIsObjective(t *testing.T) {
	if !QuestionTypeMultipleChoice.IsObjective() || !QuestionTypeFillBlank.IsObjective() {
		t.Error("multiple choice and fill blank should be objective")
	}
	if QuestionTypeFreeText.IsObjective() {
		t.Error("free text should not be objective")
	}
}
