package worker

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-assessment/internal/model"
)

func TestDecodeIntegrityEvent(t *testing.T) {
	a := &model.Attempt{ID: uuid.New(), TestID: uuid.New(), StudentID: 4, WarningCount: 2, Status: model.AttemptStatusInProgress}
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	warning := model.NewAttemptEvent(model.AttemptEventWarning, a, at)
	warning.Payload = json.RawMessage(`{"event":"blur"}`)
	warningJSON, _ := json.Marshal(warning)

	started, _ := json.Marshal(model.NewAttemptEvent(model.AttemptEventStarted, a, at))

	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"warning", string(warningJSON), false},
		{"other event type", string(started), true},
		{"garbage", "{not json", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := decodeIntegrityEvent(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}

			row := integrityRow(ev)
			if len(row) != len(integrityEventColumns) {
				t.Fatalf("row has %d values for %d columns", len(row), len(integrityEventColumns))
			}
			if row[0] != a.ID || row[2] != 4 || row[3] != 2 || row[4] != `{"event":"blur"}` {
				t.Errorf("row = %v", row)
			}
			if !row[5].(time.Time).Equal(at) {
				t.Errorf("recorded_at = %v, want %v", row[5], at)
			}
		})
	}
}

func TestIntegrityRowDefaultsEmptyPayload(t *testing.T) {
	ev := model.AttemptEvent{Type: model.AttemptEventWarning, AttemptID: uuid.New()}
	if got := integrityRow(ev)[4]; got != "{}" {
		t.Errorf("event_data = %v, want {}", got)
	}
}
