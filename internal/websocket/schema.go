package websocket

import "encoding/json"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAnswer    Action = "answer"
	ActionHeartbeat Action = "heartbeat"
	ActionWarning   Action = "warning"
	ActionSubmit    Action = "submit"
	ActionPing      Action = "ping"
)

// RequestPayload is the single envelope for every client message. Fields
// unused by an action are left empty.
type RequestPayload struct {
	Action    Action          `json:"action"`
	QID       string          `json:"q_id,omitempty"`
	Answer    string          `json:"ans,omitempty"`
	ElapsedMs int64           `json:"elapsed_ms,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventSaved     Event = "saved"
	EventTime      Event = "time"
	EventWarning   Event = "warning"
	EventCompleted Event = "completed"
	EventPong      Event = "pong"
	EventError     Event = "error"
)

// ResponsePayload wraps every server message.
type ResponsePayload struct {
	Event Event       `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// ErrorData is the body of an error event. Code matches the REST error codes.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SavedData acknowledges a recorded answer.
type SavedData struct {
	QuestionID  string `json:"q_id"`
	TimeSpentMs int64  `json:"time_spent_ms"`
	RemainingMs int64  `json:"remaining_ms"`
}

// TimeData reports the clock after a heartbeat.
type TimeData struct {
	TimeSpentMs int64 `json:"time_spent_ms"`
	RemainingMs int64 `json:"remaining_ms"`
}
