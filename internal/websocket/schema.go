package websocket

import (
	"encoding/json"

	"github.com/stemsi/exstem-assessment/internal/model"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAutosave Action = "autosave"
	ActionSubmit   Action = "submit"
	ActionCurrent  Action = "current"
	ActionPing     Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action          `json:"action"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// AutosaveRequest is the data of an autosave action.
type AutosaveRequest = model.AutosaveRequest

// SubmitRequest is the data of a submit action.
type SubmitRequest = model.SubmitSectionRequest

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError         Event = "error"
	EventSaved         Event = "saved"
	EventCurrent       Event = "current"
	EventSubmitted     Event = "submitted"
	EventTestCompleted Event = "testCompleted"
	EventPong          Event = "pong"
)

// EventEnvelope wraps every server message.
type EventEnvelope struct {
	Event Event       `json:"event"`
	Data  interface{} `json:"data,omitempty"`
	Error *ErrorBody  `json:"error,omitempty"`
}

// ErrorBody mirrors the HTTP error body.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
