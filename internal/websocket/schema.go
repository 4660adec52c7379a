package websocket

import (
	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stemsi/exstem-cbt/internal/response"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAnswer   Action = "answer"
	ActionNavigate Action = "navigate"
	ActionSubmit   Action = "submit"
	ActionPing     Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// AnswerRequest records an answer to one question.
type AnswerRequest struct {
	Action Action            `json:"action"`
	QID    string            `json:"q_id"`
	Value  model.AnswerValue `json:"value"`
}

// NavigateRequest moves focus: nav is "next", "prev" or "goto".
type NavigateRequest struct {
	Action Action `json:"action"`
	Nav    string `json:"nav"`
	Index  int    `json:"index"`
}

// SubmitRequest asks for the attempt to be finalized.
type SubmitRequest struct {
	Action Action `json:"action"`
}

// ─── Events (Server → Client) ───────────────────────────────────────
// Attempt lifecycle events (model.AttemptEvent) are sent as-is; the
// frames below are specific to the stream.

type Event string

const (
	EventError    Event = "error"
	EventPong     Event = "pong"
	EventSnapshot Event = "snapshot"
	EventAck      Event = "ack"
)

type ErrorResponse struct {
	Event    Event            `json:"event"`
	Code     response.ErrCode `json:"code"`
	Error    string           `json:"error"`
	Redirect string           `json:"redirect,omitempty"`
}

type SnapshotResponse struct {
	Event   Event             `json:"event"`
	Attempt model.AttemptView `json:"attempt"`
}

type AckResponse struct {
	Event        Event  `json:"event"`
	Action       Action `json:"action"`
	QID          string `json:"q_id,omitempty"`
	CurrentIndex int    `json:"current_index"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
