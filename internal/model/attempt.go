package model

import (
	"time"
)

// AttemptState enumerates the lifecycle states of an exam attempt session.
type AttemptState string

const (
	AttemptStateIdle       AttemptState = "IDLE"
	AttemptStateLoading    AttemptState = "LOADING"
	AttemptStateInProgress AttemptState = "IN_PROGRESS"
	AttemptStateSubmitting AttemptState = "SUBMITTING"
	AttemptStateSubmitted  AttemptState = "SUBMITTED"
)

// SubmitTrigger records why an attempt was submitted.
type SubmitTrigger string

const (
	SubmitTriggerManual  SubmitTrigger = "MANUAL"
	SubmitTriggerTimeout SubmitTrigger = "TIMEOUT"
)

// AttemptView is a point-in-time snapshot of a session for UIs.
type AttemptView struct {
	AttemptID      string       `json:"attempt_id,omitempty"`
	PaperID        string       `json:"paper_id"`
	State          AttemptState `json:"state"`
	CurrentIndex   int          `json:"current_index"`
	QuestionCount  int          `json:"question_count"`
	RemainingUnits int          `json:"remaining_units"`
	RemainingTime  float64      `json:"remaining_seconds"`
	Answered       []string     `json:"answered"`
	LastError      string       `json:"last_error,omitempty"`
	Paper          *ExamPaper   `json:"paper,omitempty"`
}

// EventKind enumerates attempt lifecycle events.
type EventKind string

const (
	EventStateChanged   EventKind = "state"
	EventTick           EventKind = "tick"
	EventAutosaved      EventKind = "autosaved"
	EventAutosaveFailed EventKind = "autosave_failed"
	EventSubmitFailed   EventKind = "submit_failed"
	EventSubmitted      EventKind = "submitted"
	EventLoadFailed     EventKind = "load_failed"
)

// AttemptEvent is emitted by a session as it moves through its lifecycle.
// It never carries answer values.
type AttemptEvent struct {
	Kind       EventKind     `json:"event"`
	PaperID    string        `json:"paper_id"`
	AttemptID  string        `json:"attempt_id,omitempty"`
	StudentID  int           `json:"student_id,omitempty"`
	State      AttemptState  `json:"state,omitempty"`
	Remaining  int           `json:"remaining_units"`
	QuestionID string        `json:"q_id,omitempty"`
	Saved      int           `json:"saved,omitempty"`
	Failed     int           `json:"failed,omitempty"`
	Trigger    SubmitTrigger `json:"trigger,omitempty"`
	Redirect   string        `json:"redirect,omitempty"`
	Message    string        `json:"message,omitempty"`
	At         time.Time     `json:"at"`
}

// AttemptEventRecord is an attempt event as stored in the journal.
type AttemptEventRecord struct {
	AttemptEvent
	InstanceID string `json:"instance_id"`
}
