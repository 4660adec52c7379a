package attempt

import (
	"errors"
	"time"

	"github.com/stemsi/exstem-cbt/internal/model"
	"k8s.io/utils/clock"
)

// Clock is the time source a Session schedules against. It is satisfied by
// clock.RealClock and by the fake clock from k8s.io/utils/clock/testing.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) clock.Timer
	NewTicker(d time.Duration) clock.Ticker
}

// Sink receives the events a session emits.
type Sink interface {
	Publish(ev model.AttemptEvent)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ev model.AttemptEvent)

// Publish calls f(ev).
func (f SinkFunc) Publish(ev model.AttemptEvent) { f(ev) }

type discardSink struct{}

func (discardSink) Publish(model.AttemptEvent) {}

// Options tunes the countdown, autosave and debounce behaviour of a session.
type Options struct {
	// TickInterval is the length of one countdown time unit.
	TickInterval time.Duration
	// AutosaveEvery is the number of elapsed ticks between two flushes.
	AutosaveEvery int
	// DebounceDelay is how long a text answer must stay unchanged before it
	// is committed.
	DebounceDelay time.Duration
	// SaveConcurrency bounds parallel save calls within one flush.
	SaveConcurrency int

	PreAttemptPath string
	ResultsPath    string
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		TickInterval:    time.Second,
		AutosaveEvery:   10,
		DebounceDelay:   500 * time.Millisecond,
		SaveConcurrency: 4,
		PreAttemptPath:  "/student/exams",
		ResultsPath:     "/student/results",
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.TickInterval <= 0 {
		o.TickInterval = d.TickInterval
	}
	if o.AutosaveEvery <= 0 {
		o.AutosaveEvery = d.AutosaveEvery
	}
	if o.DebounceDelay <= 0 {
		o.DebounceDelay = d.DebounceDelay
	}
	if o.SaveConcurrency <= 0 {
		o.SaveConcurrency = d.SaveConcurrency
	}
	if o.PreAttemptPath == "" {
		o.PreAttemptPath = d.PreAttemptPath
	}
	if o.ResultsPath == "" {
		o.ResultsPath = d.ResultsPath
	}
	return o
}

// Session errors.
var (
	ErrClosed           = errors.New("attempt session is closed")
	ErrAlreadyLoaded    = errors.New("attempt session already loaded")
	ErrNotInProgress    = errors.New("attempt is not in progress")
	ErrSubmitInProgress = errors.New("attempt submission already in progress")
	ErrUnknownQuestion  = errors.New("question is not part of this paper")
	ErrNotComputerBased = errors.New("exam paper is not computer-based")
	ErrNoQuestions      = errors.New("exam paper has no questions")
	ErrWindowNotOpen    = errors.New("exam paper window has not opened")
	ErrWindowClosed     = errors.New("exam paper window is closed")
)
