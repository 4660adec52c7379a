package attempt

import (
	"github.com/stemsi/exstem-cbt/internal/model"
	"k8s.io/utils/clock"
)

// pendingText is a typed answer waiting for the student to stop typing.
type pendingText struct {
	value model.AnswerValue
	timer clock.Timer
	// seq invalidates callbacks of timers that were replaced or stopped.
	seq uint64
}

// typeLocked (re)arms the settle timer of a text answer. Only the value held
// when the timer finally fires is committed.
func (s *Session) typeLocked(questionID string, v model.AnswerValue) {
	p, ok := s.typing[questionID]
	if !ok {
		p = &pendingText{}
		s.typing[questionID] = p
	} else if p.timer != nil {
		p.timer.Stop()
	}

	p.seq++
	p.value = v
	seq := p.seq
	p.timer = s.clock.AfterFunc(s.opts.DebounceDelay, func() {
		s.settle(questionID, seq)
	})
}

func (s *Session) settle(questionID string, seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.typing[questionID]
	if !ok || p.seq != seq || s.closed || s.state != model.AttemptStateInProgress {
		return
	}
	s.answers[questionID] = p.value
	delete(s.typing, questionID)
}

// commitTypingLocked commits every pending text answer immediately.
func (s *Session) commitTypingLocked() {
	for id, p := range s.typing {
		if p.timer != nil {
			p.timer.Stop()
		}
		s.answers[id] = p.value
	}
	s.typing = make(map[string]*pendingText)
}

func (s *Session) dropTypingLocked() {
	for _, p := range s.typing {
		if p.timer != nil {
			p.timer.Stop()
		}
	}
	s.typing = make(map[string]*pendingText)
}
