package service

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-cbt/internal/attempt"
	"github.com/stemsi/exstem-cbt/internal/model"
)

const subscriberBuffer = 64

// AttemptHub fans attempt events out to the streams watching an attempt.
// A student may have the exam open in more than one tab; each gets a copy.
type AttemptHub struct {
	mu     sync.RWMutex
	topics map[attempt.Key]map[*subscriber]struct{}
	log    zerolog.Logger
}

type subscriber struct {
	ch   chan model.AttemptEvent
	once sync.Once
}

// NewAttemptHub creates an empty hub.
func NewAttemptHub(log zerolog.Logger) *AttemptHub {
	return &AttemptHub{
		topics: make(map[attempt.Key]map[*subscriber]struct{}),
		log:    log.With().Str("component", "attempt_hub").Logger(),
	}
}

// Subscribe registers a stream for key. The returned cancel func must be
// called when the stream goes away; it closes the channel.
func (h *AttemptHub) Subscribe(key attempt.Key) (<-chan model.AttemptEvent, func()) {
	sub := &subscriber{ch: make(chan model.AttemptEvent, subscriberBuffer)}

	h.mu.Lock()
	subs, ok := h.topics[key]
	if !ok {
		subs = make(map[*subscriber]struct{})
		h.topics[key] = subs
	}
	subs[sub] = struct{}{}
	h.mu.Unlock()

	return sub.ch, func() { h.unsubscribe(key, sub) }
}

// Publish delivers ev to every subscriber of key. Slow subscribers lose the
// event rather than stall the session.
func (h *AttemptHub) Publish(key attempt.Key, ev model.AttemptEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.topics[key] {
		select {
		case sub.ch <- ev:
		default:
			h.log.Warn().
				Int("student_id", key.StudentID).
				Str("paper_id", key.PaperID).
				Str("event", string(ev.Kind)).
				Msg("Subscriber buffer full, dropping event")
		}
	}
}

// Subscribers returns how many streams watch key.
func (h *AttemptHub) Subscribers(key attempt.Key) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[key])
}

// Close ends every stream watching key.
func (h *AttemptHub) Close(key attempt.Key) {
	h.mu.Lock()
	subs := h.topics[key]
	delete(h.topics, key)
	h.mu.Unlock()

	for sub := range subs {
		sub.once.Do(func() { close(sub.ch) })
	}
}

func (h *AttemptHub) unsubscribe(key attempt.Key, sub *subscriber) {
	h.mu.Lock()
	if subs, ok := h.topics[key]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.topics, key)
		}
	}
	h.mu.Unlock()

	sub.once.Do(func() { close(sub.ch) })
}
