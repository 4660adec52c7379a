// Package attempt coordinates a student's computer-based exam attempt: loading
// the paper, tracking answers, counting down, autosaving and submitting.
package attempt

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/stemsi/exstem-cbt/internal/examapi"
	"github.com/stemsi/exstem-cbt/internal/model"
)

// Session is one exam attempt. All methods are safe for concurrent use.
//
// Lifecycle: IDLE → LOADING → IN_PROGRESS → SUBMITTING → SUBMITTED. A failed
// load returns to IDLE, a failed submit returns to IN_PROGRESS.
type Session struct {
	api   examapi.API
	clock Clock
	sink  Sink
	log   zerolog.Logger
	opts  Options

	mu        sync.Mutex
	state     model.AttemptState
	paperID   string
	paper     *model.ExamPaper
	attemptID string
	answers   map[string]model.AnswerValue
	typing    map[string]*pendingText
	current   int
	remaining int
	elapsed   int
	lastErr   string
	closed    bool

	// flights tracks background autosave flushes.
	flights  sync.WaitGroup
	done     chan struct{}
	doneOnce sync.Once
}

// NewSession creates an idle session.
func NewSession(api examapi.API, clk Clock, sink Sink, log zerolog.Logger, opts Options) *Session {
	if sink == nil {
		sink = discardSink{}
	}
	return &Session{
		api:     api,
		clock:   clk,
		sink:    sink,
		log:     log.With().Str("component", "attempt_session").Logger(),
		opts:    opts.withDefaults(),
		state:   model.AttemptStateIdle,
		answers: make(map[string]model.AnswerValue),
		typing:  make(map[string]*pendingText),
		done:    make(chan struct{}),
	}
}

// Load fetches the paper, starts the server-side attempt and starts the
// countdown. Any failure aborts the session back to IDLE; the caller is
// expected to send the student back to the pre-attempt page.
func (s *Session) Load(ctx context.Context, paperID string) error {
	now := s.clock.Now()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.state != model.AttemptStateIdle {
		s.mu.Unlock()
		return ErrAlreadyLoaded
	}
	s.state = model.AttemptStateLoading
	s.paperID = paperID
	s.lastErr = ""
	ev := s.eventLocked(model.EventStateChanged, now)
	s.mu.Unlock()
	s.sink.Publish(ev)

	paper, attemptID, units, err := s.fetch(ctx, paperID)

	now = s.clock.Now()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if err != nil {
		s.state = model.AttemptStateIdle
		s.lastErr = err.Error()
		failed := s.eventLocked(model.EventLoadFailed, now)
		failed.Message = err.Error()
		failed.Redirect = s.opts.PreAttemptPath
		idle := s.eventLocked(model.EventStateChanged, now)
		s.mu.Unlock()

		s.log.Error().Err(err).Str("paper_id", paperID).Msg("Attempt load failed")
		s.sink.Publish(idle)
		s.sink.Publish(failed)
		return err
	}

	s.paper = paper
	s.attemptID = attemptID
	s.answers = make(map[string]model.AnswerValue, len(paper.Questions))
	s.current = 0
	s.remaining = units
	s.elapsed = 0
	s.state = model.AttemptStateInProgress
	ev = s.eventLocked(model.EventStateChanged, now)
	s.mu.Unlock()

	s.log.Info().
		Str("paper_id", paperID).
		Str("attempt_id", attemptID).
		Int("questions", len(paper.Questions)).
		Int("remaining_units", units).
		Msg("Attempt started")
	s.sink.Publish(ev)
	return nil
}

func (s *Session) fetch(ctx context.Context, paperID string) (*model.ExamPaper, string, int, error) {
	paper, err := s.api.GetExamPaper(ctx, paperID)
	if err != nil {
		return nil, "", 0, err
	}

	switch {
	case paper.Mode != "" && paper.Mode != model.PaperModeCBT:
		return nil, "", 0, ErrNotComputerBased
	case len(paper.Questions) == 0:
		return nil, "", 0, ErrNoQuestions
	}

	now := s.clock.Now()
	if !paper.Opened(now) {
		return nil, "", 0, ErrWindowNotOpen
	}
	units := int(paper.TimeLeft(now) / s.opts.TickInterval)
	if units <= 0 {
		return nil, "", 0, ErrWindowClosed
	}

	attemptID, err := s.api.StartAttempt(ctx, paperID)
	if err != nil {
		return nil, "", 0, err
	}
	return paper, attemptID, units, nil
}

// Answer records the student's answer to a question and moves focus to it.
// Choice and boolean answers are committed at once; text answers are committed
// once they stay unchanged for the debounce delay.
func (s *Session) Answer(questionID string, v model.AnswerValue) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.state != model.AttemptStateInProgress {
		return ErrNotInProgress
	}
	q, idx, ok := s.paper.Question(questionID)
	if !ok {
		return ErrUnknownQuestion
	}
	if err := q.Validate(v); err != nil {
		return fmt.Errorf("question %s: %w", questionID, err)
	}

	s.current = idx
	v = cloneValue(v)
	if q.Type.Debounced() {
		s.typeLocked(questionID, v)
		return nil
	}
	s.answers[questionID] = v
	return nil
}

// Lookup returns the committed answer for a question.
func (s *Session) Lookup(questionID string) (model.AnswerValue, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.answers[questionID]
	return v, ok
}

// Next moves to the following question. It is a no-op on the last question.
func (s *Session) Next() (int, error) {
	return s.move(func(cur int) int { return cur + 1 })
}

// Prev moves to the previous question. It is a no-op on the first question.
func (s *Session) Prev() (int, error) {
	return s.move(func(cur int) int { return cur - 1 })
}

// GoTo jumps to question i. Out-of-range indexes leave the pointer unchanged.
func (s *Session) GoTo(i int) (int, error) {
	return s.move(func(int) int { return i })
}

func (s *Session) move(target func(cur int) int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != model.AttemptStateInProgress {
		return s.current, ErrNotInProgress
	}
	if next := target(s.current); next >= 0 && next < len(s.paper.Questions) {
		s.current = next
	}
	return s.current, nil
}

// Tick advances the countdown by one time unit. Every AutosaveEvery elapsed
// ticks the committed answers are flushed in the background; when the
// countdown reaches zero the attempt is submitted without confirmation.
func (s *Session) Tick(ctx context.Context) {
	now := s.clock.Now()

	s.mu.Lock()
	if s.closed || s.state != model.AttemptStateInProgress || s.remaining == 0 {
		s.mu.Unlock()
		return
	}
	s.remaining--
	s.elapsed++
	tick := s.eventLocked(model.EventTick, now)

	if s.remaining == 0 {
		attemptID, snapshot := s.beginSubmitLocked()
		submitting := s.eventLocked(model.EventStateChanged, now)
		s.mu.Unlock()

		s.sink.Publish(tick)
		s.sink.Publish(submitting)
		s.log.Info().Str("attempt_id", attemptID).Msg("Time is up, submitting attempt")
		_ = s.finishSubmit(ctx, attemptID, snapshot, model.SubmitTriggerTimeout)
		return
	}

	var snapshot []model.Answer
	if s.elapsed%s.opts.AutosaveEvery == 0 {
		snapshot = s.snapshotLocked()
	}
	attemptID := s.attemptID
	if len(snapshot) > 0 {
		s.flights.Add(1)
	}
	s.mu.Unlock()

	s.sink.Publish(tick)
	if len(snapshot) > 0 {
		go func() {
			defer s.flights.Done()
			s.flush(ctx, attemptID, snapshot)
		}()
	}
}

// Submit finalizes the attempt at the student's request. Pending text is
// committed and flushed first. On failure the attempt stays open so the
// student can try again.
func (s *Session) Submit(ctx context.Context) error {
	now := s.clock.Now()

	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return ErrClosed
	case s.state == model.AttemptStateSubmitting:
		s.mu.Unlock()
		return ErrSubmitInProgress
	case s.state != model.AttemptStateInProgress:
		s.mu.Unlock()
		return ErrNotInProgress
	}
	attemptID, snapshot := s.beginSubmitLocked()
	ev := s.eventLocked(model.EventStateChanged, now)
	s.mu.Unlock()

	s.sink.Publish(ev)
	return s.finishSubmit(ctx, attemptID, snapshot, model.SubmitTriggerManual)
}

// beginSubmitLocked moves to SUBMITTING and returns the final snapshot.
func (s *Session) beginSubmitLocked() (string, []model.Answer) {
	s.state = model.AttemptStateSubmitting
	s.commitTypingLocked()
	return s.attemptID, s.snapshotLocked()
}

func (s *Session) finishSubmit(ctx context.Context, attemptID string, snapshot []model.Answer, trigger model.SubmitTrigger) error {
	// No save may reach the backend after the submit call.
	s.flights.Wait()
	if len(snapshot) > 0 {
		s.flush(ctx, attemptID, snapshot)
	}

	err := s.api.SubmitAttempt(ctx, attemptID)

	now := s.clock.Now()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}

	if err != nil {
		s.state = model.AttemptStateInProgress
		s.lastErr = err.Error()
		failed := s.eventLocked(model.EventSubmitFailed, now)
		failed.Trigger = trigger
		failed.Message = err.Error()
		back := s.eventLocked(model.EventStateChanged, now)
		s.mu.Unlock()

		s.log.Error().Err(err).
			Str("attempt_id", attemptID).
			Str("trigger", string(trigger)).
			Msg("Submit failed")
		s.sink.Publish(failed)
		s.sink.Publish(back)
		return fmt.Errorf("submit attempt: %w", err)
	}

	s.state = model.AttemptStateSubmitted
	s.lastErr = ""
	s.answers = make(map[string]model.AnswerValue)
	s.dropTypingLocked()
	state := s.eventLocked(model.EventStateChanged, now)
	submitted := s.eventLocked(model.EventSubmitted, now)
	submitted.Trigger = trigger
	submitted.Redirect = s.opts.ResultsPath
	s.mu.Unlock()

	s.log.Info().
		Str("attempt_id", attemptID).
		Str("trigger", string(trigger)).
		Msg("Attempt submitted")
	s.sink.Publish(state)
	s.sink.Publish(submitted)
	s.finish()
	return nil
}

// flush sends one save per answer. Failures are reported but never stop the
// other saves or the session; the answer stays in memory for the next cycle.
func (s *Session) flush(ctx context.Context, attemptID string, answers []model.Answer) {
	var saved, failed atomic.Int32

	g := new(errgroup.Group)
	g.SetLimit(s.opts.SaveConcurrency)
	for _, a := range answers {
		g.Go(func() error {
			if err := s.api.SaveResponse(ctx, attemptID, a); err != nil {
				failed.Add(1)
				s.log.Warn().Err(err).
					Str("attempt_id", attemptID).
					Str("q_id", a.QuestionID).
					Msg("Autosave failed")
				s.publishIfOpen(model.EventAutosaveFailed, func(ev *model.AttemptEvent) {
					ev.QuestionID = a.QuestionID
					ev.Message = err.Error()
				})
				return nil
			}
			saved.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	s.log.Debug().
		Str("attempt_id", attemptID).
		Int32("saved", saved.Load()).
		Int32("failed", failed.Load()).
		Msg("Autosave flushed")
	s.publishIfOpen(model.EventAutosaved, func(ev *model.AttemptEvent) {
		ev.Saved = int(saved.Load())
		ev.Failed = int(failed.Load())
	})
}

// Run drives Tick from a ticker until the session ends or ctx is cancelled.
func (s *Session) Run(ctx context.Context) {
	ticker := s.clock.NewTicker(s.opts.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C():
			s.Tick(ctx)
		}
	}
}

// Close tears the session down: the countdown stops, pending text is dropped
// and the results of calls still in flight are discarded.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.dropTypingLocked()
	s.mu.Unlock()
	s.finish()
}

// Done is closed once the session is submitted or closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until background autosave flushes have finished.
func (s *Session) Wait() {
	s.flights.Wait()
}

// State returns the current lifecycle state.
func (s *Session) State() model.AttemptState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Live reports whether the session still represents an active attempt.
func (s *Session) Live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && s.state != model.AttemptStateSubmitted
}

// View returns a snapshot of the session. The paper is included on request.
func (s *Session) View(withPaper bool) model.AttemptView {
	s.mu.Lock()
	defer s.mu.Unlock()

	answered := make([]string, 0, len(s.answers)+len(s.typing))
	for id := range s.answers {
		answered = append(answered, id)
	}
	for id := range s.typing {
		if _, ok := s.answers[id]; !ok {
			answered = append(answered, id)
		}
	}
	sort.Strings(answered)

	v := model.AttemptView{
		AttemptID:      s.attemptID,
		PaperID:        s.paperID,
		State:          s.state,
		CurrentIndex:   s.current,
		RemainingUnits: s.remaining,
		RemainingTime:  (time.Duration(s.remaining) * s.opts.TickInterval).Seconds(),
		Answered:       answered,
		LastError:      s.lastErr,
	}
	if s.paper != nil {
		v.QuestionCount = len(s.paper.Questions)
		if withPaper {
			v.Paper = s.paper
		}
	}
	return v
}

func (s *Session) finish() {
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *Session) snapshotLocked() []model.Answer {
	out := make([]model.Answer, 0, len(s.answers))
	for id, v := range s.answers {
		out = append(out, model.Answer{QuestionID: id, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QuestionID < out[j].QuestionID })
	return out
}

func (s *Session) eventLocked(kind model.EventKind, at time.Time) model.AttemptEvent {
	return model.AttemptEvent{
		Kind:      kind,
		PaperID:   s.paperID,
		AttemptID: s.attemptID,
		State:     s.state,
		Remaining: s.remaining,
		At:        at,
	}
}

func (s *Session) publishIfOpen(kind model.EventKind, fill func(ev *model.AttemptEvent)) {
	now := s.clock.Now()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	ev := s.eventLocked(kind, now)
	s.mu.Unlock()

	fill(&ev)
	s.sink.Publish(ev)
}

func cloneValue(v model.AnswerValue) model.AnswerValue {
	if v.Options != nil {
		v.Options = append([]int(nil), v.Options...)
	}
	return v
}
