package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-cbt/internal/attempt"
	"github.com/stemsi/exstem-cbt/internal/config"
	"github.com/stemsi/exstem-cbt/internal/examapi"
	"github.com/stemsi/exstem-cbt/internal/metrics"
	"github.com/stemsi/exstem-cbt/internal/model"
)

// Attempt service errors.
var (
	// ErrAttemptNotFound means the student has no live attempt on the paper
	// in this gateway instance.
	ErrAttemptNotFound   = errors.New("no live attempt for this paper")
	ErrUnknownNavigation = errors.New("unknown navigation action")
)

const lockCallTimeout = 3 * time.Second

// AttemptLocker guards a student's attempt across gateway instances.
type AttemptLocker interface {
	Acquire(ctx context.Context, paperID string, studentID int) error
	Refresh(ctx context.Context, paperID string, studentID int) (bool, error)
	Release(ctx context.Context, paperID string, studentID int) error
}

// APIFactory returns an upstream client acting as the student holding token.
type APIFactory func(token string) examapi.API

// ClientFactory binds c to each student's token.
func ClientFactory(c *examapi.Client) APIFactory {
	return func(token string) examapi.API { return c.WithToken(token) }
}

// AttemptService owns the attempt sessions held by this gateway instance.
type AttemptService struct {
	opts    attempt.Options
	lockTTL time.Duration
	newAPI  APIFactory
	locks   AttemptLocker
	hub     *AttemptHub
	journal attempt.Sink
	metrics *metrics.Metrics
	clock   attempt.Clock
	log     zerolog.Logger

	manager *attempt.Manager

	// runCtx outlives requests; session countdowns and their upstream calls
	// run under it until Shutdown.
	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
}

// NewAttemptService creates an AttemptService. journal and m may be nil.
func NewAttemptService(
	cfg *config.Config,
	newAPI APIFactory,
	locks AttemptLocker,
	hub *AttemptHub,
	journal attempt.Sink,
	m *metrics.Metrics,
	clk attempt.Clock,
	log zerolog.Logger,
) *AttemptService {
	runCtx, runCancel := context.WithCancel(context.Background())
	return &AttemptService{
		opts: attempt.Options{
			TickInterval:    cfg.TickInterval,
			AutosaveEvery:   cfg.AutosaveEvery,
			DebounceDelay:   cfg.DebounceDelay,
			SaveConcurrency: cfg.SaveConcurrency,
			PreAttemptPath:  cfg.PreAttemptPath,
			ResultsPath:     cfg.ResultsPath,
		},
		lockTTL:   cfg.AttemptLockTTL,
		newAPI:    newAPI,
		locks:     locks,
		hub:       hub,
		journal:   journal,
		metrics:   m,
		clock:     clk,
		log:       log.With().Str("component", "attempt_service").Logger(),
		manager:   attempt.NewManager(),
		runCtx:    runCtx,
		runCancel: runCancel,
	}
}

// Start opens the student's attempt on a paper, or returns the one already
// live in this instance.
func (s *AttemptService) Start(ctx context.Context, key attempt.Key, token string) (model.AttemptView, error) {
	if sess, ok := s.manager.Get(key); ok {
		return sess.View(true), nil
	}

	if err := s.locks.Acquire(ctx, key.PaperID, key.StudentID); err != nil {
		return model.AttemptView{}, err
	}

	sess, created := s.manager.Acquire(key, func() *attempt.Session {
		return attempt.NewSession(s.newAPI(token), s.clock, s.sinkFor(key), s.log, s.opts)
	})
	if !created {
		return sess.View(true), nil
	}

	if err := sess.Load(ctx, key.PaperID); err != nil {
		sess.Close()
		s.manager.Release(key, sess)
		s.releaseLock(key)
		return model.AttemptView{}, err
	}

	if s.metrics != nil {
		s.metrics.AttemptsStarted.Inc()
		s.metrics.LiveSessions.Inc()
	}

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		sess.Run(s.runCtx)
	}()
	go s.watch(key, sess)

	return sess.View(true), nil
}

// View returns the live attempt's state.
func (s *AttemptService) View(key attempt.Key, withPaper bool) (model.AttemptView, error) {
	sess, err := s.session(key)
	if err != nil {
		return model.AttemptView{}, err
	}
	return sess.View(withPaper), nil
}

// Answer records an answer in the live attempt.
func (s *AttemptService) Answer(key attempt.Key, questionID string, v model.AnswerValue) (model.AttemptView, error) {
	sess, err := s.session(key)
	if err != nil {
		return model.AttemptView{}, err
	}
	if err := sess.Answer(questionID, v); err != nil {
		return model.AttemptView{}, err
	}
	return sess.View(false), nil
}

// Navigate moves the focused question.
func (s *AttemptService) Navigate(key attempt.Key, req model.NavigateRequest) (int, error) {
	sess, err := s.session(key)
	if err != nil {
		return 0, err
	}
	switch req.Action {
	case model.NavigateNext:
		return sess.Next()
	case model.NavigatePrev:
		return sess.Prev()
	case model.NavigateGoTo:
		return sess.GoTo(req.Index)
	default:
		return 0, fmt.Errorf("navigate %q: %w", req.Action, ErrUnknownNavigation)
	}
}

// Submit finalizes the live attempt. The submit carries on if the caller
// goes away mid-request.
func (s *AttemptService) Submit(ctx context.Context, key attempt.Key) (model.AttemptView, error) {
	sess, err := s.session(key)
	if err != nil {
		return model.AttemptView{}, err
	}
	if err := sess.Submit(context.WithoutCancel(ctx)); err != nil {
		return sess.View(false), err
	}
	return sess.View(false), nil
}

// Leave tears the attempt down without submitting. Answers not yet saved
// upstream are lost.
func (s *AttemptService) Leave(key attempt.Key) error {
	sess, err := s.session(key)
	if err != nil {
		return err
	}
	sess.Close()
	return nil
}

// Subscribe streams the attempt's events.
func (s *AttemptService) Subscribe(key attempt.Key) (<-chan model.AttemptEvent, func(), error) {
	if _, err := s.session(key); err != nil {
		return nil, nil, err
	}
	ch, cancel := s.hub.Subscribe(key)
	return ch, cancel, nil
}

// Live returns the number of sessions held by this instance.
func (s *AttemptService) Live() int {
	return s.manager.Len()
}

// Shutdown stops every countdown, closes the sessions and waits for their
// locks to be released.
func (s *AttemptService) Shutdown(ctx context.Context) error {
	s.runCancel()
	s.manager.CloseAll()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("attempt service shutdown: %w", ctx.Err())
	}
}

func (s *AttemptService) session(key attempt.Key) (*attempt.Session, error) {
	sess, ok := s.manager.Get(key)
	if !ok {
		return nil, ErrAttemptNotFound
	}
	return sess, nil
}

// sinkFor stamps events with the student and fans them out.
func (s *AttemptService) sinkFor(key attempt.Key) attempt.Sink {
	return attempt.SinkFunc(func(ev model.AttemptEvent) {
		ev.StudentID = key.StudentID
		s.hub.Publish(key, ev)
		if s.journal != nil {
			s.journal.Publish(ev)
		}
		if s.metrics != nil {
			s.metrics.Publish(ev)
		}
	})
}

// watch keeps the attempt lock alive while the session lives, then cleans up.
func (s *AttemptService) watch(key attempt.Key, sess *attempt.Session) {
	defer s.wg.Done()

	log := s.log.With().Int("student_id", key.StudentID).Str("paper_id", key.PaperID).Logger()

	every := s.lockTTL / 3
	if every <= 0 {
		every = time.Second
	}
	ticker := s.clock.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-sess.Done():
			sess.Wait()
			s.manager.Release(key, sess)
			// A re-entered attempt shares this instance's lock.
			if _, replaced := s.manager.Get(key); !replaced {
				s.releaseLock(key)
				s.hub.Close(key)
			}
			if s.metrics != nil {
				s.metrics.LiveSessions.Dec()
			}
			log.Info().Str("state", string(sess.State())).Msg("Attempt session ended")
			return
		case <-ticker.C():
			ctx, cancel := context.WithTimeout(context.Background(), lockCallTimeout)
			held, err := s.locks.Refresh(ctx, key.PaperID, key.StudentID)
			cancel()
			switch {
			case err != nil:
				log.Warn().Err(err).Msg("Attempt lock refresh failed")
			case !held:
				log.Warn().Msg("Attempt lock lost")
			}
		}
	}
}

func (s *AttemptService) releaseLock(key attempt.Key) {
	ctx, cancel := context.WithTimeout(context.Background(), lockCallTimeout)
	defer cancel()
	if err := s.locks.Release(ctx, key.PaperID, key.StudentID); err != nil {
		s.log.Warn().Err(err).
			Int("student_id", key.StudentID).
			Str("paper_id", key.PaperID).
			Msg("Attempt lock release failed")
	}
}
