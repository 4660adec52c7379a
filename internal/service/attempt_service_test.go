package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/stemsi/exstem-cbt/internal/attempt"
	"github.com/stemsi/exstem-cbt/internal/config"
	"github.com/stemsi/exstem-cbt/internal/examapi"
	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stemsi/exstem-cbt/internal/repository"
)

var epoch = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

type stubAPI struct {
	mu       sync.Mutex
	startErr error
	tokens   []string
	starts   int
	saves    []string
	submits  int
}

func (a *stubAPI) GetExamPaper(_ context.Context, paperID string) (*model.ExamPaper, error) {
	end := epoch.Add(10 * time.Minute)
	return &model.ExamPaper{
		ID:      paperID,
		Mode:    model.PaperModeCBT,
		EndTime: &end,
		Questions: []model.Question{
			{ID: "q1", Type: model.QuestionTypeMultipleChoice, Options: []string{"A", "B", "C", "D"}},
			{ID: "q2", Type: model.QuestionTypeTrueFalse},
		},
	}, nil
}

func (a *stubAPI) StartAttempt(context.Context, string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.startErr != nil {
		return "", a.startErr
	}
	a.starts++
	return "attempt-1", nil
}

func (a *stubAPI) SaveResponse(_ context.Context, _ string, ans model.Answer) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.saves = append(a.saves, ans.QuestionID)
	return nil
}

func (a *stubAPI) SubmitAttempt(context.Context, string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.submits++
	return nil
}

type fixture struct {
	api     *stubAPI
	rdb     *redis.Client
	locks   *repository.AttemptLockRepository
	journal *eventLog
	svc     *AttemptService
}

type eventLog struct {
	mu     sync.Mutex
	events []model.AttemptEvent
}

func (l *eventLog) Publish(ev model.AttemptEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) all() []model.AttemptEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]model.AttemptEvent(nil), l.events...)
}

func testConfig() *config.Config {
	return &config.Config{
		TickInterval:    time.Second,
		AutosaveEvery:   10,
		DebounceDelay:   500 * time.Millisecond,
		SaveConcurrency: 2,
		AttemptLockTTL:  time.Minute,
		PreAttemptPath:  "/student/exams",
		ResultsPath:     "/student/results",
	}
}

func newFixture(t *testing.T, rdb *redis.Client, owner string) *fixture {
	t.Helper()
	f := &fixture{
		api:     &stubAPI{},
		rdb:     rdb,
		locks:   repository.NewAttemptLockRepository(rdb, owner, time.Minute),
		journal: &eventLog{},
	}
	newAPI := func(token string) examapi.API {
		f.api.mu.Lock()
		f.api.tokens = append(f.api.tokens, token)
		f.api.mu.Unlock()
		return f.api
	}
	f.svc = NewAttemptService(testConfig(), newAPI, f.locks, NewAttemptHub(zerolog.Nop()), f.journal, nil,
		clocktesting.NewFakeClock(epoch), zerolog.Nop())
	t.Cleanup(func() { _ = f.svc.Shutdown(context.Background()) })
	return f
}

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func (f *fixture) lockOwner(t *testing.T, key attempt.Key) string {
	t.Helper()
	owner, err := f.locks.Owner(context.Background(), key.PaperID, key.StudentID)
	require.NoError(t, err)
	return owner
}

func TestStartReentersLiveAttempt(t *testing.T) {
	f := newFixture(t, newRedis(t), "gw-a")
	key := attempt.Key{StudentID: 7, PaperID: "paper-1"}

	view, err := f.svc.Start(context.Background(), key, "token-7")
	require.NoError(t, err)
	assert.Equal(t, model.AttemptStateInProgress, view.State)
	assert.Equal(t, "attempt-1", view.AttemptID)
	assert.Equal(t, 600, view.RemainingUnits)
	require.NotNil(t, view.Paper)
	assert.Equal(t, "gw-a", f.lockOwner(t, key))

	again, err := f.svc.Start(context.Background(), key, "token-7")
	require.NoError(t, err)
	assert.Equal(t, view.AttemptID, again.AttemptID)
	assert.Equal(t, 1, f.api.starts, "re-entry must not start a second upstream attempt")
	assert.Equal(t, []string{"token-7"}, f.api.tokens)
	assert.Equal(t, 1, f.svc.Live())
}

func TestStartRejectsAttemptHeldByAnotherInstance(t *testing.T) {
	rdb := newRedis(t)
	a := newFixture(t, rdb, "gw-a")
	b := newFixture(t, rdb, "gw-b")
	key := attempt.Key{StudentID: 7, PaperID: "paper-1"}

	_, err := a.svc.Start(context.Background(), key, "token-7")
	require.NoError(t, err)

	_, err = b.svc.Start(context.Background(), key, "token-7")
	assert.ErrorIs(t, err, repository.ErrLockHeld)
	assert.Equal(t, 0, b.api.starts)
}

func TestStartFailureReleasesLock(t *testing.T) {
	f := newFixture(t, newRedis(t), "gw-a")
	f.api.startErr = &examapi.Error{Status: 503}
	key := attempt.Key{StudentID: 7, PaperID: "paper-1"}

	_, err := f.svc.Start(context.Background(), key, "token-7")
	var upErr *examapi.Error
	require.True(t, errors.As(err, &upErr))

	assert.Empty(t, f.lockOwner(t, key))
	assert.Equal(t, 0, f.svc.Live())

	_, err = f.svc.View(key, false)
	assert.ErrorIs(t, err, ErrAttemptNotFound)
}

func TestSubmitEndsAttempt(t *testing.T) {
	f := newFixture(t, newRedis(t), "gw-a")
	key := attempt.Key{StudentID: 7, PaperID: "paper-1"}

	_, err := f.svc.Start(context.Background(), key, "token-7")
	require.NoError(t, err)

	events, cancel, err := f.svc.Subscribe(key)
	require.NoError(t, err)
	defer cancel()

	view, err := f.svc.Answer(key, "q2", model.AnswerValue{Bool: boolPtr(true)})
	require.NoError(t, err)
	assert.Equal(t, 1, view.CurrentIndex)
	assert.Equal(t, []string{"q2"}, view.Answered)

	idx, err := f.svc.Navigate(key, model.NavigateRequest{Action: model.NavigatePrev})
	require.NoError(t, err)
	assert.Equal(t, 0, idx)

	view, err = f.svc.Submit(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, model.AttemptStateSubmitted, view.State)
	assert.Equal(t, []string{"q2"}, f.api.saves)
	assert.Equal(t, 1, f.api.submits)

	var submitted *model.AttemptEvent
	for submitted == nil {
		select {
		case ev := <-events:
			if ev.Kind == model.EventSubmitted {
				submitted = &ev
			}
		case <-time.After(2 * time.Second):
			t.Fatal("no submitted event")
		}
	}
	assert.Equal(t, 7, submitted.StudentID)
	assert.Equal(t, model.SubmitTriggerManual, submitted.Trigger)
	assert.Equal(t, "/student/results", submitted.Redirect)

	require.Eventually(t, func() bool {
		owner, _ := f.locks.Owner(context.Background(), key.PaperID, key.StudentID)
		return owner == "" && f.svc.Live() == 0
	}, 2*time.Second, 10*time.Millisecond)

	for _, ev := range f.journal.all() {
		assert.Equal(t, 7, ev.StudentID)
	}

	_, err = f.svc.Answer(key, "q1", model.AnswerValue{Option: intPtr(0)})
	assert.ErrorIs(t, err, ErrAttemptNotFound)
}

func TestLeaveClosesAttempt(t *testing.T) {
	f := newFixture(t, newRedis(t), "gw-a")
	key := attempt.Key{StudentID: 7, PaperID: "paper-1"}

	assert.ErrorIs(t, f.svc.Leave(key), ErrAttemptNotFound)

	_, err := f.svc.Start(context.Background(), key, "token-7")
	require.NoError(t, err)
	events, cancel, err := f.svc.Subscribe(key)
	require.NoError(t, err)
	defer cancel()
	require.NoError(t, f.svc.Leave(key))

	require.Eventually(t, func() bool {
		select {
		case _, open := <-events:
			return !open
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond, "streams end with the attempt")

	require.Eventually(t, func() bool {
		owner, _ := f.locks.Owner(context.Background(), key.PaperID, key.StudentID)
		return owner == "" && f.svc.Live() == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, f.api.submits, "leaving never submits")
}

func TestShutdownReleasesEveryLock(t *testing.T) {
	f := newFixture(t, newRedis(t), "gw-a")
	keys := []attempt.Key{{StudentID: 1, PaperID: "paper-1"}, {StudentID: 2, PaperID: "paper-1"}}
	for _, k := range keys {
		_, err := f.svc.Start(context.Background(), k, "token")
		require.NoError(t, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.svc.Shutdown(ctx))

	for _, k := range keys {
		assert.Empty(t, f.lockOwner(t, k))
	}
	assert.Equal(t, 0, f.svc.Live())
}

func intPtr(i int) *int { return &i }
func boolPtr(b bool) *bool { return &b }
