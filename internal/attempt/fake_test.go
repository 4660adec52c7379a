package attempt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/stemsi/exstem-cbt/internal/model"
)

var (
	errNetwork = errors.New("network unreachable")
	epoch      = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
)

// fakeAPI records every upstream call in order.
type fakeAPI struct {
	mu        sync.Mutex
	paper     *model.ExamPaper
	paperErr  error
	startErr  error
	submitErr error
	saveErrs  map[string]error

	calls    []string
	saves    []model.Answer
	submits  []string
	attempts int
}

func (f *fakeAPI) GetExamPaper(_ context.Context, paperID string) (*model.ExamPaper, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "paper:"+paperID)
	if f.paperErr != nil {
		return nil, f.paperErr
	}
	return f.paper, nil
}

func (f *fakeAPI) StartAttempt(_ context.Context, paperID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "start:"+paperID)
	if f.startErr != nil {
		return "", f.startErr
	}
	f.attempts++
	return "attempt-1", nil
}

func (f *fakeAPI) SaveResponse(_ context.Context, attemptID string, a model.Answer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "save:"+a.QuestionID)
	if err := f.saveErrs[a.QuestionID]; err != nil {
		return err
	}
	f.saves = append(f.saves, a)
	return nil
}

func (f *fakeAPI) SubmitAttempt(_ context.Context, attemptID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "submit:"+attemptID)
	f.submits = append(f.submits, attemptID)
	return f.submitErr
}

func (f *fakeAPI) setSubmitErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitErr = err
}

func (f *fakeAPI) savedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.saves))
	for _, a := range f.saves {
		ids = append(ids, a.QuestionID)
	}
	return ids
}

func (f *fakeAPI) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeAPI) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submits)
}

// recorder is a Sink that keeps every event.
type recorder struct {
	mu     sync.Mutex
	events []model.AttemptEvent
}

func (r *recorder) Publish(ev model.AttemptEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) ofKind(kind model.EventKind) []model.AttemptEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.AttemptEvent
	for _, ev := range r.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

// threeQuestionPaper opens at epoch and closes after the given window.
func threeQuestionPaper(window time.Duration) *model.ExamPaper {
	end := epoch.Add(window)
	return &model.ExamPaper{
		ID:      "paper-1",
		ExamID:  "exam-1",
		Subject: "Biology",
		Mode:    model.PaperModeCBT,
		EndTime: &end,
		Questions: []model.Question{
			{ID: "q1", Type: model.QuestionTypeMultipleChoice, Options: []string{"A", "B", "C", "D"}, Weight: 1},
			{ID: "q2", Type: model.QuestionTypeTrueFalse, Weight: 1},
			{ID: "q3", Type: model.QuestionTypeEssay, Weight: 3},
		},
		TotalQuestions: 3,
		MaxMarks:       5,
	}
}

type harness struct {
	api   *fakeAPI
	clock *clocktesting.FakeClock
	sink  *recorder
	sess  *Session
}

func newHarness(t *testing.T, paper *model.ExamPaper) *harness {
	t.Helper()
	h := &harness{
		api:   &fakeAPI{paper: paper, saveErrs: map[string]error{}},
		clock: clocktesting.NewFakeClock(epoch),
		sink:  &recorder{},
	}
	h.sess = NewSession(h.api, h.clock, h.sink, zerolog.Nop(), Options{
		TickInterval:    time.Second,
		AutosaveEvery:   10,
		DebounceDelay:   500 * time.Millisecond,
		SaveConcurrency: 1,
	})
	t.Cleanup(h.sess.Close)
	return h
}

func (h *harness) load(t *testing.T) {
	t.Helper()
	require.NoError(t, h.sess.Load(context.Background(), "paper-1"))
}

// tick advances n countdown units and waits for background flushes.
func (h *harness) tick(n int) {
	for i := 0; i < n; i++ {
		h.sess.Tick(context.Background())
	}
	h.sess.Wait()
}

func intp(i int) *int { return &i }
func boolp(b bool) *bool { return &b }
func strp(s string) *string { return &s }
