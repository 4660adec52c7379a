package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestQuestionValidate(t *testing.T) {
	one, five := 1, 5
	yes := true
	text := "osmosis"

	single := Question{ID: "q1", Type: QuestionTypeMultipleChoice, Options: []string{"a", "b", "c"}}
	multi := Question{ID: "q2", Type: QuestionTypeMultipleChoice, Options: []string{"a", "b", "c"}, MultipleAnswers: true}
	tf := Question{ID: "q3", Type: QuestionTypeTrueFalse}
	blank := Question{ID: "q4", Type: QuestionTypeFillInBlank}
	essay := Question{ID: "q5", Type: QuestionTypeEssay}

	tests := []struct {
		name string
		q    Question
		v    AnswerValue
		want error
	}{
		{"single choice", single, AnswerValue{Option: &one}, nil},
		{"single choice out of range", single, AnswerValue{Option: &five}, ErrOptionOutRange},
		{"single choice given many", single, AnswerValue{Options: []int{0, 1}}, ErrAnswerShape},
		{"single choice given text", single, AnswerValue{Option: &one, Text: &text}, ErrAnswerShape},
		{"multi choice", multi, AnswerValue{Options: []int{0, 2}}, nil},
		{"multi choice duplicate", multi, AnswerValue{Options: []int{2, 2}}, ErrAnswerShape},
		{"multi choice out of range", multi, AnswerValue{Options: []int{0, 3}}, ErrOptionOutRange},
		{"multi choice empty", multi, AnswerValue{}, ErrAnswerShape},
		{"true false", tf, AnswerValue{Bool: &yes}, nil},
		{"true false given option", tf, AnswerValue{Option: &one}, ErrAnswerShape},
		{"fill in blank", blank, AnswerValue{Text: &text}, nil},
		{"essay", essay, AnswerValue{Text: &text}, nil},
		{"essay given bool", essay, AnswerValue{Bool: &yes}, ErrAnswerShape},
		{"unknown type", Question{Type: "MATCHING"}, AnswerValue{Text: &text}, ErrUnknownType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.q.Validate(tt.v)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestQuestionTypeDebounced(t *testing.T) {
	assert.True(t, QuestionTypeEssay.Debounced())
	assert.True(t, QuestionTypeFillInBlank.Debounced())
	assert.False(t, QuestionTypeMultipleChoice.Debounced())
	assert.False(t, QuestionTypeTrueFalse.Debounced())
}

func TestExamPaperTimeLeft(t *testing.T) {
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	later := now.Add(30 * time.Minute)
	earlier := now.Add(-time.Minute)

	tests := []struct {
		name  string
		paper ExamPaper
		want  time.Duration
	}{
		{"duration only", ExamPaper{DurationMinutes: 90}, 90 * time.Minute},
		{"end only", ExamPaper{EndTime: &later}, 30 * time.Minute},
		{"end before duration", ExamPaper{DurationMinutes: 90, EndTime: &later}, 30 * time.Minute},
		{"duration before end", ExamPaper{DurationMinutes: 10, EndTime: &later}, 10 * time.Minute},
		{"ended", ExamPaper{DurationMinutes: 10, EndTime: &earlier}, -time.Minute},
		{"unbounded", ExamPaper{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.paper.TimeLeft(now))
		})
	}
}

func TestExamPaperQuestionLookup(t *testing.T) {
	p := ExamPaper{Questions: []Question{{ID: "a"}, {ID: "b"}}}

	q, idx, ok := p.Question("b")
	assert.True(t, ok)
	assert.Equal(t, 1, idx)
	assert.Equal(t, "b", q.ID)

	_, idx, ok = p.Question("z")
	assert.False(t, ok)
	assert.Equal(t, -1, idx)
}
