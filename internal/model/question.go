package model

import (
	"errors"
	"fmt"
)

// QuestionType enumerates the supported question kinds.
type QuestionType string

const (
	QuestionTypeMultipleChoice QuestionType = "MULTIPLE_CHOICE"
	QuestionTypeTrueFalse      QuestionType = "TRUE_FALSE"
	QuestionTypeFillInBlank    QuestionType = "FILL_IN_BLANK"
	QuestionTypeEssay          QuestionType = "ESSAY"
)

// Debounced reports whether answers of this type are typed text that should
// only be committed once the student stops typing.
func (t QuestionType) Debounced() bool {
	return t == QuestionTypeFillInBlank || t == QuestionTypeEssay
}

// Question is a single question of an exam paper, read-only during an attempt.
type Question struct {
	ID              string       `json:"id"`
	Type            QuestionType `json:"type"`
	Prompt          string       `json:"prompt"`
	Options         []string     `json:"options,omitempty"`
	MultipleAnswers bool         `json:"multiple_answers,omitempty"`
	Weight          float64      `json:"weight"`
}

// Answer shape errors.
var (
	ErrAnswerShape    = errors.New("answer does not match question type")
	ErrOptionOutRange = errors.New("selected option is out of range")
	ErrUnknownType    = errors.New("unknown question type")
)

// Validate checks that v carries the value shape this question expects.
func (q *Question) Validate(v AnswerValue) error {
	switch q.Type {
	case QuestionTypeMultipleChoice:
		if v.Bool != nil || v.Text != nil {
			return ErrAnswerShape
		}
		if q.MultipleAnswers {
			if v.Option != nil || len(v.Options) == 0 {
				return ErrAnswerShape
			}
			seen := make(map[int]struct{}, len(v.Options))
			for _, o := range v.Options {
				if err := q.checkOption(o); err != nil {
					return err
				}
				if _, dup := seen[o]; dup {
					return fmt.Errorf("%w: option %d selected twice", ErrAnswerShape, o)
				}
				seen[o] = struct{}{}
			}
			return nil
		}
		if v.Option == nil || len(v.Options) > 0 {
			return ErrAnswerShape
		}
		return q.checkOption(*v.Option)

	case QuestionTypeTrueFalse:
		if v.Bool == nil || v.Option != nil || len(v.Options) > 0 || v.Text != nil {
			return ErrAnswerShape
		}
		return nil

	case QuestionTypeFillInBlank, QuestionTypeEssay:
		if v.Text == nil || v.Option != nil || len(v.Options) > 0 || v.Bool != nil {
			return ErrAnswerShape
		}
		return nil

	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, q.Type)
	}
}

func (q *Question) checkOption(o int) error {
	if o < 0 || o >= len(q.Options) {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrOptionOutRange, o, len(q.Options))
	}
	return nil
}
