package model

// AnswerValue holds a student's answer. Exactly one field is set, depending on
// the question type: Option or Options for multiple choice, Bool for
// true/false, Text for fill-in-blank and essay.
type AnswerValue struct {
	Option  *int    `json:"option,omitempty"`
	Options []int   `json:"options,omitempty"`
	Bool    *bool   `json:"bool,omitempty"`
	Text    *string `json:"text,omitempty"`
}

// Answer is an answer keyed by its question.
type Answer struct {
	QuestionID string      `json:"question_id"`
	Value      AnswerValue `json:"value"`
}

// SaveAnswerRequest is the payload for answering a question through the gateway.
type SaveAnswerRequest struct {
	Value *AnswerValue `json:"value" binding:"required"`
}

// Navigation actions.
const (
	NavigateNext = "next"
	NavigatePrev = "prev"
	NavigateGoTo = "goto"
)

// NavigateRequest moves the current question pointer.
type NavigateRequest struct {
	Action string `json:"action" binding:"required,oneof=next prev goto"`
	Index  int    `json:"index" binding:"min=0"`
}
