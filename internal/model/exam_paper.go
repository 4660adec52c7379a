package model

import (
	"time"
)

// PaperMode distinguishes computer-based from paper-based papers.
type PaperMode string

const (
	PaperModeCBT PaperMode = "CBT"
	PaperModePBT PaperMode = "PBT"
)

// ExamPaper is the paper a student sits. It is treated as immutable once an
// attempt has started.
type ExamPaper struct {
	ID              string     `json:"id"`
	ExamID          string     `json:"exam_id"`
	Subject         string     `json:"subject"`
	Questions       []Question `json:"questions"`
	StartTime       *time.Time `json:"start_time,omitempty"`
	EndTime         *time.Time `json:"end_time,omitempty"`
	DurationMinutes int        `json:"duration_minutes,omitempty"`
	MaxMarks        float64    `json:"max_marks"`
	TotalQuestions  int        `json:"total_questions"`
	Mode            PaperMode  `json:"mode"`
	Instructions    string     `json:"instructions,omitempty"`
}

// Question returns the question with the given id and its position.
func (p *ExamPaper) Question(id string) (*Question, int, bool) {
	for i := range p.Questions {
		if p.Questions[i].ID == id {
			return &p.Questions[i], i, true
		}
	}
	return nil, -1, false
}

// TimeLeft returns how long a student starting at now may work on the paper.
// The duration and the window end both bound it; whichever is earlier wins.
// A zero or negative result means the window is already closed.
func (p *ExamPaper) TimeLeft(now time.Time) time.Duration {
	var left time.Duration
	bounded := false

	if p.DurationMinutes > 0 {
		left = time.Duration(p.DurationMinutes) * time.Minute
		bounded = true
	}
	if p.EndTime != nil {
		untilEnd := p.EndTime.Sub(now)
		if !bounded || untilEnd < left {
			left = untilEnd
		}
		bounded = true
	}
	if !bounded {
		return 0
	}
	return left
}

// Opened reports whether the paper's window has started at now.
func (p *ExamPaper) Opened(now time.Time) bool {
	return p.StartTime == nil || !now.Before(*p.StartTime)
}
