// Package examapi is the client for the upstream exam backend that owns exam
// papers, attempts and persisted responses.
package examapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stemsi/exstem-cbt/internal/response"
)

// API is the set of upstream operations an attempt session consumes.
type API interface {
	GetExamPaper(ctx context.Context, paperID string) (*model.ExamPaper, error)
	StartAttempt(ctx context.Context, paperID string) (string, error)
	SaveResponse(ctx context.Context, attemptID string, answer model.Answer) error
	SubmitAttempt(ctx context.Context, attemptID string) error
}

// Error is a non-2xx reply from the upstream backend.
type Error struct {
	Status  int
	Code    response.ErrCode
	Message string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("upstream %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("upstream %d", e.Status)
}

// ErrMalformedReply is returned when a 2xx reply cannot be decoded.
var ErrMalformedReply = errors.New("malformed upstream reply")

// envelope mirrors response.Response with a typed data field.
type envelope[T any] struct {
	Data  T                   `json:"data"`
	Error *response.ErrorBody `json:"error,omitempty"`
}

type startAttemptData struct {
	AttemptID string `json:"attempt_id"`
}

type saveResponseBody struct {
	Answer model.AnswerValue `json:"answer"`
}

// Client talks to the upstream exam backend over HTTP.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a Client rooted at baseURL (e.g. http://host/api/v1).
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// WithToken returns a copy of the client that authenticates as the given student.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

// GetExamPaper fetches a paper with its questions.
func (c *Client) GetExamPaper(ctx context.Context, paperID string) (*model.ExamPaper, error) {
	var env envelope[*model.ExamPaper]
	if err := c.do(ctx, http.MethodGet, "/exam-papers/"+url.PathEscape(paperID), nil, &env); err != nil {
		return nil, fmt.Errorf("get exam paper: %w", err)
	}
	if env.Data == nil {
		return nil, fmt.Errorf("get exam paper: %w", ErrMalformedReply)
	}
	return env.Data, nil
}

// StartAttempt creates the server-side attempt and returns its identifier.
func (c *Client) StartAttempt(ctx context.Context, paperID string) (string, error) {
	var env envelope[startAttemptData]
	if err := c.do(ctx, http.MethodPost, "/exam-papers/"+url.PathEscape(paperID)+"/attempts", nil, &env); err != nil {
		return "", fmt.Errorf("start attempt: %w", err)
	}
	if env.Data.AttemptID == "" {
		return "", fmt.Errorf("start attempt: %w", ErrMalformedReply)
	}
	return env.Data.AttemptID, nil
}

// SaveResponse persists one answer. The upstream treats it as idempotent per
// (attempt, question).
func (c *Client) SaveResponse(ctx context.Context, attemptID string, answer model.Answer) error {
	path := "/attempts/" + url.PathEscape(attemptID) + "/responses/" + url.PathEscape(answer.QuestionID)
	if err := c.do(ctx, http.MethodPut, path, saveResponseBody{Answer: answer.Value}, nil); err != nil {
		return fmt.Errorf("save response %s: %w", answer.QuestionID, err)
	}
	return nil
}

// SubmitAttempt finalizes the attempt.
func (c *Client) SubmitAttempt(ctx context.Context, attemptID string) error {
	if err := c.do(ctx, http.MethodPost, "/attempts/"+url.PathEscape(attemptID)+"/submit", nil, nil); err != nil {
		return fmt.Errorf("submit attempt: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(response.HeaderRequestID, response.RequestIDFrom(ctx))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		upErr := &Error{Status: resp.StatusCode}
		var env envelope[json.RawMessage]
		if json.NewDecoder(resp.Body).Decode(&env) == nil && env.Error != nil {
			upErr.Code = env.Error.Code
			upErr.Message = env.Error.Message
		}
		return upErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}
	return nil
}
