package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-cbt/internal/attempt"
	"github.com/stemsi/exstem-cbt/internal/middleware"
	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stemsi/exstem-cbt/internal/response"
	"github.com/stemsi/exstem-cbt/internal/service"
	"github.com/stemsi/exstem-cbt/internal/validator"
)

// AttemptHandler exposes the student's exam attempt over REST.
type AttemptHandler struct {
	attempts       *service.AttemptService
	preAttemptPath string
	log            zerolog.Logger
}

// NewAttemptHandler creates a new AttemptHandler.
func NewAttemptHandler(attempts *service.AttemptService, preAttemptPath string, log zerolog.Logger) *AttemptHandler {
	return &AttemptHandler{
		attempts:       attempts,
		preAttemptPath: preAttemptPath,
		log:            log.With().Str("component", "attempt_handler").Logger(),
	}
}

// StartAttempt godoc
// POST /api/v1/student/papers/:paper_id/attempt
// Fetches the paper, starts the upstream attempt and the countdown.
// Idempotent: an attempt already live in this instance is returned as-is.
func (h *AttemptHandler) StartAttempt(c *gin.Context) {
	key, ok := h.attemptKey(c)
	if !ok {
		return
	}

	view, err := h.attempts.Start(c.Request.Context(), key, middleware.GetToken(c))
	if err != nil {
		h.fail(c, key, err)
		return
	}

	response.Success(c, http.StatusOK, view)
}

// GetAttempt godoc
// GET /api/v1/student/papers/:paper_id/attempt?include=paper
// Covers page reloads: remaining time, answered questions and focus.
func (h *AttemptHandler) GetAttempt(c *gin.Context) {
	key, ok := h.attemptKey(c)
	if !ok {
		return
	}

	view, err := h.attempts.View(key, c.Query("include") == "paper")
	if err != nil {
		h.fail(c, key, err)
		return
	}

	response.Success(c, http.StatusOK, view)
}

// SaveAnswer godoc
// PUT /api/v1/student/papers/:paper_id/attempt/answers/:question_id
// Records an answer locally; it reaches the exam backend with the next autosave.
func (h *AttemptHandler) SaveAnswer(c *gin.Context) {
	key, ok := h.attemptKey(c)
	if !ok {
		return
	}

	questionID := c.Param("question_id")
	if !validator.ValidID(questionID) {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.SaveAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	view, err := h.attempts.Answer(key, questionID, *req.Value)
	if err != nil {
		h.fail(c, key, err)
		return
	}

	response.Success(c, http.StatusOK, view)
}

// Navigate godoc
// POST /api/v1/student/papers/:paper_id/attempt/navigate
func (h *AttemptHandler) Navigate(c *gin.Context) {
	key, ok := h.attemptKey(c)
	if !ok {
		return
	}

	var req model.NavigateRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	index, err := h.attempts.Navigate(key, req)
	if err != nil {
		h.fail(c, key, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"current_index": index})
}

// SubmitAttempt godoc
// POST /api/v1/student/papers/:paper_id/attempt/submit
// Flushes pending answers and finalizes the attempt. A failed submit leaves
// the attempt open so the student can retry.
func (h *AttemptHandler) SubmitAttempt(c *gin.Context) {
	key, ok := h.attemptKey(c)
	if !ok {
		return
	}

	view, err := h.attempts.Submit(c.Request.Context(), key)
	if err != nil {
		if !isSessionError(err) {
			h.log.Warn().Err(err).
				Int("student_id", key.StudentID).
				Str("paper_id", key.PaperID).
				Msg("Submit failed")
			response.Fail(c, http.StatusBadGateway, response.ErrSubmitFailed)
			return
		}
		h.fail(c, key, err)
		return
	}

	response.Success(c, http.StatusOK, view)
}

// LeaveAttempt godoc
// DELETE /api/v1/student/papers/:paper_id/attempt
// Called when the student leaves the exam page. Stops the countdown without
// submitting.
func (h *AttemptHandler) LeaveAttempt(c *gin.Context) {
	key, ok := h.attemptKey(c)
	if !ok {
		return
	}

	if err := h.attempts.Leave(key); err != nil {
		h.fail(c, key, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// attemptKey resolves the student and paper for the request, writing the
// error response itself when it cannot.
func (h *AttemptHandler) attemptKey(c *gin.Context) (attempt.Key, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return attempt.Key{}, false
	}

	paperID := c.Param("paper_id")
	if !validator.ValidID(paperID) {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return attempt.Key{}, false
	}

	return attempt.Key{StudentID: claims.UserID, PaperID: paperID}, true
}

func (h *AttemptHandler) fail(c *gin.Context, key attempt.Key, err error) {
	f := classifyAttemptError(err)
	if f.status >= http.StatusInternalServerError {
		h.log.Error().Err(err).
			Int("student_id", key.StudentID).
			Str("paper_id", key.PaperID).
			Msg("Attempt request failed")
	}
	if f.leave {
		response.FailWithRedirect(c, f.status, f.code, h.preAttemptPath)
		return
	}
	response.Fail(c, f.status, f.code)
}

// isSessionError reports errors raised by the session itself rather than by
// a call to the exam backend.
func isSessionError(err error) bool {
	return errors.Is(err, service.ErrAttemptNotFound) ||
		errors.Is(err, attempt.ErrSubmitInProgress) ||
		errors.Is(err, attempt.ErrNotInProgress) ||
		errors.Is(err, attempt.ErrClosed)
}
