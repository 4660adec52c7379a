package handler

import (
	"errors"
	"net/http"

	"github.com/stemsi/exstem-cbt/internal/attempt"
	"github.com/stemsi/exstem-cbt/internal/examapi"
	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stemsi/exstem-cbt/internal/repository"
	"github.com/stemsi/exstem-cbt/internal/response"
	"github.com/stemsi/exstem-cbt/internal/service"
)

// attemptFailure is how an attempt error is reported to the UI.
type attemptFailure struct {
	status int
	code   response.ErrCode
	// leave is set when the UI should go back to the pre-attempt page.
	leave bool
}

// classifyAttemptError maps service, session and upstream errors to a
// response code. Load errors send the student back to the pre-attempt page.
func classifyAttemptError(err error) attemptFailure {
	var upErr *examapi.Error

	switch {
	case errors.Is(err, service.ErrAttemptNotFound):
		return attemptFailure{http.StatusNotFound, response.ErrAttemptNotFound, false}
	case errors.Is(err, service.ErrUnknownNavigation):
		return attemptFailure{http.StatusBadRequest, response.ErrInvalidPayload, false}
	case errors.Is(err, repository.ErrLockHeld):
		return attemptFailure{http.StatusConflict, response.ErrAttemptActiveElsewhere, true}

	case errors.Is(err, attempt.ErrSubmitInProgress):
		return attemptFailure{http.StatusConflict, response.ErrSubmitInProgress, false}
	case errors.Is(err, attempt.ErrNotInProgress),
		errors.Is(err, attempt.ErrClosed),
		errors.Is(err, attempt.ErrAlreadyLoaded):
		return attemptFailure{http.StatusConflict, response.ErrAttemptNotInProgress, false}
	case errors.Is(err, attempt.ErrUnknownQuestion):
		return attemptFailure{http.StatusNotFound, response.ErrUnknownQuestion, false}
	case errors.Is(err, model.ErrAnswerShape),
		errors.Is(err, model.ErrOptionOutRange),
		errors.Is(err, model.ErrUnknownType):
		return attemptFailure{http.StatusUnprocessableEntity, response.ErrInvalidAnswer, false}

	case errors.Is(err, attempt.ErrNotComputerBased),
		errors.Is(err, attempt.ErrWindowNotOpen),
		errors.Is(err, attempt.ErrWindowClosed):
		return attemptFailure{http.StatusForbidden, response.ErrExamNotAvailable, true}
	case errors.Is(err, attempt.ErrNoQuestions):
		return attemptFailure{http.StatusUnprocessableEntity, response.ErrNoQuestions, true}

	case errors.As(err, &upErr):
		switch upErr.Status {
		case http.StatusUnauthorized:
			return attemptFailure{http.StatusUnauthorized, response.ErrTokenInvalid, true}
		case http.StatusForbidden:
			return attemptFailure{http.StatusForbidden, response.ErrExamNotAvailable, true}
		case http.StatusNotFound:
			return attemptFailure{http.StatusNotFound, response.ErrNotFound, true}
		case http.StatusConflict:
			return attemptFailure{http.StatusConflict, response.ErrConflict, true}
		}
		return attemptFailure{http.StatusBadGateway, response.ErrUpstreamUnavailable, true}
	case errors.Is(err, examapi.ErrMalformedReply):
		return attemptFailure{http.StatusBadGateway, response.ErrUpstreamUnavailable, true}
	}

	return attemptFailure{http.StatusBadGateway, response.ErrUpstreamUnavailable, true}
}
