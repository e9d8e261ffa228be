package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/npezzotti/portal-chat/internal/gateway"
	"github.com/npezzotti/portal-chat/internal/types"
)

type ApiError struct {
	StatusCode int           `json:"status_code"`
	Message    string        `json:"message"`
	Reason     string        `json:"reason,omitempty"`
	RetryAfter time.Duration `json:"-"`
	Err        error         `json:"-"`
}

func (e *ApiError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}

	return e.Message
}

func (e *ApiError) Unwrap() error {
	return e.Err
}

func lower(s string) string {
	return strings.ToLower(s)
}

func newApiError(statusCode int, err error) *ApiError {
	return &ApiError{
		StatusCode: statusCode,
		Message:    lower(http.StatusText(statusCode)),
		Err:        err,
	}
}

func NewBadRequestError() *ApiError {
	return newApiError(http.StatusBadRequest, nil)
}

func NewNotFoundError() *ApiError {
	return newApiError(http.StatusNotFound, nil)
}

func NewInternalServerError(err error) *ApiError {
	return newApiError(http.StatusInternalServerError, err)
}

func NewUnauthorizedError() *ApiError {
	return newApiError(http.StatusUnauthorized, nil)
}

func NewForbiddenError() *ApiError {
	return newApiError(http.StatusForbidden, nil)
}

func NewTooManyRequestsError(retryAfter time.Duration) *ApiError {
	e := newApiError(http.StatusTooManyRequests, nil)
	e.RetryAfter = retryAfter
	return e
}

func NewServiceUnavailableError(err error) *ApiError {
	return newApiError(http.StatusServiceUnavailable, err)
}

// errorResponse maps an error from the chat core onto the response a client
// sees. Rejected posts carry the reason so clients can tell the checks apart.
func errorResponse(err error) *ApiError {
	var apiErr *ApiError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var errResp *ApiError
	switch {
	case errors.Is(err, types.ErrUnauthorized):
		errResp = NewUnauthorizedError()
	case errors.Is(err, types.ErrPermissionDenied):
		errResp = NewForbiddenError()
	case errors.Is(err, types.ErrRateLimited):
		errResp = NewTooManyRequestsError(0)
	case errors.Is(err, types.ErrValidation):
		errResp = NewBadRequestError()
		errResp.Message = validationMessage(err)
	case errors.Is(err, types.ErrNotFound):
		errResp = NewNotFoundError()
	case errors.Is(err, types.ErrStore):
		errResp = NewServiceUnavailableError(err)
	default:
		errResp = NewInternalServerError(err)
	}

	var rejected *gateway.RejectedError
	if errors.As(err, &rejected) {
		errResp.Reason = string(rejected.Reason)
		errResp.RetryAfter = rejected.RetryAfter
	}

	return errResp
}

func validationMessage(err error) string {
	msg := err.Error()
	if i := strings.LastIndexByte(msg, '\n'); i >= 0 {
		msg = msg[i+1:]
	}
	if i := strings.LastIndex(msg, ": "); i >= 0 {
		msg = msg[i+2:]
	}
	return msg
}
