package gateway

import (
	"fmt"
	"time"

	"github.com/npezzotti/portal-chat/internal/types"
)

// Reason tells a client which check rejected its post.
type Reason string

const (
	ReasonRateLimited      Reason = "rate_limited"
	ReasonBanned           Reason = "banned"
	ReasonInvalidSession   Reason = "invalid_session"
	ReasonValidationFailed Reason = "validation_failed"
	ReasonStoreError       Reason = "store_error"
)

var reasonKinds = map[Reason]error{
	ReasonRateLimited:      types.ErrRateLimited,
	ReasonBanned:           types.ErrPermissionDenied,
	ReasonInvalidSession:   types.ErrUnauthorized,
	ReasonValidationFailed: types.ErrValidation,
	ReasonStoreError:       types.ErrStore,
}

// State is a step of the post pipeline.
type State int

const (
	StateReceived State = iota
	StateRateChecked
	StateBanChecked
	StatePersisted
	StateBroadcast
	StateDone
)

func (s State) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StateRateChecked:
		return "rate_checked"
	case StateBanChecked:
		return "ban_checked"
	case StatePersisted:
		return "persisted"
	case StateBroadcast:
		return "broadcast"
	case StateDone:
		return "done"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// RejectedError is the terminal outcome of a post that failed a check.
// errors.Is matches it against the types error kind for its reason.
type RejectedError struct {
	Reason Reason
	// Reached is the last state the post passed before it was rejected.
	Reached    State
	RetryAfter time.Duration
	Err        error
}

func (e *RejectedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("post rejected (%s): %s", e.Reason, e.Err.Error())
	}
	return fmt.Sprintf("post rejected (%s)", e.Reason)
}

func (e *RejectedError) Unwrap() []error {
	errs := []error{reasonKinds[e.Reason]}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func reject(reason Reason, reached State, err error) *RejectedError {
	return &RejectedError{Reason: reason, Reached: reached, Err: err}
}
