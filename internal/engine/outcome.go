package engine

import (
	"errors"

	"invoicer/internal/invoice"
)

// Outcome is what a mutation hands back to the router: either navigate
// somewhere (Redirect) or re-render the form with a new State.
type Outcome interface {
	isOutcome()
}

// Redirect ends the request by sending the client to Path.
type Redirect struct {
	Path string
}

// StateUpdate carries the form state to render. A zero StateUpdate is a
// success that needs no navigation.
type StateUpdate struct {
	State   State
	Failure Failure
}

func (Redirect) isOutcome()    {}
func (StateUpdate) isOutcome() {}

// Failure says which stage of a mutation failed.
type Failure int

const (
	FailureNone Failure = iota
	FailureValidation
	FailurePersistence
)

func (f Failure) String() string {
	switch f {
	case FailureValidation:
		return "validation"
	case FailurePersistence:
		return "persistence"
	default:
		return "none"
	}
}

// State is the form state returned to the client. Errors is only set for
// validation failures.
type State struct {
	Errors  invoice.FieldErrors `json:"errors,omitempty"`
	Message string              `json:"message,omitempty"`
}

// Empty reports whether the state carries neither errors nor a message.
func (s State) Empty() bool {
	return len(s.Errors) == 0 && s.Message == ""
}

func fieldErrorsOf(err error) (invoice.FieldErrors, bool) {
	var verr *invoice.ValidationError
	if errors.As(err, &verr) {
		return verr.Fields, true
	}
	return nil, false
}
