package appointment

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound              = errors.New("appointment not found")
	ErrAlreadyFinalized      = errors.New("appointment already completed or cancelled")
	ErrInvalidTransition     = errors.New("transition not allowed from current status")
	ErrInvalidCandidateIndex = errors.New("chosen candidate index out of range")
	ErrOverpaymentRejected   = errors.New("payment would exceed the appointment price")
)

// ValidationError reports malformed input on propose or respond. Callers map
// it to a user-facing message, so Field and Reason are specific.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
