package proctor

import (
	"errors"
	"fmt"
)

// Recoverable engine errors. None of these tears down a session goroutine;
// the caller retries, shows a message, or no-ops.
var (
	// ErrDuplicateSession rejects a start while another non-terminal
	// attempt exists for the same (assessment, subject) pair.
	ErrDuplicateSession = errors.New("an attempt is already active for this assessment")

	// ErrSessionNotActive rejects writes against a terminal or submitting
	// session. Usually a late client message racing the deadline.
	ErrSessionNotActive = errors.New("session is not active")

	// ErrSessionNotFound means the session ID is unknown to this node.
	ErrSessionNotFound = errors.New("session not found")

	// ErrUnknownQuestion rejects an answer for a question that is not part
	// of the attempt's immutable question set.
	ErrUnknownQuestion = errors.New("question not part of this assessment")
)

// InvalidNavigationError reports out-of-range navigation along with the
// valid index ranges so the client can correct itself.
type InvalidNavigationError struct {
	SectionIndex  int
	QuestionIndex int
	MaxSection    int
	MaxQuestion   int
}

func (e *InvalidNavigationError) Error() string {
	return fmt.Sprintf(
		"invalid navigation to section %d question %d: valid sections [0,%d], valid questions [0,%d]",
		e.SectionIndex, e.QuestionIndex, e.MaxSection, e.MaxQuestion,
	)
}

// EligibilityDeniedError surfaces the collaborator's denial reason verbatim.
type EligibilityDeniedError struct {
	Reason string
}

func (e *EligibilityDeniedError) Error() string {
	return "eligibility denied: " + e.Reason
}

// UnknownSignalError marks a raw detector signal the classifier cannot map.
// The event is logged and dropped, never applied.
type UnknownSignalError struct {
	Type string
}

func (e *UnknownSignalError) Error() string {
	return "unknown violation signal type: " + e.Type
}
