package domain

import "fmt"

// SubmissionStatus is the closed set of judging states.
type SubmissionStatus string

const (
	StatusPending          SubmissionStatus = "pending"
	StatusAccepted         SubmissionStatus = "accepted"
	StatusWrongAnswer      SubmissionStatus = "wrong_answer"
	StatusRuntimeError     SubmissionStatus = "runtime_error"
	StatusTimeLimit        SubmissionStatus = "time_limit"
	StatusCompilationError SubmissionStatus = "compilation_error"
	StatusPartial          SubmissionStatus = "partial"
)

// TerminalStatuses lists every status a pending submission may move to.
var TerminalStatuses = []SubmissionStatus{
	StatusAccepted,
	StatusWrongAnswer,
	StatusRuntimeError,
	StatusTimeLimit,
	StatusCompilationError,
	StatusPartial,
}

func (s SubmissionStatus) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusWrongAnswer, StatusRuntimeError,
		StatusTimeLimit, StatusCompilationError, StatusPartial:
		return true
	}
	return false
}

// Terminal reports whether no further transition is legal.
func (s SubmissionStatus) Terminal() bool {
	switch s {
	case StatusAccepted, StatusWrongAnswer, StatusRuntimeError,
		StatusTimeLimit, StatusCompilationError, StatusPartial:
		return true
	case StatusPending:
		return false
	}
	return false
}

// Label is the human readable name shown on judge pages.
func (s SubmissionStatus) Label() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusAccepted:
		return "Accepted"
	case StatusWrongAnswer:
		return "Wrong Answer"
	case StatusRuntimeError:
		return "Runtime Error"
	case StatusTimeLimit:
		return "Time Limit Exceeded"
	case StatusCompilationError:
		return "Compilation Error"
	case StatusPartial:
		return "Partial Score"
	}
	return string(s)
}

// ParseStatus converts a wire value into a known status.
func ParseStatus(raw string) (SubmissionStatus, error) {
	s := SubmissionStatus(raw)
	if !s.Valid() {
		return "", Validationf("unknown submission status %q", raw)
	}
	return s, nil
}

// Transition checks that from -> to is a legal move of the judging state machine.
func Transition(from, to SubmissionStatus) error {
	if !from.Valid() || !to.Valid() {
		return fmt.Errorf("%w: %q -> %q", ErrInvalidTransition, from, to)
	}
	if from.Terminal() {
		return fmt.Errorf("%w: %q is terminal", ErrInvalidTransition, from)
	}
	if !to.Terminal() {
		return fmt.Errorf("%w: %q is not a verdict", ErrInvalidTransition, to)
	}
	return nil
}
