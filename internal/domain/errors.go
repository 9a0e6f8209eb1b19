package domain

import (
	"errors"
	"fmt"
)

// Kind classifies failures so transports can map them to responses.
type Kind uint8

const (
	KindInternal Kind = iota
	KindValidation
	KindConflict
	KindPrecondition
	KindNotFound
	KindIntegrity
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindPrecondition:
		return "precondition"
	case KindNotFound:
		return "not_found"
	case KindIntegrity:
		return "integrity"
	default:
		return "internal"
	}
}

// Error is a classified domain failure. Sentinels are compared by identity.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func newError(kind Kind, msg string) *Error { return &Error{Kind: kind, Msg: msg} }

var (
	// ErrAlreadyJudged is returned when a verdict targets a non-pending submission.
	ErrAlreadyJudged = newError(KindConflict, "submission already judged")
	// ErrAlreadyFinalized is returned when a contest has already been finalized.
	ErrAlreadyFinalized = newError(KindConflict, "contest already finalized")
	// ErrDuplicateAttempt indicates a concurrent submit claimed the same attempt number.
	ErrDuplicateAttempt = newError(KindConflict, "duplicate attempt")
	// ErrDuplicateCoder indicates a nickname or display name is taken.
	ErrDuplicateCoder = newError(KindConflict, "coder nickname or display name already taken")
	// ErrDuplicateProblem indicates the problem code is already used in the contest.
	ErrDuplicateProblem = newError(KindConflict, "problem code already used in contest")

	// ErrScoreOutOfRange indicates a verdict score outside [0, max_score].
	ErrScoreOutOfRange = newError(KindValidation, "score out of range")
	// ErrInvalidTransition indicates an illegal submission status change.
	ErrInvalidTransition = newError(KindValidation, "invalid submission status transition")

	// ErrContestNotEnded is returned when finalizing before end_date.
	ErrContestNotEnded = newError(KindPrecondition, "contest has not ended")
	// ErrContestNotOpen is returned when submitting outside the contest window.
	ErrContestNotOpen = newError(KindPrecondition, "contest is not open for submissions")
	// ErrContestNotStarted is returned when closing a contest that has not started.
	ErrContestNotStarted = newError(KindPrecondition, "contest has not started")
	// ErrContestFinalized is returned when judging a submission of a finalized contest.
	ErrContestFinalized = newError(KindPrecondition, "contest is finalized")

	ErrCoderNotFound      = newError(KindNotFound, "coder not found")
	ErrContestNotFound    = newError(KindNotFound, "contest not found")
	ErrProblemNotFound    = newError(KindNotFound, "problem not found")
	ErrSubmissionNotFound = newError(KindNotFound, "submission not found")

	// ErrLedgerMismatch means a coder's rating disagrees with its rating history.
	ErrLedgerMismatch = newError(KindIntegrity, "rating ledger inconsistent with coder rating")
)

// Validationf builds an ad-hoc validation error.
func Validationf(format string, args ...any) error {
	return newError(KindValidation, fmt.Sprintf(format, args...))
}

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// IsIdempotent reports whether err is a safe-to-ignore repeat of a completed action.
func IsIdempotent(err error) bool {
	return errors.Is(err, ErrAlreadyJudged) || errors.Is(err, ErrAlreadyFinalized)
}
