package domain

import "errors"

// Kind classifies an error for callers; transports map it to their own codes.
type Kind string

const (
	KindUnauthorized   Kind = "unauthorized"
	KindNotFound       Kind = "not_found"
	KindInvalidInput   Kind = "invalid_input"
	KindInvalidState   Kind = "invalid_state"
	KindStorageFailure Kind = "storage_failure"
)

// Error carries a Kind plus a message and an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

var (
	// ErrUnauthorized is returned for a missing or invalid credential.
	ErrUnauthorized = newError(KindUnauthorized, "unauthorized")
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = newError(KindNotFound, "quiz not found")
	// ErrAttemptNotFound is returned when the attempt is absent or owned by someone else.
	ErrAttemptNotFound = newError(KindNotFound, "attempt not found")
	// ErrAttemptClosed is returned when submitting an attempt that was already scored.
	ErrAttemptClosed = newError(KindInvalidState, "attempt already completed")
	ErrNoAnswers     = newError(KindInvalidInput, "no answers submitted")
	ErrInvalidID     = newError(KindInvalidInput, "identifiers must be positive")
	// ErrDuplicateQuestion is returned when a submission answers the same question twice.
	ErrDuplicateQuestion   = newError(KindInvalidInput, "question answered more than once")
	ErrQuestionNotInQuiz   = newError(KindInvalidInput, "question does not belong to quiz")
	ErrAnswerNotInQuestion = newError(KindInvalidInput, "answer does not belong to question")
)

// StorageFailure wraps a store error. Errors that already carry a Kind pass through.
func StorageFailure(op string, err error) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return err
	}
	return &Error{Kind: KindStorageFailure, Message: op, Err: err}
}

// KindOf classifies err. Anything without a Kind, including context
// cancellation, is a storage failure.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindStorageFailure
}

// Message returns the caller-facing message for err.
func Message(err error) string {
	var de *Error
	if errors.As(err, &de) && de.Kind != KindStorageFailure {
		return de.Message
	}
	return "storage failure"
}
