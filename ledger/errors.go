package ledger

import (
	"errors"
	"fmt"
)

// Base error kinds. An *Error matches the sentinel of its Kind under errors.Is.
var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation error")
	ErrUpstream   = errors.New("upstream error")

	// ErrInsufficientCredits is returned by Consume when remaining credits run out.
	ErrInsufficientCredits = errors.New("insufficient credits")
)

type Kind string

const (
	KindNotFound   Kind = "not_found"
	KindValidation Kind = "validation"
	KindUpstream   Kind = "upstream"
)

// Error is a ledger failure tied to an operation and, when known, a user.
type Error struct {
	Kind   Kind
	Op     string
	UserID string
	Err    error
}

func (e *Error) Error() string {
	if e.UserID != "" {
		return fmt.Sprintf("%s failed for %s: %v", e.Op, e.UserID, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrValidation:
		return e.Kind == KindValidation
	case ErrUpstream:
		return e.Kind == KindUpstream
	}
	return errors.Is(e.Err, target)
}

func notFound(op, userID string, err error) error {
	return &Error{Kind: KindNotFound, Op: op, UserID: userID, Err: err}
}

func invalid(op, userID, format string, args ...any) error {
	return &Error{Kind: KindValidation, Op: op, UserID: userID, Err: fmt.Errorf(format, args...)}
}

func upstream(op, userID string, err error) error {
	return &Error{Kind: KindUpstream, Op: op, UserID: userID, Err: err}
}

// PartialBatchFailure reports a batch where some users failed. The batch
// itself ran to completion; Report holds every per-user result.
type PartialBatchFailure struct {
	Failed int
	Total  int
	Report any
}

func (e *PartialBatchFailure) Error() string {
	return fmt.Sprintf("%d of %d users failed", e.Failed, e.Total)
}
