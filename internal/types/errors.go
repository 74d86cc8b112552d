package types

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies failures reported by the remote collaborator.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	// KindTransientNetwork is retried with backoff.
	KindTransientNetwork
	// KindPermanentGap means the server confirmed the range does not exist.
	KindPermanentGap
	// KindResourceUnavailable is a terminal fetch failure.
	KindResourceUnavailable
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransientNetwork:
		return "transient_network"
	case KindPermanentGap:
		return "permanent_gap"
	case KindResourceUnavailable:
		return "resource_unavailable"
	default:
		return "unknown"
	}
}

var (
	ErrTransientNetwork    = errors.New("transient network failure")
	ErrPermanentGap        = errors.New("range does not exist remotely")
	ErrResourceUnavailable = errors.New("resource unavailable")
)

// FetchError carries the kind of a remote failure together with its cause.
type FetchError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

// NewFetchError wraps err with kind. Op names the failing operation.
func NewFetchError(kind ErrorKind, op string, err error) *FetchError {
	return &FetchError{Kind: kind, Op: op, Err: err}
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's kind.
func (e *FetchError) Is(target error) bool {
	switch target {
	case ErrTransientNetwork:
		return e.Kind == KindTransientNetwork
	case ErrPermanentGap:
		return e.Kind == KindPermanentGap
	case ErrResourceUnavailable:
		return e.Kind == KindResourceUnavailable
	}
	return false
}

// KindOf classifies err. Deadline expiry counts as transient; cancellation
// and unclassified errors are KindUnknown.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		return fetchErr.Kind
	}
	switch {
	case errors.Is(err, ErrTransientNetwork), errors.Is(err, context.DeadlineExceeded):
		return KindTransientNetwork
	case errors.Is(err, ErrPermanentGap):
		return KindPermanentGap
	case errors.Is(err, ErrResourceUnavailable):
		return KindResourceUnavailable
	}
	return KindUnknown
}
