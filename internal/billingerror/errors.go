// Package billingerror holds the error kinds shared by the billing engine.
// Domain packages keep their own snake_case sentinels and attach one of
// these kinds so callers can branch on the kind without knowing the domain.
package billingerror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("not_found")
	ErrInvalidState   = errors.New("invalid_state")
	ErrInvalidRequest = errors.New("invalid_request")
	ErrAborted        = errors.New("aborted")
)

type kindError struct {
	kind     error
	sentinel error
}

func (e *kindError) Error() string {
	return e.sentinel.Error()
}

func (e *kindError) Unwrap() []error {
	return []error{e.sentinel, e.kind}
}

// New returns a sentinel named msg that also matches kind under errors.Is.
func New(kind error, msg string) error {
	return &kindError{kind: kind, sentinel: errors.New(msg)}
}

// Aborted marks err as a failed atomic unit. The caller must retry the
// whole unit.
func Aborted(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrAborted) || IsBusiness(err) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrAborted, err)
}

// IsBusiness reports whether err carries a non-retryable business kind.
func IsBusiness(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrInvalidRequest)
}

// Kind returns the kind carried by err, or nil.
func Kind(err error) error {
	for _, kind := range []error{ErrNotFound, ErrInvalidState, ErrInvalidRequest, ErrAborted} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
