package domain

import (
	"errors"
	"fmt"

	"github.com/smallbiznis/insightdesk/pkg/db"
)

var (
	ErrInvalidFilter      = errors.New("invalid_filter")
	ErrNotFound           = errors.New("not_found")
	ErrStoreUnavailable   = errors.New("store_unavailable")
	ErrTimeout            = errors.New("timeout")
	ErrPartialAggregation = errors.New("partial_aggregation")
)

// FilterError reports bad caller input and names the offending field.
type FilterError struct {
	Field  string
	Reason string
}

func NewFilterError(field, reason string) *FilterError {
	return &FilterError{Field: field, Reason: reason}
}

func (e *FilterError) Error() string {
	return fmt.Sprintf("invalid_filter: %s: %s", e.Field, e.Reason)
}

func (e *FilterError) Is(target error) bool {
	return target == ErrInvalidFilter
}

// StoreError tags a store failure with the operation that produced it and
// one of ErrTimeout or ErrStoreUnavailable. Errors that already carry a
// caller-facing kind pass through with the operation attached.
func StoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrInvalidFilter),
		errors.Is(err, ErrTimeout),
		errors.Is(err, ErrStoreUnavailable):
		return fmt.Errorf("%s: %w", op, err)
	case db.IsTimeoutErr(err):
		return fmt.Errorf("%s: %w: %w", op, ErrTimeout, err)
	default:
		return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
	}
}

// IsRetryable reports whether a read may be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrStoreUnavailable)
}
