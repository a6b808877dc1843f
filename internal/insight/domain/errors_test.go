package domain

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestStoreError(t *testing.T) {
	err := StoreError("scan all", context.DeadlineExceeded)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "scan all")

	err = StoreError("count", &pgconn.PgError{Code: "08006"})
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	err = StoreError("find", errors.New("boom"))
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.True(t, IsRetryable(err))

	err = StoreError("regenerate", ErrNotFound)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, IsRetryable(err))

	assert.Nil(t, StoreError("noop", nil))
}
