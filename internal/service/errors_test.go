package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStoreAndWriteErrors(t *testing.T) {
	assert.NoError(t, storeError(nil))
	assert.NoError(t, writeError(nil))

	raw := errors.New("connection refused")
	assert.ErrorIs(t, storeError(raw), ErrStoreUnavailable)
	assert.ErrorIs(t, writeError(raw), ErrStoreUnavailable)

	// 读超时只是不可用，写超时结果未知
	timeout := fmt.Errorf("exec: %w", context.DeadlineExceeded)
	assert.ErrorIs(t, storeError(timeout), ErrStoreUnavailable)
	assert.ErrorIs(t, writeError(timeout), ErrOutcomeUnknown)
	assert.ErrorIs(t, writeError(context.Canceled), ErrOutcomeUnknown)

	insufficient := &InsufficientBalanceError{Balance: 1, Requested: 2}
	assert.Same(t, insufficient, writeError(insufficient))
	assert.Equal(t, ErrForbidden, storeError(ErrForbidden))
}
