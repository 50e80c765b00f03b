package apperr

import (
	"context"
	"fmt"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "not found", err: NotFoundf("order", 42), want: NotFound},
		{name: "wrapped validation", err: errors.Wrap(Validation(ReasonEmptyItems, "no items"), "create"), want: ValidationFailed},
		{name: "fmt wrapped insufficient", err: fmt.Errorf("deduct: %w", Insufficient("p1", 1, 2)), want: StockInsufficient},
		{name: "conflict", err: Conflict("p1", ReasonLockContention, nil), want: ConcurrencyConflict},
		{name: "unavailable", err: Unavailable("customer-service", ReasonTimeout, context.DeadlineExceeded), want: ServiceUnavailable},
		{name: "plain error", err: errors.New("boom"), want: Internal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestErrorIs(t *testing.T) {
	err := errors.Wrap(Validation(ReasonTotalMismatch, "total mismatch"), "validate")

	assert.True(t, errors.Is(err, &Error{Kind: ValidationFailed}))
	assert.True(t, errors.Is(err, &Error{Kind: ValidationFailed, Reason: ReasonTotalMismatch}))
	assert.False(t, errors.Is(err, &Error{Kind: ValidationFailed, Reason: ReasonEmptyItems}))
	assert.False(t, errors.Is(err, &Error{Kind: NotFound}))
}

func TestUnavailableUnwrapsCause(t *testing.T) {
	err := Unavailable("product-service", ReasonTimeout, context.DeadlineExceeded)

	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, ReasonTimeout, ReasonOf(err))
	assert.Contains(t, err.Error(), "product-service unavailable")
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(Unavailable("x", ReasonUpstreamError, nil)))
	assert.True(t, Retryable(Conflict("p1", ReasonVersionConflict, nil)))
	assert.False(t, Retryable(NotFoundf("product", "p1")))
	assert.False(t, Retryable(Insufficient("p1", 0, 1)))
	assert.False(t, Retryable(errors.New("boom")))
}

func TestInsufficientMessage(t *testing.T) {
	err := Insufficient("p1", 2, 5)
	assert.Equal(t, "insufficient stock for product p1: available 2, requested 5", err.Error())
}
