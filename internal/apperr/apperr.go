// Package apperr defines the error taxonomy shared by the order orchestration
// components. Every failure that crosses a component boundary is either an
// *Error with a Kind or an unclassified error, which KindOf reports as Internal.
package apperr

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Kind classifies a failure for propagation and transport mapping.
type Kind int

const (
	// Internal is an unexpected or unclassified failure.
	Internal Kind = iota
	// NotFound means the order, customer or product does not exist.
	NotFound
	// ValidationFailed means a business rule rejected the request.
	ValidationFailed
	// StockInsufficient means a product has less stock than requested.
	StockInsufficient
	// ConcurrencyConflict means lock contention outlasted the retry budget.
	ConcurrencyConflict
	// ServiceUnavailable means a dependency is down, slow or the circuit is open.
	ServiceUnavailable
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not_found"
	case ValidationFailed:
		return "validation_failed"
	case StockInsufficient:
		return "stock_insufficient"
	case ConcurrencyConflict:
		return "concurrency_conflict"
	case ServiceUnavailable:
		return "service_unavailable"
	default:
		return "internal"
	}
}

// Machine-readable reason codes.
const (
	ReasonCustomerNotFound      = "customer_not_found"
	ReasonCustomerInactive      = "customer_inactive"
	ReasonEmptyItems            = "empty_items"
	ReasonInvalidQuantity       = "invalid_quantity"
	ReasonInvalidUnitPrice      = "invalid_unit_price"
	ReasonProductNotFound       = "product_not_found"
	ReasonInsufficientStock     = "insufficient_stock"
	ReasonTotalMismatch         = "total_mismatch"
	ReasonInvalidAmount         = "invalid_amount"
	ReasonValidationUnavailable = "validation_unavailable"
	ReasonNotCancellable        = "not_cancellable"
	ReasonBadRequest            = "bad_request"
	ReasonTimeout               = "timeout"
	ReasonThrottled             = "throttled"
	ReasonCircuitOpen           = "circuit_open"
	ReasonUpstreamError         = "upstream_error"
	ReasonLockContention        = "lock_contention"
	ReasonVersionConflict       = "version_conflict"
)

// Error is a classified failure.
type Error struct {
	Kind   Kind
	Reason string
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by Kind and, when the target sets one, by Reason.
// It lets callers write errors.Is(err, &Error{Kind: NotFound}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Reason == "" || t.Reason == e.Reason
}

// KindOf reports the Kind of the outermost classified error in err's chain.
// Unclassified errors are Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// ReasonOf reports the reason code of the outermost classified error, if any.
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}

// IsKind reports whether err is classified as k.
func IsKind(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// Retryable reports whether the failure may succeed on a later attempt.
func Retryable(err error) bool {
	switch KindOf(err) {
	case ServiceUnavailable, ConcurrencyConflict:
		return true
	default:
		return false
	}
}

// NotFoundf returns a NotFound error for the named entity.
func NotFoundf(entity string, id any) *Error {
	return &Error{
		Kind:   NotFound,
		Reason: entity + "_not_found",
		Msg:    fmt.Sprintf("%s %v not found", entity, id),
	}
}

// Validation returns a ValidationFailed error with a reason code.
func Validation(reason, msg string) *Error {
	return &Error{Kind: ValidationFailed, Reason: reason, Msg: msg}
}

// Unavailable returns a ServiceUnavailable error for target.
func Unavailable(target, reason string, cause error) *Error {
	return &Error{
		Kind:   ServiceUnavailable,
		Reason: reason,
		Msg:    target + " unavailable",
		Err:    cause,
	}
}

// Insufficient returns a StockInsufficient error naming the quantities.
func Insufficient(productID string, available, requested int) *Error {
	return &Error{
		Kind:   StockInsufficient,
		Reason: ReasonInsufficientStock,
		Msg: fmt.Sprintf("insufficient stock for product %s: available %d, requested %d",
			productID, available, requested),
	}
}

// Conflict returns a ConcurrencyConflict error for the contended key.
func Conflict(key, reason string, cause error) *Error {
	return &Error{
		Kind:   ConcurrencyConflict,
		Reason: reason,
		Msg:    fmt.Sprintf("concurrent update on %s", key),
		Err:    cause,
	}
}
