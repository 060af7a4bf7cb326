package orders

import (
	"fmt"
	"github.com/pkg/errors"
)

var (
	ErrValidation           = errors.New("validation failed")
	ErrInsufficientStock    = errors.New("insufficient stock")
	ErrReservationFailed    = errors.New("reservation failed, rolled back")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrInvalidState         = errors.New("invalid state")
	ErrNotFound             = errors.New("not found")
	ErrPaymentFailed        = errors.New("payment failed")
	ErrSettlementDivergence = errors.New("settlement divergence between cache and durable stock")
	ErrPublishFailed        = errors.New("event publish failed")
)

var (
	ErrOrderNotFound    = &notFoundError{entity: "order"}
	ErrDeliveryNotFound = &notFoundError{entity: "delivery"}
	ErrProductNotFound  = &notFoundError{entity: "product"}
)

type notFoundError struct{ entity string }

func (e *notFoundError) Error() string        { return e.entity + " not found" }
func (e *notFoundError) Is(target error) bool { return target == ErrNotFound }

// Validation builds an error that matches ErrValidation.
func Validation(format string, args ...any) error {
	return errors.Wrap(ErrValidation, fmt.Sprintf(format, args...))
}

// ValidateQuantity rejects non-positive quantities before any side effect.
func ValidateQuantity(qty int) error {
	if qty <= 0 {
		return Validation("quantity must be positive, got %d", qty)
	}
	return nil
}

type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s -> %s", e.From, e.To)
}

func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// DivergenceError is raised by sale confirmation when the durable stock cannot
// cover a reservation the fast view already granted.
type DivergenceError struct {
	ProductID    string
	DurableStock int
	Requested    int
}

func (e *DivergenceError) Error() string {
	return fmt.Sprintf("durable stock %d below requested %d for product %s, fast view resynced",
		e.DurableStock, e.Requested, e.ProductID)
}

func (e *DivergenceError) Is(target error) bool {
	return target == ErrSettlementDivergence || target == ErrInsufficientStock
}

// Reason renders err as a client-visible message. Unknown errors are masked.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrInsufficientStock),
		errors.Is(err, ErrReservationFailed),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrInvalidState),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrPaymentFailed):
		return err.Error()
	default:
		return "internal error"
	}
}
