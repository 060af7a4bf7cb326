package orders

import "strings"

type Status string

const (
	StatusCreated           Status = "CREATED"
	StatusPaymentCompleted  Status = "PAYMENT_COMPLETED"
	StatusPaymentFailed     Status = "PAYMENT_FAILED"
	StatusShipmentPreparing Status = "SHIPMENT_PREPARING"
	StatusShipped           Status = "SHIPPED"
	StatusDelivered         Status = "DELIVERED"
	StatusCancelled         Status = "CANCELLED"
)

// MarkerPaymentRequested is carried by lifecycle events only; orders never rest in it.
const MarkerPaymentRequested = "PAYMENT_REQUESTED"

var validNext = map[Status]map[Status]bool{
	StatusCreated:           {StatusPaymentCompleted: true, StatusPaymentFailed: true, StatusCancelled: true},
	StatusPaymentCompleted:  {StatusShipmentPreparing: true, StatusCancelled: true},
	StatusPaymentFailed:     {StatusCancelled: true},
	StatusShipmentPreparing: {StatusShipped: true, StatusCancelled: true},
	StatusShipped:           {StatusDelivered: true},
	StatusDelivered:         {},
	StatusCancelled:         {},
}

// AllStatuses lists every lifecycle state in declaration order.
var AllStatuses = []Status{
	StatusCreated,
	StatusPaymentCompleted,
	StatusPaymentFailed,
	StatusShipmentPreparing,
	StatusShipped,
	StatusDelivered,
	StatusCancelled,
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// Transition returns target when the edge exists, otherwise an *InvalidTransitionError.
func Transition(current, target Status) (Status, error) {
	if !CanTransition(current, target) {
		return current, &InvalidTransitionError{From: current, To: target}
	}
	return target, nil
}

func (s Status) Terminal() bool {
	return len(validNext[s]) == 0
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

func ParseStatus(v string) (Status, error) {
	s := Status(strings.ToUpper(strings.TrimSpace(v)))
	if !s.Valid() {
		return "", Validation("unknown status %q", v)
	}
	return s, nil
}
