package order

import "errors"

var (
	ErrOrderNotFound           = errors.New("order not found")
	ErrDuplicateOrderNumber    = errors.New("order number already exists")
	ErrUnknownStatus           = errors.New("unknown status")
	ErrInvalidStatusTransition = errors.New("invalid order status transition")
	ErrDuplicatePaymentEvent   = errors.New("payment event already applied")
	ErrStalePaymentEvent       = errors.New("payment event is older than the order state")
	ErrOrderNotRepayable       = errors.New("order cannot be paid again")
	ErrInvalidOrder            = errors.New("invalid order")
	ErrPreferenceFailed        = errors.New("failed to create payment preference")

	errStatusUnchanged = errors.New("order status unchanged")
)

// Admin-driven order lifecycle.
var allowedTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusPaid:      true,
		StatusCancelled: true,
	},
	StatusPaid: {
		StatusShipped:   true,
		StatusCancelled: true,
	},
	StatusShipped: {
		StatusDelivered: true,
	},
	StatusDelivered: {},
	StatusCancelled: {},
}

// Payment lifecycle as driven by provider notifications. Nothing moves back to pending.
var allowedPaymentTransitions = map[PaymentStatus]map[PaymentStatus]bool{
	PaymentPending: {
		PaymentPaid:     true,
		PaymentFailed:   true,
		PaymentRefunded: true,
	},
	PaymentFailed: {
		PaymentPaid:     true,
		PaymentRefunded: true,
	},
	PaymentPaid: {
		PaymentRefunded: true,
	},
	PaymentRefunded: {},
}

func CanTransition(from, to Status) bool {
	return allowedTransitions[from][to]
}

func CanTransitionPayment(from, to PaymentStatus) bool {
	return allowedPaymentTransitions[from][to]
}
