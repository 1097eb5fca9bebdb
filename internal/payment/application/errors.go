package application

import "errors"

// Business outcomes are returned as errors so HTTP handlers and consumers
// can map them without guessing intent. Infrastructure failures are wrapped
// and propagate as-is, forcing a rollback.
var (
	ErrValidation         = errors.New("validation failed")
	ErrNotFound           = errors.New("not found")
	ErrMalformedReference = errors.New("malformed merchant reference")
	ErrNotRefundable      = errors.New("payment is not refundable")
	ErrExceedsRefundable  = errors.New("amount exceeds refundable balance")
	ErrGateway            = errors.New("payment gateway error")
)
