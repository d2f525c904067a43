package storage

import "errors"

var (
	// ErrNotFound is returned when a requested order does not exist.
	ErrNotFound = errors.New("order not found")

	// ErrIllegalTransition is returned when a status change violates the
	// order state graph. Indicates a bug in the caller.
	ErrIllegalTransition = errors.New("illegal status transition")

	// ErrTerminal is returned when mutating an order that already reached
	// confirmed or failed.
	ErrTerminal = errors.New("order is in a terminal state")

	// ErrInvalidInput is returned for nil or malformed store arguments.
	ErrInvalidInput = errors.New("invalid input")
)
