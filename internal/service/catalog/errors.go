package catalog

import "errors"

var (
	ErrTicketNotFound       = errors.New("ticket not found")
	ErrTicketNotCancellable = errors.New("ticket cannot be cancelled")
	ErrDeliveryFailed       = errors.New("ticket delivery failed")
	ErrEventNameRequired    = errors.New("event name is required")
)
