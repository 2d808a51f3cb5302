package outbox

import "errors"

var (
	// ErrDelivery marks a failed send attempt. It never leaves the worker.
	ErrDelivery             = errors.New("notification delivery failed")
	ErrUnknownTemplate      = errors.New("unknown notification template")
	ErrInvalidMessage       = errors.New("invalid outbox message")
	ErrInvalidStatus        = errors.New("invalid outbox status")
	ErrEntryNotFound        = errors.New("outbox entry not found")
	ErrInvalidWorkerConfig  = errors.New("invalid outbox worker config")
	ErrDuplicateTemplate    = errors.New("notification template already registered")
	ErrInvalidTemplateEntry = errors.New("invalid notification template")
)
