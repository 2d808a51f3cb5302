package booking

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrForbidden              = errors.New("forbidden")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrInvalidTimeRange       = errors.New("invalid time range")
	ErrInvalidInput           = errors.New("invalid input")
	ErrInvalidResolution      = errors.New("invalid dispute resolution")
	ErrInvalidServiceConfig   = errors.New("invalid service config")
)

// Guard failures are state conflicts: callers must re-read the booking before retrying.
var (
	ErrSessionNotEnded     = fmt.Errorf("%w: session has not ended", ErrInvalidStateTransition)
	ErrSessionStarted      = fmt.Errorf("%w: session already started", ErrInvalidStateTransition)
	ErrDeadlineNotReached  = fmt.Errorf("%w: deadline not reached", ErrInvalidStateTransition)
	ErrConfirmationMissing = fmt.Errorf("%w: confirmation deadline missing", ErrInvalidStateTransition)
)
