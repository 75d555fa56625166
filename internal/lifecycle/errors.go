package lifecycle

import (
	"errors"
	"fmt"
)

// Sentinel errors for session rejection and hardware failure. The wire
// layer maps these to error frames; the reconnection protocol classifies
// rejections with errors.Is, so the busy and cooling-down sentinels must
// stay distinguishable.
var (
	ErrValidation      = errors.New("invalid session parameters")
	ErrBusy            = errors.New("bridge is busy: another session is active")
	ErrCoolingDown     = errors.New("bridge is disconnecting/cooling down")
	ErrHardware        = errors.New("hardware error")
	ErrTeardownTimeout = errors.New("teardown timed out") // internal, never sent to clients
)

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return lifecycle.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsRetryable reports whether err is a rejection the client reconnection
// protocol should back off and retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrBusy) || errors.Is(err, ErrCoolingDown)
}
