package exchange

import (
	"errors"
	"fmt"
)

// ErrOrderNotFound is returned by CancelOrder when the order is already
// filled or cancelled. Callers treat it as success.
var ErrOrderNotFound = errors.New("order not found")

// ErrMarginUnsupported is returned by borrow/repay on spot-only venues.
var ErrMarginUnsupported = errors.New("margin operations not supported on this venue")

// ConnectivityError marks network or auth failures. A tick that hits one is
// abandoned as a whole and retried after the fail interval.
type ConnectivityError struct {
	Op  string
	Err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("connectivity: %s: %v", e.Op, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// OrderRejectedError marks exchange-side validation failures (insufficient
// balance, precision, notional limits). Per-action: logged and swallowed.
type OrderRejectedError struct {
	Code    int
	Message string
}

func (e *OrderRejectedError) Error() string {
	return fmt.Sprintf("order rejected (code %d): %s", e.Code, e.Message)
}

// IsConnectivity reports whether err is a tick-level connectivity failure.
func IsConnectivity(err error) bool {
	var ce *ConnectivityError
	return errors.As(err, &ce)
}
