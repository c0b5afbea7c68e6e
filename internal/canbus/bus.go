package canbus

import (
	"errors"
	"fmt"
)

// Bus is the local CAN interface as seen by a tunnel session. Receive
// blocks until a frame arrives, the receive timeout elapses, or the
// interface fails. Implementations perform no retries; retry policy
// belongs to the caller.
type Bus interface {
	Receive() (Frame, error)
	Transmit(Frame) error
	Close() error
}

// BusError reports a failure on the local CAN interface. Fatal marks
// conditions the interface cannot recover from (device removed, socket
// closed). Timeout marks an expired receive deadline; timeouts are
// always transient.
type BusError struct {
	Interface string
	Op        string
	Fatal     bool
	Timeout   bool
	Err       error
}

func (e *BusError) Error() string {
	return fmt.Sprintf("canbus: %s on %s: %v", e.Op, e.Interface, e.Err)
}

func (e *BusError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err is a bus error that ends the interface.
func IsFatal(err error) bool {
	var be *BusError
	return errors.As(err, &be) && be.Fatal
}

// IsTimeout reports whether err is an expired receive deadline.
func IsTimeout(err error) bool {
	var be *BusError
	return errors.As(err, &be) && be.Timeout
}
