package client

import (
	"fmt"
	"time"
)

// TimeoutError reports that no datagram arrived within the socket deadline.
// It carries everything an operator needs to tell "device unreachable" apart
// from a protocol error. Transient; the next cycle retries naturally.
type TimeoutError struct {
	Host      string
	OID       string
	RequestID uint32
	Wait      time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("no response from %s for OID %s within %s (request id %d)",
		e.Host, e.OID, e.Wait, e.RequestID)
}

// TransportError reports a socket-level failure: resolve, bind, send or
// receive. Treated as transient.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// TaskError reports that the exchange goroutine did not complete: either the
// outer deadline expired before the socket deadline could attribute the
// failure, or the exchange panicked. Transient.
type TaskError struct {
	Host  string
	OID   string
	Cause string
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("snmp task for %s OID %s did not complete: %s", e.Host, e.OID, e.Cause)
}
