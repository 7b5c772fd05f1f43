package correlator

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTimeout matches every *TimeoutError via errors.Is.
	ErrTimeout = errors.New("bridge request timed out")
	// ErrClosed rejects requests pending when the correlator is closed,
	// and any request issued afterwards.
	ErrClosed = errors.New("bridge correlator closed")
)

// TimeoutError is returned when no reply arrives within the request's
// timeout.
type TimeoutError struct {
	RequestID string
	Type      string
	After     time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s %s: no reply after %v", e.Type, e.RequestID, e.After)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// HostError carries the message from an ERROR reply sent by the host.
type HostError struct {
	RequestID string
	Message   string
}

func (e *HostError) Error() string {
	if e.Message == "" {
		return "host error for request " + e.RequestID
	}
	return "host error: " + e.Message
}
