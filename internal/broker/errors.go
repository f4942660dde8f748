package broker

import (
	"errors"
	"fmt"
)

// ErrSettled is returned when a delivery is completed or abandoned twice.
var ErrSettled = errors.New("message already settled")

// PublishError reports a failed publish to a specific destination.
type PublishError struct {
	Destination string
	Err         error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish to %q failed: %v", e.Destination, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// Fault reports a broker-level failure (connectivity, protocol) that is not
// attributable to any single message.
type Fault struct {
	Op    string
	Queue string
	Err   error
}

func (e *Fault) Error() string {
	return fmt.Sprintf("broker fault during %s on %q: %v", e.Op, e.Queue, e.Err)
}

func (e *Fault) Unwrap() error { return e.Err }
