package mqtt

import (
	"errors"
	"fmt"
)

var (
	// ErrPublish is matched by errors.Is for every PublishError.
	ErrPublish = errors.New("publish failed")

	// ErrConnect is matched by errors.Is for every ConnectError.
	ErrConnect = errors.New("broker connection failed")

	// ErrAckTimeout indicates the broker did not acknowledge in time.
	ErrAckTimeout = errors.New("timed out waiting for broker acknowledgement")

	// ErrNotConnected indicates Publish was called before Connect succeeded.
	ErrNotConnected = errors.New("sink is not connected")
)

// PublishError reports a message the broker rejected or never confirmed.
type PublishError struct {
	Topic string
	Size  int
	Err   error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("failed to publish %d bytes to %q: %v", e.Size, e.Topic, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

func (e *PublishError) Is(target error) bool { return target == ErrPublish }

// ConnectError reports that the broker could not be reached at startup.
type ConnectError struct {
	Broker string
	Err    error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("failed to connect to broker %s: %v", e.Broker, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

func (e *ConnectError) Is(target error) bool { return target == ErrConnect }
