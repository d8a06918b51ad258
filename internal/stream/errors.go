package stream

import "errors"

var (
	// ErrConnectivity wraps broker errors that indicate the connection
	// itself failed. The client drops its cached handle when one occurs,
	// so the next acquisition reconnects.
	ErrConnectivity = errors.New("stream: broker connection error")

	// ErrNotFound is returned by introspection calls when the stream or
	// consumer group does not exist.
	ErrNotFound = errors.New("stream: not found")

	// ErrPublish wraps any append error raised while publishing an event.
	ErrPublish = errors.New("stream: publish failed")

	// ErrConsumerStopped is returned by Subscribe after Stop has been called.
	ErrConsumerStopped = errors.New("stream: consumer stopped")
)
