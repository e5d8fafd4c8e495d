package h265transport

import "errors"

// Common errors
var (
	// ErrConfiguration wraps failures during one-time session configuration
	// (encoder unavailable, allocation failure, unsupported pixel format).
	// A session that fails configuration is permanently unusable.
	ErrConfiguration = errors.New("configuration failed")

	// ErrEncoderBusy signals the encoder is temporarily unable to accept
	// input or produce output. Callers retry after draining.
	ErrEncoderBusy = errors.New("encoder busy")

	// ErrNoPacket signals that no packet is available right now.
	ErrNoPacket = errors.New("no packet available")

	// ErrEndOfStream signals the encoder has emitted its last packet
	// after a flush.
	ErrEndOfStream = errors.New("end of stream")

	// ErrInvalidState signals the encoder was driven outside its
	// feed/drain protocol. Fatal; never retried.
	ErrInvalidState = errors.New("invalid encoder state")

	// ErrNoMemory signals an allocation failure inside the encoder.
	// Fatal; never retried.
	ErrNoMemory = errors.New("encoder out of memory")

	// ErrSessionClosed is returned when feeding a session after Flush
	// or Close.
	ErrSessionClosed = errors.New("session closed")

	// ErrSessionFailed is returned when feeding a session that became
	// unusable after a configuration or fatal encode error.
	ErrSessionFailed = errors.New("session failed")

	// ErrResolutionChanged is returned when a frame's dimensions differ
	// from the resolution the session was configured with.
	ErrResolutionChanged = errors.New("frame resolution differs from configured resolution")

	// ErrProviderNotFound is returned when no encoder backend is
	// available for the requested provider.
	ErrProviderNotFound = errors.New("provider not available")

	// ErrBufferTooSmall is returned when a destination buffer cannot
	// hold the serialized packet.
	ErrBufferTooSmall = errors.New("buffer too small")
)

// IsTransient reports whether err is a retryable encoder condition.
// Everything else coming out of an encoder backend is fatal.
func IsTransient(err error) bool {
	return errors.Is(err, ErrEncoderBusy)
}

// IsFatal reports whether err is a non-retryable encoder condition.
func IsFatal(err error) bool {
	return err != nil && !IsTransient(err) && !errors.Is(err, ErrNoPacket) && !errors.Is(err, ErrEndOfStream)
}
