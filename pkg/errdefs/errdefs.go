package errdefs

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for the fabric failure taxonomy. Call sites wrap these with
// fmt.Errorf("...: %w", ...) so errors.Is classification survives wrapping.
var (
	// ErrTransport covers open/declare/put/recv failures from the bus
	ErrTransport = errors.New("transport error")

	// ErrCodec covers JSON encode/decode failures
	ErrCodec = errors.New("codec error")

	// ErrIO covers file I/O from adjacent loaders
	ErrIO = errors.New("io error")

	// ErrPublisherNotFound is returned by Publish on a topic with no prior
	// CreatePublisher
	ErrPublisherNotFound = errors.New("publisher not found")

	// ErrPublishRetryExhausted means a config push gave up after its backoff
	// budget
	ErrPublishRetryExhausted = errors.New("publish retry exhausted")

	// ErrUnknownPluginType means a node was constructed with an unregistered
	// type name
	ErrUnknownPluginType = errors.New("unknown plugin type")

	// ErrInvalidConfig means a plugin rejected the opaque config blob
	ErrInvalidConfig = errors.New("invalid config")

	// ErrCancelled means the operation observed its cancellation signal
	ErrCancelled = errors.New("operation cancelled")

	// ErrOther is the catch-all for failures outside the taxonomy
	ErrOther = errors.New("error")
)

// Other wraps a free-form message as a catch-all failure
func Other(msg string) error {
	return fmt.Errorf("%w: %s", ErrOther, msg)
}

// Transport wraps err as a transport failure
func Transport(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrTransport, err)
}

// Codec wraps err as a codec failure
func Codec(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrCodec, err)
}

// IO wraps err as a file I/O failure
func IO(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrIO, err)
}

// Cancelled maps a context error onto ErrCancelled, preserving the cause
func Cancelled(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrCancelled, err)
}

// FromContext converts ctx.Err() into the taxonomy, or nil if the context is
// still live
func FromContext(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return Cancelled(err)
	}
	return nil
}

func IsTransport(err error) bool             { return errors.Is(err, ErrTransport) }
func IsCodec(err error) bool                 { return errors.Is(err, ErrCodec) }
func IsIO(err error) bool                    { return errors.Is(err, ErrIO) }
func IsPublisherNotFound(err error) bool     { return errors.Is(err, ErrPublisherNotFound) }
func IsPublishRetryExhausted(err error) bool { return errors.Is(err, ErrPublishRetryExhausted) }
func IsUnknownPluginType(err error) bool     { return errors.Is(err, ErrUnknownPluginType) }
func IsInvalidConfig(err error) bool         { return errors.Is(err, ErrInvalidConfig) }
func IsCancelled(err error) bool             { return errors.Is(err, ErrCancelled) }
func IsOther(err error) bool                 { return errors.Is(err, ErrOther) }
