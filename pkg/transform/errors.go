package transform

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrMalformedInput reports a base64 alphabet or length violation.
	ErrMalformedInput = errors.New("malformed input")
	// ErrPadding reports invalid cipher padding or a truncated ciphertext.
	ErrPadding = errors.New("invalid padding")
	// ErrCipherConfiguration reports key or IV material of the wrong size.
	ErrCipherConfiguration = errors.New("invalid cipher configuration")
	// ErrCancelled reports a transfer aborted by its owning message.
	ErrCancelled = errors.New("transfer cancelled")
)

// IsClientError reports whether err was caused by the message body itself
// rather than by the process.
func IsClientError(err error) bool {
	return errors.Is(err, ErrMalformedInput) || errors.Is(err, ErrPadding)
}

// Cancelled wraps the cause of a context cancellation so callers can match
// both ErrCancelled and the context error.
func Cancelled(ctx context.Context) error {
	cause := context.Cause(ctx)
	if cause == nil {
		cause = ctx.Err()
	}
	return fmt.Errorf("%w: %w", ErrCancelled, cause)
}
