//go:generate mockgen -destination=mock_transport.go -package=device github.com/gajzzs/garmind/internal/device Transport

package device

import (
	"context"
	"time"
)

// Transport discovers and attaches devices of a single Kind.
//
// Every error returned by a Transport is an *Error classified at the
// transport boundary.
type Transport interface {
	Kind() Kind

	// Discover runs one scan window and calls found for every matching
	// device. window bounds radio discovery where that applies and is
	// ignored by single-pass enumerations. Cancelling ctx ends the scan
	// early with a Cancelled error.
	Discover(ctx context.Context, window time.Duration, found func(Descriptor)) error

	// Open attaches the device (mount or pair) and returns the held resource.
	Open(ctx context.Context, d Descriptor) (*Handle, error)

	// Close releases a handle returned by Open. It is best-effort; the OS
	// may have already reclaimed the resource.
	Close(ctx context.Context, h *Handle) error
}
