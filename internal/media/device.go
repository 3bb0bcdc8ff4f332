package media

import (
	"context"
	"io"
)

// Device opens exclusive camera/microphone capture.
type Device interface {
	Open(ctx context.Context) (Stream, error)
}

// Stream is a live capture holding the device tracks. Stop asks the
// producer to finish the container so the reader reaches io.EOF; Close
// releases the tracks and must be safe to call after Stop or on its own.
type Stream interface {
	io.Reader
	MIMEType() string
	Stop() error
	Close() error
}
