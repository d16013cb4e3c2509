// Package transport owns the physical duplex connection to the sync server.
// It knows nothing about notes or rooms: it moves protocol envelopes and
// reports when the connection ends.
package transport

import (
	"context"
	"errors"

	"inkdown-collab/internal/protocol"
)

var ErrClosed = errors.New("transport: session closed")

// Dialer establishes sessions. The credential is attached once, at
// connection establishment, never per message.
type Dialer interface {
	Dial(ctx context.Context, credential string) (Session, error)
}

// Session is one live connection.
type Session interface {
	Send(ctx context.Context, env *protocol.Envelope) error
	// Inbound is closed after Done.
	Inbound() <-chan *protocol.Envelope
	// Done is closed when the connection ends for any reason.
	Done() <-chan struct{}
	// Err reports why the session ended; nil after a local Close.
	Err() error
	Close() error
}
