package transport

import (
	"context"
	"net/http"
)

// Handlers receives transport events. OnClose is delivered exactly once per
// Conn, whether the dial failed, the peer went away or Close was called.
type Handlers struct {
	OnOpen    func()
	OnMessage func(data []byte)
	OnClose   func(err error)
}

// Conn is one outbound session.
type Conn interface {
	// Send writes one text frame. Implementations serialise concurrent callers.
	Send(data []byte) error
	// Close tears the session down. Closing twice is not an error.
	Close() error
}

// Dialer opens sessions. Dial must not block on network I/O: it returns as
// soon as the handlers are registered and reports progress through them.
type Dialer interface {
	Dial(ctx context.Context, endpoint string, header http.Header, h Handlers) (Conn, error)
}

// Personal.AI order the ending
