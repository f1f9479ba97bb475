package bridge

import (
	"context"
	"net/http"
	"sync"

	"github.com/turtacn/cathedral-bridge/internal/transport"
	"github.com/turtacn/cathedral-bridge/pkg/protocol"
)

// fakeConn is a transport.Conn whose events are driven by the test.
type fakeConn struct {
	mu      sync.Mutex
	h       transport.Handlers
	header  http.Header
	frames  [][]byte
	closes  int
	sendErr error
}

func (f *fakeConn) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.frames = append(f.frames, append([]byte(nil), data...))
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeConn) open()               { f.h.OnOpen() }
func (f *fakeConn) deliver(frame string) { f.h.OnMessage([]byte(frame)) }
func (f *fakeConn) drop(err error)      { f.h.OnClose(err) }

func (f *fakeConn) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

func (f *fakeConn) envelopes() []protocol.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]protocol.Envelope, 0, len(f.frames))
	for _, fr := range f.frames {
		env, err := protocol.Decode(fr)
		if err == nil {
			out = append(out, env)
		}
	}
	return out
}

func (f *fakeConn) count(scope string) int {
	n := 0
	for _, env := range f.envelopes() {
		if env.Scope == scope {
			n++
		}
	}
	return n
}

// fakeDialer records dials and hands out fakeConns.
type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	err   error
}

func (d *fakeDialer) Dial(_ context.Context, _ string, header http.Header, h transport.Handlers) (transport.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	c := &fakeConn{h: h, header: header}
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}
