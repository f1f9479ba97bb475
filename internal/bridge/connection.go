package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/turtacn/cathedral-bridge/internal/monitor"
	"github.com/turtacn/cathedral-bridge/internal/router"
	"github.com/turtacn/cathedral-bridge/internal/transport"
	"github.com/turtacn/cathedral-bridge/pkg/consts"
	"github.com/turtacn/cathedral-bridge/pkg/errors"
	"github.com/turtacn/cathedral-bridge/pkg/fsm"
	"github.com/turtacn/cathedral-bridge/pkg/logger"
	"github.com/turtacn/cathedral-bridge/pkg/protocol"
)

// Handler serves inbound requests and produces config snapshots.
type Handler interface {
	Handle(ctx context.Context, scope string, body json.RawMessage) (router.Result, bool)
	Snapshot(ctx context.Context) protocol.ConfigSnapshot
}

// Options configures a Connection.
type Options struct {
	Dialer  transport.Dialer
	Handler Handler

	HeartbeatInterval time.Duration
	SnapshotDelay     time.Duration

	WorkspaceID   string
	Client        string
	ClientVersion string

	// OnReady fires after the handshake has been written.
	OnReady func(c *Connection)
	// OnFailure fires once when an open session is lost. It does not fire
	// for Close.
	OnFailure func(c *Connection, err error)
}

// Check reports the configuration errors Open would return for cred
// without touching any connection.
func (o Options) Check(cred Credential) error {
	if err := cred.Validate(); err != nil {
		return err
	}
	if o.Dialer == nil {
		return errors.New(errors.ErrCodeNoTransport, "Open", "no WebSocket transport available", nil)
	}
	if o.Handler == nil {
		return errors.New(errors.ErrCodeConfigInvalid, "Open", "no request handler configured", nil)
	}
	return nil
}

const (
	evOpen           fsm.Event = "open"
	evTransportOpen  fsm.Event = "transport_open"
	evHandshakeSent  fsm.Event = "handshake_sent"
	evTransportClose fsm.Event = "transport_closed"
	evClose          fsm.Event = "close"
	evClosed         fsm.Event = "closed"
)

// session is one dial of the Connection. Callbacks carry the session they
// were registered for and act only while it is still the current one.
type session struct {
	gen    uint64
	token  string
	conn   transport.Conn
	dialed chan struct{} // closed once Dial has returned
	ctx    context.Context
	cancel context.CancelFunc

	hbStop        chan struct{}
	snapshotTimer *time.Timer
}

// Connection owns one orchestrator WebSocket session and drives the
// handshake, heartbeat and request dispatch for it.
type Connection struct {
	opts Options
	fsm  *fsm.StateMachine
	log  logger.Logger

	mu       sync.Mutex
	sess     *session
	gen      uint64
	endpoint string

	writeMu sync.Mutex
}

// NewConnection returns a Disconnected connection.
func NewConnection(opts Options) *Connection {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = consts.DefaultHeartbeatInterval
	}
	if opts.SnapshotDelay <= 0 {
		opts.SnapshotDelay = consts.DefaultSnapshotDelay
	}
	if opts.WorkspaceID == "" {
		opts.WorkspaceID = consts.DefaultWorkspaceID
	}
	if opts.Client == "" {
		opts.Client = consts.DefaultClientName
	}
	if opts.ClientVersion == "" {
		opts.ClientVersion = consts.DefaultClientVersion
	}

	c := &Connection{
		opts: opts,
		fsm:  fsm.New(fsm.State(consts.StateDisconnected)),
		log:  logger.Log.With("component", "bridge"),
	}
	c.setupFSM()
	return c
}

func (c *Connection) setupFSM() {
	disconnected := fsm.State(consts.StateDisconnected)
	connecting := fsm.State(consts.StateConnecting)
	handshaking := fsm.State(consts.StateHandshaking)
	ready := fsm.State(consts.StateReady)
	closing := fsm.State(consts.StateClosing)

	// Dial
	c.fsm.AddTransition(disconnected, connecting, evOpen, c.onTransition)
	c.fsm.AddTransition(connecting, handshaking, evTransportOpen, c.onTransition)
	c.fsm.AddTransition(handshaking, ready, evHandshakeSent, c.onTransition)

	// Loss of the transport
	for _, from := range []fsm.State{connecting, handshaking, ready} {
		c.fsm.AddTransition(from, disconnected, evTransportClose, c.onTransition)
	}

	// Explicit close, valid from anywhere
	for _, from := range []fsm.State{disconnected, connecting, handshaking, ready} {
		c.fsm.AddTransition(from, closing, evClose, c.onTransition)
	}
	c.fsm.AddTransition(closing, disconnected, evClosed, c.onTransition)
}

func (c *Connection) onTransition(event fsm.Event, args ...interface{}) error {
	state := consts.ConnectionState(c.fsm.Current())
	monitor.SetState(state)
	c.log.Debug("State transition", "event", event, "state", state)
	return nil
}

// State returns the current connection state.
func (c *Connection) State() consts.ConnectionState {
	return consts.ConnectionState(c.fsm.Current())
}

// HeartbeatActive reports whether the heartbeat timer is running.
func (c *Connection) HeartbeatActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess != nil && c.sess.hbStop != nil
}

// Endpoint returns the URL of the last Open, or "" if never opened.
func (c *Connection) Endpoint() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endpoint
}

// Open validates cred and starts dialing. It never waits for the network.
// Configuration problems are returned before any dial; a dial that cannot
// even be started is returned as a transport error.
func (c *Connection) Open(cred Credential) error {
	if err := c.opts.Check(cred); err != nil {
		return err
	}

	c.mu.Lock()
	if err := c.fsm.Fire(evOpen); err != nil {
		c.mu.Unlock()
		return errors.New(errors.ErrCodeTransportFailed, "Open", "connection already in use", err)
	}
	c.gen++
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		gen:    c.gen,
		token:  strings.TrimSpace(cred.Token),
		dialed: make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
	endpoint := strings.TrimSpace(cred.Endpoint)
	c.sess = s
	c.endpoint = endpoint
	c.mu.Unlock()

	header := http.Header{}
	header.Set("Authorization", s.token)

	c.log.Info("Connecting", "url", endpoint, "gen", s.gen)
	conn, err := c.opts.Dialer.Dial(ctx, endpoint, header, transport.Handlers{
		OnOpen:    func() { c.handleOpen(s) },
		OnMessage: func(data []byte) { c.handleMessage(s, data) },
		OnClose:   func(err error) { c.handleClose(s, err) },
	})

	c.mu.Lock()
	s.conn = conn
	close(s.dialed)
	superseded := !c.current(s)
	if err != nil && !superseded {
		c.sess = nil
		c.fsm.Fire(evTransportClose)
	}
	c.mu.Unlock()

	if err != nil {
		cancel()
		if errors.CodeOf(err) == errors.ErrCodeUnknown {
			err = errors.New(errors.ErrCodeTransportFailed, "Open", "construct transport", err)
		}
		return err
	}
	if superseded {
		// Closed while Dial was returning.
		conn.Close()
	}
	return nil
}

// current reports whether s is still the live session. Callers hold c.mu.
func (c *Connection) current(s *session) bool {
	return c.sess == s
}

func (c *Connection) isCurrent(s *session) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current(s)
}

func (c *Connection) handleOpen(s *session) {
	<-s.dialed

	c.mu.Lock()
	if !c.current(s) || c.fsm.Fire(evTransportOpen) != nil {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.log.Info("Connected", "url", c.Endpoint(), "gen", s.gen)

	// 1. Handshake goes out before anything else on this session.
	hello, err := protocol.NewRequest("hello", consts.ScopeHandshake, map[string]string{
		"authorization":  s.token,
		"workspace_id":   c.opts.WorkspaceID,
		"client":         c.opts.Client,
		"client_version": c.opts.ClientVersion,
	}, protocol.HandshakeBody{
		Capabilities:            consts.Capabilities,
		OrchestratorUpsertsOnly: true,
	})
	if err == nil {
		err = c.send(s, hello)
	}
	if err != nil {
		// Closing the transport routes this through OnClose and the
		// owner's reconnect path.
		c.log.Warn("Handshake write failed", "err", err)
		s.conn.Close()
		return
	}

	// 2. Usable without waiting for the handshake reply.
	c.mu.Lock()
	if !c.current(s) || c.fsm.Fire(evHandshakeSent) != nil {
		c.mu.Unlock()
		return
	}
	s.hbStop = make(chan struct{})
	go c.heartbeat(s, s.hbStop)
	s.snapshotTimer = time.AfterFunc(c.opts.SnapshotDelay, func() { c.pushSnapshot(s) })
	c.mu.Unlock()

	if c.opts.OnReady != nil {
		c.opts.OnReady(c)
	}
}

func (c *Connection) heartbeat(s *session, stop <-chan struct{}) {
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			if !c.isCurrent(s) {
				return
			}
			ev, err := protocol.NewEvent("hb", consts.ScopeHeartbeat, now.UnixMilli())
			if err != nil {
				continue
			}
			if err := c.send(s, ev); err != nil {
				c.log.Debug("Heartbeat write failed", "err", err)
				continue
			}
			monitor.HeartbeatsTotal.Inc()
		}
	}
}

func (c *Connection) pushSnapshot(s *session) {
	if !c.isCurrent(s) {
		return
	}
	ev, err := protocol.NewEvent("cfgsync", consts.ScopeConfigRes, c.opts.Handler.Snapshot(s.ctx))
	if err == nil {
		err = c.send(s, ev)
	}
	if err != nil {
		c.log.Warn("Failed to push config snapshot", "err", err)
		return
	}
	c.log.Info("Pushed initial config snapshot")
}

func (c *Connection) handleMessage(s *session, data []byte) {
	if !c.isCurrent(s) {
		return
	}

	env, err := protocol.Decode(data)
	if err != nil {
		monitor.FramesDroppedTotal.WithLabelValues("decode").Inc()
		c.log.Debug("Dropping undecodable frame", "err", err)
		return
	}
	// This side only serves requests; replies and events are not acted on.
	if env.Type != consts.TypeRequest {
		if env.Type == consts.TypeResponse && !env.Succeeded() && env.Error != nil {
			c.log.Warn("Orchestrator rejected request", "id", env.ID, "code", env.Error.Code, "msg", env.Error.Message)
		}
		monitor.FramesDroppedTotal.WithLabelValues("not_request").Inc()
		return
	}
	if env.ID == "" {
		monitor.FramesDroppedTotal.WithLabelValues("missing_id").Inc()
		c.log.Debug("Dropping request without id", "scope", env.Scope)
		return
	}

	res, handled := c.opts.Handler.Handle(s.ctx, env.Scope, env.Body)
	if !handled {
		monitor.FramesDroppedTotal.WithLabelValues("unhandled_scope").Inc()
		return
	}

	var resp protocol.Envelope
	if res.OK {
		resp, err = protocol.NewResponse(env.ID, consts.ScopeConfigRes, res.Body)
		if err != nil {
			resp = protocol.NewErrorResponse(env.ID, consts.ScopeConfigRes, "ENCODE_FAIL", err.Error())
		}
	} else {
		code, msg := "", ""
		if res.Error != nil {
			code, msg = res.Error.Code, res.Error.Message
		}
		resp = protocol.NewErrorResponse(env.ID, consts.ScopeConfigRes, code, msg)
	}
	if err := c.send(s, resp); err != nil {
		c.log.Warn("Response write failed", "id", env.ID, "scope", env.Scope, "err", err)
	}
}

func (c *Connection) handleClose(s *session, err error) {
	<-s.dialed

	c.mu.Lock()
	if !c.current(s) {
		c.mu.Unlock()
		return
	}
	c.stopTimers(s)
	c.sess = nil
	c.fsm.Fire(evTransportClose)
	c.mu.Unlock()
	s.cancel()

	c.log.Warn("Orchestrator socket closed", "gen", s.gen, "err", err)
	if c.opts.OnFailure != nil {
		c.opts.OnFailure(c, err)
	}
}

// stopTimers cancels the heartbeat and the pending snapshot push. Callers hold c.mu.
func (c *Connection) stopTimers(s *session) {
	if s.hbStop != nil {
		close(s.hbStop)
		s.hbStop = nil
	}
	if s.snapshotTimer != nil {
		s.snapshotTimer.Stop()
		s.snapshotTimer = nil
	}
}

// Close tears the connection down from any state. It is idempotent and
// never reports an already-closed transport as an error.
func (c *Connection) Close() {
	c.mu.Lock()
	s := c.sess
	c.sess = nil
	if c.fsm.Can(evClose) {
		c.fsm.Fire(evClose)
		c.fsm.Fire(evClosed)
	}
	if s != nil {
		c.stopTimers(s)
	}
	c.mu.Unlock()

	if s == nil {
		return
	}
	s.cancel()
	select {
	case <-s.dialed:
		if s.conn != nil {
			s.conn.Close()
		}
	default:
		// Dial still returning; Open closes the transport it gets back.
	}
}

// send encodes and writes env on s. Writes on one connection never overlap.
func (c *Connection) send(s *session, env protocol.Envelope) error {
	data, err := protocol.Encode(env)
	if err != nil {
		return err
	}
	if !c.isCurrent(s) {
		return errors.New(errors.ErrCodeNotConnected, "Send", "session superseded", nil)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return s.conn.Send(data)
}

// Personal.AI order the ending
