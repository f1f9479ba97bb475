package supervisor

import (
	"fmt"
	"sync"
	"time"

	"github.com/turtacn/cathedral-bridge/internal/bridge"
	"github.com/turtacn/cathedral-bridge/internal/monitor"
	"github.com/turtacn/cathedral-bridge/pkg/consts"
	"github.com/turtacn/cathedral-bridge/pkg/errors"
	"github.com/turtacn/cathedral-bridge/pkg/logger"
)

// Timer is a pending reconnect.
type Timer interface {
	Stop() bool
}

// Scheduler runs f after d. time.AfterFunc is the default.
type Scheduler func(d time.Duration, f func()) Timer

// Options configures a Manager.
type Options struct {
	// Connection is the template for every Connection the manager creates.
	// OnReady and OnFailure are overwritten.
	Connection bridge.Options

	BackoffInitial time.Duration
	BackoffMax     time.Duration

	Schedule Scheduler
}

// Manager keeps one Connection alive across failures, waiting an
// exponentially growing delay between attempts.
type Manager struct {
	base     bridge.Options
	initial  time.Duration
	ceiling  time.Duration
	schedule Scheduler
	log      logger.Logger

	mu      sync.Mutex
	conn    *bridge.Connection
	cred    bridge.Credential
	delay   time.Duration
	timer   Timer
	retryIn time.Duration
	gen     uint64
	stopped bool
}

// New creates a Manager. Nothing is dialed until Restart.
func New(opts Options) *Manager {
	if opts.BackoffInitial <= 0 {
		opts.BackoffInitial = consts.DefaultBackoffInitial
	}
	if opts.BackoffMax < opts.BackoffInitial {
		opts.BackoffMax = consts.DefaultBackoffMax
		if opts.BackoffMax < opts.BackoffInitial {
			opts.BackoffMax = opts.BackoffInitial
		}
	}
	if opts.Schedule == nil {
		opts.Schedule = func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
	}
	return &Manager{
		base:     opts.Connection,
		initial:  opts.BackoffInitial,
		ceiling:  opts.BackoffMax,
		schedule: opts.Schedule,
		delay:    opts.BackoffInitial,
		log:      logger.Log.With("component", "supervisor"),
	}
}

// Restart tears down any pending reconnect and the current connection, then
// opens a new one with cred immediately. A credential that cannot be used is
// rejected before anything is torn down and is never retried; transport
// errors are returned with a retry already scheduled.
func (m *Manager) Restart(cred bridge.Credential) error {
	if err := m.base.Check(cred); err != nil {
		m.log.Warn("Not connecting", "err", err)
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopped = false
	m.cred = cred
	m.delay = m.initial
	m.gen++
	m.teardownLocked()

	monitor.ReconnectTotal.WithLabelValues("restart").Inc()
	m.log.Info("Restarting bridge connection", "url", cred.Endpoint)
	return m.openLocked()
}

// Stop cancels the pending reconnect and closes the connection. No further
// attempts are made until the next Restart.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return
	}
	m.stopped = true
	m.gen++
	m.teardownLocked()
	m.log.Info("Supervisor stopped")
}

// RetryIn is the delay of the pending reconnect, or 0 when none is scheduled.
func (m *Manager) RetryIn() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timer == nil {
		return 0
	}
	return m.retryIn
}

// Status renders a one-line description of the bridge. It never fails.
func (m *Manager) Status() string {
	m.mu.Lock()
	conn := m.conn
	delay := m.delay
	url := m.cred.Endpoint
	m.mu.Unlock()

	state := consts.StateDisconnected
	hb := "idle"
	if conn != nil {
		state = conn.State()
		if conn.HeartbeatActive() {
			hb = "alive"
		}
		if ep := conn.Endpoint(); ep != "" {
			url = ep
		}
	}
	if url == "" {
		url = "unset"
	}
	return fmt.Sprintf("status ws=%s hb=%s url=%s backoff=%s", state, hb, url, delay)
}

// State returns the current connection state.
func (m *Manager) State() consts.ConnectionState {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return consts.StateDisconnected
	}
	return conn.State()
}

// openLocked creates and opens a Connection for the current generation.
func (m *Manager) openLocked() error {
	gen := m.gen
	opts := m.base
	opts.OnReady = func(*bridge.Connection) { m.onReady(gen) }
	opts.OnFailure = func(_ *bridge.Connection, err error) { m.onFailure(gen, err) }

	conn := bridge.NewConnection(opts)
	m.conn = conn

	err := conn.Open(m.cred)
	switch {
	case err == nil:
		return nil
	case errors.IsConfiguration(err):
		m.log.Warn("Not connecting", "err", err)
		return err
	default:
		m.log.Warn("Connection attempt failed", "err", err)
		m.scheduleLocked()
		return err
	}
}

// teardownLocked stops the reconnect timer and closes the connection.
func (m *Manager) teardownLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
}

// scheduleLocked arms a retry after the current delay and doubles it.
func (m *Manager) scheduleLocked() {
	if m.timer != nil {
		m.timer.Stop()
	}
	d := m.delay
	gen := m.gen
	m.timer = m.schedule(d, func() { m.retry(gen) })
	m.retryIn = d

	next := 2 * d
	if next > m.ceiling {
		next = m.ceiling
	}
	m.delay = next

	monitor.BackoffSeconds.Set(d.Seconds())
	m.log.Info("Reconnect scheduled", "in", d.String())
}

func (m *Manager) retry(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped || gen != m.gen {
		return
	}
	m.timer = nil
	m.gen++
	m.teardownLocked()

	monitor.ReconnectTotal.WithLabelValues("backoff").Inc()
	m.openLocked()
}

func (m *Manager) onReady(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen {
		return
	}
	m.delay = m.initial
	monitor.BackoffSeconds.Set(0)
	m.log.Info("Bridge ready")
}

func (m *Manager) onFailure(gen uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Notifications from a superseded connection are stale.
	if m.stopped || gen != m.gen {
		return
	}
	m.log.Warn("Bridge connection lost", "err", err)
	m.scheduleLocked()
}

// Personal.AI order the ending
