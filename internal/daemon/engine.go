package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/turtacn/cathedral-bridge/internal/bridge"
	"github.com/turtacn/cathedral-bridge/internal/control"
	"github.com/turtacn/cathedral-bridge/internal/credentials"
	"github.com/turtacn/cathedral-bridge/internal/enrich"
	"github.com/turtacn/cathedral-bridge/internal/envstore"
	"github.com/turtacn/cathedral-bridge/internal/monitor"
	"github.com/turtacn/cathedral-bridge/internal/resource"
	"github.com/turtacn/cathedral-bridge/internal/router"
	"github.com/turtacn/cathedral-bridge/internal/supervisor"
	"github.com/turtacn/cathedral-bridge/internal/transport"
	"github.com/turtacn/cathedral-bridge/pkg/consts"
	"github.com/turtacn/cathedral-bridge/pkg/errors"
	"github.com/turtacn/cathedral-bridge/pkg/fsm"
	"github.com/turtacn/cathedral-bridge/pkg/logger"
	"github.com/turtacn/cathedral-bridge/pkg/protocol"
)

const shutdownTimeout = 5 * time.Second

// Engine wires the bridge components together and runs them until stopped.
type Engine struct {
	cfg        *protocol.Config
	fsm        *fsm.StateMachine
	sockets    *resource.SocketManager
	creds      *credentials.File
	supervisor *supervisor.Manager
	control    *control.Server
	log        logger.Logger
}

// NewEngine builds every component from cfg. Nothing is bound or dialed yet.
func NewEngine(cfg *protocol.Config) *Engine {
	return newEngine(cfg, transport.NewWebSocketDialer(
		protocol.Duration(cfg.Timing.HandshakeTimeout, consts.DefaultHandshakeTimeout),
		consts.DefaultWriteTimeout,
	))
}

func newEngine(cfg *protocol.Config, dialer transport.Dialer) *Engine {
	store := envstore.New(cfg.Store.EnvPath)
	enricher := enrich.New(cfg.Enrichment.URL, protocol.Duration(cfg.Enrichment.Timeout, consts.DefaultEnrichTimeout))
	rtr := router.New(store, enricher, cfg.Store.StorageDir)

	e := &Engine{
		cfg:     cfg,
		fsm:     fsm.New(fsm.State(consts.EnginePending)),
		sockets: resource.NewSocketManager(),
		creds:   credentials.New(cfg.Bridge.CredentialsFile),
		supervisor: supervisor.New(supervisor.Options{
			Connection: bridge.Options{
				Dialer:            dialer,
				Handler:           rtr,
				HeartbeatInterval: protocol.Duration(cfg.Timing.HeartbeatInterval, consts.DefaultHeartbeatInterval),
				SnapshotDelay:     protocol.Duration(cfg.Timing.SnapshotDelay, consts.DefaultSnapshotDelay),
				WorkspaceID:       cfg.Bridge.WorkspaceID,
				Client:            cfg.Bridge.Client,
				ClientVersion:     cfg.Bridge.ClientVersion,
			},
			BackoffInitial: protocol.Duration(cfg.Timing.BackoffInitial, consts.DefaultBackoffInitial),
			BackoffMax:     protocol.Duration(cfg.Timing.BackoffMax, consts.DefaultBackoffMax),
		}),
		log: logger.Log.With("component", "daemon"),
	}
	e.control = control.NewServer(e)
	e.setupFSM()
	return e
}

func (e *Engine) setupFSM() {
	pending := fsm.State(consts.EnginePending)
	running := fsm.State(consts.EngineRunning)
	stopping := fsm.State(consts.EngineStopping)
	stopped := fsm.State(consts.EngineStopped)

	e.fsm.AddTransition(pending, running, "start", nil)
	e.fsm.AddTransition(pending, stopped, "abort", nil)
	e.fsm.AddTransition(running, stopping, "stop", e.onStop)
	e.fsm.AddTransition(stopping, stopped, "stopped", nil)
}

// State returns the daemon lifecycle state.
func (e *Engine) State() consts.EngineState {
	return consts.EngineState(e.fsm.Current())
}

// Run binds the control socket, auto-connects when a credential is
// available and serves until ctx is cancelled or SIGINT/SIGTERM arrives.
// SIGHUP restarts the bridge connection.
func (e *Engine) Run(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	if err := e.start(); err != nil {
		e.fsm.Fire("abort")
		e.sockets.Close()
		return err
	}

	for {
		select {
		case <-ctx.Done():
			e.log.Info("Context cancelled. Shutting down.")
			return e.shutdown()
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGHUP:
				e.log.Info("Signal: SIGHUP received. Restarting bridge.")
				e.log.Info("SIGHUP restart", "result", e.Restart(control.Params{}))
			case syscall.SIGINT, syscall.SIGTERM:
				e.log.Info("Signal: Stop received. Shutting down.", "signal", sig.String())
				return e.shutdown()
			}
		}
	}
}

func (e *Engine) start() error {
	monitor.InitMetrics()
	monitor.SetState(consts.StateDisconnected)

	// 1. Control socket
	l, err := e.sockets.EnsureListener(e.cfg.Control.SocketPath)
	if err != nil {
		return err
	}
	go func() {
		if err := e.control.Serve(l); err != nil {
			e.log.Error("Control server failed", "err", err)
		}
	}()

	// 2. Metrics
	if addr := e.cfg.Observability.MetricsAddr; addr != "" {
		ml, err := e.sockets.EnsureListener(addr)
		if err != nil {
			return err
		}
		monitor.Serve(ml)
	}

	if err := e.fsm.Fire("start"); err != nil {
		return err
	}
	e.log.Info("Bridge daemon running", "socket", e.cfg.Control.SocketPath, "store", e.cfg.Store.EnvPath)

	// 3. Auto-connect
	cred := e.resolve(control.Params{})
	if err := cred.Validate(); err != nil {
		e.log.Warn("No usable credential; waiting for connect", "reason", err, "credentials", e.creds.Path())
		return nil
	}
	e.log.Info("Auto-connect", "result", e.connect(cred))
	return nil
}

func (e *Engine) shutdown() error {
	if err := e.fsm.Fire("stop"); err != nil {
		return err
	}
	return e.fsm.Fire("stopped")
}

func (e *Engine) onStop(event fsm.Event, args ...interface{}) error {
	// In-flight commands finish before the supervisor goes down.
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.control.Shutdown(ctx); err != nil {
		e.log.Warn("Control server shutdown", "err", err)
	}
	e.supervisor.Stop()
	e.sockets.Close()
	e.log.Info("Bridge daemon stopped")
	return nil
}

// resolve builds the credential from p, the credentials file, then config.
func (e *Engine) resolve(p control.Params) bridge.Credential {
	return e.creds.Resolve(p.Auth, p.OrchURL, bridge.Credential{
		Token:    e.cfg.Bridge.Auth,
		Endpoint: e.cfg.Bridge.OrchURL,
	})
}

func (e *Engine) connect(cred bridge.Credential) string {
	if !e.fsm.Is(fsm.State(consts.EngineRunning)) {
		return "bridge daemon is " + string(e.State())
	}
	err := e.supervisor.Restart(cred)
	switch {
	case err == nil:
		return "bridge connecting"
	case errors.IsConfiguration(err):
		return configMessage(err)
	default:
		return fmt.Sprintf("bridge retrying in %s: %v", e.supervisor.RetryIn(), err)
	}
}

func configMessage(err error) string {
	switch errors.CodeOf(err) {
	case errors.ErrCodeCredentialInvalid:
		return "Missing AUTH 'Bearer <token>' in credentials file or params"
	case errors.ErrCodeNoTransport:
		return "No WebSocket transport available"
	}
	return "Configuration error: " + err.Error()
}

// Status implements control.Bridge.
func (e *Engine) Status() string {
	return e.supervisor.Status()
}

// Connect implements control.Bridge.
func (e *Engine) Connect(p control.Params) string {
	return e.connect(e.resolve(p))
}

// Restart implements control.Bridge. The previous connection and any
// pending retry are torn down before the new attempt.
func (e *Engine) Restart(p control.Params) string {
	return e.connect(e.resolve(p))
}

// Configure implements control.Bridge. It only persists the credential.
func (e *Engine) Configure(p control.Params) string {
	if err := e.creds.Save(p.Auth, p.OrchURL); err != nil {
		if errors.CodeOf(err) == errors.ErrCodeCredentialInvalid {
			return "Please supply 'auth' Bearer token"
		}
		return "configure failed: " + err.Error()
	}
	return "configured"
}

// Personal.AI order the ending
