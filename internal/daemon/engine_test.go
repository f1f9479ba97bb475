package daemon

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/turtacn/cathedral-bridge/internal/control"
	"github.com/turtacn/cathedral-bridge/internal/credentials"
	"github.com/turtacn/cathedral-bridge/pkg/consts"
	"github.com/turtacn/cathedral-bridge/pkg/protocol"
)

// orchestrator is an in-process WebSocket peer standing in for the remote side.
type orchestrator struct {
	srv   *httptest.Server
	conns chan *websocket.Conn
	auth  chan string
}

func newOrchestrator(t *testing.T) *orchestrator {
	t.Helper()
	o := &orchestrator{
		conns: make(chan *websocket.Conn, 8),
		auth:  make(chan string, 8),
	}
	upgrader := websocket.Upgrader{}
	o.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		o.auth <- r.Header.Get("Authorization")
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		o.conns <- c
	}))
	t.Cleanup(o.srv.Close)
	return o
}

func (o *orchestrator) url() string {
	return "ws" + strings.TrimPrefix(o.srv.URL, "http") + "/mcp"
}

func (o *orchestrator) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-o.conns:
		t.Cleanup(func() { c.Close() })
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("bridge never connected")
		return nil
	}
}

// next reads frames until one matches scope.
func next(t *testing.T, c *websocket.Conn, scope string) protocol.Envelope {
	t.Helper()
	c.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, data, err := c.ReadMessage()
		require.NoError(t, err)
		env, err := protocol.Decode(data)
		require.NoError(t, err)
		if env.Scope == scope {
			return env
		}
	}
}

func testConfig(t *testing.T) *protocol.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := &protocol.Config{}
	cfg.Bridge.OrchURL = consts.DefaultOrchURL
	cfg.Bridge.CredentialsFile = filepath.Join(dir, "bridge", ".env")
	cfg.Store.StorageDir = filepath.Join(dir, "storage")
	cfg.Store.EnvPath = filepath.Join(dir, "storage", ".env")
	cfg.Control.SocketPath = filepath.Join(dir, "ctl.sock")
	cfg.Timing.SnapshotDelay = "10ms"
	cfg.Timing.HeartbeatInterval = "1h"
	cfg.Timing.BackoffInitial = "50ms"
	cfg.Timing.BackoffMax = "200ms"
	return cfg
}

// runEngine starts e and returns a client plus a stop func that waits for Run.
func runEngine(t *testing.T, cfg *protocol.Config) (*Engine, *control.Client, func()) {
	t.Helper()
	e := NewEngine(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	client := control.NewClient(cfg.Control.SocketPath)
	require.Eventually(t, func() bool {
		_, err := client.Status(context.Background())
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	var stopped bool
	stop := func() {
		if stopped {
			return
		}
		stopped = true
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("engine did not stop")
		}
	}
	t.Cleanup(stop)
	return e, client, stop
}

func TestEngine_ConfigureConnectServe(t *testing.T) {
	orch := newOrchestrator(t)
	cfg := testConfig(t)
	e, client, stop := runEngine(t, cfg)
	ctx := context.Background()

	assert.Equal(t, consts.EngineRunning, e.State())

	status, err := client.Status(ctx)
	require.NoError(t, err)
	assert.Contains(t, status, "ws=Disconnected")
	assert.Contains(t, status, "hb=idle")

	// configure persists only
	out, err := client.Configure(ctx, control.Params{Auth: "Bearer tok", OrchURL: orch.url()})
	require.NoError(t, err)
	assert.Equal(t, "configured", out)
	status, _ = client.Status(ctx)
	assert.Contains(t, status, "ws=Disconnected")

	out, err = client.Connect(ctx, control.Params{})
	require.NoError(t, err)
	assert.Equal(t, "bridge connecting", out)

	assert.Equal(t, "Bearer tok", <-orch.auth)
	peer := orch.accept(t)

	hello := next(t, peer, consts.ScopeHandshake)
	assert.Equal(t, consts.TypeRequest, hello.Type)
	assert.Equal(t, "Bearer tok", hello.Headers["authorization"])

	snap := next(t, peer, consts.ScopeConfigRes)
	assert.Equal(t, consts.TypeEvent, snap.Type)

	require.NoError(t, peer.WriteMessage(websocket.TextMessage,
		[]byte(`{"id":"r1","type":"request","scope":"config.write","body":{"updates":{"VECTOR_DB":"chroma","UNKNOWN_KEY":"x"}}}`)))
	resp := next(t, peer, consts.ScopeConfigRes)
	assert.Equal(t, "r1", resp.ID)
	assert.Equal(t, consts.TypeResponse, resp.Type)
	assert.True(t, resp.Succeeded())

	data, err := os.ReadFile(cfg.Store.EnvPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "VECTOR_DB=chroma")
	assert.NotContains(t, string(data), "UNKNOWN_KEY")

	require.Eventually(t, func() bool {
		s, _ := client.Status(ctx)
		return strings.Contains(s, "ws=Ready") && strings.Contains(s, "hb=alive")
	}, 5*time.Second, 10*time.Millisecond)
	status, _ = client.Status(ctx)
	assert.Contains(t, status, "url="+orch.url())

	// restart replaces the session
	out, err = client.Restart(ctx, control.Params{})
	require.NoError(t, err)
	assert.Equal(t, "bridge connecting", out)
	second := orch.accept(t)
	next(t, second, consts.ScopeHandshake)

	peer.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		if _, _, err := peer.ReadMessage(); err != nil {
			break
		}
	}

	stop()
	assert.Equal(t, consts.EngineStopped, e.State())
	_, err = os.Stat(cfg.Control.SocketPath)
	assert.True(t, os.IsNotExist(err))
}

func TestEngine_AutoConnectFromCredentialsFile(t *testing.T) {
	orch := newOrchestrator(t)
	cfg := testConfig(t)
	require.NoError(t, credentials.New(cfg.Bridge.CredentialsFile).Save("Bearer stored", orch.url()))

	runEngine(t, cfg)

	assert.Equal(t, "Bearer stored", <-orch.auth)
	peer := orch.accept(t)
	next(t, peer, consts.ScopeHandshake)
}

func TestEngine_ReconnectsAfterPeerDrops(t *testing.T) {
	orch := newOrchestrator(t)
	cfg := testConfig(t)
	cfg.Bridge.Auth = "Bearer env"
	cfg.Bridge.OrchURL = orch.url()

	runEngine(t, cfg)

	first := orch.accept(t)
	next(t, first, consts.ScopeHandshake)
	first.Close()

	second := orch.accept(t)
	next(t, second, consts.ScopeHandshake)
}

func TestEngine_CommandErrorsAreStrings(t *testing.T) {
	cfg := testConfig(t)
	_, client, _ := runEngine(t, cfg)
	ctx := context.Background()

	out, err := client.Connect(ctx, control.Params{})
	require.NoError(t, err)
	assert.Contains(t, out, "Missing AUTH")

	out, err = client.Configure(ctx, control.Params{OrchURL: "ws://h/mcp"})
	require.NoError(t, err)
	assert.Equal(t, "Please supply 'auth' Bearer token", out)

	out, err = client.Connect(ctx, control.Params{Auth: "Bearer x", OrchURL: "http://not-a-websocket"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "bridge retrying in 50ms"), out)

	status, err := client.Status(ctx)
	require.NoError(t, err)
	assert.Contains(t, status, "ws=")
}

func TestEngine_BadCredentialKeepsLiveSession(t *testing.T) {
	orch := newOrchestrator(t)
	cfg := testConfig(t)
	cfg.Bridge.Auth = "Bearer env"
	cfg.Bridge.OrchURL = orch.url()
	e, client, _ := runEngine(t, cfg)
	ctx := context.Background()

	peer := orch.accept(t)
	next(t, peer, consts.ScopeHandshake)
	require.Eventually(t, func() bool {
		return e.supervisor.State() == consts.StateReady
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, consts.TypeEvent, next(t, peer, consts.ScopeConfigRes).Type)

	out, err := client.Connect(ctx, control.Params{Auth: "token-without-prefix"})
	require.NoError(t, err)
	assert.Contains(t, out, "Missing AUTH")

	assert.Equal(t, consts.StateReady, e.supervisor.State())
	require.NoError(t, peer.WriteMessage(websocket.TextMessage,
		[]byte(`{"id":"r2","type":"request","scope":"config.read"}`)))
	assert.Equal(t, "r2", next(t, peer, consts.ScopeConfigRes).ID)
}

func TestEngine_CommandsRefusedAfterStop(t *testing.T) {
	orch := newOrchestrator(t)
	cfg := testConfig(t)
	e, _, stop := runEngine(t, cfg)
	stop()

	out := e.Connect(control.Params{Auth: "Bearer late", OrchURL: orch.url()})
	assert.Equal(t, "bridge daemon is STOPPED", out)
	select {
	case <-orch.auth:
		t.Fatal("stopped daemon dialed the orchestrator")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestEngine_StopsOnSIGTERM(t *testing.T) {
	cfg := testConfig(t)
	e, _, stop := runEngine(t, cfg)

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGTERM))
	require.Eventually(t, func() bool {
		return e.State() == consts.EngineStopped
	}, 5*time.Second, 10*time.Millisecond)
	stop()

	_, err := os.Stat(cfg.Control.SocketPath)
	assert.True(t, os.IsNotExist(err))
}
