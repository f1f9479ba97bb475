package consts

import "time"

// ConnectionState defines the lifecycle state of the orchestrator connection.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "Disconnected"
	StateConnecting   ConnectionState = "Connecting"  // Transport dial in flight
	StateHandshaking  ConnectionState = "Handshaking" // Transport open, handshake being written
	StateReady        ConnectionState = "Ready"       // Serving requests, heartbeat running
	StateClosing      ConnectionState = "Closing"
)

// EngineState defines the lifecycle state of the daemon.
type EngineState string

const (
	EnginePending  EngineState = "PENDING"
	EngineRunning  EngineState = "RUNNING"
	EngineStopping EngineState = "STOPPING"
	EngineStopped  EngineState = "STOPPED"
)

// Envelope types
const (
	TypeRequest  = "request"
	TypeResponse = "response"
	TypeEvent    = "event"
)

// Scopes
const (
	ScopeHandshake   = "handshake"
	ScopeConfigRead  = "config.read"
	ScopeConfigWrite = "config.write"
	ScopeConfigRes   = "config.read.result"
	ScopeHeartbeat   = "heartbeat"
)

// Protocol-level error codes carried in response envelopes
const (
	CodeWriteFail = "WRITE_FAIL"
)

// Environment variables
const (
	EnvToken  = "CATHEDRAL_MPC_TOKEN"
	EnvURL    = "CATHEDRAL_MPC_URL"
	EnvPrefix = "CATHEDRAL_"

	// Socket activation (sd_listen_fds)
	EnvListenFDs = "LISTEN_FDS"
	EnvListenPID = "LISTEN_PID"
)

// Credentials file keys
const (
	KeyAuth    = "AUTH"
	KeyOrchURL = "ORCH_URL"
)

const (
	DefaultOrchURL           = "ws://homeassistant.local:5005/mcp"
	DefaultWorkspaceID       = "anythingllm_desktop"
	DefaultClientName        = "anythingllm/agent-skill"
	DefaultClientVersion     = "v1"
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultSnapshotDelay     = 1500 * time.Millisecond
	DefaultBackoffInitial    = 5 * time.Second
	DefaultBackoffMax        = 5 * time.Minute
	DefaultHandshakeTimeout  = 10 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultEnrichTimeout     = 3 * time.Second
	DefaultSocketName        = "cathedral-bridge.sock"
)

// Capabilities announced in the handshake.
var Capabilities = []string{"config.read", "config.write", "session.*", "memory.*"}

// Personal.AI order the ending
