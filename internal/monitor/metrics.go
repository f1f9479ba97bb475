package monitor

import (
	"errors"
	"net"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/turtacn/cathedral-bridge/pkg/consts"
	"github.com/turtacn/cathedral-bridge/pkg/logger"
)

var (
	// ConnectionState is 1 for the current connection state and 0 for the others.
	ConnectionState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cathedral_bridge_connection_state",
		Help: "Current orchestrator connection state",
	}, []string{"state"})
	// ReconnectTotal counts scheduled and forced reconnects, partitioned by reason.
	ReconnectTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cathedral_bridge_reconnects_total",
		Help: "Total number of reconnect attempts",
	}, []string{"reason"})
	// BackoffSeconds is the delay that will be used for the next scheduled reconnect.
	BackoffSeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cathedral_bridge_backoff_seconds",
		Help: "Delay before the next reconnect attempt",
	})
	// RequestsTotal counts handled orchestrator requests by scope and outcome.
	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cathedral_bridge_requests_total",
		Help: "Orchestrator requests handled",
	}, []string{"scope", "outcome"})
	// HeartbeatsTotal counts heartbeat events written.
	HeartbeatsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cathedral_bridge_heartbeats_total",
		Help: "Heartbeat events sent",
	})
	// FramesDroppedTotal counts inbound frames that were not acted on.
	FramesDroppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cathedral_bridge_frames_dropped_total",
		Help: "Inbound frames dropped",
	}, []string{"reason"})
)

var (
	registerOnce sync.Once
	allStates    = []consts.ConnectionState{
		consts.StateDisconnected,
		consts.StateConnecting,
		consts.StateHandshaking,
		consts.StateReady,
		consts.StateClosing,
	}
)

// Register adds the bridge collectors to the default registry. Safe to call repeatedly.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(ConnectionState)
		prometheus.MustRegister(ReconnectTotal)
		prometheus.MustRegister(BackoffSeconds)
		prometheus.MustRegister(RequestsTotal)
		prometheus.MustRegister(HeartbeatsTotal)
		prometheus.MustRegister(FramesDroppedTotal)
	})
}

// SetState records s as the current connection state.
func SetState(s consts.ConnectionState) {
	for _, st := range allStates {
		v := 0.0
		if st == s {
			v = 1
		}
		ConnectionState.WithLabelValues(string(st)).Set(v)
	}
}

// Handler serves the default registry.
func Handler() http.Handler {
	Register()
	return promhttp.Handler()
}

// InitMetrics registers the collectors with the default registry.
func InitMetrics() {
	Register()
}

// Serve exposes /metrics on l in the background until l is closed.
func Serve(l net.Listener) {
	Register()
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		logger.Log.Info("Metrics server starting", "addr", l.Addr().String())
		if err := http.Serve(l, mux); err != nil && !errors.Is(err, net.ErrClosed) {
			logger.Log.Error("Metrics server failed", "err", err)
		}
	}()
}

// Personal.AI order the ending
