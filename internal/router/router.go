package router

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/turtacn/cathedral-bridge/internal/monitor"
	"github.com/turtacn/cathedral-bridge/pkg/consts"
	"github.com/turtacn/cathedral-bridge/pkg/logger"
	"github.com/turtacn/cathedral-bridge/pkg/protocol"
)

// Store is the configuration backend the router reads and writes.
type Store interface {
	Read() map[string]string
	Write(updates map[string]string) error
}

// Enricher optionally annotates snapshots.
type Enricher interface {
	Fetch(ctx context.Context) (json.RawMessage, bool)
}

// Result is the outcome of a handled request.
type Result struct {
	OK    bool
	Body  any
	Error *protocol.ErrorBody
}

// Router answers config.read and config.write against a Store.
type Router struct {
	store      Store
	enricher   Enricher
	storageDir string
	log        logger.Logger
}

// New returns a Router. enricher may be nil.
func New(store Store, enricher Enricher, storageDir string) *Router {
	return &Router{
		store:      store,
		enricher:   enricher,
		storageDir: storageDir,
		log:        logger.Log.With("component", "router"),
	}
}

// Handle dispatches scope. The second return is false for scopes this side
// does not serve; no response is produced for those.
func (r *Router) Handle(ctx context.Context, scope string, body json.RawMessage) (Result, bool) {
	var res Result
	switch scope {
	case consts.ScopeConfigRead:
		res = r.read(ctx)
	case consts.ScopeConfigWrite:
		res = r.write(ctx, body)
	default:
		return Result{}, false
	}

	outcome := "ok"
	if !res.OK {
		outcome = "error"
	}
	monitor.RequestsTotal.WithLabelValues(scope, outcome).Inc()
	return res, true
}

// Snapshot materializes the current configuration. It always re-reads the
// store; the enrichment field is omitted when the side channel fails.
func (r *Router) Snapshot(ctx context.Context) protocol.ConfigSnapshot {
	snap := protocol.NewSnapshot(r.store.Read(), r.storageDir)
	if r.enricher != nil {
		if data, ok := r.enricher.Fetch(ctx); ok {
			snap.Enrichment = data
		}
	}
	return snap
}

func (r *Router) read(ctx context.Context) Result {
	return Result{OK: true, Body: r.Snapshot(ctx)}
}

func (r *Router) write(ctx context.Context, body json.RawMessage) Result {
	var req protocol.WriteBody
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			// Anything other than an object under "updates" applies nothing.
			r.log.Debug("config.write body ignored", "err", err)
			req.Updates = nil
		}
	}

	current := r.store.Read()
	changed := make(map[string]string)
	for key, raw := range req.Updates {
		if !protocol.IsAllowedKey(key) {
			r.log.Debug("config.write key not allowed", "key", key)
			continue
		}
		value, ok := coerce(raw)
		if !ok {
			continue
		}
		if old, exists := current[key]; exists && old == value {
			continue
		}
		changed[key] = value
	}

	if len(changed) > 0 {
		if err := r.store.Write(changed); err != nil {
			r.log.Warn("config.write failed", "err", err)
			return Result{
				OK:    false,
				Error: &protocol.ErrorBody{Code: consts.CodeWriteFail, Message: err.Error()},
			}
		}
		r.log.Info("Configuration updated by orchestrator", "keys", keys(changed))
	}
	return Result{OK: true, Body: r.Snapshot(ctx)}
}

// coerce turns a JSON value into its string form: strings verbatim, null
// skipped, everything else as compact JSON text.
func coerce(raw json.RawMessage) (string, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		return s, true
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return "", false
	}
	return buf.String(), true
}

func keys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for _, k := range protocol.AllowedKeys {
		if _, ok := m[k]; ok {
			out = append(out, k)
		}
	}
	return out
}

// Personal.AI order the ending
