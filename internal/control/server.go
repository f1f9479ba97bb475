package control

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/turtacn/cathedral-bridge/internal/monitor"
	"github.com/turtacn/cathedral-bridge/pkg/logger"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Bridge is the command surface exposed to local callers. Every method
// returns a short human-readable result and never fails.
type Bridge interface {
	Status() string
	Restart(p Params) string
	Connect(p Params) string
	Configure(p Params) string
}

// Params optionally overrides the stored credential.
type Params struct {
	Auth    string `json:"auth,omitempty"`
	OrchURL string `json:"orch_url,omitempty"`
}

const maxBody = 64 << 10

// Server serves the control API over a local socket.
type Server struct {
	router *chi.Mux
	bridge Bridge
	srv    *http.Server
	log    logger.Logger
}

func NewServer(b Bridge) *Server {
	s := &Server{
		router: chi.NewRouter(),
		bridge: b,
		log:    logger.Log.With("component", "control"),
	}
	s.routes()
	s.srv = &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(s.logRequests)
	s.router.Use(middleware.Recoverer)
	s.router.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "cathedral-bridge-control")
	})

	s.router.Get("/status", s.handleStatus)
	s.router.Post("/restart", s.handleRestart)
	s.router.Post("/connect", s.handleConnect)
	s.router.Post("/configure", s.handleConfigure)
	s.router.Method(http.MethodGet, "/metrics", monitor.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Serve accepts control requests on l until Shutdown.
func (s *Server) Serve(l net.Listener) error {
	s.log.Info("Control server listening", "addr", l.Addr().String())
	if err := s.srv.Serve(l); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("Control request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start).String(),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeText(w, http.StatusOK, s.bridge.Status())
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	p, ok := decodeParams(w, r)
	if !ok {
		return
	}
	writeText(w, http.StatusOK, s.bridge.Restart(p))
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	p, ok := decodeParams(w, r)
	if !ok {
		return
	}
	writeText(w, http.StatusOK, s.bridge.Connect(p))
}

func (s *Server) handleConfigure(w http.ResponseWriter, r *http.Request) {
	p, ok := decodeParams(w, r)
	if !ok {
		return
	}
	writeText(w, http.StatusOK, s.bridge.Configure(p))
}

// decodeParams reads an optional JSON body. An empty body means no overrides.
func decodeParams(w http.ResponseWriter, r *http.Request) (Params, bool) {
	var p Params
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		writeText(w, http.StatusBadRequest, "invalid request body")
		return p, false
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return p, true
	}
	if err := json.Unmarshal(data, &p); err != nil {
		writeText(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return p, false
	}
	return p, true
}

func writeText(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	io.WriteString(w, msg+"\n")
}

// Personal.AI order the ending
