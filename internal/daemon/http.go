package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/matheus3301/wirego/internal/metrics"
	"github.com/matheus3301/wirego/internal/socket"
	"github.com/matheus3301/wirego/internal/status"
	"go.uber.org/zap"
)

// HTTPServer serves liveness, readiness and Prometheus metrics. It is
// disabled when no address is configured.
type HTTPServer struct {
	srv    *http.Server
	logger *zap.Logger
}

// NewRouter builds the health and metrics routes.
func NewRouter(sessionName string, machine *status.Machine, conn *socket.Connection, m *metrics.Metrics) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(10 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// Ready once the socket is up.
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		body := map[string]any{
			"session":   sessionName,
			"status":    string(machine.Current()),
			"connected": conn.IsConnected(),
		}
		code := http.StatusOK
		if !conn.IsConnected() {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(body)
	})

	r.Handle("/metrics", m.Handler())
	return r
}

// NewHTTPServer returns nil when addr is empty.
func NewHTTPServer(addr string, handler http.Handler, logger *zap.Logger) *HTTPServer {
	if addr == "" {
		return nil
	}
	return &HTTPServer{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Start binds the listener and serves in the background.
func (h *HTTPServer) Start() error {
	if h == nil {
		return nil
	}
	ln, err := net.Listen("tcp", h.srv.Addr)
	if err != nil {
		return err
	}
	h.logger.Info("http server starting", zap.String("addr", ln.Addr().String()))
	go func() {
		if err := h.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("http server error", zap.Error(err))
		}
	}()
	return nil
}

// Stop shuts the server down gracefully.
func (h *HTTPServer) Stop(ctx context.Context) error {
	if h == nil {
		return nil
	}
	return h.srv.Shutdown(ctx)
}
