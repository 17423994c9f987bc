package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/jannikluhn/tlbc-monitor/internal/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is the HTTP server that exposes Prometheus metrics.
type Server struct {
	addr   string
	log    *logger.Logger
	server *http.Server
}

// NewServer creates a new metrics server listening on addr.
func NewServer(addr string, log *logger.Logger) *Server {
	return &Server{
		addr: addr,
		log:  log.WithComponent("metrics"),
	}
}

// Start starts the metrics HTTP server.
func (s *Server) Start() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Errorf("metrics server error: %v", err)
		}
	}()

	s.log.Infof("metrics server listening on %s", s.addr)
}

// Stop stops the metrics HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
