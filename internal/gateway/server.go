package gateway

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/edgegate/edgegate/internal/config"
	"github.com/edgegate/edgegate/internal/logging"
)

// Server wraps the gateway with an HTTP server, config watching, and
// graceful shutdown.
type Server struct {
	gateway    *Gateway
	httpServer *http.Server
	watcher    *config.Watcher
	cfg        *config.Config
}

// NewServer builds a server for the given config. configPath enables
// hot-reload when non-empty.
func NewServer(cfg *config.Config, configPath string) (*Server, error) {
	gw, err := New(cfg)
	if err != nil {
		return nil, err
	}

	s := &Server{
		gateway: gw,
		cfg:     cfg,
		httpServer: &http.Server{
			Addr:         cfg.Server.Address,
			Handler:      gw.Handler(),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
		},
	}

	if cfg.Server.Metrics {
		mux := http.NewServeMux()
		mux.Handle("/metrics", gw.Metrics().Handler())
		mux.HandleFunc("/healthz", s.handleHealth)
		mux.Handle("/", gw.Handler())
		s.httpServer.Handler = mux
	}

	if configPath != "" {
		w, err := config.NewWatcher(configPath)
		if err != nil {
			return nil, err
		}
		w.OnChange(func(newCfg *config.Config) {
			if err := gw.Reload(newCfg); err != nil {
				logging.Error("reload failed, keeping previous policies", zap.Error(err))
			}
		})
		s.watcher = w
	}

	return s, nil
}

// Gateway returns the underlying gateway.
func (s *Server) Gateway() *Gateway {
	return s.gateway
}

// Run serves until SIGINT/SIGTERM, then shuts down gracefully.
func (s *Server) Run() error {
	if s.watcher != nil {
		if err := s.watcher.Start(); err != nil {
			return err
		}
		defer s.watcher.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("gateway listening", zap.String("address", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logging.Info("shutting down", zap.String("signal", sig.String()))
		return s.Shutdown(s.cfg.Server.ShutdownTimeout)
	}
}

// Shutdown stops accepting requests and waits for in-flight exchanges.
func (s *Server) Shutdown(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return err
	}
	if err := s.gateway.Close(); err != nil {
		logging.Warn("span exporter shutdown failed", zap.Error(err))
	}
	logging.Info("shutdown complete")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}
