package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bpradana/edgeboard/internal/config"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server handles metrics collection and serving
type Server struct {
	cfg      *config.MetricsConfig
	logger   *zap.Logger
	recorder *Recorder
	server   *http.Server
}

// NewServer creates a new metrics server exposing recorder
func NewServer(cfg *config.MetricsConfig, recorder *Recorder, logger *zap.Logger) *Server {
	return &Server{
		cfg:      cfg,
		logger:   logger,
		recorder: recorder,
	}
}

// Handler returns the scrape handler of the recorder's registry
func (s *Server) Handler() http.Handler {
	return promhttp.HandlerFor(s.recorder.Registry(), promhttp.HandlerOpts{
		ErrorLog: zap.NewStdLog(s.logger),
	})
}

// Start starts the metrics server
func (s *Server) Start() error {
	if !s.cfg.Enabled {
		s.logger.Info("Metrics server disabled")
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(s.cfg.Path, s.Handler())

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	s.logger.Info("Starting metrics server",
		zap.Int("port", s.cfg.Port),
		zap.String("path", s.cfg.Path))

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	s.logger.Info("Stopping metrics server")
	return s.server.Close()
}
