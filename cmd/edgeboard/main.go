package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bpradana/edgeboard/internal/config"
	"github.com/bpradana/edgeboard/internal/dashboard"
	"github.com/bpradana/edgeboard/internal/health"
	"github.com/bpradana/edgeboard/internal/metrics"
	"github.com/bpradana/edgeboard/internal/tls"
	"github.com/bpradana/edgeboard/pkg/logger"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

func main() {
	var configDir = flag.String("config", "./configs/default", "Configuration directory")
	var logLevel = flag.String("log-level", "", "Log level override (debug, info, warn, error)")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configDir)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.Global.Log.Level = *logLevel
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Global.Log.Level, cfg.Global.Log.Format)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Validate configuration
	if err := config.ValidateConfig(cfg, log); err != nil {
		log.Fatal("Configuration validation failed", zap.Error(err))
	}

	log.Info("Configuration loaded successfully",
		zap.String("config_dir", *configDir),
		zap.String("environment", cfg.Targets.Environment))

	// Initialize TLS manager
	tlsManager, err := tls.NewManager(&cfg.TLS, log.Named("tls"))
	if err != nil {
		log.Fatal("Failed to initialize TLS manager", zap.Error(err))
	}

	// Initialize metrics
	var recorder *metrics.Recorder
	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		recorder = metrics.NewRecorder(cfg.Metrics.Namespace)
		metricsServer = metrics.NewServer(&cfg.Metrics, recorder, log.Named("metrics"))
		go func() {
			if err := metricsServer.Start(); err != nil {
				log.Error("Failed to start metrics server", zap.Error(err))
			}
		}()
	}

	// Initialize dashboard server
	fetcher := health.NewFetcher(cfg.Polling, log.Named("fetcher"))
	dashboardServer, err := dashboard.NewServer(cfg, fetcher, tlsManager, recorder, log)
	if err != nil {
		log.Fatal("Failed to create dashboard server", zap.Error(err))
	}

	if err := dashboardServer.Start(); err != nil {
		log.Fatal("Failed to start dashboard server", zap.Error(err))
	}

	// Setup configuration hot-reload
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Fatal("Failed to create file watcher", zap.Error(err))
	}
	defer watcher.Close()

	go watchConfig(watcher, *configDir, dashboardServer, log)

	if err := watcher.Add(*configDir); err != nil {
		log.Error("Failed to add config directory to watcher", zap.Error(err))
	}

	// Setup graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	<-quit
	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if metricsServer != nil {
		metricsServer.Stop()
	}

	if err := dashboardServer.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server shutdown complete")
}

// watchConfig reloads the configuration whenever a file in configDir is
// written or replaced.
func watchConfig(watcher *fsnotify.Watcher, configDir string, server dashboard.Server, log *zap.Logger) {
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			log.Info("Configuration file changed, reloading...", zap.String("file", event.Name))
			newCfg, err := config.LoadConfig(configDir)
			if err != nil {
				log.Error("Failed to reload configuration", zap.Error(err))
				continue
			}
			if err := config.ValidateConfig(newCfg, log); err != nil {
				log.Error("Configuration validation failed during reload", zap.Error(err))
				continue
			}
			if err := server.UpdateConfig(newCfg); err != nil {
				log.Error("Failed to apply configuration", zap.Error(err))
				continue
			}
			log.Info("Configuration reloaded successfully")
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Error("File watcher error", zap.Error(err))
		}
	}
}
