package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/bpradana/edgeboard/internal/config"
	"github.com/bpradana/edgeboard/internal/health"
	"github.com/bpradana/edgeboard/pkg/logger"
)

func main() {
	var configDir = flag.String("config", "./configs/default", "Configuration directory")
	var logLevel = flag.String("log-level", "warn", "Log level (debug, info, warn, error)")
	var verbose = flag.Bool("verbose", false, "Enable verbose output")
	flag.Parse()

	// Initialize logger
	log, err := logger.NewLogger(*logLevel, "text")
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	fmt.Println("🔍 Edgeboard Configuration Validator")
	fmt.Println("=====================================")

	if _, err := os.Stat(*configDir); os.IsNotExist(err) {
		fmt.Printf("❌ Configuration directory does not exist: %s\n", *configDir)
		os.Exit(1)
	}

	fmt.Printf("📁 Validating configuration in: %s\n\n", *configDir)

	cfg, err := config.LoadConfig(*configDir)
	if err != nil {
		fmt.Printf("❌ Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("✅ Configuration files loaded successfully")

	if err := config.ValidateConfig(cfg, log); err != nil {
		fmt.Printf("❌ Configuration validation failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("✅ Configuration validation passed")

	if *verbose {
		printConfigurationSummary(cfg)
	}

	fmt.Println("\n🎉 All validations passed! Your configuration is ready to use.")
}

func printConfigurationSummary(cfg *config.Config) {
	fmt.Println("\n📊 Configuration Summary:")
	fmt.Println("------------------------")

	fmt.Printf("🌐 Global Settings:\n")
	fmt.Printf("  HTTP Port: %d\n", cfg.Global.Server.HTTPPort)
	fmt.Printf("  HTTPS Port: %d\n", cfg.Global.Server.HTTPSPort)
	fmt.Printf("  Read Timeout: %v\n", cfg.Global.Server.ReadTimeout)
	fmt.Printf("  Write Timeout: %v\n", cfg.Global.Server.WriteTimeout)
	fmt.Printf("  Log Level: %s\n", cfg.Global.Log.Level)
	fmt.Printf("  Log Format: %s\n", cfg.Global.Log.Format)

	targets := health.ParseTargets(cfg.Targets.TargetList(), cfg.Targets.BaseURL(), cfg.Targets.FallbackLabel)
	fmt.Printf("\n🎯 Targets (%d, environment %s):\n", len(targets), cfg.Targets.Environment)
	for i, target := range targets {
		fmt.Printf("  %d. %s -> %s\n", i+1, target.Label, target.APIURL)
	}

	fmt.Printf("\n⏱️  Polling:\n")
	fmt.Printf("  Interval: %v\n", cfg.Polling.Interval)
	fmt.Printf("  Cycle Interval: %v\n", cfg.Polling.CycleInterval)
	fmt.Printf("  Timeout: %v\n", cfg.Polling.Timeout)
	fmt.Printf("  Uptime Units: %d\n", cfg.Polling.MaxUnits)

	fmt.Printf("\n🌱 Seed Directory:\n")
	fmt.Printf("  Enabled: %t\n", cfg.Directory.Enabled)
	if cfg.Directory.Enabled {
		fmt.Printf("  API Base: %s\n", cfg.Directory.APIBase)
		fmt.Printf("  Interval: %v\n", cfg.Directory.Interval)
		fmt.Printf("  Overview Interval: %v\n", cfg.Directory.OverviewInterval)
	}

	fmt.Printf("\n🔧 Middleware:\n")
	fmt.Printf("  Logging: %t\n", cfg.Middleware.Logging.Enabled)
	fmt.Printf("  Rate Limit: %t\n", cfg.Middleware.RateLimit.Enabled)
	fmt.Printf("  Auth: %t\n", cfg.Middleware.Auth.Enabled)
	if cfg.Middleware.Auth.Enabled && cfg.Middleware.Auth.RebootRole != "" {
		fmt.Printf("  Reboot Role: %s\n", cfg.Middleware.Auth.RebootRole)
	}
	fmt.Printf("  Compression: %t\n", cfg.Middleware.Compression.Enabled)

	fmt.Printf("\n🔒 TLS Configuration:\n")
	fmt.Printf("  Enabled: %t\n", cfg.TLS.Enabled)
	if cfg.TLS.Enabled {
		fmt.Printf("  Auto-cert: %t\n", cfg.TLS.AutoCert.Enabled)
		fmt.Printf("  Manual Certificates: %d\n", len(cfg.TLS.Certificates))
	}

	fmt.Printf("\n📈 Metrics:\n")
	fmt.Printf("  Enabled: %t\n", cfg.Metrics.Enabled)
	if cfg.Metrics.Enabled {
		fmt.Printf("  Port: %d\n", cfg.Metrics.Port)
		fmt.Printf("  Path: %s\n", cfg.Metrics.Path)
	}
}
