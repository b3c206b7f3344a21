package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/YASSERRMD/naseejmesh/internal/config"
	"github.com/YASSERRMD/naseejmesh/internal/gateway"
	"github.com/YASSERRMD/naseejmesh/internal/logging"
	"github.com/YASSERRMD/naseejmesh/internal/pipeline"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file (defaults apply when empty)")
	showVersion := flag.Bool("version", false, "Show version information")
	validateOnly := flag.Bool("validate", false, "Validate configuration and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("naseejmesh %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	if *validateOnly {
		fmt.Println("configuration is valid")
		os.Exit(0)
	}

	logger, closer, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	logging.SetGlobal(logger)
	if closer != nil {
		defer closer.Close()
	}
	defer logging.Sync()

	if version != "dev" {
		pipeline.Version = version
	}

	logging.Info("starting naseejmesh",
		zap.String("version", version),
		zap.String("store", cfg.StorePath),
		zap.String("admin", cfg.AdminAddr),
		zap.Bool("dev_mode", cfg.DevMode),
	)

	gw, err := gateway.New(cfg)
	if err != nil {
		// Config-store unavailability at startup exits non-zero.
		logging.Error("startup failed", zap.Error(err))
		logging.Sync()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := gw.Run(ctx); err != nil {
		logging.Error("gateway exited with error", zap.Error(err))
		logging.Sync()
		os.Exit(1)
	}

	logging.Info("clean shutdown")
}
