package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dougsko/js8emu/pkg/config"
	"github.com/dougsko/js8emu/pkg/logging"
	"github.com/dougsko/js8emu/pkg/verbose"
)

var (
	configPath  = flag.String("config", "config.ini", "Configuration file path (INI or YAML)")
	logLevel    = flag.String("log-level", "", "Override the configured log level (debug, info, warning, error)")
	verboseFlag = flag.Bool("verbose", false, "Trace every line received and sent (same as -log-level debug)")
	dryRun      = flag.Bool("dry-run", false, "Load and validate the configuration, then exit")
	version     = flag.Bool("version", false, "Show version information")
)

const (
	Version = "0.1.0"
	Build   = "development"
)

func main() {
	os.Exit(run())
}

func run() int {
	flag.Parse()

	if *version {
		fmt.Printf("js8emu version %s (%s)\n", Version, Build)
		return 0
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 1
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		return 1
	}

	if *logLevel != "" {
		switch strings.ToLower(*logLevel) {
		case "debug", "info", "warn", "warning", "error":
			cfg.Logging.Level = *logLevel
		default:
			fmt.Fprintf(os.Stderr, "Invalid log level %q\n", *logLevel)
			return 1
		}
	}
	if *verboseFlag {
		cfg.Logging.Level = "debug"
	}

	if err := logging.InitGlobalLogger(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logging: %v\n", err)
		return 1
	}
	defer logging.CloseGlobalLogger()
	verbose.SetEnabled(wireTracing(cfg.Logging.Level, *verboseFlag))

	if *dryRun {
		logging.Info("main", "Config OK. Dry-run complete.")
		return 0
	}

	logging.Info("main", fmt.Sprintf("js8emu version %s starting with %d interface(s)", Version, len(cfg.Interfaces)))

	daemon, err := NewDaemon(cfg)
	if err != nil {
		logging.Error("main", fmt.Sprintf("Failed to create daemon: %v", err))
		return 1
	}

	if err := daemon.Start(); err != nil {
		logging.Error("main", fmt.Sprintf("Failed to start daemon: %v", err))
		daemon.Stop()
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info("main", "js8emu started successfully")
	if err := daemon.Run(ctx); err != nil {
		logging.Error("main", fmt.Sprintf("Emulator error: %v", err))
	}

	logging.Info("main", "Shutting down...")
	if err := daemon.Stop(); err != nil {
		logging.Error("main", fmt.Sprintf("Error during shutdown: %v", err))
	}

	logging.Info("main", "js8emu stopped")
	return 0
}

// wireTracing reports whether every protocol line is traced. Debug level
// traces on its own; -verbose forces it.
func wireTracing(level string, verboseFlag bool) bool {
	return verboseFlag || logging.ParseLogLevel(level) == logging.LevelDebug
}
