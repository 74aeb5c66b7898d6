// Command relay is the local multi-provider LLM relay: it fronts a set
// of configured upstream providers with a health-aware, circuit-breaking
// router and exposes a small OpenAI-shaped HTTP surface over them.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/relaycore/relay/config"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "serve":
		runServe(args)
	case "migrate":
		runMigrate(args)
	case "health":
		runHealth(args)
	case "version":
		runVersion()
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: relay <serve|migrate|health|version> [flags]")
}

func commonFlags(fs *flag.FlagSet) *string {
	return fs.String("config", "", "path to a YAML config file (defaults come from environment and built-in defaults)")
}

func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader().WithEnvPrefix("RELAY")
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	return loader.Load()
}

func buildLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.Set(cfg.Level); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
	}

	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	zcfg := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       false,
		Encoding:          encoding,
		EncoderConfig:     zap.NewProductionEncoderConfig(),
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}
	zcfg.EncoderConfig.TimeKey = "timestamp"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return zcfg.Build()
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := commonFlags(fs)
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger, err := buildLogger(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	a, err := newApp(cfg, logger)
	if err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.run(ctx); err != nil {
		logger.Fatal("server exited with error", zap.Error(err))
	}
}

func runMigrate(args []string) {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	configPath := commonFlags(fs)
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if cfg.Database.Driver == "" {
		fmt.Fprintln(os.Stderr, "migrate: no database configured")
		os.Exit(1)
	}

	logger, err := buildLogger(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// newApp runs the health store's golang-migrate Up() as part of
	// gormstore.New; constructing the app is sufficient to apply every
	// pending migration, so migrate has no separate code path.
	if _, err := newApp(cfg, logger); err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}
	logger.Info("migrations applied")
}

func runHealth(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	configPath := commonFlags(fs)
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger := zap.NewNop()
	a, err := newApp(cfg, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "startup failed:", err)
		os.Exit(1)
	}

	for _, pc := range cfg.Providers {
		h, ok := a.healthStore.GetHealth(pc.ID)
		if !ok {
			continue
		}
		fmt.Printf("%-20s score=%.2f circuit=%s\n", pc.ID, h.Score, h.CircuitState)
	}
}

func runVersion() {
	fmt.Printf("relay %s (commit %s, built %s)\n", serviceVersion, gitCommit, buildTime)
}
