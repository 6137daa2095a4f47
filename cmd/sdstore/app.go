package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/timini/securedrop/pkg/artifacts"
	"github.com/timini/securedrop/pkg/config"
	"github.com/timini/securedrop/pkg/observability"
)

// app holds what a subcommand needs once configuration is loaded.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	storage   *artifacts.Storage
	telemetry *observability.Provider
}

// shutdownTimeout bounds the telemetry flush on exit. It runs on a fresh
// context so an interrupted command still flushes.
const shutdownTimeout = 5 * time.Second

type appOptions struct {
	publish bool
}

// newFlagSet returns a flag set carrying the shared --config flag.
func newFlagSet(name string, stderr io.Writer) (*pflag.FlagSet, *string) {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", os.Getenv("SDSTORE_CONFIG"), "YAML configuration file")
	return fs, configPath
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Load()
	}
	return config.LoadFile(path)
}

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(cfg.LogLevel))); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func newApp(ctx context.Context, configPath string, stderr io.Writer, opts appOptions) (*app, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}

	logger := newLogger(cfg, stderr)
	slog.SetDefault(logger)

	telemetry, err := observability.New(ctx, observability.Config{
		Enabled:  cfg.Telemetry.Enabled,
		Endpoint: cfg.Telemetry.Endpoint,
		Insecure: cfg.Telemetry.Insecure,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	storeOpts := []artifacts.Option{
		artifacts.WithLogger(logger),
		artifacts.WithTelemetry(telemetry),
	}
	var pub artifacts.Publisher
	if opts.publish {
		pub, err = artifacts.NewPublisherFromConfig(ctx, cfg.Publish)
		if err != nil {
			shutdownTelemetry(telemetry)
			return nil, err
		}
		if pub != nil {
			storeOpts = append(storeOpts, artifacts.WithPublisher(pub))
		}
	}

	storage, err := artifacts.NewStorage(artifacts.Config{
		StoragePath: cfg.StoreDir,
		TempDir:     cfg.TempDir,
	}, storeOpts...)
	if err != nil {
		if c, ok := pub.(io.Closer); ok {
			_ = c.Close()
		}
		shutdownTelemetry(telemetry)
		return nil, err
	}

	return &app{cfg: cfg, logger: logger, storage: storage, telemetry: telemetry}, nil
}

func (a *app) close() {
	if err := a.storage.Close(); err != nil {
		a.logger.Warn("closing archive publisher", "error", err)
	}
	shutdownTelemetry(a.telemetry)
}

func shutdownTelemetry(p *observability.Provider) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = p.Shutdown(ctx)
}

// parseFlags reports the exit code to use when parsing stops the command.
func parseFlags(fs *pflag.FlagSet, args []string) (int, bool) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK, false
		}
		return exitUsage, false
	}
	return exitOK, true
}

// openApp builds the app or reports a configuration error on stderr.
func openApp(ctx context.Context, configPath string, stderr io.Writer, opts appOptions) (*app, bool) {
	a, err := newApp(ctx, configPath, stderr, opts)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return nil, false
	}
	return a, true
}
