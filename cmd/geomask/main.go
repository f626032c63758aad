package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/menta2k/geomask"
	"github.com/menta2k/geomask/internal/config"
	"github.com/menta2k/geomask/internal/logging"
	"github.com/menta2k/geomask/internal/metrics"
	"github.com/menta2k/geomask/pkg/brush"
	"github.com/menta2k/geomask/pkg/mask"
	"github.com/menta2k/geomask/pkg/normalize"
	"github.com/menta2k/geomask/pkg/types"
)

const usage = `usage: %[1]s [global flags] <command> [flags]

commands:
  normalize  -in <file|dir> -out <dir> [-workers N] [-yes]
  mask       -image <file> -session <strokes.yaml> -out <mask.png|mask.webp> [-save] [-record <file>]
  geocode    -in <image> -out <polygons.geojson> [-ne-lat .. -ne-lng .. -sw-lat .. -sw-lng ..] [-backend http|ollama|llamacpp] [-debug]

global flags:
`

func main() {
	var configPath, logLevel, logFormat, metricsFile string

	global := flag.NewFlagSet("geomask", flag.ExitOnError)
	global.StringVar(&configPath, "config", "", "config file (yaml or json); default searches ./config.yaml and ~/.config/geomask")
	global.StringVar(&logLevel, "log-level", "", "log level: debug|info|warn|error (overrides config)")
	global.StringVar(&logFormat, "log-format", "", "log format: text|json (overrides config)")
	global.StringVar(&metricsFile, "metrics-file", "", "write prometheus metrics to this file on exit (overrides config)")
	global.Usage = func() {
		fmt.Fprintf(global.Output(), usage, filepath.Base(os.Args[0]))
		global.PrintDefaults()
	}
	global.Parse(os.Args[1:])

	args := global.Args()
	if len(args) == 0 {
		global.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}
	if metricsFile != "" {
		cfg.Metrics.Textfile = metricsFile
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var runErr error
	switch args[0] {
	case "normalize":
		runErr = runNormalize(ctx, cfg, args[1:])
	case "mask":
		runErr = runMask(ctx, cfg, args[1:])
	case "geocode":
		runErr = runGeocode(ctx, cfg, args[1:])
	default:
		global.Usage()
		stop()
		os.Exit(2)
	}

	if cfg.Metrics.Textfile != "" {
		if err := metrics.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			slog.Error("failed to write metrics", "path", cfg.Metrics.Textfile, "error", err)
		}
	}
	if runErr != nil {
		slog.Error(args[0]+" failed", "error", runErr)
		stop()
		os.Exit(1)
	}
}

func normalizeConfig(cfg *config.Config) normalize.Config {
	return normalize.Config{
		MaxDimension:     cfg.Normalize.MaxDimension,
		Quality:          cfg.Normalize.Quality,
		Timeout:          cfg.Normalize.Timeout,
		ConfirmThreshold: cfg.Normalize.ConfirmThreshold,
		RejectedFormats:  cfg.Normalize.RejectedFormats,
	}
}

// workspaceConfig maps the file configuration onto the library types
func workspaceConfig(cfg *config.Config) (geomask.Config, error) {
	col, err := brush.ParseHexColor(cfg.Brush.Color)
	if err != nil {
		return geomask.Config{}, fmt.Errorf("brush.color: %w", err)
	}
	mode, err := types.ParseMode(cfg.Brush.Mode)
	if err != nil {
		return geomask.Config{}, fmt.Errorf("brush.mode: %w", err)
	}
	return geomask.Config{
		Normalize: normalizeConfig(cfg),
		Brush:     brush.Config{Width: cfg.Brush.Width, Color: col, Mode: mode},
		Mask:      mask.Config{Format: cfg.Mask.Format},
		Save:      types.SaveOptions{Model: cfg.Persist.Model, Type: cfg.Persist.Type},
	}, nil
}

func newWorkspace(cfg geomask.Config) (*geomask.Workspace, error) {
	ws, err := geomask.NewWithConfig(cfg)
	if err != nil {
		return nil, err
	}
	ws.SetLogger(slog.Default())
	// Large files are accepted: the user picked the file on the command line.
	ws.SetConfirmer(normalize.ConfirmFunc(func(name string, size int64) bool {
		slog.Info("processing large file", "file", name, "bytes", size)
		return true
	}))
	return ws, nil
}
