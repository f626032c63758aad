package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/menta2k/geomask/internal/config"
	"github.com/menta2k/geomask/internal/utils"
	"github.com/menta2k/geomask/pkg/calibration"
	"github.com/menta2k/geomask/pkg/client"
	"github.com/menta2k/geomask/pkg/geocode"
	"github.com/menta2k/geomask/pkg/inference"
	"github.com/menta2k/geomask/pkg/llamacpp"
	"github.com/menta2k/geomask/pkg/normalize"
	"github.com/menta2k/geomask/pkg/ollama"
	"github.com/menta2k/geomask/pkg/processing"
)

// runGeocode segments an image and writes the polygons as GeoJSON
func runGeocode(ctx context.Context, cfg *config.Config, args []string) error {
	var in, out, backend string
	var capture calibration.Capture
	var debug bool

	fs := flag.NewFlagSet("geocode", flag.ExitOnError)
	fs.StringVar(&in, "in", "", "input image path or URL")
	fs.StringVar(&out, "out", "polygons.geojson", "output GeoJSON file, - for stdout")
	fs.StringVar(&backend, "backend", "", "segmentation backend: http, ollama or llamacpp (overrides config)")
	fs.StringVar(&capture.NELat, "ne-lat", "", "north-east corner latitude")
	fs.StringVar(&capture.NELng, "ne-lng", "", "north-east corner longitude")
	fs.StringVar(&capture.SWLat, "sw-lat", "", "south-west corner latitude")
	fs.StringVar(&capture.SWLng, "sw-lng", "", "south-west corner longitude")
	fs.BoolVar(&debug, "debug", false, "write a polygon overlay image next to the output")
	fs.Parse(args)

	if in == "" {
		return fmt.Errorf("geocode: -in is required")
	}
	if backend == "" {
		backend = cfg.Inference.Backend
	}

	segmenter, err := newSegmenter(cfg.Inference, backend)
	if err != nil {
		return err
	}

	wcfg, err := workspaceConfig(cfg)
	if err != nil {
		return err
	}
	ws, err := newWorkspace(wcfg)
	if err != nil {
		return err
	}
	defer ws.Release()
	ws.SetSegmenter(segmenter)

	// Validate the corners before spending minutes on segmentation.
	calibrate := capture != calibration.Capture{}
	if calibrate {
		if _, err := calibration.Parse(capture); err != nil {
			return err
		}
	}

	processor := processing.NewProcessor()
	name, data, err := processor.ReadSource(in)
	if err != nil {
		return fmt.Errorf("read %s: %w", in, err)
	}
	img, err := ws.SelectImage(ctx, normalize.Source{Name: name, Data: data})
	if err != nil {
		if !img.Fallback {
			return err
		}
		slog.Warn(img.Warning, "file", name)
	}

	slog.Info("segmenting", "file", name, "backend", backend, "width", img.Width, "height", img.Height)
	det, err := ws.Detect(ctx)
	if err != nil {
		return err
	}
	slog.Info("segmentation done", "polygons", len(det.Polygons), "dropped", det.Dropped)

	if calibrate {
		bounds, err := ws.Calibrate(capture)
		if err != nil {
			return err
		}
		slog.Info("calibrated", "north_east", bounds.NorthEast, "south_west", bounds.SouthWest)
	} else {
		slog.Info("no calibration given, writing overlay coordinates in [-1, 1]")
	}

	if err := writeGeoJSON(ctx, ws.Layer().Render, out); err != nil {
		return err
	}

	if debug && out != "-" {
		base := strings.TrimSuffix(out, filepath.Ext(out))
		decoded, err := processor.Decode(img.Data)
		if err != nil {
			return fmt.Errorf("debug overlay: %w", err)
		}
		overlay := processor.CreateDebugOverlay(decoded, det.Polygons)
		path := base + "_overlay.png"
		if err := processor.SaveImage(overlay, path, "png", 0, true); err != nil {
			slog.Warn("debug overlay save failed", "error", err)
		} else {
			slog.Info("wrote", "path", path)
		}

		if det.Preview != "" {
			mime, preview, err := processing.DecodeDataURL(det.Preview)
			if err != nil {
				slog.Warn("service preview is unreadable", "error", err)
			} else {
				path := base + "_preview." + processing.ExtensionFor(mime)
				if err := utils.WriteFile(path, preview); err != nil {
					return err
				}
				slog.Info("wrote", "path", path)
			}
		}
	}
	return nil
}

func newSegmenter(cfg config.InferenceConfig, backend string) (client.Segmenter, error) {
	switch strings.ToLower(backend) {
	case "ollama":
		c, err := ollama.NewClient(ollama.Config{URL: cfg.URL, Model: cfg.Model, Timeout: cfg.Timeout})
		if err != nil {
			return nil, fmt.Errorf("failed to create Ollama client: %w", err)
		}
		return c, nil
	case "llamacpp":
		c, err := llamacpp.NewClient(llamacpp.Config{URL: cfg.URL, Model: cfg.Model, Timeout: cfg.Timeout})
		if err != nil {
			return nil, fmt.Errorf("failed to create llama.cpp client: %w", err)
		}
		return c, nil
	case "http":
		c, err := inference.NewClient(inference.Config{URL: cfg.URL, Path: cfg.Path, Timeout: cfg.Timeout}, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create segmentation client: %w", err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown backend: %s (use 'http', 'ollama' or 'llamacpp')", backend)
	}
}

// writeGeoJSON renders through a GeoJSON writer into path, or stdout for "-"
func writeGeoJSON(ctx context.Context, render func(context.Context, client.MapRenderer) error, path string) error {
	if path == "-" {
		return render(ctx, geocode.NewGeoJSONWriter(os.Stdout, true))
	}

	f, err := utils.CreateFile(path)
	if err != nil {
		return err
	}
	if err := render(ctx, geocode.NewGeoJSONWriter(f, true)); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	slog.Info("wrote", "path", path)
	return nil
}
