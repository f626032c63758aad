package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/menta2k/geomask/internal/config"
	"github.com/menta2k/geomask/internal/utils"
	"github.com/menta2k/geomask/pkg/fault"
	"github.com/menta2k/geomask/pkg/normalize"
	"github.com/menta2k/geomask/pkg/processing"
)

func runNormalize(ctx context.Context, cfg *config.Config, args []string) error {
	var in, outDir string
	var workers int
	var yes bool

	fs := flag.NewFlagSet("normalize", flag.ExitOnError)
	fs.StringVar(&in, "in", "", "input image, directory or URL")
	fs.StringVar(&outDir, "out", "out", "output directory")
	fs.IntVar(&workers, "workers", runtime.NumCPU(), "parallel pipelines for directory input")
	fs.BoolVar(&yes, "yes", false, "process files above the large-file threshold without asking")
	fs.Parse(args)

	if in == "" {
		return fmt.Errorf("normalize: -in is required")
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}

	pipeline, err := normalize.NewWithConfig(normalizeConfig(cfg))
	if err != nil {
		return err
	}
	pipeline.SetLogger(slog.Default())
	pipeline.SetConfirmer(normalize.ConfirmFunc(func(name string, size int64) bool {
		if !yes {
			slog.Warn("skipping large file, rerun with -yes to process it",
				"file", name, "size", utils.FormatFileSize(size))
		}
		return yes
	}))

	var inputs []string
	if info, err := os.Stat(in); err == nil && info.IsDir() {
		files, err := utils.ListImageFiles(in)
		if err != nil {
			return fmt.Errorf("failed to list %s: %w", in, err)
		}
		inputs = files
	} else {
		inputs = []string{in}
	}
	if len(inputs) == 0 {
		slog.Warn("no image files found", "dir", in)
		return nil
	}

	processor := processing.NewProcessor()
	var ok, fallback, rejected atomic.Int64

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))
	for _, path := range inputs {
		g.Go(func() error {
			name, data, err := processor.ReadSource(path)
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}

			img, err := pipeline.Normalize(ctx, normalize.Source{Name: name, Data: data})
			switch {
			case errors.Is(err, fault.ErrInputRejected):
				rejected.Add(1)
				slog.Warn("input rejected", "file", name, "error", err)
				return nil
			case err != nil && img.Fallback:
				fallback.Add(1)
				slog.Warn(img.Warning, "file", name, "kind", fault.KindOf(err).String())
			case err != nil:
				return err
			default:
				ok.Add(1)
			}

			out := utils.OutputPath(path, outDir, processing.ExtensionFor(img.MIME))
			if err := utils.WriteFile(out, img.Data); err != nil {
				return err
			}
			slog.Info("wrote", "path", out, "width", img.Width, "height", img.Height,
				"size", utils.FormatFileSize(int64(len(img.Data))))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("normalize finished", "ok", ok.Load(), "fallback", fallback.Load(), "rejected", rejected.Load())
	return nil
}
