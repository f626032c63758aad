package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/menta2k/geomask/internal/config"
	"github.com/menta2k/geomask/internal/utils"
	"github.com/menta2k/geomask/pkg/brush"
	"github.com/menta2k/geomask/pkg/normalize"
	"github.com/menta2k/geomask/pkg/persist"
	"github.com/menta2k/geomask/pkg/processing"
)

// runMask replays a recorded stroke session over an image and writes the
// composed mask
func runMask(ctx context.Context, cfg *config.Config, args []string) error {
	var imagePath, sessionPath, out, record string
	var save bool

	fs := flag.NewFlagSet("mask", flag.ExitOnError)
	fs.StringVar(&imagePath, "image", "", "source image path or URL")
	fs.StringVar(&sessionPath, "session", "", "stroke session file (yaml)")
	fs.StringVar(&out, "out", "mask.png", "output mask path; .webp selects lossless WebP")
	fs.BoolVar(&save, "save", false, "upload the mask and image to the persistence service")
	fs.StringVar(&record, "record", "", "write the finalized strokes back out as a compact session file")
	fs.Parse(args)

	if imagePath == "" || sessionPath == "" {
		return fmt.Errorf("mask: -image and -session are required")
	}

	session, err := brush.ReadSession(sessionPath)
	if err != nil {
		return err
	}

	wcfg, err := workspaceConfig(cfg)
	if err != nil {
		return err
	}
	if strings.EqualFold(filepath.Ext(out), ".webp") {
		wcfg.Mask.Format = "webp"
	}
	ws, err := newWorkspace(wcfg)
	if err != nil {
		return err
	}
	defer ws.Release()

	name, data, err := processing.NewProcessor().ReadSource(imagePath)
	if err != nil {
		return fmt.Errorf("read %s: %w", imagePath, err)
	}
	img, err := ws.SelectImage(ctx, normalize.Source{Name: name, Data: data})
	if err != nil {
		if !img.Fallback {
			return err
		}
		slog.Warn(img.Warning, "file", name)
	}
	if session.Width != 0 && (session.Width != img.Width || session.Height != img.Height) {
		slog.Warn("session was recorded on a different canvas size",
			"session", fmt.Sprintf("%dx%d", session.Width, session.Height),
			"canvas", fmt.Sprintf("%dx%d", img.Width, img.Height))
	}

	eng := ws.Engine()
	if err := brush.Replay(eng, session); err != nil {
		return err
	}
	slog.Info("session replayed", "events", len(session.Events), "strokes", len(eng.Strokes()))

	if record != "" {
		compact := brush.SessionFromStrokes(eng.Strokes())
		compact.Image, compact.Width, compact.Height = name, img.Width, img.Height
		if err := brush.WriteSession(compact, record); err != nil {
			return err
		}
		slog.Info("wrote", "path", record)
	}

	res, err := ws.ComposeMask()
	if err != nil {
		return err
	}
	if err := utils.WriteFile(out, res.Data); err != nil {
		return err
	}
	slog.Info("wrote", "path", out, "mime", res.MIME, "size", utils.FormatFileSize(int64(len(res.Data))))

	if !save {
		return nil
	}
	store, err := persist.NewClient(cfg.Persist.URL, nil)
	if err != nil {
		return err
	}
	ws.SetMaskStore(store)
	saved, err := ws.SaveMask(ctx)
	if err != nil {
		return err
	}
	slog.Info("mask saved", "url", cfg.Persist.URL, "message", saved.Message)
	return nil
}
