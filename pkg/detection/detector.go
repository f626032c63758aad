// Package detection runs a segmentation collaborator and cleans up what it
// returns so the geocoding transform only ever sees usable polygons.
package detection

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"log/slog"
	"math"

	"github.com/menta2k/geomask/pkg/client"
	"github.com/menta2k/geomask/pkg/types"
)

// Detection is a cleaned segmentation result for one image
type Detection struct {
	Size     types.ImageSize
	Polygons []types.Polygon
	Preview  string
	Dropped  int
}

// Detector handles polygon detection through a Segmenter
type Detector struct {
	client client.Segmenter
	logger *slog.Logger
}

// NewDetector creates a new detector with a segmentation client
func NewDetector(client client.Segmenter) *Detector {
	return &Detector{client: client, logger: slog.Default()}
}

// SetLogger replaces the default slog logger
func (d *Detector) SetLogger(l *slog.Logger) {
	d.logger = l
}

// Detect segments image and returns pixel-space polygons clamped to it
func (d *Detector) Detect(ctx context.Context, image []byte, filename string) (*Detection, error) {
	size, err := imageSize(image)
	if err != nil {
		return nil, err
	}

	result, err := d.client.Segment(ctx, image, filename)
	if err != nil {
		return nil, fmt.Errorf("segmentation failed: %w", err)
	}

	det := &Detection{Size: size, Preview: result.Image}
	for _, p := range result.Polygons {
		clean, ok := normalizePolygon(p, size)
		if !ok {
			det.Dropped++
			continue
		}
		det.Polygons = append(det.Polygons, clean)
	}
	if det.Dropped > 0 {
		d.logger.Warn("dropped unusable polygons", "file", filename, "dropped", det.Dropped, "kept", len(det.Polygons))
	}
	return det, nil
}

func imageSize(data []byte) (types.ImageSize, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return types.ImageSize{}, fmt.Errorf("failed to read image header: %w", err)
	}
	return types.ImageSize{Width: cfg.Width, Height: cfg.Height}, nil
}

// normalizePolygon rejects polygons with fewer than 3 finite points and
// clamps the rest into the image. Polygons whose coordinates all lie in
// [0,1] are taken as normalized and scaled to pixels.
func normalizePolygon(p types.Polygon, size types.ImageSize) (types.Polygon, bool) {
	w, h := float64(size.Width), float64(size.Height)

	pts := make([]types.Point, 0, len(p.Points))
	unit := true
	for _, pt := range p.Points {
		if math.IsNaN(pt.X) || math.IsNaN(pt.Y) || math.IsInf(pt.X, 0) || math.IsInf(pt.Y, 0) {
			continue
		}
		if pt.X < 0 || pt.X > 1 || pt.Y < 0 || pt.Y > 1 {
			unit = false
		}
		pts = append(pts, pt)
	}
	if len(pts) < 3 {
		return types.Polygon{}, false
	}

	scale := unit && (w > 1 || h > 1)
	for i, pt := range pts {
		if scale {
			pt.X *= w
			pt.Y *= h
		}
		pts[i] = types.Point{X: clamp(pt.X, 0, w), Y: clamp(pt.Y, 0, h)}
	}
	return types.Polygon{Points: pts, Area: p.Area}, true
}

// clamp ensures a value is within the given bounds
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
