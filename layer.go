package geomask

import (
	"context"
	"log/slog"
	"sync"

	"github.com/menta2k/geomask/pkg/client"
	"github.com/menta2k/geomask/pkg/geocode"
	"github.com/menta2k/geomask/pkg/types"
)

// Layer holds the detected polygons of one image together with their map
// projection. The projection is recomputed whenever the polygons or the
// calibration bounds change, so readers always see rings that match the
// current bounds.
type Layer struct {
	mu     sync.Mutex
	logger *slog.Logger

	size     types.ImageSize
	image    string
	polygons []types.Polygon
	bounds   *types.GeoBounds

	geo []types.GeoPolygon
	err error
}

// NewLayer creates an empty, uncalibrated layer
func NewLayer() *Layer {
	return &Layer{logger: slog.Default()}
}

// SetLogger replaces the default slog logger
func (l *Layer) SetLogger(logger *slog.Logger) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logger = logger
}

// SetImage switches the layer to a new image and drops its polygons
func (l *Layer) SetImage(size types.ImageSize, image string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.size = size
	l.image = image
	l.polygons = nil
	l.reproject()
}

// SetPolygons replaces the polygons and projects them
func (l *Layer) SetPolygons(size types.ImageSize, polys []types.Polygon) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.size = size
	l.polygons = append([]types.Polygon(nil), polys...)
	l.reproject()
	return l.err
}

// SetBounds installs calibration bounds and re-projects every polygon
func (l *Layer) SetBounds(b types.GeoBounds) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.bounds = &b
	l.reproject()
}

// GeoPolygons returns the projected rings, or the error of the last projection
func (l *Layer) GeoPolygons() ([]types.GeoPolygon, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	return append([]types.GeoPolygon(nil), l.geo...), nil
}

// Overlay returns the image footprint on the map
func (l *Layer) Overlay() types.Overlay {
	l.mu.Lock()
	defer l.mu.Unlock()
	o := geocode.Overlay(l.bounds)
	o.Image = l.image
	return o
}

// FeatureCollection returns the projected polygons as GeoJSON, with the
// area reported by the segmenter where available
func (l *Layer) FeatureCollection() (*geocode.GeoJSONFeatureCollection, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	areas := make([]*float64, len(l.polygons))
	for i, p := range l.polygons {
		areas[i] = p.Area
	}
	return geocode.FeatureCollection(l.geo, areas), nil
}

// Render hands the overlay and projected polygons to r
func (l *Layer) Render(ctx context.Context, r client.MapRenderer) error {
	polys, err := l.GeoPolygons()
	if err != nil {
		return err
	}
	return r.Render(ctx, l.Overlay(), polys)
}

// reproject must be called with l.mu held
func (l *Layer) reproject() {
	l.geo, l.err = nil, nil
	if len(l.polygons) == 0 {
		return
	}
	geo, err := geocode.TransformAll(l.size, l.polygons, l.bounds)
	if err != nil {
		l.err = err
		l.logger.Warn("polygon projection failed", "error", err, "polygons", len(l.polygons))
		return
	}
	l.geo = geo
}
