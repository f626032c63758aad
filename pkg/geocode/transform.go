// Package geocode maps pixel-space polygons onto the map.
//
// Without calibration, points land in the [-1, 1] square used by the flat
// overlay view: x grows to the right, y grows upward. With calibration
// bounds, points are interpolated linearly between the south-west and
// north-east corners. Raster y grows downward, so it is inverted in both
// cases.
//
// Every function here is pure. Degenerate input is reported as a
// fault.TransformError and never produces NaN or infinite coordinates.
package geocode

import (
	"fmt"
	"math"

	"github.com/menta2k/geomask/internal/metrics"
	"github.com/menta2k/geomask/pkg/fault"
	"github.com/menta2k/geomask/pkg/types"
)

const op = "geocode"

// Transform converts poly into a closed ring in map coordinates.
// bounds may be nil for the uncalibrated [-1, 1] projection.
func Transform(size types.ImageSize, poly types.Polygon, bounds *types.GeoBounds) (types.GeoPolygon, error) {
	if err := checkFrame(size, bounds); err != nil {
		return nil, err
	}
	if len(poly.Points) < 3 {
		return nil, transformErr(fmt.Sprintf("polygon has %d points, need at least 3", len(poly.Points)))
	}

	w, h := float64(size.Width), float64(size.Height)
	out := make(types.GeoPolygon, 0, len(poly.Points)+1)
	for i, p := range poly.Points {
		if !finite(p.X) || !finite(p.Y) {
			return nil, transformErr(fmt.Sprintf("point %d is not finite", i))
		}
		c := project(p, w, h, bounds)
		if !finite(c[0]) || !finite(c[1]) {
			return nil, transformErr(fmt.Sprintf("point %d maps outside the representable range", i))
		}
		out = append(out, c)
	}
	return append(out, out[0]), nil
}

// TransformAll converts every polygon. It stops at the first failure.
func TransformAll(size types.ImageSize, polys []types.Polygon, bounds *types.GeoBounds) ([]types.GeoPolygon, error) {
	out := make([]types.GeoPolygon, 0, len(polys))
	for i, p := range polys {
		g, err := Transform(size, p, bounds)
		if err != nil {
			return nil, fmt.Errorf("polygon %d: %w", i, err)
		}
		out = append(out, g)
	}
	return out, nil
}

// Inverse maps a coordinate produced by Transform back to pixel space
func Inverse(size types.ImageSize, c types.LngLat, bounds *types.GeoBounds) (types.Point, error) {
	if err := checkFrame(size, bounds); err != nil {
		return types.Point{}, err
	}
	w, h := float64(size.Width), float64(size.Height)

	var fx, fy float64
	if bounds == nil {
		fx = (c.Lng() + 1) / 2
		fy = (1 - c.Lat()) / 2
	} else {
		fx = (c.Lng() - bounds.SouthWest.Lng) / (bounds.NorthEast.Lng - bounds.SouthWest.Lng)
		fy = 1 - (c.Lat()-bounds.SouthWest.Lat)/(bounds.NorthEast.Lat-bounds.SouthWest.Lat)
	}
	return types.Point{X: fx * w, Y: fy * h}, nil
}

// Overlay returns the map position of the image corners
func Overlay(bounds *types.GeoBounds) types.Overlay {
	if bounds == nil {
		return types.Overlay{Corners: [4]types.LngLat{{-1, 1}, {1, 1}, {1, -1}, {-1, -1}}}
	}
	ne, sw := bounds.NorthEast, bounds.SouthWest
	return types.Overlay{Corners: [4]types.LngLat{
		{sw.Lng, ne.Lat},
		{ne.Lng, ne.Lat},
		{ne.Lng, sw.Lat},
		{sw.Lng, sw.Lat},
	}}
}

func project(p types.Point, w, h float64, bounds *types.GeoBounds) types.LngLat {
	fx := p.X / w
	fy := p.Y / h
	if bounds == nil {
		return types.LngLat{fx*2 - 1, 1 - fy*2}
	}
	ne, sw := bounds.NorthEast, bounds.SouthWest
	return types.LngLat{
		sw.Lng + (ne.Lng-sw.Lng)*fx,
		sw.Lat + (ne.Lat-sw.Lat)*(1-fy),
	}
}

// checkFrame validates everything divided by or scaled with
func checkFrame(size types.ImageSize, bounds *types.GeoBounds) error {
	if size.Width <= 0 || size.Height <= 0 {
		return transformErr(fmt.Sprintf("image dimensions %dx%d must be positive", size.Width, size.Height))
	}
	if bounds == nil {
		return nil
	}
	for _, v := range []float64{bounds.NorthEast.Lat, bounds.NorthEast.Lng, bounds.SouthWest.Lat, bounds.SouthWest.Lng} {
		if !finite(v) {
			return transformErr("calibration bounds are not finite")
		}
	}
	if !(bounds.NorthEast.Lat > bounds.SouthWest.Lat) || !(bounds.NorthEast.Lng > bounds.SouthWest.Lng) {
		return transformErr("calibration bounds are inverted or empty")
	}
	return nil
}

func transformErr(msg string) error {
	metrics.TransformErrors.Inc()
	return fault.New(fault.TransformError, op, msg)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
