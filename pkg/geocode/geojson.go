package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/menta2k/geomask/pkg/types"
)

// GeoJSONFeatureCollection represents a GeoJSON FeatureCollection
type GeoJSONFeatureCollection struct {
	Type     string           `json:"type"`
	Features []GeoJSONFeature `json:"features"`
}

// GeoJSONFeature represents a single polygon feature
type GeoJSONFeature struct {
	Type       string                 `json:"type"`
	Properties map[string]interface{} `json:"properties"`
	Geometry   GeoJSONGeometry        `json:"geometry"`
}

// GeoJSONGeometry is a Polygon geometry: a list of closed rings
type GeoJSONGeometry struct {
	Type        string             `json:"type"`
	Coordinates []types.GeoPolygon `json:"coordinates"`
}

// FeatureCollection wraps rings as Polygon features. areas is optional;
// when present, areas[i] becomes the "area" property of feature i.
func FeatureCollection(polys []types.GeoPolygon, areas []*float64) *GeoJSONFeatureCollection {
	fc := &GeoJSONFeatureCollection{Type: "FeatureCollection", Features: make([]GeoJSONFeature, 0, len(polys))}
	for i, ring := range polys {
		props := map[string]interface{}{"index": i}
		if i < len(areas) && areas[i] != nil {
			props["area"] = *areas[i]
		}
		fc.Features = append(fc.Features, polygonFeature(ring, props))
	}
	return fc
}

// OverlayFeature describes the image footprint as a Polygon feature
func OverlayFeature(o types.Overlay) GeoJSONFeature {
	ring := types.GeoPolygon{o.Corners[0], o.Corners[1], o.Corners[2], o.Corners[3], o.Corners[0]}
	props := map[string]interface{}{"kind": "overlay"}
	if o.Image != "" {
		props["image"] = o.Image
	}
	return polygonFeature(ring, props)
}

func polygonFeature(ring types.GeoPolygon, props map[string]interface{}) GeoJSONFeature {
	return GeoJSONFeature{
		Type:       "Feature",
		Properties: props,
		Geometry:   GeoJSONGeometry{Type: "Polygon", Coordinates: []types.GeoPolygon{ring}},
	}
}

// GeoJSONWriter is a map rendering sink that writes one FeatureCollection
// per Render call: the overlay footprint first, then every polygon.
type GeoJSONWriter struct {
	w      io.Writer
	indent bool
}

// NewGeoJSONWriter creates a writer that emits to w
func NewGeoJSONWriter(w io.Writer, indent bool) *GeoJSONWriter {
	return &GeoJSONWriter{w: w, indent: indent}
}

// Render writes overlay and polys as GeoJSON
func (g *GeoJSONWriter) Render(ctx context.Context, overlay types.Overlay, polys []types.GeoPolygon) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fc := FeatureCollection(polys, nil)
	fc.Features = append([]GeoJSONFeature{OverlayFeature(overlay)}, fc.Features...)

	enc := json.NewEncoder(g.w)
	if g.indent {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(fc); err != nil {
		return fmt.Errorf("failed to write GeoJSON: %w", err)
	}
	return nil
}
