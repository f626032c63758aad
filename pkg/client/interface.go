// Package client declares the external collaborators the annotation core
// talks to. Implementations live in pkg/inference, pkg/ollama, pkg/persist
// and pkg/geocode.
package client

import (
	"context"

	"github.com/menta2k/geomask/pkg/types"
)

// Segmenter returns pixel-space polygons for an encoded image
type Segmenter interface {
	Segment(ctx context.Context, image []byte, filename string) (*types.SegmentationResult, error)
}

// MaskStore persists a composed mask next to the image it was drawn on
type MaskStore interface {
	SaveMask(ctx context.Context, mask, original []byte, opts types.SaveOptions) (*types.SaveResult, error)
}

// MapRenderer consumes geocoded polygons and the image overlay.
// It is a pure sink.
type MapRenderer interface {
	Render(ctx context.Context, overlay types.Overlay, polygons []types.GeoPolygon) error
}

// SegmenterFunc adapts a function to Segmenter
type SegmenterFunc func(ctx context.Context, image []byte, filename string) (*types.SegmentationResult, error)

func (f SegmenterFunc) Segment(ctx context.Context, image []byte, filename string) (*types.SegmentationResult, error) {
	return f(ctx, image, filename)
}
