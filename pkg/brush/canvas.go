// Package brush records pointer gestures into a persistent mask raster.
//
// An Engine drives a Canvas through one of three states: Idle, Drawing
// (a freehand path in progress) or AnchorSet (a straight line waiting for
// its end point). Painting is append-only; the only way to remove paint is
// Clear.
package brush

import (
	"errors"
	"image"
	"image/color"
	"math"

	"github.com/srwiley/rasterx"
	"golang.org/x/image/math/fixed"

	"github.com/menta2k/geomask/pkg/types"
)

// ErrReleased is returned by any Canvas or Engine call made after Release.
var ErrReleased = errors.New("brush: canvas released")

// Canvas owns the mask raster and the rasterizer that paints into it.
// Create it with NewCanvas once per authoring session and Release it at
// teardown.
type Canvas struct {
	img    *image.RGBA
	scan   *rasterx.ScannerGV
	raster *rasterx.Dasher
}

// NewCanvas allocates a fully transparent width x height raster
func NewCanvas(width, height int) (*Canvas, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.New("brush: canvas dimensions must be positive")
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	scan := rasterx.NewScannerGV(width, height, img, img.Bounds())
	return &Canvas{
		img:    img,
		scan:   scan,
		raster: rasterx.NewDasher(width, height, scan),
	}, nil
}

// Size returns the raster dimensions
func (c *Canvas) Size() (types.ImageSize, error) {
	if c.img == nil {
		return types.ImageSize{}, ErrReleased
	}
	b := c.img.Bounds()
	return types.ImageSize{Width: b.Dx(), Height: b.Dy()}, nil
}

// Raster returns the live mask image. Callers must not write to it.
func (c *Canvas) Raster() (*image.RGBA, error) {
	if c.img == nil {
		return nil, ErrReleased
	}
	return c.img, nil
}

// Empty reports whether no pixel has been painted
func (c *Canvas) Empty() (bool, error) {
	if c.img == nil {
		return false, ErrReleased
	}
	return IsTransparent(c.img), nil
}

// Clear resets every pixel to fully transparent
func (c *Canvas) Clear() error {
	if c.img == nil {
		return ErrReleased
	}
	clear(c.img.Pix)
	return nil
}

// Release drops the raster. The Canvas is unusable afterwards.
func (c *Canvas) Release() {
	c.img = nil
	c.scan = nil
	c.raster = nil
}

// Released reports whether Release has been called
func (c *Canvas) Released() bool {
	return c.img == nil
}

// Segment paints a line from a to b with round caps and joins.
// A zero-length segment leaves a dot the size of the brush.
func (c *Canvas) Segment(a, b types.Point, width float64, col color.NRGBA) error {
	if c.img == nil {
		return ErrReleased
	}
	if width <= 0 || !finite(a) || !finite(b) {
		return nil
	}

	if a == b {
		f := &c.raster.Filler
		rasterx.AddCircle(a.X, a.Y, width/2, f)
		f.SetColor(col)
		f.Draw()
		f.Clear()
		return nil
	}

	c.raster.SetStroke(toFixed(width), toFixed(4),
		rasterx.RoundCap, rasterx.RoundCap, rasterx.RoundGap, rasterx.Round, nil, 0)
	c.raster.Start(toPoint(a))
	c.raster.Line(toPoint(b))
	c.raster.Stop(false)
	c.raster.SetColor(col)
	c.raster.Draw()
	c.raster.Clear()
	return nil
}

// IsTransparent reports whether every pixel of img is zero (transparent black)
func IsTransparent(img *image.RGBA) bool {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for _, v := range img.Pix[img.PixOffset(b.Min.X, y):img.PixOffset(b.Max.X, y)] {
			if v != 0 {
				return false
			}
		}
	}
	return true
}

func toFixed(v float64) fixed.Int26_6 {
	return fixed.Int26_6(math.Round(v * 64))
}

func toPoint(p types.Point) fixed.Point26_6 {
	return fixed.Point26_6{X: toFixed(p.X), Y: toFixed(p.Y)}
}

func finite(p types.Point) bool {
	return !math.IsNaN(p.X) && !math.IsNaN(p.Y) && !math.IsInf(p.X, 0) && !math.IsInf(p.Y, 0)
}
