// Package mask turns a brush raster into the binary-looking mask image
// expected by the segmentation models: strokes over an opaque black field.
package mask

import (
	"fmt"
	"image"
	"image/color"
	"strings"

	"golang.org/x/image/draw"

	"github.com/menta2k/geomask/internal/metrics"
	"github.com/menta2k/geomask/pkg/brush"
	"github.com/menta2k/geomask/pkg/fault"
	"github.com/menta2k/geomask/pkg/processing"
)

// Supported export formats. Both are lossless.
const (
	FormatPNG  = "png"
	FormatWebP = "webp"
)

// ErrEmptyMask is returned when nothing has been drawn.
var ErrEmptyMask = fault.New(fault.ValidationFailure, "mask", "empty mask: draw on the image before saving")

// Background is the colour untouched mask areas are filled with
var Background = color.RGBA{A: 0xff}

// Config holds configuration for the compositor
type Config struct {
	Format string
}

// DefaultConfig exports PNG
func DefaultConfig() Config {
	return Config{Format: FormatPNG}
}

// Result is an encoded mask
type Result struct {
	Data    []byte
	MIME    string
	DataURL string
	Width   int
	Height  int
}

// Handler receives a composed mask
type Handler func(Result) error

// Compositor merges stroke rasters onto the background and encodes them
type Compositor struct {
	config    Config
	processor *processing.Processor
}

// New creates a Compositor with default configuration
func New() *Compositor {
	return &Compositor{config: DefaultConfig(), processor: processing.NewProcessor()}
}

// NewWithConfig creates a Compositor with custom configuration
func NewWithConfig(config Config) (*Compositor, error) {
	config.Format = strings.ToLower(config.Format)
	switch config.Format {
	case FormatPNG, FormatWebP:
	case "":
		config.Format = FormatPNG
	default:
		return nil, fmt.Errorf("unsupported mask format %q (use png or webp)", config.Format)
	}
	return &Compositor{config: config, processor: processing.NewProcessor()}, nil
}

// Flatten draws raster over an opaque background of the same bounds
func Flatten(raster *image.RGBA) *image.RGBA {
	b := raster.Bounds()
	out := image.NewRGBA(b)
	draw.Draw(out, b, image.NewUniform(Background), image.Point{}, draw.Src)
	draw.Draw(out, b, raster, b.Min, draw.Over)
	return out
}

// Compose validates and encodes raster. An all-transparent raster fails
// with ErrEmptyMask.
func (c *Compositor) Compose(raster *image.RGBA) (Result, error) {
	if raster == nil || raster.Bounds().Empty() || brush.IsTransparent(raster) {
		metrics.MasksComposited.WithLabelValues("empty").Inc()
		return Result{}, ErrEmptyMask
	}

	out := Flatten(raster)

	var (
		data []byte
		mime string
		err  error
	)
	switch c.config.Format {
	case FormatWebP:
		data, err = c.processor.EncodeWebP(out, 100, true)
		mime = processing.MIMEWebP
	default:
		data, err = c.processor.EncodePNG(out)
		mime = processing.MIMEPNG
	}
	if err != nil {
		metrics.MasksComposited.WithLabelValues("error").Inc()
		return Result{}, fault.Wrap(fault.ProcessingFailure, "mask", fmt.Errorf("encode %s: %w", c.config.Format, err))
	}

	metrics.MasksComposited.WithLabelValues("ok").Inc()
	b := out.Bounds()
	return Result{
		Data:    data,
		MIME:    mime,
		DataURL: processing.DataURL(mime, data),
		Width:   b.Dx(),
		Height:  b.Dy(),
	}, nil
}

// Submit composes raster and passes the result to handler.
// The handler is not called when composition fails.
func (c *Compositor) Submit(raster *image.RGBA, handler Handler) error {
	res, err := c.Compose(raster)
	if err != nil {
		return err
	}
	return handler(res)
}

// SubmitCanvas is Submit for a brush canvas
func (c *Compositor) SubmitCanvas(canvas *brush.Canvas, handler Handler) error {
	raster, err := canvas.Raster()
	if err != nil {
		return err
	}
	return c.Submit(raster, handler)
}
