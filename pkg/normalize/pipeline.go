// Package normalize downscales and recompresses user-selected images before
// they are shown to the brush engine or uploaded for inference.
//
// A run decodes the file, scales its longer side down to MaxDimension and
// re-encodes it as JPEG. The run is raced against a timeout; when the timeout
// wins, or the file cannot be decoded, the original bytes are forwarded
// unchanged with a warning instead of failing the caller's flow.
package normalize

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/disintegration/imaging"

	"github.com/menta2k/geomask/internal/metrics"
	"github.com/menta2k/geomask/pkg/fault"
	"github.com/menta2k/geomask/pkg/processing"
	"github.com/menta2k/geomask/pkg/types"
)

// Config holds configuration for the normalization pipeline
type Config struct {
	MaxDimension     int
	Quality          int
	Timeout          time.Duration
	ConfirmThreshold int64
	RejectedFormats  []string
}

// DefaultConfig matches the limits the annotation UI was tuned for
func DefaultConfig() Config {
	return Config{
		MaxDimension:     800,
		Quality:          85,
		Timeout:          30 * time.Second,
		ConfirmThreshold: 10 << 20,
		RejectedFormats:  []string{"heic", "heif", "avif", "tiff", "pdf"},
	}
}

// Validate reports every out-of-range field
func (c Config) Validate() error {
	var errs []string

	if c.MaxDimension < 1 {
		errs = append(errs, "max dimension must be positive")
	}
	if c.Quality < 1 || c.Quality > 100 {
		errs = append(errs, "quality must be between 1 and 100")
	}
	if c.Timeout <= 0 {
		errs = append(errs, "timeout must be positive")
	}
	if c.ConfirmThreshold < 0 {
		errs = append(errs, "confirm threshold cannot be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("normalize: invalid config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Source is a selected file
type Source struct {
	Name string
	Data []byte
}

// Confirmer is asked before processing files above the size threshold
type Confirmer interface {
	ConfirmLarge(name string, size int64) bool
}

// ConfirmFunc adapts a function to Confirmer
type ConfirmFunc func(name string, size int64) bool

func (f ConfirmFunc) ConfirmLarge(name string, size int64) bool { return f(name, size) }

// processFunc turns raw bytes into an encoded, resized image
type processFunc func(data []byte) (encoded []byte, width, height int, err error)

// Pipeline runs one decode, resize and encode cycle per call
type Pipeline struct {
	config    Config
	processor *processing.Processor
	confirm   Confirmer
	logger    *slog.Logger
	process   processFunc
}

// New creates a Pipeline with default configuration
func New() *Pipeline {
	p, _ := NewWithConfig(DefaultConfig())
	return p
}

// NewWithConfig creates a Pipeline with custom configuration. A nil
// RejectedFormats list gets the default one; pass an empty slice to accept
// every container.
func NewWithConfig(config Config) (*Pipeline, error) {
	if config.RejectedFormats == nil {
		config.RejectedFormats = DefaultConfig().RejectedFormats
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	p := &Pipeline{
		config:    config,
		processor: processing.NewProcessor(),
		logger:    slog.Default(),
	}
	p.process = p.resizeAndEncode
	return p, nil
}

// SetConfirmer installs the large-file confirmation prompt
func (p *Pipeline) SetConfirmer(c Confirmer) {
	p.confirm = c
}

// SetLogger replaces the default slog logger
func (p *Pipeline) SetLogger(l *slog.Logger) {
	p.logger = l
}

// TargetSize scales the longer side down to max, preserving aspect ratio.
// Images already within bounds are returned unchanged.
func TargetSize(width, height, max int) (int, int, error) {
	if width <= 0 || height <= 0 {
		return 0, 0, fmt.Errorf("invalid image dimensions %dx%d", width, height)
	}
	if max <= 0 {
		return 0, 0, fmt.Errorf("invalid maximum dimension %d", max)
	}
	if width <= max && height <= max {
		return width, height, nil
	}

	scale := float64(max) / float64(width)
	if height > width {
		scale = float64(max) / float64(height)
	}
	w := int(math.Round(float64(width) * scale))
	h := int(math.Round(float64(height) * scale))
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return w, h, nil
}

// Check runs the up-front rejections: refused containers and unconfirmed
// large files. It returns an InputRejected error or nil.
func (p *Pipeline) Check(src Source) error {
	if err := CheckFormat(src.Name, src.Data, p.config.RejectedFormats); err != nil {
		metrics.NormalizeOutcomes.WithLabelValues("rejected").Inc()
		return err
	}

	size := int64(len(src.Data))
	if p.config.ConfirmThreshold > 0 && size > p.config.ConfirmThreshold {
		if p.confirm == nil || !p.confirm.ConfirmLarge(src.Name, size) {
			metrics.NormalizeOutcomes.WithLabelValues("rejected").Inc()
			return fault.New(fault.InputRejected, "normalize",
				fmt.Sprintf("%s is %.1f MB; large files must be confirmed before processing", src.Name, float64(size)/(1<<20)))
		}
	}
	return nil
}

// Normalize validates src and runs the bounded resize/recompress cycle.
//
// InputRejected errors come back with a zero image. ProcessingTimeout and
// ProcessingFailure come back together with a usable fallback image that
// carries the original bytes, so callers can keep going and just surface
// the warning.
func (p *Pipeline) Normalize(ctx context.Context, src Source) (types.NormalizedImage, error) {
	if err := p.Check(src); err != nil {
		return types.NormalizedImage{}, err
	}
	return p.run(ctx, src)
}

// run is Normalize without the up-front checks
func (p *Pipeline) run(ctx context.Context, src Source) (types.NormalizedImage, error) {
	type outcome struct {
		data          []byte
		width, height int
		err           error
	}

	// Buffered so an abandoned worker can always deliver and exit.
	done := make(chan outcome, 1)
	start := time.Now()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("decoder panic: %v", r)}
			}
		}()
		data, w, h, err := p.process(src.Data)
		done <- outcome{data: data, width: w, height: h, err: err}
	}()

	timer := time.NewTimer(p.config.Timeout)
	defer timer.Stop()

	select {
	case out := <-done:
		metrics.NormalizeDuration.Observe(time.Since(start).Seconds())
		if out.err != nil {
			metrics.NormalizeOutcomes.WithLabelValues("failure").Inc()
			p.logger.Warn("image normalization failed, using original file",
				"file", src.Name, "error", out.err)
			img := p.fallback(src, "image could not be processed; the original file is used as-is")
			return img, fault.Wrap(fault.ProcessingFailure, "normalize", out.err)
		}
		metrics.NormalizeOutcomes.WithLabelValues("ok").Inc()
		return types.NormalizedImage{
			Data:    out.data,
			MIME:    processing.MIMEJPEG,
			DataURL: processing.DataURL(processing.MIMEJPEG, out.data),
			Width:   out.width,
			Height:  out.height,
			Quality: float64(p.config.Quality) / 100,
		}, nil

	case <-timer.C:
		metrics.NormalizeOutcomes.WithLabelValues("timeout").Inc()
		p.logger.Warn("image normalization timed out, using original file",
			"file", src.Name, "timeout", p.config.Timeout)
		img := p.fallback(src, fmt.Sprintf("image processing took longer than %s; the original file is used as-is", p.config.Timeout))
		return img, fault.New(fault.ProcessingTimeout, "normalize", fmt.Sprintf("exceeded %s", p.config.Timeout))

	case <-ctx.Done():
		metrics.NormalizeOutcomes.WithLabelValues("timeout").Inc()
		img := p.fallback(src, "image processing was cancelled; the original file is used as-is")
		return img, fault.Wrap(fault.ProcessingTimeout, "normalize", ctx.Err())
	}
}

// fallback forwards the original bytes unchanged
func (p *Pipeline) fallback(src Source, warning string) types.NormalizedImage {
	mime := processing.SniffMIME(src.Data)
	img := types.NormalizedImage{
		Data:     src.Data,
		MIME:     mime,
		DataURL:  processing.DataURL(mime, src.Data),
		Quality:  1,
		Fallback: true,
		Warning:  warning,
	}
	// Dimensions are best effort: the header may still be readable.
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(src.Data)); err == nil {
		img.Width, img.Height = cfg.Width, cfg.Height
	}
	return img
}

func (p *Pipeline) resizeAndEncode(data []byte) ([]byte, int, int, error) {
	img, err := p.processor.Decode(data)
	if err != nil {
		return nil, 0, 0, err
	}

	b := img.Bounds()
	w, h, err := TargetSize(b.Dx(), b.Dy(), p.config.MaxDimension)
	if err != nil {
		return nil, 0, 0, err
	}
	if w != b.Dx() || h != b.Dy() {
		img = imaging.Resize(img, w, h, imaging.Lanczos)
	}

	encoded, err := p.processor.EncodeJPEG(img, p.config.Quality)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("encode jpeg: %w", err)
	}
	return encoded, w, h, nil
}
