// Package geomask ties together mask authoring, image normalization and
// polygon geocoding for one annotation session.
//
// A Workspace owns everything a single user session touches: the selected
// image (normalized to at most 800px on its longer side), the brush canvas
// sized to that image, the calibration bounds and the layer of detected
// polygons. External services are plugged in through the interfaces in
// pkg/client.
//
// Basic usage:
//
//	ws := geomask.New()
//	defer ws.Release()
//
//	img, err := ws.SelectImage(ctx, normalize.Source{Name: "lot.jpg", Data: data})
//	if errors.Is(err, fault.ErrInputRejected) {
//		log.Fatal(err)
//	}
//	if img.Fallback {
//		log.Println(img.Warning)
//	}
//
//	eng := ws.Engine()
//	eng.PointerDown(types.Pt(10, 10))
//	eng.PointerMove(types.Pt(200, 40))
//	eng.PointerUp(types.Pt(200, 40))
//
//	res, err := ws.ComposeMask()
//
// Geocoding is driven by the layer: polygons set before or after calibration
// are transformed again as soon as bounds become available.
package geomask

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/menta2k/geomask/pkg/brush"
	"github.com/menta2k/geomask/pkg/calibration"
	"github.com/menta2k/geomask/pkg/client"
	"github.com/menta2k/geomask/pkg/detection"
	"github.com/menta2k/geomask/pkg/fault"
	"github.com/menta2k/geomask/pkg/mask"
	"github.com/menta2k/geomask/pkg/normalize"
	"github.com/menta2k/geomask/pkg/processing"
	"github.com/menta2k/geomask/pkg/types"
)

// Version of the geomask library
const Version = "0.3.0"

// ErrNoImage is returned by operations that need a selected image
var ErrNoImage = errors.New("geomask: no image selected")

// Config bundles the component configurations
type Config struct {
	Normalize normalize.Config
	Brush     brush.Config
	Mask      mask.Config
	Save      types.SaveOptions
}

// DefaultConfig returns the default component configurations
func DefaultConfig() Config {
	return Config{
		Normalize: normalize.DefaultConfig(),
		Brush:     brush.DefaultConfig(),
		Mask:      mask.DefaultConfig(),
	}
}

// Workspace is one annotation session
type Workspace struct {
	config     Config
	logger     *slog.Logger
	pipeline   *normalize.Pipeline
	selector   *normalize.Selector
	compositor *mask.Compositor
	controller *calibration.Controller
	layer      *Layer

	segmenter client.Segmenter
	store     client.MaskStore

	mu     sync.Mutex
	canvas *brush.Canvas
	engine *brush.Engine
}

// New creates a Workspace with default configuration
func New() *Workspace {
	ws, _ := NewWithConfig(DefaultConfig())
	return ws
}

// NewWithConfig creates a Workspace with custom configuration
func NewWithConfig(config Config) (*Workspace, error) {
	compositor, err := mask.NewWithConfig(config.Mask)
	if err != nil {
		return nil, err
	}
	if err := config.Brush.Validate(); err != nil {
		return nil, err
	}

	pipeline, err := normalize.NewWithConfig(config.Normalize)
	if err != nil {
		return nil, err
	}
	ws := &Workspace{
		config:     config,
		logger:     slog.Default(),
		pipeline:   pipeline,
		selector:   normalize.NewSelector(pipeline),
		compositor: compositor,
		controller: calibration.New(),
		layer:      NewLayer(),
	}
	ws.controller.OnCalibrated(ws.layer.SetBounds)
	return ws, nil
}

// SetLogger replaces the default slog logger
func (ws *Workspace) SetLogger(l *slog.Logger) {
	ws.logger = l
	ws.pipeline.SetLogger(l)
	ws.layer.SetLogger(l)
}

// SetConfirmer installs the large-file confirmation prompt
func (ws *Workspace) SetConfirmer(c normalize.Confirmer) {
	ws.pipeline.SetConfirmer(c)
}

// SetSegmenter plugs in the inference collaborator used by Detect
func (ws *Workspace) SetSegmenter(s client.Segmenter) {
	ws.segmenter = s
}

// SetMaskStore plugs in the persistence collaborator used by SaveMask
func (ws *Workspace) SetMaskStore(s client.MaskStore) {
	ws.store = s
}

// Layer returns the polygon layer
func (ws *Workspace) Layer() *Layer {
	return ws.layer
}

// Calibration returns the calibration controller
func (ws *Workspace) Calibration() *calibration.Controller {
	return ws.controller
}

// SelectImage normalizes src and, if it is still the latest selection,
// gives the session a fresh canvas sized to the result.
//
// Fallback results are used like normal ones and come back together with
// their ProcessingTimeout or ProcessingFailure error. Rejected input leaves
// the session unchanged. A fallback whose dimensions cannot be read is not
// an image: the session is left with no image, no canvas and an empty layer.
func (ws *Workspace) SelectImage(ctx context.Context, src normalize.Source) (types.NormalizedImage, error) {
	img, err := ws.selector.Select(ctx, src)
	if err != nil && img.Data == nil {
		return img, err
	}
	if errors.Is(err, normalize.ErrStale) {
		return img, err
	}

	ws.mu.Lock()
	defer ws.mu.Unlock()
	if img.Generation != ws.selector.Latest() {
		return img, normalize.ErrStale
	}

	if ws.canvas != nil {
		ws.canvas.Release()
		ws.canvas, ws.engine = nil, nil
	}
	ws.layer.SetImage(types.ImageSize{}, "")

	if img.Width <= 0 || img.Height <= 0 {
		ws.selector.Discard(img.Generation)
		ws.logger.Warn("selected file is not a readable image", "file", src.Name, "error", err)
		return types.NormalizedImage{}, errors.Join(err, fault.New(fault.ProcessingFailure, "geomask",
			fmt.Sprintf("dimensions of %s are unknown; select a JPEG, PNG, GIF or WebP image", src.Name)))
	}

	canvas, cerr := brush.NewCanvas(img.Width, img.Height)
	if cerr != nil {
		ws.selector.Discard(img.Generation)
		return types.NormalizedImage{}, errors.Join(err, cerr)
	}
	engine, cerr := brush.NewEngineWithConfig(canvas, ws.config.Brush)
	if cerr != nil {
		canvas.Release()
		ws.selector.Discard(img.Generation)
		return types.NormalizedImage{}, errors.Join(err, cerr)
	}
	ws.canvas, ws.engine = canvas, engine
	ws.layer.SetImage(types.ImageSize{Width: img.Width, Height: img.Height}, img.DataURL)

	ws.logger.Info("image selected", "file", src.Name, "generation", img.Generation,
		"width", img.Width, "height", img.Height, "fallback", img.Fallback)
	return img, err
}

// Image returns the current normalized image
func (ws *Workspace) Image() (types.NormalizedImage, bool) {
	return ws.selector.Current()
}

// Engine returns the brush engine for the current image, or nil
func (ws *Workspace) Engine() *brush.Engine {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.engine
}

// ComposeMask composes the current canvas into a lossless mask image
func (ws *Workspace) ComposeMask() (mask.Result, error) {
	ws.mu.Lock()
	canvas := ws.canvas
	ws.mu.Unlock()
	if canvas == nil {
		return mask.Result{}, ErrNoImage
	}

	var out mask.Result
	err := ws.compositor.SubmitCanvas(canvas, func(r mask.Result) error {
		out = r
		return nil
	})
	return out, err
}

// SaveMask composes the mask and uploads it with the normalized image
func (ws *Workspace) SaveMask(ctx context.Context) (*types.SaveResult, error) {
	if ws.store == nil {
		return nil, fmt.Errorf("no mask store configured")
	}
	img, ok := ws.selector.Current()
	if !ok {
		return nil, ErrNoImage
	}

	ws.mu.Lock()
	canvas := ws.canvas
	ws.mu.Unlock()
	if canvas == nil {
		return nil, ErrNoImage
	}

	var saved *types.SaveResult
	err := ws.compositor.SubmitCanvas(canvas, func(r mask.Result) error {
		var err error
		saved, err = ws.store.SaveMask(ctx, r.Data, img.Data, ws.config.Save)
		return err
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// Calibrate captures the corner bounds; the layer is re-projected on success
func (ws *Workspace) Calibrate(c calibration.Capture) (types.GeoBounds, error) {
	return ws.controller.Capture(c)
}

// Detect runs the segmenter on the current image and loads the polygons
// into the layer
func (ws *Workspace) Detect(ctx context.Context) (*detection.Detection, error) {
	if ws.segmenter == nil {
		return nil, fmt.Errorf("no segmenter configured")
	}
	img, ok := ws.selector.Current()
	if !ok {
		return nil, ErrNoImage
	}

	d := detection.NewDetector(ws.segmenter)
	d.SetLogger(ws.logger)
	det, err := d.Detect(ctx, img.Data, "image."+processing.ExtensionFor(img.MIME))
	if err != nil {
		return nil, err
	}
	if err := ws.layer.SetPolygons(det.Size, det.Polygons); err != nil {
		return det, err
	}
	return det, nil
}

// Release frees the canvas. The Workspace must not be used afterwards.
func (ws *Workspace) Release() {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.canvas != nil {
		ws.canvas.Release()
	}
	ws.canvas, ws.engine = nil, nil
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
