package brush

import (
	"fmt"
	"image/color"

	"github.com/menta2k/geomask/internal/metrics"
	"github.com/menta2k/geomask/pkg/fault"
	"github.com/menta2k/geomask/pkg/types"
)

// Brush width limits, matching the width slider of the annotation page.
const (
	MinWidth = 1
	MaxWidth = 50
)

// ErrGestureActive is returned when the drawing mode is changed mid-gesture.
var ErrGestureActive = fault.New(fault.InputRejected, "brush", "drawing mode can only be changed between strokes")

// State is the gesture state of an Engine: Idle, Drawing or AnchorSet.
type State interface {
	state()
}

// Idle means no gesture is in progress.
type Idle struct{}

// Drawing is a freehand gesture. Every point after the first has already
// been painted as a segment from its predecessor.
type Drawing struct {
	Path []types.Point
}

// AnchorSet is a straight-line gesture waiting for its release point.
type AnchorSet struct {
	Anchor types.Point
}

func (Idle) state()      {}
func (Drawing) state()   {}
func (AnchorSet) state() {}

// Config holds the initial brush settings
type Config struct {
	Width float64
	Color color.NRGBA
	Mode  types.Mode
}

// DefaultConfig returns a 10px white freehand brush
func DefaultConfig() Config {
	return Config{
		Width: 10,
		Color: color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff},
		Mode:  types.Freehand,
	}
}

// Validate checks the brush width
func (c Config) Validate() error {
	return validateWidth(c.Width)
}

// Engine turns pointer events into paint on a Canvas.
//
// It is not safe for concurrent use: events are expected one at a time from
// a single input source, each processed to completion.
type Engine struct {
	canvas *Canvas
	state  State
	mode   types.Mode
	width  float64
	color  color.NRGBA

	// brush latched at pointer-down for the gesture in progress
	gestureWidth float64
	gestureColor color.NRGBA

	strokes []types.Stroke
}

// NewEngine creates an Engine with the default brush
func NewEngine(canvas *Canvas) *Engine {
	e, _ := NewEngineWithConfig(canvas, DefaultConfig())
	return e
}

// NewEngineWithConfig creates an Engine with a custom brush
func NewEngineWithConfig(canvas *Canvas, config Config) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		canvas: canvas,
		state:  Idle{},
		mode:   config.Mode,
		width:  config.Width,
		color:  config.Color,
	}, nil
}

// State returns the current gesture state
func (e *Engine) State() State {
	return e.state
}

// Mode returns the active drawing mode
func (e *Engine) Mode() types.Mode {
	return e.mode
}

// Canvas returns the canvas the engine paints into
func (e *Engine) Canvas() *Canvas {
	return e.canvas
}

// SetMode switches between freehand and straight-line drawing.
// Only allowed while Idle.
func (e *Engine) SetMode(m types.Mode) error {
	if e.canvas.Released() {
		return ErrReleased
	}
	if _, idle := e.state.(Idle); !idle {
		return ErrGestureActive
	}
	e.mode = m
	return nil
}

// SetBrush changes width and colour. A gesture in progress keeps the brush
// it started with.
func (e *Engine) SetBrush(width float64, c color.NRGBA) error {
	if e.canvas.Released() {
		return ErrReleased
	}
	if err := validateWidth(width); err != nil {
		return err
	}
	e.width = width
	e.color = c
	return nil
}

// Brush returns the current width and colour
func (e *Engine) Brush() (float64, color.NRGBA) {
	return e.width, e.color
}

// PointerDown starts a gesture. It is ignored unless the engine is Idle.
func (e *Engine) PointerDown(p types.Point) error {
	if e.canvas.Released() {
		return ErrReleased
	}
	if _, idle := e.state.(Idle); !idle {
		return nil
	}

	e.gestureWidth, e.gestureColor = e.width, e.color
	switch e.mode {
	case types.Straight:
		e.state = AnchorSet{Anchor: p}
	default:
		e.state = Drawing{Path: []types.Point{p}}
	}
	return nil
}

// PointerMove extends a freehand gesture by one painted segment.
// Moves in any other state are ignored.
func (e *Engine) PointerMove(p types.Point) error {
	if e.canvas.Released() {
		return ErrReleased
	}
	d, ok := e.state.(Drawing)
	if !ok {
		return nil
	}

	prev := d.Path[len(d.Path)-1]
	if err := e.canvas.Segment(prev, p, e.gestureWidth, e.gestureColor); err != nil {
		return err
	}
	e.state = Drawing{Path: append(d.Path, p)}
	return nil
}

// PointerUp ends the gesture at p. A straight-line gesture paints its single
// segment now; a freehand gesture has nothing left to paint.
func (e *Engine) PointerUp(p types.Point) error {
	if e.canvas.Released() {
		return ErrReleased
	}

	switch s := e.state.(type) {
	case AnchorSet:
		if err := e.canvas.Segment(s.Anchor, p, e.gestureWidth, e.gestureColor); err != nil {
			return err
		}
		e.finalize(types.Straight, []types.Point{s.Anchor, p})
	case Drawing:
		if len(s.Path) > 1 {
			e.finalize(types.Freehand, s.Path)
		}
	}
	e.state = Idle{}
	return nil
}

// PointerLeave is treated as a release at the last known position p
func (e *Engine) PointerLeave(p types.Point) error {
	return e.PointerUp(p)
}

// Clear erases the raster and the stroke history and returns to Idle.
// Legal in any state; a gesture in progress is dropped.
func (e *Engine) Clear() error {
	if err := e.canvas.Clear(); err != nil {
		return err
	}
	e.state = Idle{}
	e.strokes = nil
	return nil
}

// Strokes returns the finalized strokes since the last Clear
func (e *Engine) Strokes() []types.Stroke {
	out := make([]types.Stroke, len(e.strokes))
	copy(out, e.strokes)
	return out
}

func (e *Engine) finalize(mode types.Mode, pts []types.Point) {
	e.strokes = append(e.strokes, types.Stroke{
		Points: append([]types.Point(nil), pts...),
		Width:  e.gestureWidth,
		Color:  e.gestureColor,
		Mode:   mode,
	})
	metrics.StrokesFinalized.WithLabelValues(mode.String()).Inc()
}

func validateWidth(w float64) error {
	if !(w >= MinWidth && w <= MaxWidth) {
		return fault.New(fault.InputRejected, "brush", fmt.Sprintf("brush width %g outside %d..%d", w, MinWidth, MaxWidth))
	}
	return nil
}
