package normalize

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/menta2k/geomask/internal/metrics"
	"github.com/menta2k/geomask/pkg/types"
)

// ErrStale is returned when a newer selection superseded the result.
var ErrStale = errors.New("normalize: result superseded by a newer selection")

// Selector tracks the image belonging to the latest file selection.
//
// Every Select is tagged with a generation. A result is applied only while
// its generation is still the latest, so a slow run for an older file can
// never overwrite the state of a newer one.
type Selector struct {
	pipeline *Pipeline
	gen      atomic.Uint64

	mu      sync.Mutex
	current *types.NormalizedImage
}

// NewSelector creates a Selector backed by pipeline
func NewSelector(pipeline *Pipeline) *Selector {
	return &Selector{pipeline: pipeline}
}

// Begin starts a new selection and returns its generation
func (s *Selector) Begin() uint64 {
	return s.gen.Add(1)
}

// Latest returns the generation of the most recent selection
func (s *Selector) Latest() uint64 {
	return s.gen.Load()
}

// Apply stores img if its generation is still the latest
func (s *Selector) Apply(img types.NormalizedImage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if img.Generation != s.gen.Load() {
		return false
	}
	s.current = &img
	return true
}

// Discard clears the current image if it still belongs to generation gen
func (s *Selector) Discard(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil || s.current.Generation != gen {
		return false
	}
	s.current = nil
	return true
}

// Select normalizes src as the newest selection and applies the result.
//
// Input rejected up front never starts a generation, so neither the current
// image nor a selection still in flight is affected. Fallback results
// (timeout or decode failure) are applied; their error is returned alongside
// so the caller can show the warning. If a newer selection started while
// this one was running, the result is dropped and ErrStale is returned.
func (s *Selector) Select(ctx context.Context, src Source) (types.NormalizedImage, error) {
	if err := s.pipeline.Check(src); err != nil {
		return types.NormalizedImage{}, err
	}

	gen := s.Begin()
	img, err := s.pipeline.run(ctx, src)
	img.Generation = gen

	if !s.Apply(img) {
		metrics.NormalizeOutcomes.WithLabelValues("stale").Inc()
		s.pipeline.logger.Debug("dropping stale normalization result",
			slog.Uint64("generation", gen), slog.Uint64("latest", s.Latest()))
		return img, ErrStale
	}
	return img, err
}

// Current returns the latest applied image
func (s *Selector) Current() (types.NormalizedImage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return types.NormalizedImage{}, false
	}
	return *s.current, true
}
