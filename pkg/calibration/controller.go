// Package calibration captures the two geodetic corners that anchor an
// image on the map.
package calibration

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/menta2k/geomask/pkg/fault"
	"github.com/menta2k/geomask/pkg/types"
)

// ErrAlreadyCalibrated is returned when bounds are captured a second time.
var ErrAlreadyCalibrated = fault.New(fault.InputRejected, "calibration", "bounds are already set for this session")

// Capture is the raw text of the four corner fields, submitted together
type Capture struct {
	NELat string
	NELng string
	SWLat string
	SWLng string
}

// Controller holds the calibrated bounds for one session.
// Bounds are set at most once and never change afterwards.
type Controller struct {
	bounds    *types.GeoBounds
	listeners []func(types.GeoBounds)
}

// New creates an uncalibrated Controller
func New() *Controller {
	return &Controller{}
}

// OnCalibrated registers fn to run once bounds are set. If the controller is
// already calibrated fn runs immediately.
func (c *Controller) OnCalibrated(fn func(types.GeoBounds)) {
	if c.bounds != nil {
		fn(*c.bounds)
		return
	}
	c.listeners = append(c.listeners, fn)
}

// Capture validates all four fields and stores the bounds.
// Nothing is stored unless every field is valid.
func (c *Controller) Capture(in Capture) (types.GeoBounds, error) {
	if c.bounds != nil {
		return types.GeoBounds{}, ErrAlreadyCalibrated
	}

	b, err := Parse(in)
	if err != nil {
		return types.GeoBounds{}, err
	}

	c.bounds = &b
	for _, fn := range c.listeners {
		fn(b)
	}
	c.listeners = nil
	return b, nil
}

// Bounds returns the calibrated bounds, if any
func (c *Controller) Bounds() (types.GeoBounds, bool) {
	if c.bounds == nil {
		return types.GeoBounds{}, false
	}
	return *c.bounds, true
}

// Calibrated reports whether bounds have been set
func (c *Controller) Calibrated() bool {
	return c.bounds != nil
}

// Parse converts a capture into bounds without storing them
func Parse(in Capture) (types.GeoBounds, error) {
	fields := []struct {
		name  string
		value string
		limit float64
	}{
		{"north-east latitude", in.NELat, 90},
		{"north-east longitude", in.NELng, 180},
		{"south-west latitude", in.SWLat, 90},
		{"south-west longitude", in.SWLng, 180},
	}

	var v [4]float64
	var problems []string
	for i, f := range fields {
		s := strings.TrimSpace(f.value)
		if s == "" {
			problems = append(problems, f.name+" is missing")
			continue
		}
		n, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
			problems = append(problems, fmt.Sprintf("%s %q is not a number", f.name, f.value))
			continue
		}
		if n < -f.limit || n > f.limit {
			problems = append(problems, fmt.Sprintf("%s %g is outside ±%g", f.name, n, f.limit))
			continue
		}
		v[i] = n
	}
	if len(problems) > 0 {
		return types.GeoBounds{}, fault.New(fault.InputRejected, "calibration",
			"all four corner coordinates are required: "+strings.Join(problems, "; "))
	}

	b := types.GeoBounds{
		NorthEast: types.LatLng{Lat: v[0], Lng: v[1]},
		SouthWest: types.LatLng{Lat: v[2], Lng: v[3]},
	}
	if err := Validate(b); err != nil {
		return types.GeoBounds{}, err
	}
	return b, nil
}

// Validate rejects inverted or zero-area rectangles
func Validate(b types.GeoBounds) error {
	if !(b.NorthEast.Lat > b.SouthWest.Lat) {
		return fault.New(fault.InputRejected, "calibration",
			fmt.Sprintf("north-east latitude %g must be greater than south-west latitude %g", b.NorthEast.Lat, b.SouthWest.Lat))
	}
	if !(b.NorthEast.Lng > b.SouthWest.Lng) {
		return fault.New(fault.InputRejected, "calibration",
			fmt.Sprintf("north-east longitude %g must be greater than south-west longitude %g", b.NorthEast.Lng, b.SouthWest.Lng))
	}
	return nil
}
