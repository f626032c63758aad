package types

import (
	"encoding/json"
	"fmt"
	"image/color"
)

// Point is a pixel-space coordinate. Y grows downward.
type Point struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Pt is shorthand for Point{X: x, Y: y}
func Pt(x, y float64) Point {
	return Point{X: x, Y: y}
}

// ImageSize holds the pixel dimensions of a source image
type ImageSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Mode selects how pointer gestures become strokes
type Mode int

const (
	Freehand Mode = iota
	Straight
)

func (m Mode) String() string {
	switch m {
	case Freehand:
		return "freehand"
	case Straight:
		return "straight"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode accepts "freehand" or "straight"
func ParseMode(s string) (Mode, error) {
	switch s {
	case "freehand", "":
		return Freehand, nil
	case "straight":
		return Straight, nil
	}
	return Freehand, fmt.Errorf("unknown drawing mode %q", s)
}

// Stroke is one finalized gesture recorded by the brush engine
type Stroke struct {
	Points []Point
	Width  float64
	Color  color.NRGBA
	Mode   Mode
}

// NormalizedImage is the output of the normalization pipeline.
// Data is the upload payload, DataURL the display payload.
type NormalizedImage struct {
	Data       []byte
	MIME       string
	DataURL    string
	Width      int
	Height     int
	Quality    float64
	Generation uint64
	Fallback   bool
	Warning    string
}

// Polygon is a pixel-space outline as returned by the inference service.
type Polygon struct {
	Points []Point  `json:"points"`
	Area   *float64 `json:"area,omitempty"`
}

// polygonWire is the [[x, y], ...] form used on the wire
type polygonWire struct {
	Points [][2]float64 `json:"points"`
	Area   *float64     `json:"area,omitempty"`
}

// MarshalJSON encodes points as [x, y] pairs
func (p Polygon) MarshalJSON() ([]byte, error) {
	w := polygonWire{Points: make([][2]float64, len(p.Points)), Area: p.Area}
	for i, pt := range p.Points {
		w.Points[i] = [2]float64{pt.X, pt.Y}
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes points from [x, y] pairs
func (p *Polygon) UnmarshalJSON(data []byte) error {
	var w polygonWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	p.Points = make([]Point, len(w.Points))
	for i, xy := range w.Points {
		p.Points[i] = Point{X: xy[0], Y: xy[1]}
	}
	p.Area = w.Area
	return nil
}

// LatLng is a geodetic coordinate in degrees
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// GeoBounds is the calibrated extent of an image.
// NorthEast.Lat > SouthWest.Lat and NorthEast.Lng > SouthWest.Lng.
type GeoBounds struct {
	NorthEast LatLng `json:"northEast"`
	SouthWest LatLng `json:"southWest"`
}

// LngLat is a (longitude, latitude) pair, GeoJSON axis order
type LngLat [2]float64

func (c LngLat) Lng() float64 { return c[0] }
func (c LngLat) Lat() float64 { return c[1] }

// GeoPolygon is a closed ring: the first coordinate is repeated last.
type GeoPolygon []LngLat

// Overlay anchors an image on the map by its four corners, in the order
// top-left, top-right, bottom-right, bottom-left.
type Overlay struct {
	Image   string    `json:"image,omitempty"`
	Corners [4]LngLat `json:"corners"`
}

// SegmentationResult is the decoded response of the inference service
type SegmentationResult struct {
	Success  bool      `json:"success"`
	Polygons []Polygon `json:"polygons"`
	Image    string    `json:"image,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// SaveOptions selects the model bucket a mask is stored under
type SaveOptions struct {
	Model string
	Type  string
}

// SaveResult is the persistence service's confirmation
type SaveResult struct {
	Success bool       `json:"success"`
	Message string     `json:"message,omitempty"`
	Size    *ImageSize `json:"size,omitempty"`
}
