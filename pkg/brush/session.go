package brush

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/menta2k/geomask/pkg/types"
)

// Event types understood by Replay
const (
	EventDown  = "down"
	EventMove  = "move"
	EventUp    = "up"
	EventLeave = "leave"
	EventMode  = "mode"
	EventBrush = "brush"
	EventClear = "clear"
)

// Event is one recorded input event
type Event struct {
	Type  string  `yaml:"type"`
	X     float64 `yaml:"x,omitempty"`
	Y     float64 `yaml:"y,omitempty"`
	Mode  string  `yaml:"mode,omitempty"`
	Width float64 `yaml:"width,omitempty"`
	Color string  `yaml:"color,omitempty"`
}

// Session is a recorded sequence of input events for one image
type Session struct {
	Image  string  `yaml:"image,omitempty"`
	Width  int     `yaml:"width,omitempty"`
	Height int     `yaml:"height,omitempty"`
	Events []Event `yaml:"events"`
}

// Replay feeds every event of s through e in order
func Replay(e *Engine, s *Session) error {
	for i, ev := range s.Events {
		if err := apply(e, ev); err != nil {
			return fmt.Errorf("event %d (%s): %w", i, ev.Type, err)
		}
	}
	return nil
}

func apply(e *Engine, ev Event) error {
	p := types.Pt(ev.X, ev.Y)
	switch ev.Type {
	case EventDown:
		return e.PointerDown(p)
	case EventMove:
		return e.PointerMove(p)
	case EventUp:
		return e.PointerUp(p)
	case EventLeave:
		return e.PointerLeave(p)
	case EventMode:
		m, err := types.ParseMode(ev.Mode)
		if err != nil {
			return err
		}
		return e.SetMode(m)
	case EventBrush:
		width, c := e.Brush()
		if ev.Width != 0 {
			width = ev.Width
		}
		if ev.Color != "" {
			var err error
			if c, err = ParseHexColor(ev.Color); err != nil {
				return err
			}
		}
		return e.SetBrush(width, c)
	case EventClear:
		return e.Clear()
	default:
		return fmt.Errorf("unknown event type %q", ev.Type)
	}
}

// SessionFromStrokes rebuilds an event list that reproduces strokes
func SessionFromStrokes(strokes []types.Stroke) *Session {
	s := &Session{}
	for _, st := range strokes {
		if len(st.Points) == 0 {
			continue
		}
		s.Events = append(s.Events,
			Event{Type: EventMode, Mode: st.Mode.String()},
			Event{Type: EventBrush, Width: st.Width, Color: HexColor(st.Color)},
			Event{Type: EventDown, X: st.Points[0].X, Y: st.Points[0].Y},
		)
		last := st.Points[len(st.Points)-1]
		if st.Mode == types.Freehand {
			for _, p := range st.Points[1:] {
				s.Events = append(s.Events, Event{Type: EventMove, X: p.X, Y: p.Y})
			}
		}
		s.Events = append(s.Events, Event{Type: EventUp, X: last.X, Y: last.Y})
	}
	return s
}

// WriteSession writes a session to a YAML file
func WriteSession(session *Session, path string) error {
	data, err := yaml.Marshal(session)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// ReadSession reads a session from a YAML file
func ReadSession(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var session Session
	if err := yaml.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("parse session %s: %w", path, err)
	}

	return &session, nil
}
