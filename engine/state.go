package engine

import (
	"image"
	"time"
)

// State is the engine's high-level mode.
type State int

const (
	StateIdle State = iota
	StateTracking
	StateReturningHome
)

func (s State) String() string {
	switch s {
	case StateTracking:
		return "tracking"
	case StateReturningHome:
		return "returning_home"
	default:
		return "idle"
	}
}

// Quadrant identifies one quarter of the frame, split at the midpoints.
// QuadrantUnknown means no quadrant has been committed yet, which is the
// state right after quadrant mode is toggled.
type Quadrant int

const (
	QuadrantUnknown Quadrant = iota
	QuadrantTopLeft
	QuadrantTopRight
	QuadrantBottomLeft
	QuadrantBottomRight
)

func (q Quadrant) String() string {
	switch q {
	case QuadrantTopLeft:
		return "top_left"
	case QuadrantTopRight:
		return "top_right"
	case QuadrantBottomLeft:
		return "bottom_left"
	case QuadrantBottomRight:
		return "bottom_right"
	default:
		return "unknown"
	}
}

// quadrantFor classifies a pixel position against the frame midpoints.
// Points exactly on a midpoint fall toward the bottom/right.
func quadrantFor(p image.Point, w, h int) Quadrant {
	left := p.X < w/2
	top := p.Y < h/2
	switch {
	case left && top:
		return QuadrantTopLeft
	case !left && top:
		return QuadrantTopRight
	case left:
		return QuadrantBottomLeft
	default:
		return QuadrantBottomRight
	}
}

// EngineState is a snapshot of the controller's mutable state, grouped in
// one struct so readers get a coherent view instead of racing loose fields.
type EngineState struct {
	State           State
	CurrentPreset   string
	QuadrantMode    bool
	CurrentQuadrant Quadrant
	IdleOverride    string
	LastActionAt    time.Time
}
