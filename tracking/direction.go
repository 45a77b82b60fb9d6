package tracking

// Direction classifies the dominant axis of motion for a tracked object.
// Classification requires a minimum number of position samples; until then
// a track reports DirectionUnknown.
type Direction int

const (
	DirectionUnknown Direction = iota
	DirectionStationary
	DirectionLeftToRight
	DirectionRightToLeft
	DirectionTopToBottom
	DirectionBottomToTop
)

// String returns the config/log label for the direction.
func (d Direction) String() string {
	switch d {
	case DirectionStationary:
		return "stationary"
	case DirectionLeftToRight:
		return "left_to_right"
	case DirectionRightToLeft:
		return "right_to_left"
	case DirectionTopToBottom:
		return "top_to_bottom"
	case DirectionBottomToTop:
		return "bottom_to_top"
	default:
		return "unknown"
	}
}

// ParseDirection maps a config label back to a Direction.
// Unrecognized labels map to DirectionUnknown.
func ParseDirection(s string) Direction {
	switch s {
	case "stationary":
		return DirectionStationary
	case "left_to_right":
		return DirectionLeftToRight
	case "right_to_left":
		return DirectionRightToLeft
	case "top_to_bottom":
		return DirectionTopToBottom
	case "bottom_to_top":
		return DirectionBottomToTop
	default:
		return DirectionUnknown
	}
}

// Moving reports whether the direction represents confirmed movement.
func (d Direction) Moving() bool {
	switch d {
	case DirectionLeftToRight, DirectionRightToLeft, DirectionTopToBottom, DirectionBottomToTop:
		return true
	default:
		return false
	}
}

// Horizontal reports whether movement is along the X axis.
func (d Direction) Horizontal() bool {
	return d == DirectionLeftToRight || d == DirectionRightToLeft
}
