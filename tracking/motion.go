package tracking

import (
	"image"
	"math"
	"sync"
	"time"
)

const (
	// Minimum samples before a direction call is attempted.
	minDirectionSamples = 5
	// Velocity is estimated over at most this many recent samples.
	velocityWindow = 10
)

// sample is one observed position with its timestamp.
type sample struct {
	pos image.Point
	ts  time.Time
}

// Track is a read-only snapshot of one object's motion state.
type Track struct {
	ObjectID          string
	Position          image.Point
	Direction         Direction
	VelocityX         float64 // px/s, positive rightward
	VelocityY         float64 // px/s, positive downward
	TotalDisplacement float64 // path length in px over the retained history
	FramesTracked     int
	FirstSeen         time.Time
	LastSeen          time.Time
	Active            bool
}

// Speed returns the scalar velocity magnitude in px/s.
func (t Track) Speed() float64 {
	return math.Hypot(t.VelocityX, t.VelocityY)
}

// MotionTracker derives direction, velocity and displacement from position
// histories, one history per object ID. All methods are safe for concurrent
// use, though in practice a single control loop feeds it.
type MotionTracker struct {
	mu sync.Mutex

	historyLength       int
	movementThreshold   float64
	stationaryThreshold float64
	inactiveTimeout     time.Duration

	histories map[string][]sample
	firstSeen map[string]time.Time
	frames    map[string]int
}

// MotionConfig holds the tunables for motion classification.
type MotionConfig struct {
	HistoryLength       int           // positions retained per object
	MovementThreshold   float64       // px of net displacement for a confirmed direction
	StationaryThreshold float64       // px of net displacement below which the object is stationary
	InactiveTimeout     time.Duration // tracks not updated for this long count as inactive
}

// DefaultMotionConfig mirrors the production tuning for people-scale targets
// on a 640x480 stream.
func DefaultMotionConfig() MotionConfig {
	return MotionConfig{
		HistoryLength:       30,
		MovementThreshold:   50,
		StationaryThreshold: 20,
		InactiveTimeout:     2 * time.Second,
	}
}

// NewMotionTracker creates a tracker with the given tuning. Zero values fall
// back to DefaultMotionConfig.
func NewMotionTracker(cfg MotionConfig) *MotionTracker {
	def := DefaultMotionConfig()
	if cfg.HistoryLength <= 0 {
		cfg.HistoryLength = def.HistoryLength
	}
	if cfg.MovementThreshold <= 0 {
		cfg.MovementThreshold = def.MovementThreshold
	}
	if cfg.StationaryThreshold <= 0 {
		cfg.StationaryThreshold = def.StationaryThreshold
	}
	if cfg.InactiveTimeout <= 0 {
		cfg.InactiveTimeout = def.InactiveTimeout
	}
	return &MotionTracker{
		historyLength:       cfg.HistoryLength,
		movementThreshold:   cfg.MovementThreshold,
		stationaryThreshold: cfg.StationaryThreshold,
		inactiveTimeout:     cfg.InactiveTimeout,
		histories:           make(map[string][]sample),
		firstSeen:           make(map[string]time.Time),
		frames:              make(map[string]int),
	}
}

// Update appends a position observation for the object and returns the
// direction classified from the updated history.
func (m *MotionTracker) Update(objectID string, center image.Point, ts time.Time) Direction {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := m.histories[objectID]
	if len(h) == 0 {
		m.firstSeen[objectID] = ts
	}
	h = append(h, sample{pos: center, ts: ts})
	if len(h) > m.historyLength {
		h = h[len(h)-m.historyLength:]
	}
	m.histories[objectID] = h
	m.frames[objectID]++

	return m.classify(h)
}

// classify implements the three-band direction call over the oldest and
// newest retained samples.
func (m *MotionTracker) classify(h []sample) Direction {
	if len(h) < minDirectionSamples {
		return DirectionUnknown
	}
	first, last := h[0].pos, h[len(h)-1].pos
	dx := float64(last.X - first.X)
	dy := float64(last.Y - first.Y)
	dist := math.Hypot(dx, dy)

	if dist < m.stationaryThreshold {
		return DirectionStationary
	}
	if dist < m.movementThreshold {
		return DirectionUnknown
	}
	if math.Abs(dx) >= math.Abs(dy) {
		if dx > 0 {
			return DirectionLeftToRight
		}
		return DirectionRightToLeft
	}
	if dy > 0 {
		return DirectionTopToBottom
	}
	return DirectionBottomToTop
}

// velocity estimates px/s over the most recent samples. A non-positive time
// span yields zero velocity rather than a blow-up.
func velocity(h []sample) (vx, vy float64) {
	if len(h) < 2 {
		return 0, 0
	}
	w := h
	if len(w) > velocityWindow {
		w = w[len(w)-velocityWindow:]
	}
	first, last := w[0], w[len(w)-1]
	dt := last.ts.Sub(first.ts).Seconds()
	if dt <= 0 {
		return 0, 0
	}
	vx = float64(last.pos.X-first.pos.X) / dt
	vy = float64(last.pos.Y-first.pos.Y) / dt
	return vx, vy
}

// pathLength sums the segment lengths of the retained history.
func pathLength(h []sample) float64 {
	var total float64
	for i := 1; i < len(h); i++ {
		total += math.Hypot(
			float64(h[i].pos.X-h[i-1].pos.X),
			float64(h[i].pos.Y-h[i-1].pos.Y),
		)
	}
	return total
}

// snapshot builds a Track from one history. Caller holds the lock.
func (m *MotionTracker) snapshot(objectID string, now time.Time) (Track, bool) {
	h, ok := m.histories[objectID]
	if !ok || len(h) == 0 {
		return Track{}, false
	}
	vx, vy := velocity(h)
	last := h[len(h)-1]
	return Track{
		ObjectID:          objectID,
		Position:          last.pos,
		Direction:         m.classify(h),
		VelocityX:         vx,
		VelocityY:         vy,
		TotalDisplacement: pathLength(h),
		FramesTracked:     m.frames[objectID],
		FirstSeen:         m.firstSeen[objectID],
		LastSeen:          last.ts,
		Active:            now.Sub(last.ts) <= m.inactiveTimeout,
	}, true
}

// TrackInfo returns the current snapshot for one object.
func (m *MotionTracker) TrackInfo(objectID string) (Track, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot(objectID, time.Now())
}

// AllTracks returns snapshots for every retained object.
func (m *MotionTracker) AllTracks() []Track {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	out := make([]Track, 0, len(m.histories))
	for id := range m.histories {
		if t, ok := m.snapshot(id, now); ok {
			out = append(out, t)
		}
	}
	return out
}

// ActiveTracks returns snapshots for objects updated within the inactive
// timeout.
func (m *MotionTracker) ActiveTracks() []Track {
	var out []Track
	for _, t := range m.AllTracks() {
		if t.Active {
			out = append(out, t)
		}
	}
	return out
}

// TracksByDirection returns active tracks currently classified as d.
func (m *MotionTracker) TracksByDirection(d Direction) []Track {
	var out []Track
	for _, t := range m.ActiveTracks() {
		if t.Direction == d {
			out = append(out, t)
		}
	}
	return out
}

// FastestTrack returns the active track with the highest speed.
func (m *MotionTracker) FastestTrack() (Track, bool) {
	var best Track
	found := false
	for _, t := range m.ActiveTracks() {
		if !found || t.Speed() > best.Speed() {
			best = t
			found = true
		}
	}
	return best, found
}

// ClearTrack drops all state for one object.
func (m *MotionTracker) ClearTrack(objectID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.histories, objectID)
	delete(m.firstSeen, objectID)
	delete(m.frames, objectID)
}

// ClearInactive drops every track not updated within the inactive timeout
// and returns how many were removed.
func (m *MotionTracker) ClearInactive() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	removed := 0
	for id, h := range m.histories {
		if now.Sub(h[len(h)-1].ts) > m.inactiveTimeout {
			delete(m.histories, id)
			delete(m.firstSeen, id)
			delete(m.frames, id)
			removed++
		}
	}
	return removed
}

// Reset drops all tracks.
func (m *MotionTracker) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.histories = make(map[string][]sample)
	m.firstSeen = make(map[string]time.Time)
	m.frames = make(map[string]int)
}

// Count returns the number of retained tracks.
func (m *MotionTracker) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.histories)
}
