package tracking

import (
	"fmt"
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// feed pushes n samples for one object starting at start, advancing the
// position by (dx, dy) and the clock by step per sample. Returns the last
// classified direction.
func feed(m *MotionTracker, id string, n int, start image.Point, dx, dy int, t0 time.Time, step time.Duration) Direction {
	var last Direction
	for i := 0; i < n; i++ {
		p := image.Pt(start.X+i*dx, start.Y+i*dy)
		last = m.Update(id, p, t0.Add(time.Duration(i)*step))
	}
	return last
}

func TestRightToLeftWalk(t *testing.T) {
	m := NewMotionTracker(DefaultMotionConfig())
	t0 := time.Now()

	// 30 samples moving from x=500 down to x=210 at fixed y.
	dir := feed(m, "1", 30, image.Pt(500, 300), -10, 0, t0, 100*time.Millisecond)
	assert.Equal(t, DirectionRightToLeft, dir)

	track, ok := m.TrackInfo("1")
	require.True(t, ok)
	assert.Less(t, track.VelocityX, 0.0)
	assert.InDelta(t, 0.0, track.VelocityY, 1e-9)
	assert.InDelta(t, 290.0, track.TotalDisplacement, 1e-6)
	assert.Equal(t, 30, track.FramesTracked)
}

func TestStationaryObject(t *testing.T) {
	m := NewMotionTracker(DefaultMotionConfig())
	t0 := time.Now()

	dir := feed(m, "1", 30, image.Pt(320, 240), 0, 0, t0, 100*time.Millisecond)
	assert.Equal(t, DirectionStationary, dir)

	track, ok := m.TrackInfo("1")
	require.True(t, ok)
	assert.Zero(t, track.VelocityX)
	assert.Zero(t, track.VelocityY)
	assert.Zero(t, track.TotalDisplacement)
}

func TestDirectionNeedsFiveSamples(t *testing.T) {
	m := NewMotionTracker(DefaultMotionConfig())
	t0 := time.Now()

	for i := 0; i < 4; i++ {
		dir := m.Update("1", image.Pt(100+i*40, 200), t0.Add(time.Duration(i)*100*time.Millisecond))
		assert.Equal(t, DirectionUnknown, dir, "sample %d", i+1)
	}
	dir := m.Update("1", image.Pt(260, 200), t0.Add(500*time.Millisecond))
	assert.Equal(t, DirectionLeftToRight, dir)
}

func TestSmallDriftIsUnknown(t *testing.T) {
	cfg := DefaultMotionConfig() // stationary < 20, movement < 50
	m := NewMotionTracker(cfg)
	t0 := time.Now()

	// Net displacement of 30 px falls between the two thresholds.
	dir := feed(m, "1", 10, image.Pt(100, 100), 3, 0, t0, 100*time.Millisecond)
	assert.Equal(t, DirectionUnknown, dir)
}

func TestVerticalDirections(t *testing.T) {
	m := NewMotionTracker(DefaultMotionConfig())
	t0 := time.Now()

	down := feed(m, "down", 10, image.Pt(320, 50), 0, 10, t0, 100*time.Millisecond)
	up := feed(m, "up", 10, image.Pt(320, 400), 0, -10, t0, 100*time.Millisecond)
	assert.Equal(t, DirectionTopToBottom, down)
	assert.Equal(t, DirectionBottomToTop, up)
}

func TestConcurrentIdentitiesStayIndependent(t *testing.T) {
	m := NewMotionTracker(DefaultMotionConfig())
	t0 := time.Now()

	// Three objects with distinct motion profiles, interleaved updates.
	for i := 0; i < 30; i++ {
		ts := t0.Add(time.Duration(i) * 100 * time.Millisecond)
		m.Update("ltr", image.Pt(50+i*10, 200), ts)
		m.Update("rtl", image.Pt(600-i*10, 200), ts)
		m.Update("still", image.Pt(320, 240), ts)
	}

	want := map[string]Direction{
		"ltr":   DirectionLeftToRight,
		"rtl":   DirectionRightToLeft,
		"still": DirectionStationary,
	}
	for id, dir := range want {
		track, ok := m.TrackInfo(id)
		require.True(t, ok, id)
		assert.Equal(t, dir, track.Direction, id)
	}
	assert.Equal(t, 3, m.Count())
}

func TestVelocityFromRecentWindow(t *testing.T) {
	m := NewMotionTracker(DefaultMotionConfig())
	t0 := time.Now()

	// 20 samples at 10 px per 100 ms: 100 px/s regardless of window size.
	feed(m, "1", 20, image.Pt(0, 0), 10, 0, t0, 100*time.Millisecond)
	track, ok := m.TrackInfo("1")
	require.True(t, ok)
	assert.InDelta(t, 100.0, track.VelocityX, 1e-6)
}

func TestVelocityZeroTimeSpan(t *testing.T) {
	m := NewMotionTracker(DefaultMotionConfig())
	t0 := time.Now()

	// All samples share one timestamp; velocity must not blow up.
	for i := 0; i < 10; i++ {
		m.Update("1", image.Pt(i*50, 0), t0)
	}
	track, ok := m.TrackInfo("1")
	require.True(t, ok)
	assert.Zero(t, track.VelocityX)
	assert.Zero(t, track.VelocityY)
}

func TestHistoryBounded(t *testing.T) {
	cfg := DefaultMotionConfig()
	cfg.HistoryLength = 5
	m := NewMotionTracker(cfg)
	t0 := time.Now()

	feed(m, "1", 50, image.Pt(0, 0), 10, 0, t0, 100*time.Millisecond)
	track, ok := m.TrackInfo("1")
	require.True(t, ok)
	// Only the last 5 positions contribute: 4 segments of 10 px.
	assert.InDelta(t, 40.0, track.TotalDisplacement, 1e-6)
	// Frame count survives trimming.
	assert.Equal(t, 50, track.FramesTracked)
}

func TestActiveAndInactiveTracks(t *testing.T) {
	cfg := DefaultMotionConfig()
	cfg.InactiveTimeout = 200 * time.Millisecond
	m := NewMotionTracker(cfg)

	old := time.Now().Add(-time.Second)
	m.Update("stale", image.Pt(10, 10), old)
	m.Update("fresh", image.Pt(20, 20), time.Now())

	active := m.ActiveTracks()
	require.Len(t, active, 1)
	assert.Equal(t, "fresh", active[0].ObjectID)
	assert.Len(t, m.AllTracks(), 2)

	removed := m.ClearInactive()
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, m.Count())
}

func TestTracksByDirectionAndFastest(t *testing.T) {
	m := NewMotionTracker(DefaultMotionConfig())
	t0 := time.Now()

	feed(m, "slow", 10, image.Pt(0, 100), 10, 0, t0, 100*time.Millisecond)
	feed(m, "fast", 10, image.Pt(0, 200), 30, 0, t0, 100*time.Millisecond)

	ltr := m.TracksByDirection(DirectionLeftToRight)
	assert.Len(t, ltr, 2)
	assert.Empty(t, m.TracksByDirection(DirectionRightToLeft))

	fastest, ok := m.FastestTrack()
	require.True(t, ok)
	assert.Equal(t, "fast", fastest.ObjectID)
}

func TestClearTrackAndReset(t *testing.T) {
	m := NewMotionTracker(DefaultMotionConfig())
	t0 := time.Now()

	for i := 0; i < 3; i++ {
		feed(m, fmt.Sprintf("%d", i), 5, image.Pt(i*100, 0), 5, 0, t0, 100*time.Millisecond)
	}
	m.ClearTrack("1")
	assert.Equal(t, 2, m.Count())
	_, ok := m.TrackInfo("1")
	assert.False(t, ok)

	m.Reset()
	assert.Zero(t, m.Count())
}
