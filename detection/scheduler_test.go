package detection

import (
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

// stubDetector returns canned detections per frame number and can be gated
// to hold a pass open while more frames are submitted.
type stubDetector struct {
	mu        sync.Mutex
	gate      chan struct{} // when non-nil, Detect blocks for one token
	results   map[int64][]Detection
	err       error
	processed []int64
}

func (d *stubDetector) Detect(frame gocv.Mat, n int64, ts time.Time) ([]Detection, error) {
	if d.gate != nil {
		<-d.gate
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.processed = append(d.processed, n)
	if d.err != nil {
		return nil, d.err
	}
	return d.results[n], nil
}

func (d *stubDetector) Close() error { return nil }

func (d *stubDetector) processedFrames() []int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int64(nil), d.processed...)
}

func det(class string, conf float64) Detection {
	box := image.Rect(100, 100, 200, 300)
	return Detection{
		ClassName:  class,
		Confidence: conf,
		Box:        box,
		Center:     image.Pt(150, 200),
	}
}

func testFrame(t *testing.T) gocv.Mat {
	t.Helper()
	m := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
	t.Cleanup(func() { m.Close() })
	return m
}

func TestSchedulerPublishesFilteredSnapshot(t *testing.T) {
	stub := &stubDetector{results: map[int64][]Detection{
		1: {det("person", 0.9), det("person", 0.3), det("car", 0.95)},
	}}
	s := NewScheduler(stub, 0.6, []string{"person"}, nil)
	s.Start()
	defer s.Stop(time.Second)

	s.Submit(testFrame(t), 1, time.Now())

	require.Eventually(t, func() bool {
		return len(s.Latest()) == 1
	}, time.Second, 5*time.Millisecond)

	got := s.Latest()
	assert.Equal(t, "person", got[0].ClassName)
	assert.Equal(t, 0.9, got[0].Confidence)
}

func TestSchedulerEmptyPassClearsSnapshot(t *testing.T) {
	stub := &stubDetector{results: map[int64][]Detection{
		1: {det("person", 0.9)},
		// frame 2 has no entry: empty result
	}}
	s := NewScheduler(stub, 0.5, nil, nil)
	s.Start()
	defer s.Stop(time.Second)

	s.Submit(testFrame(t), 1, time.Now())
	require.Eventually(t, func() bool {
		return len(s.Latest()) == 1
	}, time.Second, 5*time.Millisecond)

	s.Submit(testFrame(t), 2, time.Now())
	require.Eventually(t, func() bool {
		return s.Latest() == nil
	}, time.Second, 5*time.Millisecond)
}

func TestSchedulerNewestFrameWins(t *testing.T) {
	gate := make(chan struct{})
	stub := &stubDetector{
		gate: gate,
		results: map[int64][]Detection{
			3: {det("person", 0.9)},
		},
	}
	s := NewScheduler(stub, 0.5, nil, nil)
	s.Start()

	// Frame 1 is picked up and held open by the gate. Frames 2 and 3
	// contend for the single slot: 3 replaces 2.
	s.Submit(testFrame(t), 1, time.Now())
	require.Eventually(t, func() bool {
		return len(stub.processedFrames()) >= 0 && s.Stats().FramesSubmitted == 1
	}, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond) // let the worker take frame 1

	s.Submit(testFrame(t), 2, time.Now())
	s.Submit(testFrame(t), 3, time.Now())

	gate <- struct{}{} // finish frame 1
	gate <- struct{}{} // finish frame 3

	require.Eventually(t, func() bool {
		return len(s.Latest()) == 1
	}, time.Second, 5*time.Millisecond)

	frames := stub.processedFrames()
	assert.Equal(t, []int64{1, 3}, frames)
	assert.Equal(t, int64(1), s.Stats().FramesDropped)
	s.Stop(time.Second)
}

func TestSchedulerErrorReadsAsNothingDetected(t *testing.T) {
	stub := &stubDetector{results: map[int64][]Detection{
		1: {det("person", 0.9)},
	}}
	s := NewScheduler(stub, 0.5, nil, nil)
	s.Start()
	defer s.Stop(time.Second)

	s.Submit(testFrame(t), 1, time.Now())
	require.Eventually(t, func() bool {
		return len(s.Latest()) == 1
	}, time.Second, 5*time.Millisecond)

	stub.mu.Lock()
	stub.err = errors.New("inference backend gone")
	stub.mu.Unlock()

	s.Submit(testFrame(t), 2, time.Now())
	require.Eventually(t, func() bool {
		return s.Latest() == nil && s.Stats().Errors == 1
	}, time.Second, 5*time.Millisecond)
}

func TestSchedulerRestartsCleanly(t *testing.T) {
	stub := &stubDetector{results: map[int64][]Detection{
		1: {det("person", 0.9)},
		2: {det("car", 0.8)},
	}}
	s := NewScheduler(stub, 0.5, nil, nil)

	s.Start()
	s.Submit(testFrame(t), 1, time.Now())
	require.Eventually(t, func() bool {
		got := s.Latest()
		return len(got) == 1 && got[0].ClassName == "person"
	}, time.Second, 5*time.Millisecond)
	assert.True(t, s.Stop(time.Second))
	// Stopping again is a no-op, not a double close.
	assert.True(t, s.Stop(time.Second))

	// A second session gets a fresh worker and keeps processing.
	s.Start()
	s.Submit(testFrame(t), 2, time.Now())
	require.Eventually(t, func() bool {
		got := s.Latest()
		return len(got) == 1 && got[0].ClassName == "car"
	}, time.Second, 5*time.Millisecond)
	assert.True(t, s.Stop(time.Second))
}

func TestSchedulerStopDrainsPendingFrame(t *testing.T) {
	gate := make(chan struct{})
	stub := &stubDetector{gate: gate}
	s := NewScheduler(stub, 0.5, nil, nil)
	s.Start()

	s.Submit(testFrame(t), 1, time.Now())
	time.Sleep(20 * time.Millisecond)
	s.Submit(testFrame(t), 2, time.Now()) // pending in the slot

	close(gate)
	assert.True(t, s.Stop(time.Second))
}
