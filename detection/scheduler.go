package detection

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"
)

// job is one frame waiting for inference. The scheduler owns the Mat clone
// and closes it after the pass.
type job struct {
	frame  gocv.Mat
	number int64
	ts     time.Time
}

// SchedulerStats is a point-in-time counter snapshot.
type SchedulerStats struct {
	FramesSubmitted int64
	FramesProcessed int64
	FramesDropped   int64
	Errors          int64
}

// Scheduler runs a Detector on its own goroutine, fed through a single-slot
// mailbox: submitting while a frame is pending replaces the pending frame,
// so the worker always sees the newest one and never creates a backlog.
// The filtered result of the most recent completed pass is available from
// Latest; an empty pass clears it immediately so the control loop never
// acts on stale boxes.
type Scheduler struct {
	detector      Detector
	minConfidence float64
	targets       map[string]struct{}
	log           *slog.Logger

	frames chan job

	mu      sync.Mutex
	latest  []Detection
	started bool
	stop    chan struct{}
	done    chan struct{}

	submitted atomic.Int64
	processed atomic.Int64
	dropped   atomic.Int64
	errors    atomic.Int64
}

// NewScheduler creates a scheduler. Detections below minConfidence or with
// a class outside targetClasses are filtered out of the published snapshot;
// an empty targetClasses admits every class.
func NewScheduler(det Detector, minConfidence float64, targetClasses []string, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	targets := make(map[string]struct{}, len(targetClasses))
	for _, c := range targetClasses {
		targets[c] = struct{}{}
	}
	return &Scheduler{
		detector:      det,
		minConfidence: minConfidence,
		targets:       targets,
		log:           logger,
		frames:        make(chan job, 1),
	}
}

// Start launches the inference worker. The stop/done pair is created per
// session so a stopped scheduler can be started again; starting a running
// scheduler is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stop, s.done
	s.mu.Unlock()

	go s.run(stop, done)
}

// Submit hands a frame to the worker without blocking. The frame is cloned;
// the caller keeps ownership of its Mat. If a frame is already pending it
// is discarded in favor of this one.
func (s *Scheduler) Submit(frame gocv.Mat, frameNumber int64, ts time.Time) {
	if frame.Empty() {
		return
	}
	s.submitted.Add(1)
	j := job{frame: frame.Clone(), number: frameNumber, ts: ts}

	select {
	case s.frames <- j:
		return
	default:
	}
	// Slot occupied: evict the stale frame, then retry once. The second
	// attempt can only lose to the worker draining the slot, in which case
	// the slot is free.
	select {
	case old := <-s.frames:
		old.frame.Close()
		s.dropped.Add(1)
	default:
	}
	select {
	case s.frames <- j:
	default:
		j.frame.Close()
		s.dropped.Add(1)
	}
}

// Latest returns a copy of the most recent filtered detection snapshot.
// Nil means the last completed pass found nothing to act on.
func (s *Scheduler) Latest() []Detection {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.latest) == 0 {
		return nil
	}
	return append([]Detection(nil), s.latest...)
}

// Stats returns the current counters.
func (s *Scheduler) Stats() SchedulerStats {
	return SchedulerStats{
		FramesSubmitted: s.submitted.Load(),
		FramesProcessed: s.processed.Load(),
		FramesDropped:   s.dropped.Load(),
		Errors:          s.errors.Load(),
	}
}

// Stop signals the worker and waits up to timeout for it to finish the
// in-flight pass. Returns false on timeout. Stopping an already stopped
// scheduler is a no-op.
func (s *Scheduler) Stop(timeout time.Duration) bool {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return true
	}
	s.started = false
	stop, done := s.stop, s.done
	s.mu.Unlock()

	close(stop)
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		s.log.Warn("detection worker did not stop in time", "timeout", timeout)
		return false
	}
}

func (s *Scheduler) run(stop, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			// Drain a pending frame so its Mat is not leaked.
			select {
			case j := <-s.frames:
				j.frame.Close()
			default:
			}
			return
		case j := <-s.frames:
			s.process(j)
		}
	}
}

// process runs one inference pass. A detector error or panic publishes an
// empty snapshot: a failing detector must read as "nothing detected", never
// as a frozen last result.
func (s *Scheduler) process(j job) {
	defer j.frame.Close()
	defer func() {
		if r := recover(); r != nil {
			s.errors.Add(1)
			s.log.Error("detection worker recovered from panic", "panic", r)
			s.publish(nil)
			time.Sleep(100 * time.Millisecond)
		}
	}()

	dets, err := s.detector.Detect(j.frame, j.number, j.ts)
	if err != nil {
		s.errors.Add(1)
		s.log.Warn("inference failed", "frame", j.number, "error", err)
		s.publish(nil)
		return
	}
	s.processed.Add(1)
	s.publish(s.filter(dets))
}

func (s *Scheduler) filter(dets []Detection) []Detection {
	var out []Detection
	for _, d := range dets {
		if d.Confidence < s.minConfidence {
			continue
		}
		if len(s.targets) > 0 {
			if _, ok := s.targets[d.ClassName]; !ok {
				continue
			}
		}
		out = append(out, d)
	}
	return out
}

func (s *Scheduler) publish(dets []Detection) {
	s.mu.Lock()
	s.latest = dets
	s.mu.Unlock()
}
