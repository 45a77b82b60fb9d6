package stream

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// CaptureConfig configures an RTSP (or any OpenCV-supported) source.
type CaptureConfig struct {
	URL            string
	BufferSize     int           // frames buffered between capture and control loop
	ReconnectDelay time.Duration // wait between reconnect attempts
}

// RTSPSource reads frames on a dedicated goroutine and buffers them toward
// the control loop. When the buffer fills, the oldest frame is dropped so a
// slow consumer always sees recent video. Lost connections are retried
// until Stop.
type RTSPSource struct {
	cfg    CaptureConfig
	log    *slog.Logger
	frames chan *Frame
	stop   chan struct{}
	done   chan struct{}

	mu          sync.Mutex
	stats       Stats
	frameCount  int64
	fpsStart    time.Time
	fpsFrames   int
}

// NewRTSPSource creates the source. Start must be called before Read.
func NewRTSPSource(cfg CaptureConfig, logger *slog.Logger) *RTSPSource {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 5
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 2 * time.Second
	}
	return &RTSPSource{
		cfg:    cfg,
		log:    logger,
		frames: make(chan *Frame, cfg.BufferSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start launches the capture goroutine. It fails fast when the URL is
// unreachable on the first attempt; later drops are retried silently.
func (s *RTSPSource) Start() error {
	vc, err := gocv.OpenVideoCapture(s.cfg.URL)
	if err != nil {
		return fmt.Errorf("opening stream %s: %w", s.cfg.URL, err)
	}
	s.setConnected(true)
	go s.run(vc)
	return nil
}

// Read blocks up to timeout for the next buffered frame.
func (s *RTSPSource) Read(timeout time.Duration) (*Frame, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case f, ok := <-s.frames:
		if !ok {
			return nil, false
		}
		return f, true
	case <-timer.C:
		return nil, false
	case <-s.stop:
		return nil, false
	}
}

// Stats returns the current source health snapshot.
func (s *RTSPSource) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Stop terminates capture and releases buffered frames.
func (s *RTSPSource) Stop() {
	close(s.stop)
	<-s.done
	for {
		select {
		case f := <-s.frames:
			f.Close()
		default:
			return
		}
	}
}

func (s *RTSPSource) run(vc *gocv.VideoCapture) {
	defer close(s.done)
	for {
		if vc == nil {
			select {
			case <-s.stop:
				return
			case <-time.After(s.cfg.ReconnectDelay):
			}
			var err error
			vc, err = gocv.OpenVideoCapture(s.cfg.URL)
			if err != nil {
				s.log.Warn("stream reconnect failed", "url", s.cfg.URL, "error", err)
				continue
			}
			s.bumpReconnects()
			s.setConnected(true)
			s.log.Info("stream reconnected", "url", s.cfg.URL)
		}

		if stopped := s.captureLoop(vc); stopped {
			vc.Close()
			return
		}
		// Read failure: drop the handle and go back to reconnecting.
		vc.Close()
		vc = nil
		s.setConnected(false)
		s.log.Warn("stream connection lost", "url", s.cfg.URL)
	}
}

// captureLoop reads until stop or a read failure. Returns true on stop.
func (s *RTSPSource) captureLoop(vc *gocv.VideoCapture) bool {
	for {
		select {
		case <-s.stop:
			return true
		default:
		}

		mat := gocv.NewMat()
		if !vc.Read(&mat) || mat.Empty() {
			mat.Close()
			return false
		}

		f := &Frame{
			Mat:    mat,
			Number: s.nextFrameNumber(),
			Time:   time.Now(),
		}

		select {
		case s.frames <- f:
		default:
			// Buffer full: evict the oldest so recency wins.
			select {
			case old := <-s.frames:
				old.Close()
				s.bumpDropped()
			default:
			}
			select {
			case s.frames <- f:
			default:
				f.Close()
				s.bumpDropped()
			}
		}
	}
}

func (s *RTSPSource) nextFrameNumber() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.frameCount++
	s.stats.FramesReceived++
	now := time.Now()
	s.stats.LastFrameTime = now

	// FPS over a sliding one-second window.
	s.fpsFrames++
	if s.fpsStart.IsZero() {
		s.fpsStart = now
	} else if el := now.Sub(s.fpsStart); el >= time.Second {
		s.stats.FPS = float64(s.fpsFrames) / el.Seconds()
		s.fpsStart = now
		s.fpsFrames = 0
	}
	return s.frameCount
}

func (s *RTSPSource) setConnected(v bool) {
	s.mu.Lock()
	s.stats.Connected = v
	s.mu.Unlock()
}

func (s *RTSPSource) bumpReconnects() {
	s.mu.Lock()
	s.stats.Reconnects++
	s.mu.Unlock()
}

func (s *RTSPSource) bumpDropped() {
	s.mu.Lock()
	s.stats.FramesDropped++
	s.mu.Unlock()
}
