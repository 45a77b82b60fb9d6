package detection

import (
	"fmt"
	"image"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// YOLOConfig selects the model files and runtime backend for the detector.
type YOLOConfig struct {
	WeightsPath string
	ConfigPath  string
	NamesPath   string
	InputSize   int  // square network input, e.g. 416 or 608
	UseCUDA     bool // fall back to CPU when the build lacks CUDA
	NMSOverlap  float64
}

// YOLODetector runs a Darknet YOLO model through the OpenCV DNN module.
// Detect serializes on an internal mutex; the scheduler is its only caller
// in normal operation.
type YOLODetector struct {
	mu          sync.Mutex
	net         gocv.Net
	outputNames []string
	classNames  []string
	inputSize   int
	nmsOverlap  float32
	log         *slog.Logger
	closed      bool
}

// NewYOLODetector loads the model and resolves the output layer names.
func NewYOLODetector(cfg YOLOConfig, logger *slog.Logger) (*YOLODetector, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.InputSize <= 0 {
		cfg.InputSize = 416
	}
	if cfg.NMSOverlap <= 0 {
		cfg.NMSOverlap = 0.4
	}

	names, err := loadClassNames(cfg.NamesPath)
	if err != nil {
		return nil, fmt.Errorf("loading class names: %w", err)
	}

	net := gocv.ReadNet(cfg.WeightsPath, cfg.ConfigPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load model from %s", cfg.WeightsPath)
	}

	if cfg.UseCUDA {
		if err := net.SetPreferableBackend(gocv.NetBackendCUDA); err != nil {
			logger.Warn("CUDA backend unavailable, using CPU", "error", err)
			cfg.UseCUDA = false
		} else if err := net.SetPreferableTarget(gocv.NetTargetCUDA); err != nil {
			logger.Warn("CUDA target unavailable, using CPU", "error", err)
			cfg.UseCUDA = false
		}
	}
	if !cfg.UseCUDA {
		_ = net.SetPreferableBackend(gocv.NetBackendDefault)
		_ = net.SetPreferableTarget(gocv.NetTargetCPU)
	}

	var outputs []string
	for _, i := range net.GetUnconnectedOutLayers() {
		layer := net.GetLayer(i)
		name := layer.GetName()
		if name != "" && name != "_input" {
			outputs = append(outputs, name)
		}
		layer.Close()
	}
	if len(outputs) == 0 {
		net.Close()
		return nil, fmt.Errorf("model has no output layers")
	}

	logger.Info("detector initialized",
		"weights", cfg.WeightsPath,
		"classes", len(names),
		"input_size", cfg.InputSize,
		"cuda", cfg.UseCUDA)

	return &YOLODetector{
		net:         net,
		outputNames: outputs,
		classNames:  names,
		inputSize:   cfg.InputSize,
		nmsOverlap:  float32(cfg.NMSOverlap),
		log:         logger,
	}, nil
}

func loadClassNames(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, line := range strings.Split(string(data), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			names = append(names, line)
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no class names in %s", path)
	}
	return names, nil
}

// Detect runs one inference pass and returns all raw detections above a
// minimal floor. Confidence and class filtering policy lives in the
// scheduler, not here.
func (y *YOLODetector) Detect(frame gocv.Mat, frameNumber int64, ts time.Time) ([]Detection, error) {
	y.mu.Lock()
	defer y.mu.Unlock()
	if y.closed {
		return nil, fmt.Errorf("detector is closed")
	}
	if frame.Empty() {
		return nil, fmt.Errorf("empty frame")
	}

	sz := image.Pt(y.inputSize, y.inputSize)
	blob := gocv.BlobFromImage(frame, 1.0/255.0, sz, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	y.net.SetInput(blob, "")
	outputs := y.net.ForwardLayers(y.outputNames)
	defer func() {
		for _, m := range outputs {
			m.Close()
		}
	}()

	return y.parse(outputs, frame.Cols(), frame.Rows(), frameNumber, ts), nil
}

// parse converts the raw network outputs into pixel-space detections with
// non-maximum suppression applied per frame.
func (y *YOLODetector) parse(outputs []gocv.Mat, frameW, frameH int, frameNumber int64, ts time.Time) []Detection {
	var (
		boxes    []image.Rectangle
		scores   []float32
		classIDs []int
	)

	for _, out := range outputs {
		cols := out.Cols()
		for r := 0; r < out.Rows(); r++ {
			// Row layout: cx, cy, w, h, objectness, per-class scores.
			var bestClass int
			var bestScore float32
			for c := 5; c < cols; c++ {
				if s := out.GetFloatAt(r, c); s > bestScore {
					bestScore = s
					bestClass = c - 5
				}
			}
			if bestScore < 0.1 {
				continue
			}

			cx := out.GetFloatAt(r, 0) * float32(frameW)
			cy := out.GetFloatAt(r, 1) * float32(frameH)
			w := out.GetFloatAt(r, 2) * float32(frameW)
			h := out.GetFloatAt(r, 3) * float32(frameH)

			left := int(cx - w/2)
			top := int(cy - h/2)
			boxes = append(boxes, image.Rect(left, top, left+int(w), top+int(h)))
			scores = append(scores, bestScore)
			classIDs = append(classIDs, bestClass)
		}
	}
	if len(boxes) == 0 {
		return nil
	}

	indices := gocv.NMSBoxes(boxes, scores, 0.1, y.nmsOverlap)
	dets := make([]Detection, 0, len(indices))
	for _, i := range indices {
		name := "unknown"
		if classIDs[i] < len(y.classNames) {
			name = y.classNames[classIDs[i]]
		}
		box := boxes[i].Intersect(image.Rect(0, 0, frameW, frameH))
		if box.Empty() {
			continue
		}
		dets = append(dets, Detection{
			ClassName:   name,
			Confidence:  float64(scores[i]),
			Box:         box,
			Center:      image.Pt(box.Min.X+box.Dx()/2, box.Min.Y+box.Dy()/2),
			FrameNumber: frameNumber,
			Timestamp:   ts,
		})
	}
	return dets
}

// ClassNames returns the loaded label set.
func (y *YOLODetector) ClassNames() []string {
	return append([]string(nil), y.classNames...)
}

// Close releases the network.
func (y *YOLODetector) Close() error {
	y.mu.Lock()
	defer y.mu.Unlock()
	if y.closed {
		return nil
	}
	y.closed = true
	return y.net.Close()
}
