// Package camera defines the frame source consumed by the sensing services:
// colour frames, per-frame object detections and disparity grids, plus the
// device lifecycle the orchestrator owns.
package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"math"

	"gocv.io/x/gocv"
)

var (
	// ErrNoFrame is returned when a queue stays empty past its retry budget.
	ErrNoFrame = errors.New("camera: no frame available")
	// ErrClosed is returned by reads on a closed device.
	ErrClosed = errors.New("camera: device closed")
)

// Label is the detector's class index.
type Label int

const (
	// LabelDown is an escalator seen from above.
	LabelDown Label = 0
	// LabelFront is an escalator seen head-on.
	LabelFront Label = 1
	// LabelStep is a single escalator step.
	LabelStep Label = 2
)

func (l Label) String() string {
	switch l {
	case LabelDown:
		return "down"
	case LabelFront:
		return "front"
	case LabelStep:
		return "step"
	}
	return fmt.Sprintf("label(%d)", int(l))
}

// IsEscalator reports whether l marks a whole escalator rather than a step.
func (l Label) IsEscalator() bool {
	return l == LabelDown || l == LabelFront
}

// Detection is one detector output in normalised [0,1] frame coordinates.
type Detection struct {
	Label      Label   `json:"label"`
	XMin       float64 `json:"xmin"`
	YMin       float64 `json:"ymin"`
	XMax       float64 `json:"xmax"`
	YMax       float64 `json:"ymax"`
	Confidence float64 `json:"confidence,omitempty"`
}

// PixelBox converts the normalised box into pixel coordinates for a
// width x height frame. Coordinates are clipped to [0,1] and truncated.
func (d Detection) PixelBox(width, height int) image.Rectangle {
	px := func(v float64, size int) int {
		return int(clamp01(v) * float64(size))
	}
	return image.Rectangle{
		Min: image.Point{X: px(d.XMin, width), Y: px(d.YMin, height)},
		Max: image.Point{X: px(d.XMax, width), Y: px(d.YMax, height)},
	}
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Min(1, math.Max(0, v))
}

// Frame is a colour (BGR) frame. The receiver owns Mat and must Close it.
type Frame struct {
	Mat gocv.Mat
	Seq uint64
}

// Width returns the frame width in pixels.
func (f Frame) Width() int { return f.Mat.Cols() }

// Height returns the frame height in pixels.
func (f Frame) Height() int { return f.Mat.Rows() }

// Close releases the underlying Mat.
func (f Frame) Close() error { return f.Mat.Close() }

// Source is the pull side of the camera pipeline. Each call returns the next
// item of its queue or ErrNoFrame.
type Source interface {
	NextColorFrame(ctx context.Context) (Frame, error)
	NextDetections(ctx context.Context) ([]Detection, error)
	NextDisparity(ctx context.Context) (*image.Gray, error)
}

// Device is a Source with an owner-managed lifetime.
type Device interface {
	Source
	io.Closer
}

// Opener creates a fresh device. The orchestrator calls it at startup and
// again whenever it recreates the pipeline between mode switches.
type Opener func(ctx context.Context) (Device, error)
