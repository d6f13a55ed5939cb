package escalator

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"gocv.io/x/gocv"

	"github.com/wayguide/wayguide/internal/camera"
	"github.com/wayguide/wayguide/internal/flow"
	"github.com/wayguide/wayguide/internal/geom"
	"github.com/wayguide/wayguide/internal/timeutil"
)

var (
	// ErrSensorIO means a camera queue returned nothing when a read was
	// required. The run is aborted.
	ErrSensorIO = errors.New("escalator: sensor read failed")
	// ErrNotFound means no escalator overlapping a step was seen within the
	// search window. It is an ordinary outcome, not a fault.
	ErrNotFound = errors.New("escalator: not found")
)

const (
	DefaultWarmup       = 2 * time.Second
	DefaultLocateWindow = 3 * time.Second
)

// Region is a located step region. Gray is the grayscale source frame the
// region was found in; the holder must Close it.
type Region struct {
	View View
	Box  image.Rectangle
	Gray gocv.Mat
}

// StepHeight is the pixel height of the tracked step box.
func (r Region) StepHeight() int { return r.Box.Dy() }

// Close releases the source frame.
func (r Region) Close() error { return r.Gray.Close() }

// Locator searches the detection stream for an escalator overlapping a step.
type Locator struct {
	Clock  timeutil.Clock
	Warmup time.Duration
	Window time.Duration
}

func sensorErr(what string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrSensorIO, what, err)
}

// Locate discards frames for Warmup, then scans for up to Window. It
// returns ErrNotFound when the window expires and ErrSensorIO when a read
// comes back empty.
func (l *Locator) Locate(ctx context.Context, src camera.Source) (Region, error) {
	start := l.Clock.Now()
	warmEnd := start.Add(l.Warmup)
	for l.Clock.Now().Before(warmEnd) {
		if err := ctx.Err(); err != nil {
			return Region{}, err
		}
		frame, err := src.NextColorFrame(ctx)
		if err != nil {
			return Region{}, sensorErr("warm-up frame", err)
		}
		frame.Close()
		if _, err := src.NextDetections(ctx); err != nil {
			return Region{}, sensorErr("warm-up detections", err)
		}
	}

	deadline := l.Clock.Now().Add(l.Window)
	for l.Clock.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return Region{}, err
		}
		frame, err := src.NextColorFrame(ctx)
		if err != nil {
			return Region{}, sensorErr("colour frame", err)
		}
		dets, err := src.NextDetections(ctx)
		if err != nil {
			frame.Close()
			return Region{}, sensorErr("detections", err)
		}

		view, box, ok := Match(dets, frame.Width(), frame.Height())
		if !ok {
			frame.Close()
			continue
		}
		gray := flow.Grayscale(frame.Mat)
		frame.Close()
		return Region{View: view, Box: box, Gray: gray}, nil
	}
	return Region{}, ErrNotFound
}

// Match picks the escalator detection nearest the frame centre and returns
// the box of the first step that overlaps it. The step box replaces the
// escalator box since the step is the tracking target.
func Match(dets []camera.Detection, width, height int) (View, image.Rectangle, bool) {
	var escalators, steps []image.Rectangle
	var labels []camera.Label
	for _, d := range dets {
		box := d.PixelBox(width, height)
		switch {
		case d.Label.IsEscalator():
			escalators = append(escalators, box)
			labels = append(labels, d.Label)
		case d.Label == camera.LabelStep:
			steps = append(steps, box)
		}
	}

	i := geom.Nearest(escalators, geom.FrameCenter(width, height))
	if i < 0 {
		return ViewDown, image.Rectangle{}, false
	}
	view := ViewDown
	if labels[i] == camera.LabelFront {
		view = ViewFront
	}
	for _, s := range steps {
		if geom.Overlaps(escalators[i], s) {
			return view, s, true
		}
	}
	return view, image.Rectangle{}, false
}
