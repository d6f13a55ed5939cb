package camera

import (
	"context"
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// ScriptedDevice is a Device driven by callbacks, for tests and bench runs
// without a camera. Each callback receives the zero-based read count of its
// own queue. A nil callback makes that queue permanently empty.
type ScriptedDevice struct {
	Width, Height int

	Detections func(n int) []Detection
	Disparity  func(n int) *image.Gray

	// ColorLimit, when positive, empties the colour queue after that many
	// frames.
	ColorLimit int

	mu         sync.Mutex
	colorReads int
	detReads   int
	dispReads  int
	closeCalls int
}

// NewScriptedDevice returns a device producing blank width x height frames.
func NewScriptedDevice(width, height int) *ScriptedDevice {
	return &ScriptedDevice{Width: width, Height: height}
}

func (d *ScriptedDevice) NextColorFrame(ctx context.Context) (Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closeCalls > 0 {
		return Frame{}, ErrClosed
	}
	if d.ColorLimit > 0 && d.colorReads >= d.ColorLimit {
		return Frame{}, ErrNoFrame
	}
	seq := uint64(d.colorReads)
	d.colorReads++
	return Frame{Mat: gocv.NewMatWithSize(d.Height, d.Width, gocv.MatTypeCV8UC3), Seq: seq}, nil
}

func (d *ScriptedDevice) NextDetections(ctx context.Context) ([]Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closeCalls > 0 {
		return nil, ErrClosed
	}
	if d.Detections == nil {
		return nil, ErrNoFrame
	}
	n := d.detReads
	d.detReads++
	return d.Detections(n), nil
}

func (d *ScriptedDevice) NextDisparity(ctx context.Context) (*image.Gray, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closeCalls > 0 {
		return nil, ErrClosed
	}
	if d.Disparity == nil {
		return nil, ErrNoFrame
	}
	n := d.dispReads
	d.dispReads++
	g := d.Disparity(n)
	if g == nil {
		return nil, ErrNoFrame
	}
	return g, nil
}

func (d *ScriptedDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closeCalls++
	return nil
}

// Closed reports whether Close has been called.
func (d *ScriptedDevice) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closeCalls > 0
}

// Reads returns the colour, detection and disparity read counts.
func (d *ScriptedDevice) Reads() (color, detections, disparity int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.colorReads, d.detReads, d.dispReads
}

// UniformDisparity returns a width x height grid filled with raw value v.
func UniformDisparity(width, height int, v uint8) *image.Gray {
	g := image.NewGray(image.Rect(0, 0, width, height))
	for i := range g.Pix {
		g.Pix[i] = v
	}
	return g
}
