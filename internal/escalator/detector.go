package escalator

import (
	"context"
	"image"
	"sync"
	"sync/atomic"

	"github.com/wayguide/wayguide/internal/camera"
)

// Result is the outcome of one successful locate, track and classify run.
type Result struct {
	Direction Direction
	View      View
	Box       image.Rectangle
	Points    int
	MeanAngle float64
}

// Detector runs the full escalator pipeline. Runs are serialised: a run
// owns the device queues from warm-up until classification, so a second
// caller blocks until the first has returned.
type Detector struct {
	Locator    Locator
	Tracker    Tracker
	Classifier Classifier

	runMu   sync.Mutex
	running atomic.Bool
}

// Running reports whether a run is in progress.
func (d *Detector) Running() bool {
	return d.running.Load()
}

// Run performs one detection cycle. Errors are ErrNotFound, ErrSensorIO
// (wrapped) or the context's error.
func (d *Detector) Run(ctx context.Context, src camera.Source) (Result, error) {
	d.runMu.Lock()
	defer d.runMu.Unlock()
	d.running.Store(true)
	defer d.running.Store(false)

	region, err := d.Locator.Locate(ctx, src)
	if err != nil {
		return Result{}, err
	}
	defer region.Close()

	pts, err := d.Tracker.Track(ctx, src, region)
	if err != nil {
		return Result{}, err
	}

	disp := pts.Displacements()
	mean, n := d.Classifier.MeanAngle(region.View, region.StepHeight(), disp)
	res := Result{
		View:      region.View,
		Box:       region.Box,
		Points:    n,
		MeanAngle: mean,
		Direction: Stationary,
	}
	if n > 0 {
		res.Direction = Bucket(region.View, mean)
	}
	return res, nil
}
