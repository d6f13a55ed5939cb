package escalator

import (
	"context"
	"fmt"
	"time"

	"gocv.io/x/gocv"

	"github.com/wayguide/wayguide/internal/camera"
	"github.com/wayguide/wayguide/internal/flow"
	"github.com/wayguide/wayguide/internal/timeutil"
)

const DefaultTrackWindow = 3 * time.Second

// Tracker follows the seeded points across frames for Window.
type Tracker struct {
	Clock  timeutil.Clock
	Flow   flow.Tracker
	Window time.Duration
	Front  flow.Params
	Down   flow.Params
}

func (t *Tracker) params(v View) flow.Params {
	if v == ViewFront {
		return t.Front
	}
	return t.Down
}

// Track seeds points across region and advances them until the window
// closes, every point is lost, or ctx is cancelled. The region's source
// frame is the first previous frame; Track does not close it.
func (t *Tracker) Track(ctx context.Context, src camera.Source, region Region) (*Points, error) {
	pts := SeedPoints(region.Box)
	params := t.params(region.View)

	prev := region.Gray.Clone()
	defer func() { prev.Close() }()

	if prev.Empty() {
		frame, err := src.NextColorFrame(ctx)
		if err != nil {
			return pts, sensorErr("first frame", err)
		}
		prev.Close()
		prev = flow.Grayscale(frame.Mat)
		frame.Close()
	}

	deadline := t.Clock.Now().Add(t.Window)
	for t.Clock.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return pts, err
		}
		if pts.LiveCount() == 0 {
			break
		}

		frame, err := src.NextColorFrame(ctx)
		if err != nil {
			return pts, sensorErr("tracking frame", err)
		}
		cur := flow.Grayscale(frame.Mat)
		frame.Close()

		if err := t.step(prev, cur, pts, params); err != nil {
			cur.Close()
			return pts, err
		}
		prev.Close()
		prev = cur
	}
	return pts, nil
}

func (t *Tracker) step(prev, cur gocv.Mat, pts *Points, params flow.Params) error {
	idx, pos := pts.Live()
	next, ok, err := t.Flow.Advance(prev, cur, pos, params)
	if err != nil {
		return fmt.Errorf("%w: optical flow: %w", ErrSensorIO, err)
	}
	for j, i := range idx {
		if j < len(ok) && ok[j] {
			pts.Advance(i, next[j])
			continue
		}
		pts.Drop(i)
	}
	return nil
}
