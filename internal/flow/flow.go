// Package flow wraps pyramidal Lucas-Kanade sparse optical flow.
package flow

import (
	"errors"
	"image"

	"gocv.io/x/gocv"

	"github.com/wayguide/wayguide/internal/geom"
)

// ErrEmptyFrame is returned when either input frame has no pixels.
var ErrEmptyFrame = errors.New("flow: empty frame")

// Params configures one LK invocation.
type Params struct {
	WinSize  int     `json:"win_size"`
	MaxLevel int     `json:"max_level"`
	MaxIter  int     `json:"max_iter"`
	Epsilon  float64 `json:"epsilon"`
}

// FrontParams suits a forward-facing mount where steps move a lot per frame.
func FrontParams() Params {
	return Params{WinSize: 25, MaxLevel: 3, MaxIter: 10, Epsilon: 0.03}
}

// DownParams suits a downward-facing mount.
func DownParams() Params {
	return Params{WinSize: 15, MaxLevel: 2, MaxIter: 10, Epsilon: 0.03}
}

// Tracker advances points from prev to cur. It returns one position and one
// success flag per input point, in input order. Inputs are single-channel
// grayscale frames.
type Tracker interface {
	Advance(prev, cur gocv.Mat, pts []geom.Point, p Params) ([]geom.Point, []bool, error)
}

// TrackerFunc adapts a function to Tracker.
type TrackerFunc func(prev, cur gocv.Mat, pts []geom.Point, p Params) ([]geom.Point, []bool, error)

func (f TrackerFunc) Advance(prev, cur gocv.Mat, pts []geom.Point, p Params) ([]geom.Point, []bool, error) {
	return f(prev, cur, pts, p)
}

// LKTracker is the OpenCV-backed Tracker.
type LKTracker struct{}

func (LKTracker) Advance(prev, cur gocv.Mat, pts []geom.Point, p Params) ([]geom.Point, []bool, error) {
	if prev.Empty() || cur.Empty() {
		return nil, nil, ErrEmptyFrame
	}
	if len(pts) == 0 {
		return nil, nil, nil
	}

	prevPts := gocv.NewMatWithSize(len(pts), 1, gocv.MatTypeCV32FC2)
	defer prevPts.Close()
	for i, pt := range pts {
		prevPts.SetFloatAt(i, 0, float32(pt.X))
		prevPts.SetFloatAt(i, 1, float32(pt.Y))
	}

	nextPts := gocv.NewMat()
	defer nextPts.Close()
	status := gocv.NewMat()
	defer status.Close()
	errMat := gocv.NewMat()
	defer errMat.Close()

	criteria := gocv.NewTermCriteria(gocv.Count|gocv.EPS, p.MaxIter, p.Epsilon)
	gocv.CalcOpticalFlowPyrLKWithParams(prev, cur, prevPts, nextPts, &status, &errMat,
		image.Pt(p.WinSize, p.WinSize), p.MaxLevel, criteria, 0, 1e-4)

	out := make([]geom.Point, len(pts))
	ok := make([]bool, len(pts))
	for i := range pts {
		if i >= status.Rows() || i >= nextPts.Rows() {
			break
		}
		if status.GetUCharAt(i, 0) != 1 {
			continue
		}
		ok[i] = true
		out[i] = geom.Point{
			X: float64(nextPts.GetFloatAt(i, 0)),
			Y: float64(nextPts.GetFloatAt(i, 1)),
		}
	}
	return out, ok, nil
}

// Grayscale converts a BGR frame into a new single-channel Mat owned by the
// caller.
func Grayscale(bgr gocv.Mat) gocv.Mat {
	gray := gocv.NewMat()
	gocv.CvtColor(bgr, &gray, gocv.ColorBGRToGray)
	return gray
}
