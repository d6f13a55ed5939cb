package flow

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/wayguide/wayguide/internal/geom"
)

func TestParams(t *testing.T) {
	front, down := FrontParams(), DownParams()
	assert.Greater(t, front.WinSize, down.WinSize)
	assert.Greater(t, front.MaxLevel, down.MaxLevel)
	assert.Equal(t, 10, front.MaxIter)
	assert.InDelta(t, 0.03, down.Epsilon, 1e-12)
}

func TestTrackerFunc(t *testing.T) {
	var called bool
	tr := TrackerFunc(func(prev, cur gocv.Mat, pts []geom.Point, p Params) ([]geom.Point, []bool, error) {
		called = true
		return pts, make([]bool, len(pts)), nil
	})
	_, ok, err := tr.Advance(gocv.NewMat(), gocv.NewMat(), []geom.Point{{X: 1, Y: 2}}, DownParams())
	require.NoError(t, err)
	assert.True(t, called)
	assert.Len(t, ok, 1)
}

func TestLKTracker_EmptyFrame(t *testing.T) {
	empty := gocv.NewMat()
	defer empty.Close()

	_, _, err := LKTracker{}.Advance(empty, empty, []geom.Point{{X: 1, Y: 1}}, DownParams())
	assert.ErrorIs(t, err, ErrEmptyFrame)
}

// squareFrame draws a white square with its top-left corner at (x, y).
func squareFrame(t *testing.T, x, y int) gocv.Mat {
	t.Helper()
	m := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 120, 160, gocv.MatTypeCV8UC1)
	gocv.Rectangle(&m, image.Rect(x, y, x+30, y+30), color.RGBA{R: 255, G: 255, B: 255, A: 255}, -1)
	return m
}

func TestLKTracker_FollowsTranslation(t *testing.T) {
	prev := squareFrame(t, 60, 40)
	defer prev.Close()
	cur := squareFrame(t, 60, 44)
	defer cur.Close()

	pts := []geom.Point{{X: 60, Y: 40}, {X: 90, Y: 70}}
	out, ok, err := LKTracker{}.Advance(prev, cur, pts, DownParams())
	require.NoError(t, err)
	require.Len(t, out, 2)

	for i := range pts {
		if !ok[i] {
			continue
		}
		assert.InDelta(t, 4.0, out[i].Y-pts[i].Y, 1.5, "point %d should move down by ~4px", i)
	}
	assert.True(t, ok[0] || ok[1], "at least one corner should track")
}

func TestGrayscale(t *testing.T) {
	bgr := gocv.NewMatWithSize(10, 12, gocv.MatTypeCV8UC3)
	defer bgr.Close()

	gray := Grayscale(bgr)
	defer gray.Close()
	assert.Equal(t, 1, gray.Channels())
	assert.Equal(t, 12, gray.Cols())
}
