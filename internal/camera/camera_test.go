package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wayguide/wayguide/internal/timeutil"
)

func TestDetection_PixelBox(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		det  Detection
		want image.Rectangle
	}{
		{"centre", Detection{XMin: 0.25, YMin: 0.25, XMax: 0.75, YMax: 0.75}, image.Rect(160, 120, 480, 360)},
		{"clipped", Detection{XMin: -0.2, YMin: 0.5, XMax: 1.3, YMax: 1.0}, image.Rect(0, 240, 640, 480)},
		{"truncated", Detection{XMin: 0.001, YMin: 0.001, XMax: 0.0999, YMax: 0.0999}, image.Rect(0, 0, 63, 47)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.det.PixelBox(640, 480))
		})
	}
}

func TestLabel(t *testing.T) {
	t.Parallel()

	assert.True(t, LabelDown.IsEscalator())
	assert.True(t, LabelFront.IsEscalator())
	assert.False(t, LabelStep.IsEscalator())
	assert.Equal(t, "front", LabelFront.String())
	assert.Equal(t, "label(7)", Label(7).String())
}

// flakyDevice returns ErrNoFrame for the first misses reads of each queue.
type flakyDevice struct {
	*ScriptedDevice
	misses int
	calls  int
}

func (f *flakyDevice) NextDetections(ctx context.Context) ([]Detection, error) {
	f.calls++
	if f.calls <= f.misses {
		return nil, ErrNoFrame
	}
	return f.ScriptedDevice.NextDetections(ctx)
}

func TestWithRetry(t *testing.T) {
	t.Parallel()

	clock := timeutil.NewMockClock(time.Unix(0, 0))
	base := NewScriptedDevice(64, 48)
	base.Detections = func(int) []Detection { return []Detection{{Label: LabelStep}} }

	t.Run("recovers within budget", func(t *testing.T) {
		dev := WithRetry(&flakyDevice{ScriptedDevice: base, misses: 2}, RetryPolicy{Attempts: 3, Interval: 10 * time.Millisecond, Clock: clock})
		dets, err := dev.NextDetections(context.Background())
		require.NoError(t, err)
		assert.Len(t, dets, 1)
	})

	t.Run("exhausts budget", func(t *testing.T) {
		dev := WithRetry(&flakyDevice{ScriptedDevice: base, misses: 5}, RetryPolicy{Attempts: 3, Interval: 10 * time.Millisecond, Clock: clock})
		_, err := dev.NextDetections(context.Background())
		assert.ErrorIs(t, err, ErrNoFrame)
	})
}

func TestWithRetry_DoesNotRetryClosed(t *testing.T) {
	t.Parallel()

	clock := timeutil.NewMockClock(time.Unix(0, 0))
	base := NewScriptedDevice(64, 48)
	base.Disparity = func(int) *image.Gray { return UniformDisparity(4, 4, 0) }
	require.NoError(t, base.Close())

	dev := WithRetry(base, RetryPolicy{Attempts: 5, Interval: time.Second, Clock: clock})
	_, err := dev.NextDisparity(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.Empty(t, clock.Sleeps())
}

func TestScriptedDevice(t *testing.T) {
	t.Parallel()

	dev := NewScriptedDevice(64, 48)
	dev.ColorLimit = 1
	ctx := context.Background()

	f, err := dev.NextColorFrame(ctx)
	require.NoError(t, err)
	assert.Equal(t, 64, f.Width())
	assert.Equal(t, 48, f.Height())
	require.NoError(t, f.Close())

	_, err = dev.NextColorFrame(ctx)
	assert.ErrorIs(t, err, ErrNoFrame)

	_, err = dev.NextDetections(ctx)
	assert.ErrorIs(t, err, ErrNoFrame, "nil callback means empty queue")

	color, _, _ := dev.Reads()
	assert.Equal(t, 1, color)
}

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func TestReplayDevice(t *testing.T) {
	dir := t.TempDir()

	colorImg := image.NewRGBA(image.Rect(0, 0, 32, 24))
	dispImg := image.NewGray(image.Rect(0, 0, 32, 24))
	dispImg.SetGray(3, 4, color.Gray{Y: 120})
	writePNG(t, filepath.Join(dir, "c0.png"), colorImg)
	writePNG(t, filepath.Join(dir, "d0.png"), dispImg)

	manifest := `{"loop": false, "frames": [
		{"color": "c0.png", "disparity": "d0.png", "detections": [{"label": 2, "xmin": 0.1, "ymin": 0.1, "xmax": 0.5, "ymax": 0.5}]}
	]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestName), []byte(manifest), 0o644))

	dev, err := OpenReplay(dir)
	require.NoError(t, err)
	ctx := context.Background()

	f, err := dev.NextColorFrame(ctx)
	require.NoError(t, err)
	assert.Equal(t, 32, f.Width())
	require.NoError(t, f.Close())

	dets, err := dev.NextDetections(ctx)
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, LabelStep, dets[0].Label)

	g, err := dev.NextDisparity(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint8(120), g.GrayAt(3, 4).Y)

	_, err = dev.NextDetections(ctx)
	assert.ErrorIs(t, err, ErrNoFrame, "non-looping replay ends")

	require.NoError(t, dev.Close())
	_, err = dev.NextColorFrame(ctx)
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestReplayDevice_DetectionsFollowColour(t *testing.T) {
	dir := t.TempDir()
	img := image.NewRGBA(image.Rect(0, 0, 16, 12))
	frames := make([]string, 4)
	for i := range frames {
		name := fmt.Sprintf("c%d.png", i)
		writePNG(t, filepath.Join(dir, name), img)
		frames[i] = fmt.Sprintf(`{"color": %q, "detections": [{"label": 1, "xmin": 0.%d, "ymin": 0, "xmax": 0.9, "ymax": 0.9}]}`, name, i+1)
	}
	manifest := `{"frames": [` + strings.Join(frames, ",") + `]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestName), []byte(manifest), 0o644))

	dev, err := OpenReplay(dir)
	require.NoError(t, err)
	defer dev.Close()
	ctx := context.Background()

	readColour := func() {
		f, err := dev.NextColorFrame(ctx)
		require.NoError(t, err)
		require.NoError(t, f.Close())
	}

	readColour()
	dets, err := dev.NextDetections(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 0.1, dets[0].XMin, 1e-9)

	// tracking reads colour only
	readColour()
	readColour()

	readColour()
	dets, err = dev.NextDetections(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 0.4, dets[0].XMin, 1e-9, "paired with the fourth colour frame")

	_, err = dev.NextDetections(ctx)
	assert.ErrorIs(t, err, ErrNoFrame)
}

func TestOpenReplay_RejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	manifest := `{"frames": [{"color": "../outside.png", "detections": []}]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestName), []byte(manifest), 0o644))

	_, err := OpenReplay(dir)
	assert.Error(t, err)
}

func TestOpenReplay_Empty(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestName), []byte(`{"frames": []}`), 0o644))

	_, err := OpenReplay(dir)
	assert.Error(t, err)
}
