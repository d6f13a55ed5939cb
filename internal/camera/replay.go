package camera

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/draw"
	"io"
	"os"
	"path/filepath"
	"sync"

	"gocv.io/x/gocv"

	"github.com/wayguide/wayguide/internal/security"
)

// ManifestName is the file OpenReplay looks for in a replay directory.
const ManifestName = "manifest.json"

const maxManifestBytes = 4 << 20

// Manifest lists recorded frames. Paths are relative to the manifest's
// directory and may not escape it.
type Manifest struct {
	Loop   bool            `json:"loop"`
	Frames []ManifestFrame `json:"frames"`
}

// ManifestFrame is one recorded tick of the three camera queues. An empty
// Color or Disparity path leaves that queue empty for the tick.
type ManifestFrame struct {
	Color      string      `json:"color,omitempty"`
	Disparity  string      `json:"disparity,omitempty"`
	Detections []Detection `json:"detections"`
}

// ReplayDevice plays back a recorded session from disk. Colour and
// disparity keep their own cursors, like the live pipeline's independent
// output queues. Detections follow the colour queue: a detections read
// after a colour read returns the detections recorded with that frame, so
// colour frames consumed by tracking do not leave detections behind.
type ReplayDevice struct {
	dir      string
	manifest Manifest

	mu        sync.Mutex
	closed    bool
	color     int
	lastColor int // frame index of the unpaired colour read, or -1
	dets      int
	dispIdx   int
}

// OpenReplay loads dir/manifest.json and validates every referenced path.
func OpenReplay(dir string) (*ReplayDevice, error) {
	f, err := os.Open(filepath.Join(dir, ManifestName))
	if err != nil {
		return nil, fmt.Errorf("open replay manifest: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxManifestBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read replay manifest: %w", err)
	}
	if len(data) > maxManifestBytes {
		return nil, fmt.Errorf("replay manifest exceeds %d bytes", maxManifestBytes)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse replay manifest: %w", err)
	}
	if len(m.Frames) == 0 {
		return nil, fmt.Errorf("replay manifest %s has no frames", dir)
	}
	for i, fr := range m.Frames {
		for _, p := range []string{fr.Color, fr.Disparity} {
			if p == "" {
				continue
			}
			if _, err := security.ResolveWithin(dir, p); err != nil {
				return nil, fmt.Errorf("frame %d: %w", i, err)
			}
		}
	}
	return &ReplayDevice{dir: dir, manifest: m, lastColor: -1}, nil
}

// ReplayOpener returns an Opener that reopens dir from the first frame.
func ReplayOpener(dir string) Opener {
	return func(ctx context.Context) (Device, error) {
		return OpenReplay(dir)
	}
}

// next advances cursor and returns the frame it pointed at with its index.
func (r *ReplayDevice) next(cursor *int) (ManifestFrame, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ManifestFrame{}, 0, ErrClosed
	}
	if *cursor >= len(r.manifest.Frames) {
		if !r.manifest.Loop {
			return ManifestFrame{}, 0, ErrNoFrame
		}
		*cursor = 0
	}
	idx := *cursor
	*cursor++
	return r.manifest.Frames[idx], idx, nil
}

func (r *ReplayDevice) NextColorFrame(ctx context.Context) (Frame, error) {
	fr, idx, err := r.next(&r.color)
	if err != nil {
		return Frame{}, err
	}
	r.mu.Lock()
	r.lastColor = idx
	r.mu.Unlock()
	if fr.Color == "" {
		return Frame{}, ErrNoFrame
	}
	mat := gocv.IMRead(filepath.Join(r.dir, fr.Color), gocv.IMReadColor)
	if mat.Empty() {
		mat.Close()
		return Frame{}, fmt.Errorf("decode %s: %w", fr.Color, ErrNoFrame)
	}
	return Frame{Mat: mat, Seq: uint64(idx)}, nil
}

func (r *ReplayDevice) NextDetections(ctx context.Context) ([]Detection, error) {
	fr, err := r.nextDetections()
	if err != nil {
		return nil, err
	}
	out := make([]Detection, len(fr.Detections))
	copy(out, fr.Detections)
	return out, nil
}

// nextDetections pairs with the last unpaired colour read, falling back
// to the detections cursor when there is none.
func (r *ReplayDevice) nextDetections() (ManifestFrame, error) {
	r.mu.Lock()
	if !r.closed && r.lastColor >= 0 {
		idx := r.lastColor
		r.lastColor = -1
		r.dets = idx + 1
		r.mu.Unlock()
		return r.manifest.Frames[idx], nil
	}
	r.mu.Unlock()
	fr, _, err := r.next(&r.dets)
	return fr, err
}

func (r *ReplayDevice) NextDisparity(ctx context.Context) (*image.Gray, error) {
	fr, _, err := r.next(&r.dispIdx)
	if err != nil {
		return nil, err
	}
	if fr.Disparity == "" {
		return nil, ErrNoFrame
	}
	mat := gocv.IMRead(filepath.Join(r.dir, fr.Disparity), gocv.IMReadGrayScale)
	defer mat.Close()
	if mat.Empty() {
		return nil, fmt.Errorf("decode %s: %w", fr.Disparity, ErrNoFrame)
	}
	img, err := mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("convert %s: %w", fr.Disparity, err)
	}
	if g, ok := img.(*image.Gray); ok {
		return g, nil
	}
	g := image.NewGray(img.Bounds())
	draw.Draw(g, g.Bounds(), img, img.Bounds().Min, draw.Src)
	return g, nil
}

// Close marks the device closed. Later reads return ErrClosed.
func (r *ReplayDevice) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}
