// Package obstacle turns disparity frames into coarse walking directions.
package obstacle

import (
	"fmt"
	"image"
)

// Vote is one per-frame direction recommendation.
type Vote int

const (
	// NoVote means no dominant direction, e.g. an empty vote window.
	NoVote Vote = iota
	// StopNear fires when many samples sit in the nearest band.
	StopNear
	// StopCaution fires when many samples sit in the second band.
	StopCaution
	Forward
	Right
	Left
	Back
)

func (v Vote) String() string {
	switch v {
	case NoVote:
		return "none"
	case StopNear:
		return "stop_near"
	case StopCaution:
		return "stop_caution"
	case Forward:
		return "forward"
	case Right:
		return "right"
	case Left:
		return "left"
	case Back:
		return "back"
	}
	return fmt.Sprintf("vote(%d)", int(v))
}

// NumRegions is the number of equal-width columns used for the regional vote.
const NumRegions = 4

// Grid holds the sampling geometry and band limits. Band limits apply to
// inverted disparity (MaxDisparity minus raw), so smaller values are
// closer. Values up to SkipFloor carry no depth and are skipped; above it
// the near band (up to NearMax) is nearest and the far band (up to FarMax)
// is furthest.
type Grid struct {
	CropWidth    int `json:"crop_width"`
	MaxDisparity int `json:"max_disparity"`
	Pitch        int `json:"pitch"`
	SkipFloor    int `json:"skip_floor"`

	NearMax    int `json:"near_max"`
	CloseMax   int `json:"close_max"`
	CautionMax int `json:"caution_max"`
	FarMax     int `json:"far_max"`

	CollisionCount int `json:"collision_count"`
	RegionNoise    int `json:"region_noise"`
}

// DefaultGrid returns the geometry tuned for the shipped stereo mount.
func DefaultGrid() Grid {
	return Grid{
		CropWidth:      400,
		MaxDisparity:   190,
		Pitch:          20,
		SkipFloor:      50,
		NearMax:        80,
		CloseMax:       100,
		CautionMax:     130,
		FarMax:         170,
		CollisionCount: 12,
		RegionNoise:    9,
	}
}

// Tally is the per-band breakdown of one classified frame.
type Tally struct {
	Near    int
	Close   int
	Caution [NumRegions]int
	Far     [NumRegions]int
	Skipped int
	Ignored int
}

func sum(r [NumRegions]int) int {
	n := 0
	for _, c := range r {
		n += c
	}
	return n
}

// CautionCount is the total number of samples in the caution band.
func (t Tally) CautionCount() int { return sum(t.Caution) }

// FarCount is the total number of samples in the far band.
func (t Tally) FarCount() int { return sum(t.Far) }

// region maps a column inside the cropped frame to one of NumRegions
// quarters. Boundaries belong to the left region.
func (g Grid) region(x int) int {
	q := g.CropWidth / NumRegions
	r := 0
	for r < NumRegions-1 && x > (r+1)*q {
		r++
	}
	return r
}

// Analyze samples the left CropWidth columns of frame every Pitch pixels,
// inverts each raw value (MaxDisparity-raw, floored at zero) and counts it
// into its band.
func (g Grid) Analyze(frame *image.Gray) Tally {
	var t Tally
	if frame == nil || g.Pitch <= 0 {
		return t
	}
	b := frame.Bounds()
	width := min(g.CropWidth, b.Dx())

	for y := 0; y < b.Dy(); y += g.Pitch {
		for x := 0; x < width; x += g.Pitch {
			v := g.MaxDisparity - int(frame.GrayAt(b.Min.X+x, b.Min.Y+y).Y)
			if v < 0 {
				v = 0
			}
			switch {
			case v <= g.SkipFloor:
				t.Skipped++
			case v <= g.NearMax:
				t.Near++
			case v <= g.CloseMax:
				t.Close++
			case v <= g.CautionMax:
				t.Caution[g.region(x)]++
			case v <= g.FarMax:
				t.Far[g.region(x)]++
			default:
				t.Ignored++
			}
		}
	}
	return t
}

// Decide turns a tally into a vote. Collision bands win outright; otherwise
// the caution band drives a regional vote, falling back to the far band
// when no caution sample was seen.
func (g Grid) Decide(t Tally) Vote {
	switch {
	case t.Near >= g.CollisionCount:
		return StopNear
	case t.Close >= g.CollisionCount:
		return StopCaution
	case t.CautionCount() > 0:
		return g.regional(t.Caution)
	default:
		return g.regional(t.Far)
	}
}

func (g Grid) regional(r [NumRegions]int) Vote {
	switch {
	case max(r[1], r[2]) <= g.RegionNoise:
		return Forward
	case r[NumRegions-1] <= g.RegionNoise:
		return Right
	case r[0] <= g.RegionNoise:
		return Left
	default:
		return Back
	}
}

// Classify is Analyze followed by Decide.
func (g Grid) Classify(frame *image.Gray) Vote {
	return g.Decide(g.Analyze(frame))
}
