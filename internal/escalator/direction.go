// Package escalator locates an escalator in the detection stream, tracks
// its steps with sparse optical flow and classifies the direction of travel.
package escalator

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/wayguide/wayguide/internal/geom"
)

// View is the camera's orientation relative to the escalator.
type View int

const (
	// ViewDown looks down onto the steps from above.
	ViewDown View = iota
	// ViewFront faces the escalator head-on.
	ViewFront
)

func (v View) String() string {
	if v == ViewFront {
		return "front"
	}
	return "down"
}

// Direction is the classified travel direction.
type Direction int

const (
	Stationary Direction = iota
	Up
	Down
)

func (d Direction) String() string {
	switch d {
	case Up:
		return "up"
	case Down:
		return "down"
	}
	return "stationary"
}

func (d Direction) invert() Direction {
	switch d {
	case Up:
		return Down
	case Down:
		return Up
	}
	return d
}

// DefaultMinStepMovementRatio is the fraction of the step height a point
// must move vertically in front view to count as motion.
const DefaultMinStepMovementRatio = 0.15

// Angle buckets in degrees, open intervals.
const (
	lowerBandMin = 10.0
	lowerBandMax = 170.0
	upperBandMin = 190.0
	upperBandMax = 350.0
)

// Classifier turns per-point displacement into a Direction.
type Classifier struct {
	MinStepMovementRatio float64
}

// DefaultClassifier returns a Classifier with the shipped dead-zone ratio.
func DefaultClassifier() Classifier {
	return Classifier{MinStepMovementRatio: DefaultMinStepMovementRatio}
}

// MeanAngle returns the arithmetic mean of the displacement angles in
// degrees and the number of points used. In front view a point whose
// vertical motion is under the dead zone contributes 0.
func (c Classifier) MeanAngle(view View, stepHeight int, disp []geom.Point) (float64, int) {
	if len(disp) == 0 {
		return 0, 0
	}
	minMove := float64(int(float64(stepHeight) * c.MinStepMovementRatio))
	angles := make([]float64, len(disp))
	for i, d := range disp {
		if view == ViewFront && math.Abs(d.Y) < minMove {
			angles[i] = 0
			continue
		}
		angles[i] = geom.AngleDeg(d.X, d.Y)
	}
	return stat.Mean(angles, nil), len(angles)
}

// Classify buckets the mean displacement angle. No displacement at all is
// Stationary.
func (c Classifier) Classify(view View, stepHeight int, disp []geom.Point) Direction {
	mean, n := c.MeanAngle(view, stepHeight, disp)
	if n == 0 {
		return Stationary
	}
	return Bucket(view, mean)
}

// Bucket maps a mean angle to a Direction. Image y grows downward, so in a
// down-facing view flow in (10,170) means the steps move away from the
// viewer toward the bottom of the frame. The front view mirrors this.
func Bucket(view View, angle float64) Direction {
	var d Direction
	switch {
	case geom.InOpenRange(angle, lowerBandMin, lowerBandMax):
		d = Down
	case geom.InOpenRange(angle, upperBandMin, upperBandMax):
		d = Up
	default:
		d = Stationary
	}
	if view == ViewFront {
		d = d.invert()
	}
	return d
}
