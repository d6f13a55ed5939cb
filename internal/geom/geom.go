// Package geom holds the pixel-space box and angle helpers shared by the
// escalator and obstacle pipelines.
package geom

import (
	"image"
	"math"
)

// Point is a sub-pixel position in frame coordinates.
type Point struct {
	X, Y float64
}

// Sub returns p - q.
func (p Point) Sub(q Point) Point {
	return Point{X: p.X - q.X, Y: p.Y - q.Y}
}

// Dist returns the Euclidean distance between p and q.
func (p Point) Dist(q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// Center returns the midpoint of r.
func Center(r image.Rectangle) Point {
	return Point{
		X: float64(r.Min.X+r.Max.X) / 2,
		Y: float64(r.Min.Y+r.Max.Y) / 2,
	}
}

// FrameCenter returns the centre of a width x height frame.
func FrameCenter(width, height int) Point {
	return Point{X: float64(width) / 2, Y: float64(height) / 2}
}

// Overlaps reports whether a and b share interior area. Boxes that only touch
// along an edge or corner do not overlap. The test is symmetric.
func Overlaps(a, b image.Rectangle) bool {
	if a.Max.X <= b.Min.X || b.Max.X <= a.Min.X {
		return false
	}
	if a.Max.Y <= b.Min.Y || b.Max.Y <= a.Min.Y {
		return false
	}
	return true
}

// Nearest returns the index of the box whose centre is closest to target,
// or -1 when boxes is empty. Ties keep the earlier box.
func Nearest(boxes []image.Rectangle, target Point) int {
	best := -1
	bestDist := math.Inf(1)
	for i, b := range boxes {
		if d := Center(b).Dist(target); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

// AngleDeg returns atan2(dy, dx) in degrees normalised to [0, 360).
func AngleDeg(dx, dy float64) float64 {
	return NormalizeDeg(math.Atan2(dy, dx) * 180 / math.Pi)
}

// NormalizeDeg folds a into [0, 360).
func NormalizeDeg(a float64) float64 {
	a = math.Mod(a, 360)
	if a < 0 {
		a += 360
	}
	// math.Mod(-1e-18, 360) + 360 rounds to 360.
	if a >= 360 {
		a = 0
	}
	return a
}

// InOpenRange reports whether lo < v < hi.
func InOpenRange(v, lo, hi float64) bool {
	return v > lo && v < hi
}
