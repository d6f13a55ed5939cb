package escalator

import (
	"image"

	"github.com/wayguide/wayguide/internal/geom"
)

// NumPoints is the number of tracked points seeded per region.
const NumPoints = 3

var seedFractions = [NumPoints]float64{0.25, 0.5, 0.75}

// Points is a fixed arena of tracked points indexed by seed order. Liveness
// is a bitmap: once a point is dropped it never comes back.
type Points struct {
	start [NumPoints]geom.Point
	pos   [NumPoints]geom.Point
	live  uint8
	moved uint8
}

// SeedPoints places the points on the vertical midline of box at 25%, 50%
// and 75% of its width.
func SeedPoints(box image.Rectangle) *Points {
	p := &Points{}
	y := float64(box.Min.Y) + float64(box.Dy())/2
	for i, f := range seedFractions {
		pt := geom.Point{X: float64(box.Min.X) + float64(box.Dx())*f, Y: y}
		p.start[i] = pt
		p.pos[i] = pt
		p.live |= 1 << i
	}
	return p
}

// Alive reports whether point i is still tracked.
func (p *Points) Alive(i int) bool {
	return p.live&(1<<i) != 0
}

// LiveCount returns the number of live points.
func (p *Points) LiveCount() int {
	n := 0
	for i := 0; i < NumPoints; i++ {
		if p.Alive(i) {
			n++
		}
	}
	return n
}

// Live returns the indices and current positions of live points.
func (p *Points) Live() ([]int, []geom.Point) {
	idx := make([]int, 0, NumPoints)
	pos := make([]geom.Point, 0, NumPoints)
	for i := 0; i < NumPoints; i++ {
		if p.Alive(i) {
			idx = append(idx, i)
			pos = append(pos, p.pos[i])
		}
	}
	return idx, pos
}

// Start returns the seed position of point i.
func (p *Points) Start(i int) geom.Point { return p.start[i] }

// Position returns the latest tracked position of point i.
func (p *Points) Position(i int) geom.Point { return p.pos[i] }

// Advance records a successful flow step for point i. Dead points ignore it.
func (p *Points) Advance(i int, to geom.Point) {
	if !p.Alive(i) {
		return
	}
	p.pos[i] = to
	p.moved |= 1 << i
}

// Drop marks point i missing for the rest of the window.
func (p *Points) Drop(i int) {
	p.live &^= 1 << i
}

// Displacements returns end minus start for every live point that completed
// at least one flow step.
func (p *Points) Displacements() []geom.Point {
	var out []geom.Point
	for i := 0; i < NumPoints; i++ {
		if p.Alive(i) && p.moved&(1<<i) != 0 {
			out = append(out, p.pos[i].Sub(p.start[i]))
		}
	}
	return out
}
