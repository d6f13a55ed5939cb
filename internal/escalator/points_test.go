package escalator

import (
	"image"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/wayguide/wayguide/internal/geom"
)

func TestSeedPoints(t *testing.T) {
	pts := SeedPoints(image.Rect(100, 200, 300, 300))

	idx, pos := pts.Live()
	want := []geom.Point{{X: 150, Y: 250}, {X: 200, Y: 250}, {X: 250, Y: 250}}
	if diff := cmp.Diff(want, pos); diff != "" {
		t.Errorf("seed positions mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{0, 1, 2}, idx); diff != "" {
		t.Errorf("seed indices mismatch (-want +got):\n%s", diff)
	}
}

func TestPoints_DropIsPermanent(t *testing.T) {
	pts := SeedPoints(image.Rect(0, 0, 100, 100))

	pts.Advance(1, geom.Point{X: 50, Y: 55})
	pts.Drop(1)
	pts.Advance(1, geom.Point{X: 50, Y: 90})

	if pts.Alive(1) {
		t.Fatal("dropped point came back")
	}
	if got := pts.Position(1); got != (geom.Point{X: 50, Y: 55}) {
		t.Errorf("dropped point moved to %v", got)
	}
	if n := pts.LiveCount(); n != 2 {
		t.Errorf("LiveCount() = %d, want 2", n)
	}
}

func TestPoints_Displacements(t *testing.T) {
	pts := SeedPoints(image.Rect(0, 0, 100, 100))

	pts.Advance(0, geom.Point{X: 25, Y: 60})
	pts.Advance(2, geom.Point{X: 80, Y: 50})
	pts.Drop(2)

	// Point 1 never moved and point 2 is missing.
	want := []geom.Point{{X: 0, Y: 10}}
	if diff := cmp.Diff(want, pts.Displacements()); diff != "" {
		t.Errorf("displacements mismatch (-want +got):\n%s", diff)
	}
}
