package project

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestArcHalfCircleCW(t *testing.T) {
	path := NewArcLinearizer().Linearize(Point3{}, Point3{X: 10}, ArcArgs{I: 5, HasI: true, HasJ: true}, true, UNITS_MM, PLANE_XY)
	if path.Fallback != nil {
		t.Fatalf("unexpected fallback: %v", path.Fallback)
	}
	if path.Segments() != 32 {
		t.Fatalf("expected 32 segments, got %d", path.Segments())
	}
	pts := path.Points()
	if len(pts) != 32 {
		t.Fatalf("expected 32 points, got %d", len(pts))
	}
	lastX := 0.
	for _, p := range pts {
		if !nearlyEqual(math.Hypot(p.X-5, p.Y), 5, 1e-9) {
			t.Fatalf("point %v is off the circle", p)
		}
		if p.Y < -1e-9 {
			t.Fatalf("clockwise arc left the top half at %v", p)
		}
		if p.X <= lastX {
			t.Fatalf("x not increasing at %v", p)
		}
		lastX = p.X
	}
	if pts[len(pts)-1] != (Point3{X: 10}) {
		t.Fatalf("last point %v is not the end point", pts[len(pts)-1])
	}
	if _, ok := path.Next(); ok {
		t.Fatalf("path yielded past its end")
	}
}

func TestArcHalfCircleCCW(t *testing.T) {
	pts := NewArcLinearizer().Linearize(Point3{}, Point3{X: 10}, ArcArgs{I: 5, HasI: true}, false, UNITS_MM, PLANE_XY).Points()
	for _, p := range pts {
		if p.Y > 1e-9 {
			t.Fatalf("counter-clockwise arc left the bottom half at %v", p)
		}
	}
}

func TestArcRadiusForm(t *testing.T) {
	a := NewArcLinearizer()
	fromOffset := a.Linearize(Point3{}, Point3{X: 10}, ArcArgs{I: 5, HasI: true}, true, UNITS_MM, PLANE_XY).Points()
	fromRadius := a.Linearize(Point3{}, Point3{X: 10}, ArcArgs{R: 5, HasR: true}, true, UNITS_MM, PLANE_XY).Points()
	if diff := cmp.Diff(fromOffset, fromRadius, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Fatalf("radius and offset forms differ (-offset +radius):\n%s", diff)
	}

	// quarter arcs: positive R takes the short way, negative R the long way
	short := a.Linearize(Point3{}, Point3{X: 10, Y: 10}, ArcArgs{R: 10, HasR: true}, true, UNITS_MM, PLANE_XY)
	long := a.Linearize(Point3{}, Point3{X: 10, Y: 10}, ArcArgs{R: -10, HasR: true}, true, UNITS_MM, PLANE_XY)
	if short.Segments() >= long.Segments() {
		t.Fatalf("expected the negative radius arc to be longer: %d vs %d", short.Segments(), long.Segments())
	}
	if short.Segments() != int(math.Ceil(10*math.Pi/2/0.5)) {
		t.Fatalf("unexpected short arc segments %d", short.Segments())
	}
}

func TestArcFallbacks(t *testing.T) {
	a := NewArcLinearizer()
	end := Point3{X: 10, Z: -1}
	cases := map[string]ArcArgs{
		"radius too small": {R: 2, HasR: true},
		"no centre":        {},
	}
	for name, args := range cases {
		path := a.Linearize(Point3{}, end, args, true, UNITS_MM, PLANE_XY)
		if !errors.Is(path.Fallback, ErrDegenerateArc) {
			t.Fatalf("%s: expected degenerate arc, got %v", name, path.Fallback)
		}
		if diff := cmp.Diff([]Point3{end}, path.Points()); diff != "" {
			t.Fatalf("%s: expected a straight move:\n%s", name, diff)
		}
	}
}

func TestArcArtifactGuard(t *testing.T) {
	args := ArcArgs{I: 0.05, J: -5, HasI: true, HasJ: true}
	end := Point3{X: 0.1}

	a := NewArcLinearizer()
	if path := a.Linearize(Point3{}, end, args, false, UNITS_MM, PLANE_XY); !errors.Is(path.Fallback, ErrDegenerateArc) {
		t.Fatalf("near full circle on a tiny chord should fall back, got %v", path.Fallback)
	}
	// the short way round is a legitimate arc
	if path := a.Linearize(Point3{}, end, args, true, UNITS_MM, PLANE_XY); path.Fallback != nil {
		t.Fatalf("unexpected fallback: %v", path.Fallback)
	}

	a.ArtifactRatio = 1000
	if path := a.Linearize(Point3{}, end, args, false, UNITS_MM, PLANE_XY); path.Fallback != nil {
		t.Fatalf("raised ratio should keep the arc, got %v", path.Fallback)
	}
}

func TestArcHelixAndTurns(t *testing.T) {
	a := NewArcLinearizer()
	pts := a.Linearize(Point3{}, Point3{X: 10, Z: -1}, ArcArgs{I: 5, HasI: true}, true, UNITS_MM, PLANE_XY).Points()
	for i, p := range pts {
		want := -float64(i+1) / float64(len(pts))
		if !nearlyEqual(p.Z, want, 1e-9) {
			t.Fatalf("point %d: z %v, want %v", i, p.Z, want)
		}
	}

	turns := a.Linearize(Point3{}, Point3{X: 10}, ArcArgs{I: 5, HasI: true, P: 2, HasP: true}, true, UNITS_MM, PLANE_XY)
	if turns.Segments() != int(math.Ceil(15*math.Pi/0.5)) {
		t.Fatalf("unexpected segments for an extra turn: %d", turns.Segments())
	}
}

func TestArcOtherPlanes(t *testing.T) {
	a := NewArcLinearizer()
	// G18: u=z, v=x, offsets K and I
	xz := a.Linearize(Point3{Y: 3}, Point3{Y: 3, Z: 10}, ArcArgs{K: 5, HasK: true}, true, UNITS_MM, PLANE_XZ).Points()
	for _, p := range xz {
		if !nearlyEqual(math.Hypot(p.Z-5, p.X), 5, 1e-9) || p.Y != 3 {
			t.Fatalf("xz point %v off the circle", p)
		}
	}
	// G19: u=y, v=z, offsets J and K
	yz := a.Linearize(Point3{X: -2}, Point3{X: -2, Y: 10}, ArcArgs{J: 5, HasJ: true}, false, UNITS_MM, PLANE_YZ).Points()
	for _, p := range yz {
		if !nearlyEqual(math.Hypot(p.Y-5, p.Z), 5, 1e-9) || p.X != -2 {
			t.Fatalf("yz point %v off the circle", p)
		}
	}
	if len(xz) != 32 || len(yz) != 32 {
		t.Fatalf("unexpected point counts %d %d", len(xz), len(yz))
	}
}

func TestArcResolutionInInches(t *testing.T) {
	path := NewArcLinearizer().Linearize(Point3{}, Point3{X: 1}, ArcArgs{I: 0.5, HasI: true}, true, UNITS_INCH, PLANE_XY)
	want := int(math.Ceil(0.5 * math.Pi / (0.5 / MM_PER_INCH)))
	if path.Segments() != want {
		t.Fatalf("expected %d segments, got %d", want, path.Segments())
	}
}
