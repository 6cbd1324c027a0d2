package project

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

const MM_PER_INCH = 25.4

type Units int

const (
	UNITS_MM Units = iota + 1
	UNITS_INCH
)

func (u Units) String() string {
	if u == UNITS_INCH {
		return "in"
	}
	return "mm"
}

func (u Units) ToMM(v float64) float64 {
	if u == UNITS_INCH {
		return v * MM_PER_INCH
	}
	return v
}

func (u Units) FromMM(v float64) float64 {
	if u == UNITS_INCH {
		return v / MM_PER_INCH
	}
	return v
}

// Plane is the active arc plane, G17/G18/G19.
type Plane int

const (
	PLANE_XY Plane = iota
	PLANE_XZ
	PLANE_YZ
)

func (p Plane) String() string {
	switch p {
	case PLANE_XZ:
		return "G18"
	case PLANE_YZ:
		return "G19"
	}
	return "G17"
}

// MotionMode is the modal group 1 state.
type MotionMode int

const (
	MOTION_NONE MotionMode = iota
	MOTION_RAPID
	MOTION_LINEAR
	MOTION_ARC_CW
	MOTION_ARC_CCW
	MOTION_PROBE
)

func (m MotionMode) IsArc() bool {
	return m == MOTION_ARC_CW || m == MOTION_ARC_CCW
}

func (m MotionMode) IsLinear() bool {
	return m == MOTION_RAPID || m == MOTION_LINEAR
}

// Point3 is a position in millimetres unless stated otherwise.
type Point3 struct {
	X, Y, Z float64
}

func (p Point3) Vec() r3.Vec {
	return r3.Vec{X: p.X, Y: p.Y, Z: p.Z}
}

func pointOf(v r3.Vec) Point3 {
	return Point3{X: v.X, Y: v.Y, Z: v.Z}
}

func (p Point3) Sub(q Point3) Point3 {
	return pointOf(r3.Sub(p.Vec(), q.Vec()))
}

func (p Point3) String() string {
	return fmt.Sprintf("(x:%.3f y:%.3f z:%.3f)", p.X, p.Y, p.Z)
}

func distanceSquared2(p1, p2 Point3) float64 {
	dx, dy := p2.X-p1.X, p2.Y-p1.Y
	return dx*dx + dy*dy
}

func distanceSquared3(p1, p2 Point3) float64 {
	return r3.Norm2(r3.Sub(p2.Vec(), p1.Vec()))
}

// Position is a tracked machine position where any axis may be unknown,
// e.g. after a machine frame move or a probing cut.
type Position struct {
	Point3
	HasX bool
	HasY bool
	HasZ bool
}

func KnownPosition(p Point3) Position {
	return Position{Point3: p, HasX: true, HasY: true, HasZ: true}
}

// Known reports whether every axis is resolved.
func (p Position) Known() bool {
	return p.HasX && p.HasY && p.HasZ
}

func (p Position) HasXY() bool {
	return p.HasX && p.HasY
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
