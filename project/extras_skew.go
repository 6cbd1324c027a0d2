package project

import (
	"math"
)

const skewEpsilon = 1e-6

// Rotate turns (x, y) counter-clockwise about the origin. Angles below
// 1e-6 rad leave the point untouched.
func Rotate(p Point3, angle float64) Point3 {
	if math.Abs(angle) < skewEpsilon {
		return p
	}
	sin, cos := math.Sincos(angle)
	return Point3{
		X: p.X*cos - p.Y*sin,
		Y: p.X*sin + p.Y*cos,
		Z: p.Z,
	}
}

// EstimateSkewAngle is the angle of the line p1->p2, which should be
// parallel to the machine X axis.
func EstimateSkewAngle(p1, p2 Point3) float64 {
	return math.Atan2(p2.Y-p1.Y, p2.X-p1.X)
}

func RadToDeg(a float64) float64 {
	return a * 180 / math.Pi
}

func DegToRad(a float64) float64 {
	return a * math.Pi / 180
}

// SkewMeasurement follows a two point skew probe. Each point is probed
// twice, fast then slow, and only the slow touch is kept.
type SkewMeasurement struct {
	params  SkewProbeParams
	step    int
	touches int
	p1, p2  Point3
	done    bool
}

func NewSkewMeasurement(params SkewProbeParams) *SkewMeasurement {
	return &SkewMeasurement{params: params, step: 1}
}

// FirstBlock is the G-code probing the first point.
func (self *SkewMeasurement) FirstBlock() (string, error) {
	return renderSkewBlock(self.params, false)
}

// AddTouch records one probe report. It returns the next block to send, if
// any, and whether the measurement is complete.
func (self *SkewMeasurement) AddTouch(p Point3) (string, bool, error) {
	if self.done {
		return "", true, nil
	}
	self.touches++
	if self.touches < 2 {
		return "", false, nil
	}
	self.touches = 0
	if self.step == 1 {
		self.p1 = p
		self.step = 2
		block, err := renderSkewBlock(self.params, true)
		return block, false, err
	}
	self.p2 = p
	self.done = true
	return "", true, nil
}

func (self *SkewMeasurement) Done() bool {
	return self.done
}

func (self *SkewMeasurement) Points() (Point3, Point3) {
	return self.p1, self.p2
}

func (self *SkewMeasurement) Angle() float64 {
	return EstimateSkewAngle(self.p1, self.p2)
}
