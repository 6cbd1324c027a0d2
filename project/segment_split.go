package project

import (
	"gonum.org/v1/gonum/spatial/r3"
)

const (
	splitMinDistance  = 1e-10
	splitDuplicateSq  = 1e-10
	splitMinStep      = 0.001
	splitFallbackStep = 0.5
)

// SegmentSplitter cuts straight moves into pieces no longer than the probe
// grid spacing so the surface correction is applied along the move.
type SegmentSplitter struct {
	DeltaMM float64
}

// Split returns the points after p1 up to and including p2, in units.
func (self SegmentSplitter) Split(p1, p2 Point3, units Units) []Point3 {
	d := r3.Sub(p2.Vec(), p1.Vec())
	dist := r3.Norm(d)
	if dist < splitMinDistance {
		return nil
	}
	step := units.FromMM(self.DeltaMM)
	if step <= splitMinStep {
		step = splitFallbackStep
	}
	dir := r3.Scale(1/dist, d)

	var res []Point3
	appendPoint := func(p Point3) {
		last := p1
		if len(res) > 0 {
			last = res[len(res)-1]
		}
		if distanceSquared3(last, p) > splitDuplicateSq {
			res = append(res, p)
		}
	}
	for i := 1; float64(i)*step < dist; i++ {
		appendPoint(pointOf(r3.Add(p1.Vec(), r3.Scale(float64(i)*step, dir))))
	}
	if len(res) > 0 && distanceSquared3(res[len(res)-1], p2) <= splitDuplicateSq {
		res[len(res)-1] = p2
	} else {
		res = append(res, p2)
	}
	return res
}
