package project

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"
)

const (
	collinearEpsilon  = 1e-5
	coincidentEpsilon = 1e-12
	meshDumpLineLimit = 125
)

// SurfaceMesh holds probed surface samples in probe order and answers height
// queries from the plane through the three nearest usable samples.
type SurfaceMesh struct {
	samples    []Point3
	zeroOffset float64
	zeroCached bool
}

func NewSurfaceMesh(samples []Point3) *SurfaceMesh {
	self := &SurfaceMesh{}
	self.samples = append([]Point3(nil), samples...)
	return self
}

func (self *SurfaceMesh) AddSample(p Point3) {
	self.samples = append(self.samples, p)
	self.zeroCached = false
}

func (self *SurfaceMesh) Reset() {
	self.samples = nil
	self.zeroCached = false
}

func (self *SurfaceMesh) Len() int {
	return len(self.samples)
}

func (self *SurfaceMesh) Samples() []Point3 {
	return append([]Point3(nil), self.samples...)
}

func isCollinear(u, v r3.Vec) bool {
	return math.Abs(u.X*v.Y-u.Y*v.X) < collinearEpsilon
}

// Validate fails with ErrInsufficientMeshSamples unless at least three
// samples span a plane.
func (self *SurfaceMesh) Validate() error {
	n := len(self.samples)
	if n < 3 {
		return fmt.Errorf("%w: %d samples, need 3", ErrInsufficientMeshSamples, n)
	}
	p0 := self.samples[0].Vec()
	second := -1
	for i := 1; i < n; i++ {
		if distanceSquared2(self.samples[0], self.samples[i]) > coincidentEpsilon {
			second = i
			break
		}
	}
	if second >= 0 {
		u := r3.Sub(self.samples[second].Vec(), p0)
		for i := second + 1; i < n; i++ {
			if !isCollinear(u, r3.Sub(self.samples[i].Vec(), p0)) {
				return nil
			}
		}
	}
	return fmt.Errorf("%w: all %d samples lie on one line", ErrInsufficientMeshSamples, n)
}

// ThreeClosest returns the nearest samples to (x, y) by planar distance.
// The second pick skips samples coincident with the first and the third
// skips any candidate collinear with the first two.
func (self *SurfaceMesh) ThreeClosest(x, y float64) ([3]Point3, error) {
	var res [3]Point3
	n := len(self.samples)
	if n < 3 {
		return res, fmt.Errorf("%w: %d samples, need 3", ErrInsufficientMeshSamples, n)
	}

	q := Point3{X: x, Y: y}
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return distanceSquared2(q, self.samples[order[a]]) < distanceSquared2(q, self.samples[order[b]])
	})

	res[0] = self.samples[order[0]]
	found := 1
	var u r3.Vec
	for _, idx := range order[1:] {
		p := self.samples[idx]
		switch found {
		case 1:
			if distanceSquared2(res[0], p) <= coincidentEpsilon {
				continue
			}
			res[1] = p
			u = r3.Sub(p.Vec(), res[0].Vec())
			found = 2
		case 2:
			if isCollinear(u, r3.Sub(p.Vec(), res[0].Vec())) {
				continue
			}
			res[2] = p
			return res, nil
		}
	}
	return res, fmt.Errorf("%w: no three non-collinear samples near (%.3f, %.3f)", ErrInsufficientMeshSamples, x, y)
}

// InterpolateZ evaluates the plane through the three closest samples.
func (self *SurfaceMesh) InterpolateZ(x, y float64) (float64, error) {
	tri, err := self.ThreeClosest(x, y)
	if err != nil {
		return 0, err
	}
	p0 := tri[0].Vec()
	normal := r3.Cross(r3.Sub(tri[1].Vec(), p0), r3.Sub(tri[2].Vec(), p0))
	return p0.Z - (normal.X*(x-p0.X)+normal.Y*(y-p0.Y))/normal.Z, nil
}

// ZeroOffset is the surface height at the work origin.
func (self *SurfaceMesh) ZeroOffset() (float64, error) {
	if self.zeroCached {
		return self.zeroOffset, nil
	}
	z, err := self.InterpolateZ(0, 0)
	if err != nil {
		return 0, err
	}
	self.zeroOffset, self.zeroCached = z, true
	return z, nil
}

// DumpLines packs samples as "(AL: D x,y,z ...)" messages that fit the
// controller line limit.
func (self *SurfaceMesh) DumpLines() []string {
	var lines []string
	var sb strings.Builder
	count := 0
	sb.WriteString("(AL: D")
	for _, p := range self.samples {
		pt := fmt.Sprintf(" %.3f,%.3f,%.3f", p.X, p.Y, p.Z)
		if count > 0 && sb.Len()+len(pt)+1 > meshDumpLineLimit {
			lines = append(lines, sb.String()+")")
			sb.Reset()
			sb.WriteString("(AL: D")
			count = 0
		}
		sb.WriteString(pt)
		count++
	}
	if count > 0 {
		lines = append(lines, sb.String()+")")
	}
	return lines
}
