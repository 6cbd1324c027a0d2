package project

import (
	"fmt"
	"math"
)

/**
# Arcs are flattened into points that the compensator emits as G1 moves.
#
# supports XY, XZ & YZ planes with the remaining axis as helical
*/

const (
	DEFAULT_ARC_RESOLUTION_MM     = 0.5
	DEFAULT_ARC_ARTIFACT_RATIO    = 10.
	DEFAULT_ARC_ARTIFACT_CHORD_MM = 1.

	arcChordEpsilon  = 1e-9
	arcRadiusSlackMM = 1e-6
)

type ArcLinearizer struct {
	// ResolutionMM is the target length of one segment.
	ResolutionMM float64
	// An arc whose chord is shorter than ArtifactChordMM but whose length
	// exceeds ArtifactRatio times the chord is treated as a straight move.
	ArtifactRatio   float64
	ArtifactChordMM float64
}

func NewArcLinearizer() *ArcLinearizer {
	return &ArcLinearizer{
		ResolutionMM:    DEFAULT_ARC_RESOLUTION_MM,
		ArtifactRatio:   DEFAULT_ARC_ARTIFACT_RATIO,
		ArtifactChordMM: DEFAULT_ARC_ARTIFACT_CHORD_MM,
	}
}

// planar coordinates, (u, v) in the arc plane and w along the helical axis
type arcFrame struct {
	u, v, w float64
}

func toArcFrame(p Point3, plane Plane) arcFrame {
	switch plane {
	case PLANE_XZ:
		return arcFrame{u: p.Z, v: p.X, w: p.Y}
	case PLANE_YZ:
		return arcFrame{u: p.Y, v: p.Z, w: p.X}
	}
	return arcFrame{u: p.X, v: p.Y, w: p.Z}
}

func fromArcFrame(f arcFrame, plane Plane) Point3 {
	switch plane {
	case PLANE_XZ:
		return Point3{X: f.v, Y: f.w, Z: f.u}
	case PLANE_YZ:
		return Point3{X: f.w, Y: f.u, Z: f.v}
	}
	return Point3{X: f.u, Y: f.v, Z: f.w}
}

func arcOffsets(args ArcArgs, plane Plane) (float64, float64) {
	switch plane {
	case PLANE_XZ:
		return args.K, args.I
	case PLANE_YZ:
		return args.J, args.K
	}
	return args.I, args.J
}

// ArcPath yields the points of one linearized arc, excluding the start and
// ending exactly on the requested end point. It is consumed once.
type ArcPath struct {
	plane    Plane
	start    arcFrame
	end      Point3
	cu, cv   float64
	radius   float64
	angle0   float64
	sweep    float64
	segments int
	next     int

	// Fallback is set when the arc was replaced by a straight move.
	Fallback error
}

func straightPath(end Point3, reason error) *ArcPath {
	return &ArcPath{end: end, segments: 1, next: 1, Fallback: reason}
}

// Segments is the total number of points the path yields.
func (self *ArcPath) Segments() int {
	return self.segments
}

func (self *ArcPath) Next() (Point3, bool) {
	if self.next > self.segments {
		return Point3{}, false
	}
	i := self.next
	self.next++
	if i == self.segments {
		return self.end, true
	}
	frac := float64(i) / float64(self.segments)
	theta := self.angle0 + self.sweep*frac
	endW := toArcFrame(self.end, self.plane).w
	f := arcFrame{
		u: self.cu + self.radius*math.Cos(theta),
		v: self.cv + self.radius*math.Sin(theta),
		w: self.start.w + (endW-self.start.w)*frac,
	}
	return fromArcFrame(f, self.plane), true
}

// Points drains the remaining points.
func (self *ArcPath) Points() []Point3 {
	pts := make([]Point3, 0, self.segments-self.next+1)
	for {
		p, ok := self.Next()
		if !ok {
			return pts
		}
		pts = append(pts, p)
	}
}

// Linearize flattens the arc from start to end. Coordinates, offsets and
// radius are in units; resolution and thresholds are converted from mm.
func (self *ArcLinearizer) Linearize(start, end Point3, args ArcArgs, clockwise bool, units Units, plane Plane) *ArcPath {
	p1 := toArcFrame(start, plane)
	p2 := toArcFrame(end, plane)

	var cu, cv float64
	switch {
	case args.HasOffset():
		ou, ov := arcOffsets(args, plane)
		cu, cv = p1.u+ou, p1.v+ov
	case args.HasR:
		dx, dy := p2.u-p1.u, p2.v-p1.v
		d := math.Hypot(dx, dy)
		r := args.R
		if d < arcChordEpsilon {
			return straightPath(end, fmt.Errorf("%w: zero length chord with radius %.4f", ErrDegenerateArc, r))
		}
		if math.Abs(r) < d/2-units.FromMM(arcRadiusSlackMM) {
			return straightPath(end, fmt.Errorf("%w: radius %.4f shorter than half chord %.4f", ErrDegenerateArc, r, d/2))
		}
		h := math.Sqrt(math.Max(0, r*r-d*d/4))
		mu, mv := (p1.u+p2.u)/2, (p1.v+p2.v)/2
		if clockwise == (r < 0) {
			cu, cv = mu-dy*h/d, mv+dx*h/d
		} else {
			cu, cv = mu+dy*h/d, mv-dx*h/d
		}
	default:
		return straightPath(end, fmt.Errorf("%w: no centre offset or radius", ErrDegenerateArc))
	}

	radius := math.Hypot(p1.u-cu, p1.v-cv)
	angle0 := math.Atan2(p1.v-cv, p1.u-cu)
	angle1 := math.Atan2(p2.v-cv, p2.u-cu)
	sweep := angle1 - angle0
	if clockwise && sweep >= 0 {
		sweep -= 2 * math.Pi
	} else if !clockwise && sweep <= 0 {
		sweep += 2 * math.Pi
	}
	if args.HasP && args.P > 1 {
		turns := math.Floor(args.P) - 1
		if clockwise {
			sweep -= turns * 2 * math.Pi
		} else {
			sweep += turns * 2 * math.Pi
		}
	}

	arcLen := math.Abs(sweep * radius)
	chord := math.Hypot(p2.u-p1.u, p2.v-p1.v)
	if chord > arcChordEpsilon && chord < units.FromMM(self.ArtifactChordMM) && arcLen > self.ArtifactRatio*chord {
		return straightPath(end, fmt.Errorf("%w: arc length %.4f on chord %.4f", ErrDegenerateArc, arcLen, chord))
	}

	resolution := units.FromMM(self.ResolutionMM)
	if resolution <= 0 {
		resolution = units.FromMM(DEFAULT_ARC_RESOLUTION_MM)
	}
	segments := int(math.Ceil(arcLen / resolution))
	if segments < 1 {
		segments = 1
	}

	return &ArcPath{
		plane:    plane,
		start:    p1,
		end:      end,
		cu:       cu,
		cv:       cv,
		radius:   radius,
		angle0:   angle0,
		sweep:    sweep,
		segments: segments,
		next:     1,
	}
}
