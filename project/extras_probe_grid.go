package project

import (
	"fmt"
	"math"
	"strings"

	"autolevel/common/logger"
)

const (
	firstPointSkipMM = 0.001
	gridStepSlack    = 1e-9
)

type vec2 struct {
	X float64
	Y float64
}

type Bounds struct {
	Min vec2
	Max vec2
}

func (b Bounds) String() string {
	return fmt.Sprintf("min(%.3f, %.3f) max(%.3f, %.3f)", b.Min.X, b.Min.Y, b.Max.X, b.Max.Y)
}

// ExplicitBounds is the rectangle [0, x] x [0, y].
func ExplicitBounds(x, y float64) Bounds {
	return Bounds{Max: vec2{X: x, Y: y}}
}

type ProbePoint = vec2

// GridRequest describes one probe run. Lengths are millimetres and Grid, when
// positive, fixes the number of points per axis.
type GridRequest struct {
	Bounds Bounds
	Delta  float64
	Margin float64
	Grid   int
	Height float64
	Feed   float64
}

// ProbePlan is the ordered list of probe blocks, the first being the setup
// block for the first point.
type ProbePlan struct {
	Points []ProbePoint
	Blocks []string
	XCount int
	YCount int
}

func (self *ProbePlan) Total() int {
	return len(self.Blocks)
}

func applyMinMaxMargin(min, max vec2, margin float64) (vec2, vec2) {
	return vec2{X: min.X - margin, Y: min.Y - margin}, vec2{X: max.X + margin, Y: max.Y + margin}
}

func linspace(start, end float64, count int) []float64 {
	if count <= 1 {
		return []float64{start}
	}
	step := (end - start) / float64(count-1)
	vals := make([]float64, count)
	for i := range vals {
		vals[i] = start + float64(i)*step
	}
	vals[count-1] = end
	return vals
}

func isEven(n int) bool {
	return n%2 == 0
}

// axisCount is the number of probe positions along one axis.
func axisCount(span, delta float64, grid int) int {
	if span <= gridStepSlack {
		return 1
	}
	if grid > 0 {
		if grid < 2 {
			grid = 2
		}
		return grid
	}
	steps := int(math.Ceil(span/delta - gridStepSlack))
	if steps < 1 {
		steps = 1
	}
	return steps + 1
}

// PlanProbeGrid lays out a serpentine grid over the request bounds shrunk by
// the margin. The first point gets its own setup block and is skipped when
// row 0 is enumerated.
func PlanProbeGrid(req GridRequest) (*ProbePlan, error) {
	if req.Delta <= 0 && req.Grid <= 0 {
		return nil, fmt.Errorf("probe spacing must be positive, got %v", req.Delta)
	}
	min, max := applyMinMaxMargin(req.Bounds.Min, req.Bounds.Max, -req.Margin)
	if max.X < min.X || max.Y < min.Y {
		return nil, fmt.Errorf("%w: margin %.3f leaves nothing of %v", ErrNoProbeArea, req.Margin, req.Bounds)
	}

	xs := linspace(min.X, max.X, axisCount(max.X-min.X, req.Delta, req.Grid))
	ys := linspace(min.Y, max.Y, axisCount(max.Y-min.Y, req.Delta, req.Grid))

	plan := &ProbePlan{XCount: len(xs), YCount: len(ys)}
	first := vec2{X: min.X, Y: min.Y}
	block, err := renderProbeBlock(first, true, req.Height, req.Feed)
	if err != nil {
		return nil, err
	}
	plan.Points = append(plan.Points, first)
	plan.Blocks = append(plan.Blocks, block)

	row := make([]float64, len(xs))
	for yi, y := range ys {
		copy(row, xs)
		if !isEven(yi) {
			for i, j := 0, len(row)-1; i < j; i, j = i+1, j-1 {
				row[i], row[j] = row[j], row[i]
			}
		}
		for _, x := range row {
			if yi == 0 && math.Abs(x-min.X) < firstPointSkipMM {
				continue
			}
			p := vec2{X: x, Y: y}
			block, err := renderProbeBlock(p, false, req.Height, req.Feed)
			if err != nil {
				return nil, err
			}
			plan.Points = append(plan.Points, p)
			plan.Blocks = append(plan.Blocks, block)
		}
	}
	logger.Debugf("probe grid %dx%d over %v, %d points", len(xs), len(ys), Bounds{Min: min, Max: max}, plan.Total())
	return plan, nil
}

// DetectBounds scans the X and Y words of absolute mode moves, converted to
// millimetres. Coordinate setting and machine frame blocks are ignored.
func DetectBounds(program string) (Bounds, error) {
	state := NewModalState(DefaultStartPosition())
	b := Bounds{
		Min: vec2{X: math.Inf(1), Y: math.Inf(1)},
		Max: vec2{X: math.Inf(-1), Y: math.Inf(-1)},
	}
	hasX, hasY := false, false
	for n, line := range strings.Split(program, "\n") {
		pl, next, err := ParseLine(strings.TrimRight(line, "\r"), state)
		if err != nil {
			return Bounds{}, &ParseError{Line: n + 1, Text: line, Err: err}
		}
		state = next
		if pl.Kind != LINE_CODE || !pl.HasMove || pl.Exempt || !state.Absolute {
			continue
		}
		for _, w := range pl.Words {
			v := state.Units.ToMM(w.Value)
			switch w.Letter {
			case 'X':
				b.Min.X, b.Max.X = math.Min(b.Min.X, v), math.Max(b.Max.X, v)
				hasX = true
			case 'Y':
				b.Min.Y, b.Max.Y = math.Min(b.Min.Y, v), math.Max(b.Max.Y, v)
				hasY = true
			}
		}
	}
	if !hasX || !hasY {
		return Bounds{}, fmt.Errorf("%w: program has no absolute X and Y moves", ErrNoProbeArea)
	}
	return b, nil
}
