package maths

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Summary of a series of probed heights.
type Summary struct {
	Count int
	Min   float64
	Max   float64
	Mean  float64
}

func Summarize(values []float64) Summary {
	if len(values) == 0 {
		return Summary{}
	}
	return Summary{
		Count: len(values),
		Min:   floats.Min(values),
		Max:   floats.Max(values),
		Mean:  floats.Sum(values) / float64(len(values)),
	}
}

// Span is the peak to valley height difference.
func (s Summary) Span() float64 {
	return s.Max - s.Min
}

func NearlyEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}
