package project

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/flosch/pongo2/v5"
)

var (
	probeSetupTemplate = pongo2.Must(pongo2.FromString(strings.Join([]string{
		"(AL: probing initial point)",
		"G54",
		"G21",
		"G90",
		"G0 Z{{ height }}",
		"G0 X{{ x }} Y{{ y }} Z{{ z }}",
		"G38.2 Z-{{ depth }} F{{ feed }}",
		"G0 Z{{ height }}",
	}, "\n")))

	probePointTemplate = pongo2.Must(pongo2.FromString(strings.Join([]string{
		"G90 G0 X{{ x }} Y{{ y }} Z{{ z }}",
		"G38.2 Z-{{ depth }} F{{ feed }}",
		"G0 Z{{ height }}",
	}, "\n")))

	skewProbeTemplate = pongo2.Must(pongo2.FromString(strings.Join([]string{
		"G91",
		"{% if shift %}G0 X{{ spacing }}\nG90\nG91\n{% endif %}G38.2 Y{{ travel }} F{{ fast }}",
		"G0 Y-{{ retract }}",
		"G38.2 Y{{ reprobe }} F{{ slow }}",
		"G0 Y-{{ retract }}",
		"G90",
	}, "\n")))
)

// formatNumber prints the shortest exact decimal, 2 not 2.000.
func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

func renderProbeBlock(p ProbePoint, setup bool, height, feed float64) (string, error) {
	ctx := pongo2.Context{
		"x":      formatCoord(p.X),
		"y":      formatCoord(p.Y),
		"z":      formatCoord(height),
		"height": formatNumber(height),
		"depth":  formatNumber(height + 1),
		"feed":   formatNumber(feed),
	}
	tpl := probePointTemplate
	if setup {
		tpl = probeSetupTemplate
		ctx["feed"] = formatNumber(feed / 2)
	}
	out, err := tpl.Execute(ctx)
	if err != nil {
		return "", fmt.Errorf("render probe block at %v: %w", p, err)
	}
	return out, nil
}

// SkewProbeParams drive the two point skew measurement along +Y.
type SkewProbeParams struct {
	Spacing   float64
	MaxTravel float64
	Retract   float64
	FastFeed  float64
	SlowFeed  float64
}

func (p SkewProbeParams) Validate() error {
	if p.Spacing == 0 || p.MaxTravel <= 0 || p.Retract <= 0 || p.FastFeed <= 0 || p.SlowFeed <= 0 {
		return fmt.Errorf("skew probe needs non-zero spacing and positive travel, retract and feeds: %+v", p)
	}
	return nil
}

func renderSkewBlock(p SkewProbeParams, shift bool) (string, error) {
	out, err := skewProbeTemplate.Execute(pongo2.Context{
		"shift":   shift,
		"spacing": formatNumber(p.Spacing),
		"travel":  formatNumber(p.MaxTravel),
		"fast":    formatNumber(p.FastFeed),
		"slow":    formatNumber(p.SlowFeed),
		"retract": formatNumber(p.Retract),
		"reprobe": formatNumber(p.Retract + 1),
	})
	if err != nil {
		return "", fmt.Errorf("render skew probe block: %w", err)
	}
	return out, nil
}
