package project

import (
	"fmt"
	"math"
	"strings"

	"autolevel/common/logger"

	uuid "github.com/satori/go.uuid"
	"go.uber.org/zap"
)

const (
	MESH_TAG = "#AL:"
	SKEW_TAG = "#SK:"

	DEFAULT_PROBE_DELTA_MM = 10.

	progressEvery = 1000
)

// HeightMap is the surface the compensator follows.
type HeightMap interface {
	InterpolateZ(x, y float64) (float64, error)
	ZeroOffset() (float64, error)
	Validate() error
}

type CompensationOptions struct {
	ApplyMesh bool
	ApplySkew bool
}

type CompensationResult struct {
	RunID       string
	Name        string
	Text        string
	MeshApplied bool
	SkewApplied bool
	ZeroOffset  float64
	Warnings    []string
}

// Compensator rewrites a program to follow a probed surface and a skew
// angle. It keeps no state between Apply calls.
type Compensator struct {
	Mesh      HeightMap
	SkewAngle float64
	Splitter  SegmentSplitter
	Arcs      *ArcLinearizer
	Start     Position
	// Notify receives operator facing progress and warning messages.
	Notify func(msg string)
}

func NewCompensator(mesh HeightMap, skewAngle, deltaMM float64) *Compensator {
	return &Compensator{
		Mesh:      mesh,
		SkewAngle: skewAngle,
		Splitter:  SegmentSplitter{DeltaMM: deltaMM},
		Arcs:      NewArcLinearizer(),
		Start:     DefaultStartPosition(),
	}
}

// ApplyCompensation runs a default compensator over text.
func ApplyCompensation(name, text string, mesh HeightMap, skewAngle float64, opts CompensationOptions) (*CompensationResult, error) {
	return NewCompensator(mesh, skewAngle, DEFAULT_PROBE_DELTA_MM).Apply(name, text, opts)
}

type compensationRun struct {
	*Compensator
	log      *zap.SugaredLogger
	result   *CompensationResult
	meshOn   bool
	skewOn   bool
	zero     float64
	lineNo   int
	out      []string
	repeated map[string]int
}

func (self *compensationRun) notify(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if self.Notify != nil {
		self.Notify(msg)
	}
}

// warn reports the first warning of a kind immediately and counts repeats.
func (self *compensationRun) warn(kind, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	self.log.Warnf("line %d: %s", self.lineNo, msg)
	self.repeated[kind]++
	if self.repeated[kind] > 1 {
		return
	}
	self.result.Warnings = append(self.result.Warnings, msg)
	self.notify("WARNING: %s", msg)
}

func (self *compensationRun) flushRepeats() {
	for kind, n := range self.repeated {
		if n > 1 {
			self.notify("WARNING: %d lines with: %s", n, kind)
		}
	}
}

// Apply returns the compensated program. A ParseError aborts the run and
// nothing is returned; ErrNothingApplied means every requested aspect was
// skipped.
func (self *Compensator) Apply(name, text string, opts CompensationOptions) (*CompensationResult, error) {
	run := &compensationRun{
		Compensator: self,
		result:      &CompensationResult{RunID: uuid.NewV4().String()},
		repeated:    map[string]int{},
	}
	run.log = logger.Run("compensation", run.result.RunID)
	run.log.Infof("compensating %s mesh=%v skew=%v", name, opts.ApplyMesh, opts.ApplySkew)

	if err := run.resolveAspects(name, opts); err != nil {
		return nil, err
	}

	lines := strings.Split(text, "\n")
	tracker := NewModalStateTracker(self.Start)
	for i, raw := range lines {
		if i > 0 && i%progressEvery == 0 {
			run.notify("progress ... %d/%d", i, len(lines))
		}
		run.lineNo = i + 1
		pl, err := tracker.ParseLine(strings.TrimRight(raw, "\r"))
		if err != nil {
			run.log.Errorf("aborted: %v", err)
			return nil, err
		}
		if err := run.emitLine(pl, tracker.State()); err != nil {
			run.log.Errorf("aborted: %v", err)
			return nil, err
		}
	}
	run.flushRepeats()

	prefix := ""
	if run.meshOn {
		prefix += MESH_TAG
	}
	if run.skewOn {
		prefix += SKEW_TAG
	}
	run.result.Name = prefix + name
	run.result.Text = strings.Join(run.out, "\n")
	run.result.MeshApplied = run.meshOn
	run.result.SkewApplied = run.skewOn
	run.result.ZeroOffset = run.zero
	run.log.Infof("produced %s, %d lines", run.result.Name, len(run.out))
	return run.result, nil
}

func (self *compensationRun) resolveAspects(name string, opts CompensationOptions) error {
	if opts.ApplyMesh {
		switch {
		case strings.Contains(name, MESH_TAG):
			self.warn("mesh", "Mesh already applied to this file. Skipping Mesh.")
			self.log.Debugf("%v: mesh", ErrAlreadyApplied)
		case self.Mesh == nil:
			self.warn("mesh", "%v: no mesh. Skipping Mesh.", ErrInsufficientMeshSamples)
		default:
			err := self.Mesh.Validate()
			var zero float64
			if err == nil {
				zero, err = self.Mesh.ZeroOffset()
			}
			if err != nil {
				self.warn("mesh", "%v. Skipping Mesh.", err)
				break
			}
			self.meshOn, self.zero = true, zero
			self.notify("Mesh normalized to Z=%.3f at origin", zero)
		}
	}
	if opts.ApplySkew {
		switch {
		case math.Abs(self.SkewAngle) < skewEpsilon:
			self.warn("skew", "Skew requested but angle is 0. No rotation applied.")
		case strings.Contains(name, SKEW_TAG):
			self.warn("skew", "Skew already applied to this file. Skipping Skew.")
			self.log.Debugf("%v: skew", ErrAlreadyApplied)
		default:
			self.skewOn = true
			self.notify("Skew application ENABLED - Angle: %.3f deg", RadToDeg(self.SkewAngle))
		}
	}
	if !self.meshOn && !self.skewOn {
		return ErrNothingApplied
	}
	return nil
}

func (self *compensationRun) emit(line string) {
	self.out = append(self.out, line)
}

func (self *compensationRun) emitLine(pl ParsedLine, state ModalState) error {
	switch pl.Kind {
	case LINE_COMMENT:
		self.emit(strings.TrimSpace(pl.Text))
		return nil
	case LINE_EMPTY, LINE_SYSTEM:
		self.emit(pl.Text)
		return nil
	}
	if pl.Exempt || !pl.HasMove {
		self.emit(pl.Text)
		return nil
	}
	switch {
	case state.Motion.IsLinear():
		return self.emitLinear(pl, state)
	case state.Motion.IsArc():
		return self.emitArc(pl, state)
	}
	self.emit(pl.Text)
	return nil
}

func (self *compensationRun) compensate(p Position) (Position, error) {
	out := p
	if self.skewOn {
		r := Rotate(p.Point3, self.SkewAngle)
		out.X, out.Y = r.X, r.Y
	}
	if self.meshOn && p.HasZ {
		z, err := self.Mesh.InterpolateZ(out.X, out.Y)
		if err != nil {
			return out, fmt.Errorf("line %d: %w", self.lineNo, err)
		}
		out.Z = p.Z + z - self.zero
	}
	return out, nil
}

// wordsExcept rebuilds the block without the given letters, making sure it
// starts with a motion code.
func wordsExcept(pl ParsedLine, letters string, motionCode string, dropMotion bool) []string {
	var parts []string
	if pl.MotionWord < 0 && motionCode != "" {
		parts = append(parts, motionCode)
	}
	for i, w := range pl.Words {
		if strings.IndexByte(letters, w.Letter) >= 0 || (dropMotion && i == pl.MotionWord) {
			continue
		}
		parts = append(parts, w.Raw)
	}
	return parts
}

func formatMove(sb *strings.Builder, p Position, units Units) {
	fmt.Fprintf(sb, " X%.3f Y%.3f", units.FromMM(p.X), units.FromMM(p.Y))
	if p.HasZ {
		fmt.Fprintf(sb, " Z%.3f", units.FromMM(p.Z))
	}
}

func (self *compensationRun) emitLinear(pl ParsedLine, state ModalState) error {
	if !state.Absolute {
		self.warn("relative", "G91 (Relative) move passed through uncompensated.")
		self.emit(pl.Text)
		return nil
	}
	if !pl.Target.HasXY() {
		self.warn("unknown-xy", "Move after an untracked position passed through uncompensated.")
		self.emit(pl.Text)
		return nil
	}

	var pts []Position
	if pl.Origin.Known() && pl.Target.Known() {
		for _, p := range self.Splitter.Split(pl.Origin.Point3, pl.Target.Point3, UNITS_MM) {
			pts = append(pts, KnownPosition(p))
		}
	}
	if len(pts) == 0 {
		pts = []Position{pl.Target}
	}

	base := strings.Join(wordsExcept(pl, "XYZF", state.MotionCode, false), " ")
	for i, p := range pts {
		c, err := self.compensate(p)
		if err != nil {
			return err
		}
		var sb strings.Builder
		sb.WriteString(blockPrefix(pl) + base)
		formatMove(&sb, c, state.Units)
		if i == 0 && pl.FeedWord >= 0 {
			sb.WriteString(" " + pl.Words[pl.FeedWord].Raw)
		}
		if p.HasZ {
			fmt.Fprintf(&sb, " ; Z%.3f", state.Units.FromMM(p.Z))
		}
		self.emit(strings.TrimSpace(sb.String()))
	}
	return nil
}

// arcPassthrough keeps an untouched arc block explicit, the controller may
// be in G1 after earlier linearized arcs.
func arcPassthrough(pl ParsedLine, state ModalState) string {
	if pl.MotionWord >= 0 {
		return pl.Text
	}
	text := strings.TrimSpace(pl.Text)
	if pl.BlockDelete && strings.HasPrefix(text, "/") {
		return "/" + state.MotionCode + " " + strings.TrimSpace(text[1:])
	}
	return state.MotionCode + " " + text
}

// blockPrefix keeps every line of a split "/" block optional.
func blockPrefix(pl ParsedLine) string {
	if pl.BlockDelete {
		return "/"
	}
	return ""
}

func (self *compensationRun) emitArc(pl ParsedLine, state ModalState) error {
	if !state.Absolute {
		self.warn("relative-arc", "G91 (Relative) arc passed through uncompensated.")
		self.emit(arcPassthrough(pl, state))
		return nil
	}
	if !pl.Origin.Known() || !pl.Target.Known() {
		self.warn("arc-start", "Arc without valid start point. Passing through.")
		self.emit(arcPassthrough(pl, state))
		return nil
	}

	path := self.Arcs.Linearize(pl.Origin.Point3, pl.Target.Point3, pl.Arc, state.Motion == MOTION_ARC_CW, UNITS_MM, state.Plane)
	if path.Fallback != nil {
		self.warn("degenerate-arc", "Arc replaced by a straight move (%v).", path.Fallback)
	}
	attrs := strings.Join(wordsExcept(pl, "XYZIJKRP", "", true), " ")

	first := true
	for p, ok := path.Next(); ok; p, ok = path.Next() {
		pos := KnownPosition(p)
		c, err := self.compensate(pos)
		if err != nil {
			return err
		}
		var sb strings.Builder
		sb.WriteString(blockPrefix(pl) + "G1")
		formatMove(&sb, c, state.Units)
		if first && attrs != "" {
			sb.WriteString(" " + attrs)
		}
		first = false
		fmt.Fprintf(&sb, " ; %s Z%.3f", state.MotionCode, state.Units.FromMM(p.Z))
		self.emit(sb.String())
	}
	return nil
}
