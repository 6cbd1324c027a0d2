package project

import (
	"fmt"
	"strings"
)

// ModalState is the interpreter state carried from one block to the next.
// Position is kept in millimetres whatever the active units are.
type ModalState struct {
	Absolute   bool
	Units      Units
	Plane      Plane
	Motion     MotionMode
	MotionCode string
	Position   Position
}

// DefaultStartPosition is the assumed position before the first move:
// X and Y at the work origin, Z unknown until the program sets it.
func DefaultStartPosition() Position {
	return Position{HasX: true, HasY: true}
}

func NewModalState(start Position) ModalState {
	return ModalState{
		Absolute:   true,
		Units:      UNITS_MM,
		Plane:      PLANE_XY,
		Motion:     MOTION_RAPID,
		MotionCode: "G0",
		Position:   start,
	}
}

type LineKind int

const (
	LINE_CODE LineKind = iota
	LINE_COMMENT
	LINE_EMPTY
	LINE_SYSTEM
)

// ArcArgs are the arc words of a block, distances in millimetres.
type ArcArgs struct {
	I, J, K, R, P    float64
	HasI, HasJ, HasK bool
	HasR, HasP       bool
}

func (a ArcArgs) HasOffset() bool {
	return a.HasI || a.HasJ || a.HasK
}

type ParsedLine struct {
	Text     string
	Stripped string
	Kind     LineKind
	Words    []Word

	// HasMove is set when the block carries an X, Y or Z word.
	HasMove bool
	// Exempt blocks are forwarded untouched.
	Exempt       bool
	MachineFrame bool
	// BlockDelete marks a "/" block. It is tracked as if executed.
	BlockDelete bool

	MotionWord int
	FeedWord   int

	Origin Position
	Target Position
	Arc    ArcArgs
}

func isProbeCode(v float64) bool {
	return v > 38.05 && v < 39
}

func motionFor(w Word) (MotionMode, bool) {
	switch {
	case w.Is('G', 0):
		return MOTION_RAPID, true
	case w.Is('G', 1):
		return MOTION_LINEAR, true
	case w.Is('G', 2):
		return MOTION_ARC_CW, true
	case w.Is('G', 3):
		return MOTION_ARC_CCW, true
	case w.Is('G', 80):
		return MOTION_NONE, true
	case w.Letter == 'G' && isProbeCode(w.Value):
		return MOTION_PROBE, true
	}
	return MOTION_NONE, false
}

func isCoordinateSelect(v float64) bool {
	return v >= 54 && v < 60
}

// ParseLine interprets one block against state and returns the new state.
// The first G90/G91, G20/G21, G17-G19 and group 1 word on a block decides
// its category, later ones on the same block are ignored.
func ParseLine(line string, state ModalState) (ParsedLine, ModalState, error) {
	pl := ParsedLine{
		Text:       line,
		MotionWord: -1,
		FeedWord:   -1,
		Origin:     state.Position,
		Target:     state.Position,
	}
	if IsCommentOnly(line) {
		pl.Kind = LINE_COMMENT
		return pl, state, nil
	}
	pl.Stripped = StripComments(line)
	if strings.HasPrefix(pl.Stripped, "/") {
		pl.BlockDelete = true
		pl.Stripped = strings.TrimSpace(pl.Stripped[1:])
	}
	pl.Stripped = StripChecksum(pl.Stripped)
	if pl.Stripped == "" {
		pl.Kind = LINE_EMPTY
		return pl, state, nil
	}
	if pl.Stripped[0] == '%' || pl.Stripped[0] == '$' {
		pl.Kind = LINE_SYSTEM
		return pl, state, nil
	}

	words, err := Tokenize(pl.Stripped)
	if err != nil {
		return pl, state, err
	}
	pl.Words = words

	next := state
	var seenDistance, seenUnits, seenPlane, homing, setsCoordinates bool
	var axisValue [3]float64
	var axisSeen [3]bool
	arc := ArcArgs{}

	for i, w := range words {
		switch w.Letter {
		case 'G':
			if mode, ok := motionFor(w); ok {
				if pl.MotionWord < 0 {
					pl.MotionWord = i
					next.Motion = mode
					next.MotionCode = w.Code()
				}
				continue
			}
			switch {
			case w.Is('G', 90) || w.Is('G', 91):
				if !seenDistance {
					next.Absolute = w.Is('G', 90)
					seenDistance = true
				}
			case w.Is('G', 20) || w.Is('G', 21):
				if !seenUnits {
					next.Units = UNITS_MM
					if w.Is('G', 20) {
						next.Units = UNITS_INCH
					}
					seenUnits = true
				}
			case w.Is('G', 17) || w.Is('G', 18) || w.Is('G', 19):
				if !seenPlane {
					next.Plane = PLANE_XY + Plane(int(w.Value+0.5)-17)
					seenPlane = true
				}
			case w.Is('G', 53):
				pl.MachineFrame = true
				pl.Exempt = true
			case w.Is('G', 28) || w.Is('G', 30):
				homing = true
				pl.Exempt = true
			case w.Is('G', 4) || w.Is('G', 28.1) || w.Is('G', 30.1):
				pl.Exempt = true
			case w.Is('G', 10) || (w.Value >= 92 && w.Value < 93):
				setsCoordinates = true
				pl.Exempt = true
			case isCoordinateSelect(w.Value):
				pl.Exempt = true
			}
		case 'M':
			pl.Exempt = true
		case 'X', 'Y', 'Z':
			idx := int(w.Letter - 'X')
			if axisSeen[idx] {
				return pl, state, fmt.Errorf("duplicate %c word", w.Letter)
			}
			axisSeen[idx] = true
			axisValue[idx] = w.Value
		case 'I':
			arc.I, arc.HasI = w.Value, true
		case 'J':
			arc.J, arc.HasJ = w.Value, true
		case 'K':
			arc.K, arc.HasK = w.Value, true
		case 'R':
			arc.R, arc.HasR = w.Value, true
		case 'P':
			arc.P, arc.HasP = w.Value, true
		case 'F':
			if pl.FeedWord < 0 {
				pl.FeedWord = i
			}
		}
	}

	u := next.Units
	arc.I, arc.J, arc.K, arc.R = u.ToMM(arc.I), u.ToMM(arc.J), u.ToMM(arc.K), u.ToMM(arc.R)
	pl.Arc = arc

	target := state.Position
	absolute := next.Absolute || setsCoordinates
	coords := [3]*float64{&target.X, &target.Y, &target.Z}
	known := [3]*bool{&target.HasX, &target.HasY, &target.HasZ}
	for idx := 0; idx < 3; idx++ {
		if !axisSeen[idx] {
			continue
		}
		pl.HasMove = true
		v := u.ToMM(axisValue[idx])
		switch {
		case absolute:
			*coords[idx] = v
			*known[idx] = true
		case *known[idx]:
			*coords[idx] += v
		}
	}

	// the end point of these moves is not a work coordinate we can trust
	forget := pl.MachineFrame || (next.Motion == MOTION_PROBE && pl.HasMove && !pl.Exempt)
	for idx := 0; idx < 3; idx++ {
		if homing || (forget && axisSeen[idx]) {
			*known[idx] = false
		}
	}

	next.Position = target
	pl.Target = target
	return pl, next, nil
}

// ModalStateTracker feeds a program through ParseLine one block at a time
// and numbers the lines for error reports.
type ModalStateTracker struct {
	state ModalState
	line  int
}

func NewModalStateTracker(start Position) *ModalStateTracker {
	return &ModalStateTracker{state: NewModalState(start)}
}

func (self *ModalStateTracker) ParseLine(line string) (ParsedLine, error) {
	self.line++
	pl, next, err := ParseLine(line, self.state)
	if err != nil {
		return pl, &ParseError{Line: self.line, Text: line, Err: err}
	}
	self.state = next
	return pl, nil
}

func (self *ModalStateTracker) State() ModalState {
	return self.state
}

func (self *ModalStateTracker) LineNumber() int {
	return self.line
}
