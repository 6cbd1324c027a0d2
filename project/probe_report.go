package project

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	reportBufferLimit  = 5000
	reportBufferRetain = 4000
)

type ReportKind int

const (
	REPORT_PROBE ReportKind = iota
	REPORT_WORK_OFFSET
	REPORT_G54
	// other "$#" lines: G55-G59, G28, G30, G92 and TLO
	REPORT_PARAMETER
	REPORT_OK
)

// ControllerReport is one parsed GRBL report. Point is in machine
// coordinates for probe reports.
type ControllerReport struct {
	Kind    ReportKind
	Point   Point3
	HasFlag bool
	Success bool
}

// ReportScanner pulls [PRB:..], [G54:..], the rest of the "$#" parameter
// lines, <..|WCO:..|..> status reports and "ok" acknowledgements out of the
// raw controller stream. Reports may arrive split across reads.
type ReportScanner struct {
	buffer string
}

func NewReportScanner() *ReportScanner {
	return &ReportScanner{}
}

// Feed appends data and returns the complete reports it now holds.
// Malformed reports are returned as errors and skipped.
func (self *ReportScanner) Feed(data string) ([]ControllerReport, []error) {
	self.buffer += data
	if len(self.buffer) > reportBufferLimit {
		cut := len(self.buffer) - reportBufferRetain
		if nl := strings.IndexByte(self.buffer[cut:], '\n'); nl >= 0 {
			cut += nl + 1
		}
		self.buffer = self.buffer[cut:]
	}

	var reports []ControllerReport
	var errs []error
	for {
		open := strings.IndexAny(self.buffer, "[<")
		if open < 0 {
			// keep a partial line, it may be the start of "ok"
			self.buffer = scanAcks(self.buffer, &reports)
			break
		}
		scanAcks(self.buffer[:open], &reports)
		closer := byte(']')
		if self.buffer[open] == '<' {
			closer = '>'
		}
		rest := self.buffer[open+1:]
		end := strings.IndexByte(rest, closer)
		// a report never spans lines
		if nl := strings.IndexAny(rest, "\r\n"); nl >= 0 && (end < 0 || nl < end) {
			self.buffer = rest[nl+1:]
			continue
		}
		if end < 0 {
			self.buffer = self.buffer[open:]
			break
		}
		body := rest[:end]
		if k := strings.LastIndexAny(body, "[<"); k >= 0 {
			self.buffer = body[k:] + rest[end:]
			continue
		}
		self.buffer = rest[end+1:]

		report, ok, err := parseReport(body, closer)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			reports = append(reports, report)
		}
	}
	return reports, errs
}

// scanAcks appends a REPORT_OK for every complete "ok" line of text and
// returns the trailing partial line.
func scanAcks(text string, reports *[]ControllerReport) string {
	lines := strings.Split(text, "\n")
	for _, line := range lines[:len(lines)-1] {
		if strings.TrimSpace(line) == "ok" {
			*reports = append(*reports, ControllerReport{Kind: REPORT_OK})
		}
	}
	return lines[len(lines)-1]
}

func isParameterReport(body string) bool {
	for _, prefix := range []string{"G55:", "G56:", "G57:", "G58:", "G59:", "G28:", "G30:", "G92:", "TLO:"} {
		if strings.HasPrefix(body, prefix) {
			return true
		}
	}
	return false
}

func parseReport(body string, closer byte) (ControllerReport, bool, error) {
	if closer == '>' {
		for _, field := range strings.Split(body, "|") {
			if strings.HasPrefix(field, "WCO:") {
				p, err := parseTriple(field[len("WCO:"):])
				if err != nil {
					return ControllerReport{}, false, fmt.Errorf("%w: <%s>: %v", ErrMalformedProbeReport, body, err)
				}
				return ControllerReport{Kind: REPORT_WORK_OFFSET, Point: p}, true, nil
			}
		}
		return ControllerReport{}, false, nil
	}

	switch {
	case strings.HasPrefix(body, "PRB:"):
		parts := strings.SplitN(body[len("PRB:"):], ":", 2)
		p, err := parseTriple(parts[0])
		if err != nil {
			return ControllerReport{}, false, fmt.Errorf("%w: [%s]: %v", ErrMalformedProbeReport, body, err)
		}
		r := ControllerReport{Kind: REPORT_PROBE, Point: p, Success: true}
		if len(parts) == 2 {
			r.HasFlag = true
			r.Success = strings.TrimSpace(parts[1]) != "0"
		}
		return r, true, nil
	case strings.HasPrefix(body, "G54:"):
		p, err := parseTriple(body[len("G54:"):])
		if err != nil {
			return ControllerReport{}, false, fmt.Errorf("%w: [%s]: %v", ErrMalformedProbeReport, body, err)
		}
		return ControllerReport{Kind: REPORT_G54, Point: p}, true, nil
	case isParameterReport(body):
		return ControllerReport{Kind: REPORT_PARAMETER}, true, nil
	}
	return ControllerReport{}, false, nil
}

// parseTriple reads the first three comma separated numbers, further axes
// are ignored.
func parseTriple(s string) (Point3, error) {
	parts := strings.Split(s, ",")
	if len(parts) < 3 {
		return Point3{}, fmt.Errorf("expected 3 values, got %d", len(parts))
	}
	var v [3]float64
	for i := 0; i < 3; i++ {
		f, err := strconv.ParseFloat(strings.TrimSpace(parts[i]), 64)
		if err != nil {
			return Point3{}, err
		}
		if !isFinite(f) {
			return Point3{}, fmt.Errorf("value %q out of range", parts[i])
		}
		v[i] = f
	}
	return Point3{X: v[0], Y: v[1], Z: v[2]}, nil
}
