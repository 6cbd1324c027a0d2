package project

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"autolevel/common/config"
	"autolevel/common/file"
	"autolevel/common/logger"
	"autolevel/project/util"

	uuid "github.com/satori/go.uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Session is the controller connection as seen by the host. SendMessage
// carries operator facing "(AL: ...)" lines.
type Session interface {
	SendGcode(block string) error
	SendMessage(msg string) error
	LoadProgram(name, text string) error
}

type AutolevelConfig struct {
	OutDir       string
	StateFile    string
	SettingsFile string
	ProbeFile    string

	ProbeDelta  float64
	ProbeHeight float64
	ProbeFeed   float64

	Arcs      ArcLinearizer
	SkewProbe SkewProbeParams
}

func DefaultAutolevelConfig() AutolevelConfig {
	return AutolevelConfig{
		ProbeDelta:  DEFAULT_PROBE_DELTA_MM,
		ProbeHeight: 2,
		ProbeFeed:   50,
		Arcs:        *NewArcLinearizer(),
		SkewProbe: SkewProbeParams{
			Spacing:   50,
			MaxTravel: 20,
			Retract:   2,
			FastFeed:  100,
			SlowFeed:  25,
		},
	}
}

// Autolevel hosts one controller session: it plans and drip feeds probe
// runs, turns probe reports into mesh samples and rewrites the loaded
// program once a run completes. Every entry point takes the lock, so serial
// reads and operator commands never interleave.
type Autolevel struct {
	lock    sync.Mutex
	cfg     AutolevelConfig
	session Session

	mesh        *SurfaceMesh
	accumulator *ProbeAccumulator
	dispatcher  *ProbeCommandDispatcher
	scanner     *ReportScanner
	probeLog    *ProbeLog
	skewMeasure *SkewMeasurement
	runLog      *zap.SugaredLogger

	wco      Point3
	g54      Point3
	g54Known bool

	// the "$#" reply ends with the last probe position, which is not a
	// result of this run
	paramsPending bool
	paramsSeen    bool

	state       config.State
	programName string
	program     string
	bounds      Bounds
	hasBounds   bool
	probeOnly   bool

	delta  float64
	height float64
	feed   float64
}

func NewAutolevel(cfg AutolevelConfig, session Session) (*Autolevel, error) {
	self := &Autolevel{}
	self.cfg = cfg
	self.session = session
	self.mesh = NewSurfaceMesh(nil)
	self.dispatcher = NewProbeCommandDispatcher(session)
	self.scanner = NewReportScanner()
	self.runLog = logger.Run("probe", "")
	self.delta, self.height, self.feed = cfg.ProbeDelta, cfg.ProbeHeight, cfg.ProbeFeed

	state, err := config.ReadState(cfg.StateFile)
	if err != nil {
		return nil, fmt.Errorf("load autolevel state: %w", err)
	}
	self.state = state

	points, err := LoadProbeFile(cfg.ProbeFile)
	if err != nil {
		logger.Warnf("read probe file %s: %v", cfg.ProbeFile, err)
		self.message("DEBUG: Error reading probe file: %v", err)
	}
	for _, p := range points {
		self.mesh.AddSample(p)
	}
	logger.Infof("autolevel ready: %d stored samples, skew %.3f deg", len(points), RadToDeg(state.SkewAngle))
	self.message("DEBUG: Loaded %d points", len(points))
	return self, nil
}

func (self *Autolevel) message(format string, args ...interface{}) {
	self.sendRaw("(AL: " + fmt.Sprintf(format, args...) + ")")
}

func (self *Autolevel) sendRaw(line string) {
	if err := self.session.SendMessage(line); err != nil {
		logger.Warnf("send message %q: %v", line, err)
	}
}

// LoadProgram stores the program later runs compensate.
func (self *Autolevel) LoadProgram(name, text string) {
	self.lock.Lock()
	defer self.lock.Unlock()
	self.loadProgram(name, text)
	self.message("DEBUG: gcode:load - SkewAngle: %.3f deg, File: %s", RadToDeg(self.state.SkewAngle), name)
}

func (self *Autolevel) loadProgram(name, text string) {
	self.programName, self.program = name, text
	bounds, err := DetectBounds(text)
	self.bounds, self.hasBounds = bounds, err == nil
	if err != nil {
		logger.Infof("no bounds for %s: %v", name, err)
		return
	}
	logger.Infof("program %s bounds %v", name, bounds)
}

func (self *Autolevel) unloadProgram() {
	if self.programName != "" {
		logger.Infof("program %s unloaded", self.programName)
	}
	self.programName, self.program = "", ""
	self.hasBounds = false
	self.message("DEBUG: gcode:unload")
}

// Program returns the current program name and text.
func (self *Autolevel) Program() (string, string) {
	self.lock.Lock()
	defer self.lock.Unlock()
	return self.programName, self.program
}

func (self *Autolevel) SkewAngle() float64 {
	self.lock.Lock()
	defer self.lock.Unlock()
	return self.state.SkewAngle
}

func (self *Autolevel) Mesh() []Point3 {
	self.lock.Lock()
	defer self.lock.Unlock()
	return self.mesh.Samples()
}

// HandleCommand runs an operator command. handled is false when line is
// not a command and should go to the controller unchanged.
func (self *Autolevel) HandleCommand(line string) (bool, error) {
	cmd, ok, err := ParseCommand(line)
	if !ok {
		return false, nil
	}
	self.lock.Lock()
	defer self.lock.Unlock()
	if err != nil {
		self.message("ERROR: %v", err)
		return true, err
	}
	logger.Infof("command %s %v", cmd.Name, cmd.Args)

	switch cmd.Name {
	case CMD_AUTOLEVEL:
		err = self.start(cmd)
	case CMD_REAPPLY:
		err = self.reapply()
	case CMD_APPLY_MESH:
		err = self.applyCompensation(CompensationOptions{ApplyMesh: true})
	case CMD_APPLY_SKEW:
		err = self.applyCompensation(CompensationOptions{ApplySkew: true})
	case CMD_SKEW:
		err = self.setSkew(cmd)
	case CMD_SKEW_MEASURE:
		err = self.startSkewMeasure(cmd)
	case CMD_CLEAR_MESH:
		err = self.clearMesh()
	case CMD_GET_MESH:
		self.dumpMesh()
	case CMD_STOP:
		err = self.stop()
	case CMD_FETCH_SETTINGS:
		err = self.fetchSettings()
	case CMD_SAVE_SETTINGS:
		err = self.saveSettings(cmd.Payload)
	case CMD_UNLOAD:
		self.unloadProgram()
	}
	return true, err
}

func (self *Autolevel) probeArea(cmd Command) (Bounds, error) {
	b := self.bounds
	hasX, hasY := self.hasBounds, self.hasBounds
	if cmd.Has("X") {
		b.Min.X, b.Max.X, hasX = 0, cmd.Get("X", 0), true
	}
	if cmd.Has("Y") {
		b.Min.Y, b.Max.Y, hasY = 0, cmd.Get("Y", 0), true
	}
	if !hasX || !hasY {
		return b, fmt.Errorf("%w: give X and Y or load a program with moves", ErrNoProbeArea)
	}
	return b, nil
}

func (self *Autolevel) start(cmd Command) error {
	probeOnly := cmd.Get("P", 0) != 0
	if self.program == "" {
		self.message("no gcode loaded")
		if !probeOnly {
			return ErrNoProgram
		}
	}
	if self.skewMeasure != nil {
		self.message("ERROR: skew measurement in progress")
		return ErrProbeRunActive
	}

	self.delta = cmd.Get("D", self.delta)
	self.height = cmd.Get("H", self.height)
	self.feed = cmd.Get("F", self.feed)
	margin := cmd.Get("M", self.delta/4)
	bounds, err := self.probeArea(cmd)
	if err != nil {
		self.message("ERROR: %v", err)
		return err
	}
	plan, err := PlanProbeGrid(GridRequest{
		Bounds: bounds,
		Delta:  self.delta,
		Margin: margin,
		Grid:   int(cmd.Get("GRID", 0)),
		Height: self.height,
		Feed:   self.feed,
	})
	if err != nil {
		self.message("ERROR: %v", err)
		return err
	}

	if self.probeLog == nil {
		if self.probeLog, err = OpenProbeLog(self.cfg.ProbeFile); err != nil {
			self.message("Could not open probe file %v", err)
		} else {
			self.message("Opened probe file %s", self.probeLog.Path())
		}
	}

	runID := uuid.NewV4().String()
	self.runLog = logger.Run("probe", runID)
	self.runLog.Infof("STEP: %v mm HEIGHT: %v mm FEED: %v MARGIN: %v mm PROBE ONLY: %v area %v grid %dx%d",
		self.delta, self.height, self.feed, margin, probeOnly, bounds, plan.XCount, plan.YCount)
	self.message("auto-leveling started")

	// fresh work offsets before the first probe report
	self.paramsPending, self.paramsSeen = true, false
	if err := self.session.SendGcode("$#"); err != nil {
		self.paramsPending = false
		return err
	}
	if err := self.session.SendGcode("?"); err != nil {
		return err
	}

	self.probeOnly = probeOnly
	self.mesh.Reset()
	self.accumulator = NewProbeAccumulator(self.mesh, plan.Total())
	self.message("total_points %d", plan.Total())
	if err := self.dispatcher.Enqueue(plan.Blocks); err != nil {
		self.accumulator = nil
		self.message("ERROR: %v", err)
		return err
	}
	return nil
}

// HandleControllerData consumes raw controller output.
func (self *Autolevel) HandleControllerData(data string) {
	self.lock.Lock()
	defer self.lock.Unlock()
	reports, errs := self.scanner.Feed(data)
	for _, err := range errs {
		self.runLog.Warnf("ignored report: %v", err)
	}
	for _, r := range reports {
		switch r.Kind {
		case REPORT_WORK_OFFSET:
			self.wco = r.Point
		case REPORT_G54:
			self.g54, self.g54Known = r.Point, true
			self.noteParameter()
		case REPORT_PARAMETER:
			self.noteParameter()
		case REPORT_OK:
			if self.paramsPending && self.paramsSeen {
				self.paramsPending, self.paramsSeen = false, false
				self.runLog.Debugf("parameter report complete")
			}
		case REPORT_PROBE:
			if self.paramsPending {
				self.noteParameter()
				self.runLog.Debugf("ignored last probe position %v from parameter report", r.Point)
				continue
			}
			if r.HasFlag && !r.Success {
				self.message("WARNING: probe report without contact at %s", r.Point)
			}
			if self.skewMeasure != nil {
				self.skewTouch(r.Point)
				continue
			}
			self.probeSample(r.Point)
		}
	}
}

func (self *Autolevel) noteParameter() {
	if self.paramsPending {
		self.paramsSeen = true
	}
}

func (self *Autolevel) workPoint(machine Point3) Point3 {
	offset := self.wco
	if self.g54Known {
		offset = self.g54
	}
	return machine.Sub(offset)
}

func (self *Autolevel) probeSample(machine Point3) {
	if self.accumulator == nil || self.accumulator.IsComplete() {
		self.runLog.Debugf("ignored probe report %v, no run active", machine)
		return
	}
	pt := self.workPoint(machine)
	if self.probeLog != nil {
		if err := self.probeLog.Record(pt); err != nil {
			self.runLog.Errorf("record probe %v: %v", pt, err)
		}
	}
	complete := self.accumulator.AddSample(pt)
	n, total := self.accumulator.Progress()
	self.message("PROBED %s %s %s", formatNumber(pt.X), formatNumber(pt.Y), formatNumber(pt.Z))
	self.message("progress %d %d", n, total)
	self.runLog.Infof("probed %d/%d> %.3f %.3f %.3f", n, total, pt.X, pt.Y, pt.Z)

	if _, err := self.dispatcher.Advance(); err != nil {
		self.message("ERROR: drip feed: %v", err)
	}
	if complete {
		self.finishProbeRun()
	}
}

func (self *Autolevel) finishProbeRun() {
	stats := self.accumulator.Stats()
	self.message("dz_min=%.3f, dz_max=%.3f, dz_avg=%.3f", stats.Min, stats.Max, stats.Mean)
	self.runLog.Infof("probing complete, %d points, dz span %.3f", stats.Count, stats.Span())
	if err := self.closeProbeLog(); err != nil {
		self.runLog.Errorf("close probe file: %v", err)
	}
	self.accumulator = nil
	self.wco = Point3{}
	if self.probeOnly {
		self.message("finished")
		return
	}
	if err := self.applyCompensation(CompensationOptions{ApplyMesh: true, ApplySkew: true}); err != nil {
		self.runLog.Warnf("compensation after probing: %v", err)
	}
}

func (self *Autolevel) closeProbeLog() error {
	if self.probeLog == nil {
		return nil
	}
	err := self.probeLog.Close()
	self.probeLog = nil
	return err
}

func (self *Autolevel) compensator() *Compensator {
	arcs := self.cfg.Arcs
	return &Compensator{
		Mesh:      self.mesh,
		SkewAngle: self.state.SkewAngle,
		Splitter:  SegmentSplitter{DeltaMM: self.delta},
		Arcs:      &arcs,
		Start:     DefaultStartPosition(),
		Notify: func(msg string) {
			self.message("%s", msg)
		},
	}
}

func (self *Autolevel) applyCompensation(opts CompensationOptions) error {
	if self.program == "" {
		self.message("No G-code loaded. Please load a file first.")
		return ErrNoProgram
	}
	self.message("applying skew=%v mesh=%v ...", opts.ApplySkew, opts.ApplyMesh)
	res, err := self.compensator().Apply(self.programName, self.program, opts)
	if errors.Is(err, ErrNothingApplied) {
		self.message("No new compensation applied. Check warnings.")
		return err
	}
	if err != nil {
		self.message("error occurred %v", err)
		return err
	}

	self.message("loading new gcode %s ...", res.Name)
	if err := self.session.LoadProgram(res.Name, res.Text); err != nil {
		self.message("error occurred %v", err)
		return err
	}
	self.loadProgram(res.Name, res.Text)
	if self.cfg.OutDir != "" {
		out := util.ProgramFilePath(self.cfg.OutDir, res.Name)
		if err := file.WriteFileWithSync(out, []byte(res.Text)); err != nil {
			self.message("error occurred %v", err)
			return err
		}
		self.message("output file written to %s", out)
	}
	self.message("finished")
	return nil
}

func (self *Autolevel) reapply() error {
	if self.program == "" {
		self.message("no gcode loaded")
		return ErrNoProgram
	}
	if self.mesh.Len() < 3 && math.Abs(self.state.SkewAngle) < skewEpsilon {
		self.message("no previous autolevel points or skew")
		return ErrNothingApplied
	}
	err := self.applyCompensation(CompensationOptions{ApplyMesh: true, ApplySkew: true})
	self.dumpMesh()
	return err
}

func (self *Autolevel) setSkew(cmd Command) error {
	if !cmd.Has("A") {
		self.message("Current Skew: %.3f deg", RadToDeg(self.state.SkewAngle))
		return nil
	}
	deg := cmd.Get("A", 0)
	self.state.SkewAngle = DegToRad(deg)
	self.message("Skew angle set to %.3f deg", deg)
	return self.saveState()
}

func (self *Autolevel) saveState() error {
	if err := config.SaveState(self.cfg.StateFile, self.state); err != nil {
		logger.Errorf("save autolevel state: %v", err)
		return err
	}
	return nil
}

func (self *Autolevel) startSkewMeasure(cmd Command) error {
	if self.accumulator != nil {
		self.message("ERROR: probe run in progress")
		return ErrProbeRunActive
	}
	def := self.cfg.SkewProbe
	params := SkewProbeParams{
		Spacing:   cmd.Get("S", def.Spacing),
		MaxTravel: cmd.Get("T", def.MaxTravel),
		Retract:   cmd.Get("R", def.Retract),
		FastFeed:  cmd.Get("F", def.FastFeed),
		SlowFeed:  cmd.Get("V", def.SlowFeed),
	}
	if err := params.Validate(); err != nil {
		self.message("ERROR: %v", err)
		return err
	}
	m := NewSkewMeasurement(params)
	block, err := m.FirstBlock()
	if err != nil {
		return err
	}
	self.skewMeasure = m
	self.message("Skew: Probing Point 1...")
	if err := self.dispatcher.Enqueue([]string{block}); err != nil {
		self.skewMeasure = nil
		self.message("ERROR: %v", err)
		return err
	}
	return nil
}

// skewTouch works on machine coordinates, only the direction between the
// two touches matters.
func (self *Autolevel) skewTouch(p Point3) {
	next, done, err := self.skewMeasure.AddTouch(p)
	if err != nil {
		self.message("ERROR: %v", err)
		self.skewMeasure = nil
		self.dispatcher.Cancel()
		return
	}
	if next != "" {
		self.message("Skew: Moving to Point 2...")
		if err := self.dispatcher.Enqueue([]string{next}); err != nil {
			self.message("ERROR: %v", err)
			self.skewMeasure = nil
		}
		return
	}
	if !done {
		return
	}
	if _, err := self.dispatcher.Advance(); err != nil {
		logger.Warnf("skew measurement: %v", err)
	}
	p1, p2 := self.skewMeasure.Points()
	self.state.SkewAngle = self.skewMeasure.Angle()
	self.skewMeasure = nil
	logger.Infof("skew measured from %v and %v", p1, p2)
	self.message("Skew angle set to %.3f deg", RadToDeg(self.state.SkewAngle))
	if err := self.saveState(); err != nil {
		self.message("ERROR: could not save skew: %v", err)
	}
}

func (self *Autolevel) clearMesh() error {
	self.mesh.Reset()
	self.accumulator = nil
	err := multierr.Append(self.closeProbeLog(), TruncateProbeFile(self.cfg.ProbeFile))
	if err != nil {
		logger.Errorf("clear probe file: %v", err)
	}
	self.message("mesh cleared")
	return err
}

func (self *Autolevel) dumpMesh() {
	if self.mesh.Len() == 0 {
		self.message("no mesh data - points array is empty")
		return
	}
	self.message("dumping mesh start")
	for _, line := range self.mesh.DumpLines() {
		self.sendRaw(line)
	}
	self.message("finished")
}

func (self *Autolevel) stop() error {
	dropped := self.dispatcher.Cancel()
	logger.Infof("drip feed stopped, %d blocks dropped", dropped)
	self.accumulator = nil
	self.skewMeasure = nil
	self.paramsPending, self.paramsSeen = false, false
	err := self.closeProbeLog()
	self.message("Drip Feed Stopped")
	return err
}

func (self *Autolevel) fetchSettings() error {
	settings, err := config.ReadSettings(self.cfg.SettingsFile)
	if err != nil {
		self.message("ERROR: Could not read settings")
		return err
	}
	self.message("SETTINGS %s", strings.Join(strings.Fields(settings), " "))
	self.message("Current Skew: %.3f deg", RadToDeg(self.state.SkewAngle))
	if self.programName != "" {
		self.message("Loaded File: %s", self.programName)
	}
	return nil
}

func (self *Autolevel) saveSettings(payload string) error {
	if err := config.SaveSettings(self.cfg.SettingsFile, payload); err != nil {
		self.message("ERROR: Could not save settings - %v", err)
		return err
	}
	self.message("Settings saved successfully")
	return nil
}

// Close stops any run and releases the probe file.
func (self *Autolevel) Close() error {
	self.lock.Lock()
	defer self.lock.Unlock()
	self.dispatcher.Cancel()
	self.accumulator = nil
	self.paramsPending, self.paramsSeen = false, false
	return self.closeProbeLog()
}
