package project

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"autolevel/common/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	gcode    []string
	messages []string
	programs map[string]string
}

func (s *fakeSession) SendGcode(block string) error {
	s.gcode = append(s.gcode, block)
	return nil
}

func (s *fakeSession) SendMessage(msg string) error {
	s.messages = append(s.messages, msg)
	return nil
}

func (s *fakeSession) LoadProgram(name, text string) error {
	if s.programs == nil {
		s.programs = map[string]string{}
	}
	s.programs[name] = text
	return nil
}

func (s *fakeSession) hasPrefix(prefix string) bool {
	for _, m := range s.messages {
		if strings.HasPrefix(m, prefix) {
			return true
		}
	}
	return false
}

func testHostConfig(t *testing.T) AutolevelConfig {
	dir := t.TempDir()
	cfg := DefaultAutolevelConfig()
	cfg.OutDir = filepath.Join(dir, "out")
	cfg.StateFile = filepath.Join(dir, "state.json")
	cfg.SettingsFile = filepath.Join(dir, "settings.json")
	cfg.ProbeFile = filepath.Join(dir, "probe.txt")
	return cfg
}

func newTestHost(t *testing.T, cfg AutolevelConfig) (*Autolevel, *fakeSession) {
	s := &fakeSession{}
	host, err := NewAutolevel(cfg, s)
	require.NoError(t, err)
	t.Cleanup(func() {
		host.Close()
	})
	return host, s
}

func prb(x, y, z float64) string {
	return fmt.Sprintf("[PRB:%.3f,%.3f,%.3f:1]\nok\n", x, y, z)
}

// paramsReply is the controller answer to "$#". It ends with the position
// of the last probe, which may come from a previous run.
func paramsReply(g54 string) string {
	var lines []string
	if g54 != "" {
		lines = append(lines, "[G54:"+g54+"]")
	}
	lines = append(lines,
		"[G55:0.000,0.000,0.000]", "[G56:0.000,0.000,0.000]", "[G57:0.000,0.000,0.000]",
		"[G58:0.000,0.000,0.000]", "[G59:0.000,0.000,0.000]",
		"[G28:0.000,0.000,0.000]", "[G30:0.000,0.000,0.000]", "[G92:0.000,0.000,0.000]",
		"[TLO:0.000]", "[PRB:55.000,66.000,-7.000:1]", "ok", "")
	return strings.Join(lines, "\n")
}

const testProgram = "G21\nG90\nG0 X0 Y0 Z1\nG1 X20 F100\nG1 Y10\n"

func TestAutolevelProbeRunAndCompensate(t *testing.T) {
	cfg := testHostConfig(t)
	host, s := newTestHost(t, cfg)
	assert.Contains(t, s.messages, "(AL: DEBUG: Loaded 0 points)")
	host.LoadProgram("part.nc", testProgram)

	handled, err := host.HandleCommand("(autolevel D10 M0 H2 F50)")
	require.True(t, handled)
	require.NoError(t, err)
	require.Len(t, s.gcode, 3)
	assert.Equal(t, "$#", s.gcode[0])
	assert.Equal(t, "?", s.gcode[1])
	assert.True(t, strings.HasPrefix(s.gcode[2], "(AL: probing initial point)"))
	assert.Contains(t, s.messages, "(AL: auto-leveling started)")
	assert.Contains(t, s.messages, "(AL: total_points 6)")

	// machine Z is 1 mm below work Z, the surface rises 0.01 per mm of X
	host.HandleControllerData(paramsReply("0.000,0.000,-1.000"))
	assert.Len(t, s.gcode, 3)
	assert.Empty(t, host.Mesh())
	points := []ProbePoint{{0, 0}, {10, 0}, {20, 0}, {20, 10}, {10, 10}, {0, 10}}
	for i, p := range points {
		host.HandleControllerData(prb(p.X, p.Y, 0.01*p.X-1))
		if i < len(points)-1 {
			assert.Len(t, s.gcode, 4+i, "one block per report")
		}
	}
	assert.Len(t, s.gcode, 8)
	assert.Contains(t, s.messages, "(AL: progress 6 6)")
	assert.Contains(t, s.messages, "(AL: dz_min=0.000, dz_max=0.200, dz_avg=0.100)")
	assert.Contains(t, s.messages, "(AL: finished)")

	name, text := host.Program()
	assert.Equal(t, "#AL:part.nc", name)
	assert.Equal(t, text, s.programs["#AL:part.nc"])
	assert.Contains(t, text, "G1 X10.000 Y0.000 Z1.100 F100 ; Z1.000")

	written, err := os.ReadFile(filepath.Join(cfg.OutDir, "#AL:part.nc"))
	require.NoError(t, err)
	assert.Equal(t, text, string(written))

	stored, err := LoadProbeFile(cfg.ProbeFile)
	require.NoError(t, err)
	assert.Len(t, stored, 6)
	assert.Len(t, host.Mesh(), 6)

	// the mesh is already in the program and there is no skew
	handled, err = host.HandleCommand("(autolevel_reapply)")
	assert.True(t, handled)
	assert.True(t, errors.Is(err, ErrNothingApplied))
	assert.Contains(t, s.messages, "(AL: No new compensation applied. Check warnings.)")
	assert.Contains(t, s.messages, "(AL: dumping mesh start)")

	_, err = host.HandleCommand("(autolevel_skew A1.5)")
	require.NoError(t, err)
	assert.InDelta(t, DegToRad(1.5), host.SkewAngle(), 1e-12)
	assert.Contains(t, s.messages, "(AL: Skew angle set to 1.500 deg)")

	_, err = host.HandleCommand("(autolevel_reapply)")
	require.NoError(t, err)
	name, _ = host.Program()
	assert.Equal(t, "#SK:#AL:part.nc", name)

	// a restart restores mesh and skew
	host2, s2 := newTestHost(t, cfg)
	assert.Len(t, host2.Mesh(), 6)
	assert.InDelta(t, DegToRad(1.5), host2.SkewAngle(), 1e-12)
	assert.Contains(t, s2.messages, "(AL: DEBUG: Loaded 6 points)")
}

func TestAutolevelProbeOnlyWithWorkOffset(t *testing.T) {
	host, s := newTestHost(t, testHostConfig(t))

	_, err := host.HandleCommand("(autolevel P1 X10 Y10 D10 M0)")
	require.NoError(t, err)
	assert.Contains(t, s.messages, "(AL: no gcode loaded)")
	assert.Contains(t, s.messages, "(AL: total_points 4)")

	host.HandleControllerData(paramsReply(""))
	host.HandleControllerData("<Idle|MPos:1.000,2.000,3.000|FS:0,0|WCO:1.000,2.000,3.000>\n")
	want := []Point3{{0, 0, 0.5}, {10, 0, 0.25}, {10, 10, 0}, {0, 10, -0.25}}
	for _, p := range want {
		host.HandleControllerData(prb(p.X+1, p.Y+2, p.Z+3))
	}
	got := host.Mesh()
	require.Len(t, got, 4)
	for i := range want {
		assert.InDelta(t, want[i].X, got[i].X, 1e-9)
		assert.InDelta(t, want[i].Y, got[i].Y, 1e-9)
		assert.InDelta(t, want[i].Z, got[i].Z, 1e-9)
	}
	assert.Equal(t, "(AL: finished)", s.messages[len(s.messages)-1])
	assert.Empty(t, s.programs)

	// reports after the run are ignored
	host.HandleControllerData(prb(5, 5, 5))
	assert.Len(t, host.Mesh(), 4)
}

func TestAutolevelNeedsProgram(t *testing.T) {
	host, s := newTestHost(t, testHostConfig(t))
	_, err := host.HandleCommand("(autolevel)")
	assert.True(t, errors.Is(err, ErrNoProgram))
	assert.Empty(t, s.gcode)

	_, err = host.HandleCommand("(autolevel P1)")
	assert.True(t, errors.Is(err, ErrNoProbeArea))

	_, err = host.HandleCommand("(autolevel_apply_mesh)")
	assert.True(t, errors.Is(err, ErrNoProgram))

	handled, err := host.HandleCommand("G0 X1")
	assert.False(t, handled)
	assert.NoError(t, err)
}

func TestAutolevelStopKeepsSamples(t *testing.T) {
	host, s := newTestHost(t, testHostConfig(t))
	host.LoadProgram("part.nc", testProgram)
	_, err := host.HandleCommand("(autolevel D10 M0)")
	require.NoError(t, err)
	host.HandleControllerData(paramsReply("0.000,0.000,0.000"))

	host.HandleControllerData(prb(0, 0, -1))
	host.HandleControllerData(prb(10, 0, -1))
	sent := len(s.gcode)

	_, err = host.HandleCommand("(autolevel_stop)")
	require.NoError(t, err)
	assert.Contains(t, s.messages, "(AL: Drip Feed Stopped)")

	host.HandleControllerData(prb(20, 0, -1))
	assert.Len(t, s.gcode, sent)
	assert.Len(t, host.Mesh(), 2)
	name, _ := host.Program()
	assert.Equal(t, "part.nc", name)
}

func TestAutolevelSkewMeasurement(t *testing.T) {
	cfg := testHostConfig(t)
	host, s := newTestHost(t, cfg)

	_, err := host.HandleCommand("(autolevel_skew_measure S50 T20)")
	require.NoError(t, err)
	require.Len(t, s.gcode, 1)
	assert.Contains(t, s.gcode[0], "G38.2 Y20 F100")

	host.HandleControllerData(prb(0, 9.8, 0))
	host.HandleControllerData(prb(0, 10, 0))
	require.Len(t, s.gcode, 2)
	assert.Contains(t, s.gcode[1], "G0 X50")

	host.HandleControllerData(prb(50, 10.8, 0))
	host.HandleControllerData(prb(50, 11, 0))
	assert.InDelta(t, math.Atan2(1, 50), host.SkewAngle(), 1e-9)
	assert.Contains(t, s.messages, "(AL: Skew angle set to 1.146 deg)")
	assert.Empty(t, host.Mesh())

	state, err := config.ReadState(cfg.StateFile)
	require.NoError(t, err)
	assert.InDelta(t, math.Atan2(1, 50), state.SkewAngle, 1e-9)

	// measured skew applies to a program
	host.LoadProgram("part.nc", testProgram)
	_, err = host.HandleCommand("(autolevel_apply_skew)")
	require.NoError(t, err)
	name, _ := host.Program()
	assert.Equal(t, "#SK:part.nc", name)
}

func TestAutolevelSettingsAndMesh(t *testing.T) {
	host, s := newTestHost(t, testHostConfig(t))

	_, err := host.HandleCommand("(autolevel_fetch_settings)")
	require.NoError(t, err)
	assert.Contains(t, s.messages, "(AL: SETTINGS {})")
	assert.Contains(t, s.messages, "(AL: Current Skew: 0.000 deg)")

	_, err = host.HandleCommand(`(autolevel_save_settings {"delta": 5})`)
	require.NoError(t, err)
	assert.Contains(t, s.messages, "(AL: Settings saved successfully)")
	_, err = host.HandleCommand("(autolevel_fetch_settings)")
	require.NoError(t, err)
	assert.Contains(t, s.messages, `(AL: SETTINGS {"delta": 5})`)

	_, err = host.HandleCommand("(autolevel_save_settings {broken)")
	assert.True(t, errors.Is(err, config.ErrInvalidSettings))
	assert.True(t, s.hasPrefix("(AL: ERROR: Could not save settings"))

	_, err = host.HandleCommand("(autolevel_get_mesh)")
	require.NoError(t, err)
	assert.Contains(t, s.messages, "(AL: no mesh data - points array is empty)")

	_, err = host.HandleCommand("(autolevel P1 X10 Y10 D10 M0)")
	require.NoError(t, err)
	host.HandleControllerData(paramsReply("0.000,0.000,0.000"))
	for _, p := range []Point3{{0, 0, 0}, {10, 0, 0}, {10, 10, 0}, {0, 10, 0}} {
		host.HandleControllerData(prb(p.X, p.Y, p.Z))
	}
	s.messages = nil
	_, err = host.HandleCommand("(autolevel_get_mesh)")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"(AL: dumping mesh start)",
		"(AL: D 0.000,0.000,0.000 10.000,0.000,0.000 10.000,10.000,0.000 0.000,10.000,0.000)",
		"(AL: finished)",
	}, s.messages)

	_, err = host.HandleCommand("(autolevel_clear_mesh)")
	require.NoError(t, err)
	assert.Empty(t, host.Mesh())
	assert.Contains(t, s.messages, "(AL: mesh cleared)")
}

func TestAutolevelParameterReplyIsNotASample(t *testing.T) {
	host, s := newTestHost(t, testHostConfig(t))
	host.LoadProgram("part.nc", testProgram)
	_, err := host.HandleCommand("(autolevel D10 M0)")
	require.NoError(t, err)
	require.Len(t, s.gcode, 3)

	// the reply may be split anywhere, including inside the PRB line
	reply := paramsReply("0.000,0.000,-1.000")
	cut := strings.Index(reply, "[PRB:") + 7
	host.HandleControllerData(reply[:cut])
	host.HandleControllerData(reply[cut:])
	assert.Len(t, s.gcode, 3, "setup block still in flight")
	assert.Empty(t, host.Mesh())
	assert.False(t, s.hasPrefix("(AL: PROBED"))

	host.HandleControllerData(prb(0, 0, -1))
	assert.Len(t, s.gcode, 4)
	assert.Equal(t, []Point3{{0, 0, 0}}, host.Mesh())
	assert.Contains(t, s.messages, "(AL: progress 1 6)")
}

func TestAutolevelUnload(t *testing.T) {
	host, s := newTestHost(t, testHostConfig(t))
	host.LoadProgram("part.nc", testProgram)

	handled, err := host.HandleCommand("(autolevel_unload)")
	assert.True(t, handled)
	require.NoError(t, err)
	name, text := host.Program()
	assert.Empty(t, name)
	assert.Empty(t, text)
	assert.Contains(t, s.messages, "(AL: DEBUG: gcode:unload)")

	// the detected bounds went with the program
	_, err = host.HandleCommand("(autolevel P1)")
	assert.True(t, errors.Is(err, ErrNoProbeArea))
}
