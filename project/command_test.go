package project

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommand(t *testing.T) {
	cmd, ok, err := ParseCommand("(autolevel D5 H3 F100 M1.5 GRID4 P1 X-2)")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, CMD_AUTOLEVEL, cmd.Name)
	assert.Equal(t, map[string]float64{"D": 5, "H": 3, "F": 100, "M": 1.5, "GRID": 4, "P": 1, "X": -2}, cmd.Args)
	assert.True(t, cmd.Has("GRID"))
	assert.False(t, cmd.Has("Y"))
	assert.Equal(t, 7., cmd.Get("Y", 7))

	cmd, ok, err = ParseCommand("  AUTOLEVEL_STOP ")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, CMD_STOP, cmd.Name)

	cmd, _, err = ParseCommand("(autolevel_skew a-0.5)")
	require.NoError(t, err)
	assert.Equal(t, -0.5, cmd.Get("A", 0))
}

func TestParseCommandSettingsPayload(t *testing.T) {
	cmd, ok, err := ParseCommand(`(autolevel_save_settings {"delta": 5, "note": "a (b)"})`)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"delta": 5, "note": "a (b)"}`, cmd.Payload)
	assert.Empty(t, cmd.Args)
}

func TestParseCommandIgnoresGcode(t *testing.T) {
	for _, line := range []string{"G0 X1", "(just a comment)", "", "(autolevelling is fun)", "$H"} {
		_, ok, err := ParseCommand(line)
		assert.NoError(t, err, line)
		assert.False(t, ok, line)
	}
}

func TestParseCommandBadArgument(t *testing.T) {
	for _, line := range []string{"(autolevel Dx)", "(autolevel 10)", "(autolevel D)", "(autolevel D1..2)"} {
		_, ok, err := ParseCommand(line)
		assert.True(t, ok, line)
		assert.Error(t, err, line)
	}
}
