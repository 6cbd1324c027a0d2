package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"autolevel/common/file"
	"autolevel/common/logger"
)

// State is what survives a restart besides the probe file.
type State struct {
	SkewAngle float64 `json:"skewAngle"`
}

var ErrInvalidSettings = errors.New("settings are not valid JSON")

func ReadState(stateFile string) (State, error) {
	var state State
	content, err := os.ReadFile(stateFile)
	if errors.Is(err, os.ErrNotExist) {
		return state, nil
	}
	if err != nil {
		return state, err
	}
	if err = json.Unmarshal(content, &state); err != nil {
		logger.Errorf("unmarshal %s error: %v", stateFile, err)
		return State{}, fmt.Errorf("parse %s: %w", stateFile, err)
	}
	return state, nil
}

func SaveState(stateFile string, state State) error {
	d, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return file.WriteFileWithSync(stateFile, d)
}

// ReadSettings returns the stored operator settings, "{}" when none were saved.
func ReadSettings(settingsFile string) (string, error) {
	content, err := os.ReadFile(settingsFile)
	if errors.Is(err, os.ErrNotExist) {
		return "{}", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(content)), nil
}

// SaveSettings stores an opaque JSON document after checking it parses.
func SaveSettings(settingsFile string, raw string) error {
	raw = strings.TrimSpace(raw)
	if !json.Valid([]byte(raw)) {
		return ErrInvalidSettings
	}
	return file.WriteFileWithSync(settingsFile, []byte(raw))
}
