package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

type SerialConfig struct {
	Port string `toml:"port"`
	Baud int    `toml:"baud"`
}

type PathsConfig struct {
	OutDir       string `toml:"out_dir"`
	StateFile    string `toml:"state_file"`
	SettingsFile string `toml:"settings_file"`
	ProbeFile    string `toml:"probe_file"`
}

type LogConfig struct {
	Level      string `toml:"level"`
	File       string `toml:"file"`
	Color      bool   `toml:"color"`
	MaxSize    int    `toml:"max_size"`
	MaxBackups int    `toml:"max_backups"`
	MaxAge     int    `toml:"max_age"`
}

// ProbeDefaults apply when a probe command omits a letter.
type ProbeDefaults struct {
	Delta  float64 `toml:"delta"`
	Height float64 `toml:"height"`
	Feed   float64 `toml:"feed"`
}

type ArcConfig struct {
	ResolutionMM    float64 `toml:"resolution_mm"`
	ArtifactRatio   float64 `toml:"artifact_ratio"`
	ArtifactChordMM float64 `toml:"artifact_chord_mm"`
}

type ServiceConfig struct {
	Serial SerialConfig  `toml:"serial"`
	Paths  PathsConfig   `toml:"paths"`
	Log    LogConfig     `toml:"log"`
	Probe  ProbeDefaults `toml:"probe"`
	Arc    ArcConfig     `toml:"arc"`
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Serial: SerialConfig{Baud: 115200},
		Paths: PathsConfig{
			StateFile:    "~/.autolevel/state.json",
			SettingsFile: "~/.autolevel/settings.json",
			ProbeFile:    "~/.autolevel/probe.txt",
		},
		Log:   LogConfig{Level: "info", MaxSize: 10, MaxBackups: 3, MaxAge: 7},
		Probe: ProbeDefaults{Delta: 10, Height: 2, Feed: 50},
		Arc:   ArcConfig{ResolutionMM: 0.5, ArtifactRatio: 10, ArtifactChordMM: 1},
	}
}

// LoadServiceConfig overlays the TOML file at path on the defaults.
// An empty path yields the defaults.
func LoadServiceConfig(path string) (ServiceConfig, error) {
	cfg := DefaultServiceConfig()
	if path == "" {
		return cfg, nil
	}
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return cfg, fmt.Errorf("decode %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return cfg, fmt.Errorf("unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}
	return cfg, cfg.Validate()
}

func (c ServiceConfig) Validate() error {
	var errs []string
	if c.Serial.Baud <= 0 {
		errs = append(errs, "serial.baud must be positive")
	}
	if c.Probe.Delta <= 0 {
		errs = append(errs, "probe.delta must be positive")
	}
	if c.Probe.Height <= 0 {
		errs = append(errs, "probe.height must be positive")
	}
	if c.Probe.Feed <= 0 {
		errs = append(errs, "probe.feed must be positive")
	}
	if c.Arc.ResolutionMM <= 0 {
		errs = append(errs, "arc.resolution_mm must be positive")
	}
	if c.Arc.ArtifactRatio < 1 {
		errs = append(errs, "arc.artifact_ratio must be at least 1")
	}
	if c.Arc.ArtifactChordMM < 0 {
		errs = append(errs, "arc.artifact_chord_mm must not be negative")
	}
	if c.Paths.StateFile == "" || c.Paths.ProbeFile == "" || c.Paths.SettingsFile == "" {
		errs = append(errs, "paths.state_file, paths.settings_file and paths.probe_file are required")
	}
	if len(errs) > 0 {
		return errors.New("invalid config: " + strings.Join(errs, "; "))
	}
	return nil
}
