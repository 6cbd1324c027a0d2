package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"autolevel/common/config"
	"autolevel/common/logger"
	"autolevel/common/utils/sys"
	"autolevel/project"
	"autolevel/project/util"

	"go.uber.org/multierr"
)

func main() {
	configPath := flag.String("config", "", "service config file (TOML)")
	programPath := flag.String("program", "", "G-code program to load at start")
	flag.Parse()

	cfg, err := config.LoadServiceConfig(util.ResolvePath(*configPath))
	if err != nil {
		logger.Fatalf("%v", err)
	}
	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		logger.Fatalf("%v", err)
	}
	logger.InitLogger(logger.Options{
		Level:      level,
		File:       util.ResolvePath(cfg.Log.File),
		Color:      cfg.Log.Color,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
	})
	logger.Debugf("main thread %d running on %s", sys.GetGID(), sys.GetCpuInfo())

	if err := run(cfg, *programPath); err != nil && !errors.Is(err, context.Canceled) {
		logger.Errorf("%v", err)
		_ = logger.Sync()
		os.Exit(1)
	}
	_ = logger.Sync()
}

func hostConfig(cfg config.ServiceConfig) project.AutolevelConfig {
	hc := project.DefaultAutolevelConfig()
	hc.OutDir = util.ResolvePath(cfg.Paths.OutDir)
	hc.StateFile = util.ResolvePath(cfg.Paths.StateFile)
	hc.SettingsFile = util.ResolvePath(cfg.Paths.SettingsFile)
	hc.ProbeFile = util.ResolvePath(cfg.Paths.ProbeFile)
	hc.ProbeDelta = cfg.Probe.Delta
	hc.ProbeHeight = cfg.Probe.Height
	hc.ProbeFeed = cfg.Probe.Feed
	hc.Arcs = project.ArcLinearizer{
		ResolutionMM:    cfg.Arc.ResolutionMM,
		ArtifactRatio:   cfg.Arc.ArtifactRatio,
		ArtifactChordMM: cfg.Arc.ArtifactChordMM,
	}
	return hc
}

func run(cfg config.ServiceConfig, programPath string) (err error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session := project.NewGrblCommun(cfg.Serial.Port, cfg.Serial.Baud, os.Stdout)
	if err := session.Connect(); err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, session.Disconnect())
	}()

	host, err := project.NewAutolevel(hostConfig(cfg), session)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, host.Close())
	}()

	if programPath != "" {
		text, err := os.ReadFile(util.ResolvePath(programPath))
		if err != nil {
			return err
		}
		host.LoadProgram(filepath.Base(programPath), string(text))
	}

	readerErr := make(chan error, 1)
	sys.Go("grbl reader", func() {
		readerErr <- session.Run(ctx, host.HandleControllerData)
	})
	sys.Go("command input", func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := scanner.Text()
			handled, err := host.HandleCommand(line)
			if err != nil {
				logger.Warnf("%s: %v", line, err)
			}
			if handled {
				continue
			}
			if err := session.SendGcode(line); err != nil {
				logger.Errorf("send %q: %v", line, err)
			}
		}
		stop()
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-readerErr:
		return err
	}
}
