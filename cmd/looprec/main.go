package main

import (
	"os"
	"time"

	"github.com/alexflint/go-arg"
	"github.com/charmbracelet/log"
	"github.com/hajimehoshi/ebiten/v2"
	"github.com/pkg/errors"

	"github.com/cbegin/looprec-go"
	"github.com/cbegin/looprec-go/internal/audio"
	"github.com/cbegin/looprec-go/internal/config"
	"github.com/cbegin/looprec-go/internal/store"
)

const audioBuffer = 40 * time.Millisecond

type cli struct {
	Config      string  `arg:"-c,--config" help:"session YAML file"`
	Store       string  `arg:"-s,--store" help:"track snapshot path, overrides storePath"`
	BPM         float64 `arg:"-b,--bpm" help:"tempo override"`
	Bars        int     `arg:"--bars" help:"loop length in bars"`
	LogLevel    string  `arg:"--log-level" help:"debug, info, warn or error"`
	NoMonitor   bool    `arg:"--no-monitor" help:"do not sound live pads"`
	WriteConfig string  `arg:"--write-config" help:"write the effective config to this path and exit"`
}

func (cli) Description() string {
	return "looprec records pads and keys into tempo-locked loops"
}

func loadConfig(a cli, logger *log.Logger) (config.Config, *store.File, error) {
	cfg, err := config.Load(a.Config)
	if err != nil {
		return cfg, nil, err
	}
	if a.Store != "" {
		cfg.StorePath = a.Store
	}
	snapshot, err := store.OpenFile(cfg.StorePath)
	if err != nil {
		return cfg, nil, err
	}
	if snapshot.BPM() > 0 {
		logger.Info("tempo restored from snapshot", "bpm", snapshot.BPM())
		cfg.BPM = snapshot.BPM()
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return cfg, nil, err
	}
	if a.BPM > 0 {
		cfg.BPM = a.BPM
	}
	if a.Bars > 0 {
		cfg.Bars = a.Bars
	}
	if a.LogLevel != "" {
		cfg.LogLevel = a.LogLevel
	}
	if a.NoMonitor {
		cfg.Monitor = false
	}
	return cfg, snapshot, cfg.Validate()
}

func main() {
	var a cli
	arg.MustParse(&a)

	logger := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true, Prefix: "looprec"})
	cfg, snapshot, err := loadConfig(a, logger)
	if err != nil {
		logger.Fatal("config", "err", err)
	}
	if lvl, err := cfg.Level(); err == nil {
		logger.SetLevel(lvl)
	}
	if a.WriteConfig != "" {
		out, err := cfg.Marshal()
		if err != nil {
			logger.Fatal("config", "err", err)
		}
		if err := os.WriteFile(a.WriteConfig, out, 0o644); err != nil {
			logger.Fatal("write config", "err", err)
		}
		logger.Info("config written", "path", a.WriteConfig)
		return
	}

	g, err := newGame(cfg, snapshot, logger)
	if err != nil {
		logger.Fatal("session", "err", err)
	}
	defer g.Close()

	sink := audio.NewSink(g.session.Bank(), audio.WithLogger(logger), audio.WithSampleTap(g.scope.Tap))
	g.session.SetSink(sink)
	player, err := audio.NewPlayer(cfg.SampleRate, sink, audioBuffer)
	if err != nil {
		logger.Warn("audio output unavailable, running silent", "err", err)
	} else {
		player.Play()
		defer player.Close()
	}
	defer sink.Close()

	ebiten.SetWindowSize(windowW, windowH)
	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
	ebiten.SetWindowSizeLimits(minWindowW, minWindowH, -1, -1)
	ebiten.SetWindowTitle("looprec")
	if err := ebiten.RunGame(g); err != nil && !errors.Is(err, ebiten.Termination) {
		logger.Error("ui", "err", err)
	}
}
