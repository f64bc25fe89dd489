package main

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/alexflint/go-arg"
	"github.com/charmbracelet/log"
	"github.com/pkg/errors"

	"github.com/cbegin/looprec-go"
	"github.com/cbegin/looprec-go/internal/config"
	"github.com/cbegin/looprec-go/internal/smfexport"
	"github.com/cbegin/looprec-go/internal/store"
	"github.com/cbegin/looprec-go/internal/voice"
)

type cli struct {
	Tracks []string `arg:"positional" help:"track ids to export; none exports every stored track"`
	Config string   `arg:"-c,--config" help:"session YAML file that defines the voices"`
	Store  string   `arg:"-s,--store" help:"track snapshot path, overrides storePath"`
	Out    string   `arg:"-o,--out" default:"." help:"output directory"`
	Passes int      `arg:"-n,--passes" default:"1" help:"loop repetitions per file"`
	NoMIDI bool     `arg:"--no-mid" help:"skip the Standard MIDI File"`
	WAV    bool     `arg:"--wav" help:"also bounce a 16-bit WAV"`
	List   bool     `arg:"-l,--list" help:"list stored tracks and exit"`
}

func (cli) Description() string {
	return "looprec-export writes recorded loops as .mid and .wav files"
}

type exporter struct {
	bank   *voice.Bank
	bpm    float64
	out    string
	passes int
	midi   bool
	wav    bool
	logger *log.Logger
}

func (x exporter) export(id string, rec store.Record) error {
	base := filepath.Join(x.out, id)
	if x.midi {
		opts := smfexport.Options{Passes: x.passes, Name: id}
		if err := smfexport.WriteFile(base+".mid", x.bpm, rec.LoopSeconds, rec.Events, x.bank, opts); err != nil {
			return errors.Wrapf(err, "export %s", id)
		}
		x.logger.Info("wrote midi", "track", id, "path", base+".mid")
	}
	if x.wav {
		f, err := os.Create(base + ".wav")
		if err != nil {
			return errors.Wrapf(err, "export %s", id)
		}
		if err := looprec.WriteWAV(f, x.bank, rec, x.passes); err != nil {
			f.Close()
			return errors.Wrapf(err, "export %s", id)
		}
		if err := f.Close(); err != nil {
			return errors.Wrapf(err, "close %s", f.Name())
		}
		x.logger.Info("wrote wav", "track", id, "path", base+".wav")
	}
	return nil
}

func run(a cli, logger *log.Logger) error {
	cfg, err := config.Load(a.Config)
	if err != nil {
		return err
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return err
	}
	if a.Store != "" {
		cfg.StorePath = a.Store
	}
	snapshot, err := store.OpenFile(cfg.StorePath)
	if err != nil {
		return err
	}
	ids := a.Tracks
	if len(ids) == 0 {
		ids = snapshot.IDs()
		sort.Strings(ids)
	}
	if a.List {
		for _, id := range ids {
			if rec, ok, _ := snapshot.Load(id); ok {
				logger.Print(id, "events", len(rec.Events), "loop", rec.LoopSeconds)
			}
		}
		return nil
	}
	bpm := cfg.BPM
	if snapshot.BPM() > 0 {
		bpm = snapshot.BPM()
	}
	if err := os.MkdirAll(a.Out, 0o755); err != nil {
		return errors.Wrapf(err, "create %s", a.Out)
	}
	x := exporter{
		bank:   looprec.NewVoiceBank(cfg),
		bpm:    bpm,
		out:    a.Out,
		passes: a.Passes,
		midi:   !a.NoMIDI,
		wav:    a.WAV,
		logger: logger,
	}
	exported := 0
	for _, id := range ids {
		rec, ok, err := snapshot.Load(id)
		if err != nil {
			return err
		}
		if !ok || len(rec.Events) == 0 {
			logger.Warn("no recording", "track", id)
			continue
		}
		if err := x.export(id, rec); err != nil {
			return err
		}
		exported++
	}
	if exported == 0 {
		return errors.Errorf("nothing exported from %s", cfg.StorePath)
	}
	return nil
}

func main() {
	var a cli
	arg.MustParse(&a)
	logger := log.NewWithOptions(os.Stderr, log.Options{Prefix: "looprec-export"})
	if err := run(a, logger); err != nil {
		logger.Fatal("export failed", "err", err)
	}
}
