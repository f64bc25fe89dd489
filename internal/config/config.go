// Package config loads session settings from YAML with environment
// overrides.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/cbegin/looprec-go/internal/clock"
	"github.com/cbegin/looprec-go/internal/playhead"
	"github.com/cbegin/looprec-go/internal/sequencer"
	"github.com/cbegin/looprec-go/internal/track"
	"github.com/cbegin/looprec-go/internal/voice"
)

const (
	EnvBPM        = "LOOPREC_BPM"
	EnvBars       = "LOOPREC_BARS"
	EnvLogLevel   = "LOOPREC_LOG_LEVEL"
	EnvSampleRate = "LOOPREC_SAMPLE_RATE"
)

const (
	DefaultBars       = 4
	DefaultColumns    = 8
	DefaultSampleRate = 44100
	DefaultStorePath  = "looprec.yaml"
)

// Surface binds a surface id to the voice it plays.
type Surface struct {
	ID    int    `yaml:"id"`
	Voice string `yaml:"voice"`
	// Key is the semitone for tone voices.
	Key int `yaml:"key,omitempty"`
	// Note overrides the exported MIDI key.
	Note uint8   `yaml:"note,omitempty"`
	Gain float64 `yaml:"gain,omitempty"`
	// Label is what the UI prints on the pad or key.
	Label string `yaml:"label,omitempty"`
}

type Rack struct {
	Name     string    `yaml:"name"`
	Kind     string    `yaml:"kind"`
	Tracks   int       `yaml:"tracks"`
	Policy   string    `yaml:"policy,omitempty"`
	Surfaces []Surface `yaml:"surfaces"`
}

type Config struct {
	BPM            float64 `yaml:"bpm"`
	Bars           int     `yaml:"bars"`
	CountInBeats   int     `yaml:"countInBeats"`
	BeatsPerColumn int     `yaml:"beatsPerColumn"`
	NumColumns     int     `yaml:"numColumns"`
	SyncPlayback   bool    `yaml:"syncPlayback"`
	Monitor        bool    `yaml:"monitor"`
	SampleRate     int     `yaml:"sampleRate"`
	LogLevel       string  `yaml:"logLevel"`
	StorePath      string  `yaml:"storePath"`
	Racks          []Rack  `yaml:"racks"`
}

var drumKit = []Surface{
	{ID: 0, Voice: "kick", Label: "KICK"},
	{ID: 1, Voice: "snare", Label: "SNARE"},
	{ID: 2, Voice: "hat", Label: "HAT"},
	{ID: 3, Voice: "clap", Label: "CLAP"},
}

var keyNames = []string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// PianoSurfaceBase is the first surface id of the default keyboard.
const PianoSurfaceBase = 100

func pianoKeys() []Surface {
	out := make([]Surface, len(keyNames))
	for i, name := range keyNames {
		out[i] = Surface{ID: PianoSurfaceBase + i, Voice: "tone", Key: i, Label: name}
	}
	return out
}

// Default is a four-track drum kit and a two-track keyboard at 120 BPM.
func Default() Config {
	return Config{
		BPM:            clock.DefaultBPM,
		Bars:           DefaultBars,
		CountInBeats:   sequencer.DefaultCountInBeats,
		BeatsPerColumn: playhead.DefaultBeatsPerColumn,
		NumColumns:     DefaultColumns,
		SyncPlayback:   true,
		Monitor:        true,
		SampleRate:     DefaultSampleRate,
		LogLevel:       "info",
		StorePath:      DefaultStorePath,
		Racks: []Rack{
			{Name: "Drums", Kind: string(sequencer.KindDrum), Tracks: sequencer.DefaultDrumTracks, Surfaces: drumKit},
			{Name: "Piano", Kind: string(sequencer.KindInstrument), Tracks: 2, Surfaces: pianoKeys()},
		},
	}
}

// Parse decodes YAML on top of the defaults. A document that names racks
// replaces the default racks entirely.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrap(err, "parse config")
	}
	return cfg, nil
}

// Load reads path; an empty path yields the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Default(), errors.Wrapf(err, "read config %s", path)
	}
	cfg, err := Parse(data)
	return cfg, errors.Wrapf(err, "config %s", path)
}

// ApplyEnv overrides fields from the LOOPREC_* variables. getenv is
// usually os.Getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv(EnvBPM); v != "" {
		bpm, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return errors.Wrapf(err, "%s", EnvBPM)
		}
		c.BPM = bpm
	}
	if v := getenv(EnvBars); v != "" {
		bars, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(err, "%s", EnvBars)
		}
		c.Bars = bars
	}
	if v := getenv(EnvSampleRate); v != "" {
		rate, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(err, "%s", EnvSampleRate)
		}
		c.SampleRate = rate
	}
	if v := getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	return nil
}

// Validate checks the session-wide fields. Racks are checked one at a time
// with Rack.Validate so a bad rack can be skipped.
func (c Config) Validate() error {
	if err := clock.ValidateUserBPM(c.BPM); err != nil {
		return errors.Wrap(err, "config")
	}
	if err := clock.ValidateBars(c.Bars); err != nil {
		return errors.Wrap(err, "config")
	}
	if c.CountInBeats < 0 {
		return errors.Errorf("config: countInBeats %d", c.CountInBeats)
	}
	if c.BeatsPerColumn < 1 || c.NumColumns < 0 {
		return errors.Errorf("config: column grid %d×%d", c.NumColumns, c.BeatsPerColumn)
	}
	if c.SampleRate < 8000 || c.SampleRate > 192000 {
		return errors.Errorf("config: sample rate %d", c.SampleRate)
	}
	if _, err := c.Level(); err != nil {
		return errors.Wrap(err, "config")
	}
	return nil
}

func (c Config) Level() (log.Level, error) {
	lvl, err := log.ParseLevel(strings.ToLower(strings.TrimSpace(c.LogLevel)))
	if err != nil {
		return log.InfoLevel, errors.Wrapf(err, "log level %q", c.LogLevel)
	}
	return lvl, nil
}

// Validate checks one rack definition in isolation.
func (r Rack) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return errors.New("rack without a name")
	}
	if _, err := sequencer.ParseKind(r.Kind); err != nil {
		return errors.Wrapf(err, "rack %s", r.Name)
	}
	if r.Tracks < 1 {
		return errors.Errorf("rack %s: tracks %d", r.Name, r.Tracks)
	}
	if r.Policy != "" {
		if _, err := track.ParsePolicy(r.Policy); err != nil {
			return errors.Wrapf(err, "rack %s", r.Name)
		}
	}
	if len(r.Surfaces) == 0 {
		return errors.Errorf("rack %s: no surfaces", r.Name)
	}
	seen := map[int]bool{}
	for _, s := range r.Surfaces {
		if seen[s.ID] {
			return errors.Errorf("rack %s: surface %d listed twice", r.Name, s.ID)
		}
		seen[s.ID] = true
		if _, err := voice.ParseKind(s.Voice); err != nil {
			return errors.Wrapf(err, "rack %s surface %d", r.Name, s.ID)
		}
	}
	return nil
}

// SurfaceIDs lists the rack's surface ids in declaration order.
func (r Rack) SurfaceIDs() []int {
	ids := make([]int, len(r.Surfaces))
	for i, s := range r.Surfaces {
		ids[i] = s.ID
	}
	return ids
}

// MatchPolicy is the configured policy, or nil for the kind's default.
func (r Rack) MatchPolicy() *track.MatchPolicy {
	if r.Policy == "" {
		return nil
	}
	p, err := track.ParsePolicy(r.Policy)
	if err != nil {
		return nil
	}
	return &p
}

// BankVoice converts a surface binding for the voice bank.
func (s Surface) BankVoice() (voice.Voice, error) {
	k, err := voice.ParseKind(s.Voice)
	if err != nil {
		return voice.Voice{}, err
	}
	return voice.Voice{Kind: k, Key: s.Key, Note: s.Note, Gain: s.Gain}, nil
}

// Marshal renders c as YAML, used to write a starter config.
func (c Config) Marshal() ([]byte, error) {
	out, err := yaml.Marshal(c)
	return out, errors.Wrap(err, "marshal config")
}
