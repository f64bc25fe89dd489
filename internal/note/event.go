package note

import (
	"strings"

	"github.com/pkg/errors"
)

// Effect is the performance effect active when a surface was triggered.
type Effect int

const (
	EffectNone Effect = iota
	EffectReverb
	EffectDelay
)

var ErrUnknownEffect = errors.New("unknown effect")

func (e Effect) String() string {
	switch e {
	case EffectReverb:
		return "reverb"
	case EffectDelay:
		return "delay"
	default:
		return "none"
	}
}

func ParseEffect(name string) (Effect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none":
		return EffectNone, nil
	case "reverb":
		return EffectReverb, nil
	case "delay":
		return EffectDelay, nil
	}
	return EffectNone, errors.Wrapf(ErrUnknownEffect, "%q", name)
}

func (e Effect) MarshalYAML() (interface{}, error) {
	return e.String(), nil
}

func (e *Effect) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var name string
	if err := unmarshal(&name); err != nil {
		return err
	}
	parsed, err := ParseEffect(name)
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}

// Event is one captured surface trigger. Time is seconds since the owning
// track's loop start and is assigned when the event is appended to a track.
type Event struct {
	Surface int     `yaml:"surface"`
	On      bool    `yaml:"on"`
	Time    float64 `yaml:"time"`
	Octave  int     `yaml:"octave,omitempty"`
	Effect  Effect  `yaml:"effect,omitempty"`
	Track   string  `yaml:"track,omitempty"`
}

func NoteOn(surface, octave int, effect Effect) Event {
	return Event{Surface: surface, On: true, Octave: octave, Effect: effect}
}

func NoteOff(surface, octave int) Event {
	return Event{Surface: surface, Octave: octave}
}

// Clone returns a copy of events that shares no backing array with the input.
func Clone(events []Event) []Event {
	if events == nil {
		return nil
	}
	out := make([]Event, len(events))
	copy(out, events)
	return out
}
