package note

import (
	"errors"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestParseEffect(t *testing.T) {
	cases := map[string]Effect{
		"":        EffectNone,
		"none":    EffectNone,
		"Reverb":  EffectReverb,
		" delay ": EffectDelay,
	}
	for in, want := range cases {
		got, err := ParseEffect(in)
		if err != nil || got != want {
			t.Errorf("ParseEffect(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseEffect("flanger"); !errors.Is(err, ErrUnknownEffect) {
		t.Fatalf("expected ErrUnknownEffect, got %v", err)
	}
}

func TestEffectYAMLUsesNames(t *testing.T) {
	raw, err := yaml.Marshal(NoteOn(3, 4, EffectDelay))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Event
	if err := yaml.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Effect != EffectDelay || back.Surface != 3 || !back.On || back.Octave != 4 {
		t.Fatalf("unexpected event after yaml: %+v (%s)", back, raw)
	}
}

func TestCloneDoesNotAlias(t *testing.T) {
	src := []Event{NoteOn(1, 0, EffectNone)}
	dup := Clone(src)
	dup[0].Surface = 9
	if src[0].Surface != 1 {
		t.Fatal("clone aliases source")
	}
	if Clone(nil) != nil {
		t.Fatal("clone of nil should be nil")
	}
}
