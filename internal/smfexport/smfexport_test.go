package smfexport

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/cbegin/looprec-go/internal/clock"
	"github.com/cbegin/looprec-go/internal/note"
)

// keys maps surface 0 to a kick and surfaces 100+ to tones.
type keys struct{}

func (keys) MIDIKey(surface, octave int) (uint8, uint8, bool) {
	switch {
	case surface == 0:
		return PercussionChannel, 36, true
	case surface >= 100:
		return 0, uint8(12*(octave+1) + surface - 100), true
	}
	return 0, 0, false
}

func ev(surface int, on bool, time float64, octave int) note.Event {
	return note.Event{Surface: surface, On: on, Time: time, Octave: octave}
}

type hit struct {
	tick    uint32
	on      bool
	channel uint8
	key     uint8
}

func noteHits(t *testing.T, tr smf.Track) []hit {
	t.Helper()
	var abs uint32
	var out []hit
	for _, e := range tr {
		abs += e.Delta
		var ch, key, vel uint8
		msg := midi.Message(e.Message)
		switch {
		case msg.GetNoteOn(&ch, &key, &vel):
			out = append(out, hit{abs, vel > 0, ch, key})
		case msg.GetNoteOff(&ch, &key, &vel):
			out = append(out, hit{abs, false, ch, key})
		}
	}
	return out
}

func TestBuildPlacesNotesOnTheBeatGrid(t *testing.T) {
	events := []note.Event{
		ev(100, true, 1.0, 4),
		ev(0, true, 0.5, 0),
		ev(100, false, 1.5, 4),
		ev(7, true, 0.2, 0),
	}
	s, err := Build(120, 2, events, keys{}, Options{Name: "Kit_0"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(s.Tracks) != 2 {
		t.Fatalf("tracks = %d, want 2", len(s.Tracks))
	}
	got := noteHits(t, s.Tracks[1])
	want := []hit{
		{960, true, 9, 36},
		{1200, false, 9, 36},
		{1920, true, 0, 60},
		{2880, false, 0, 60},
	}
	if len(got) != len(want) {
		t.Fatalf("hits = %+v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("hit %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestUnpairedToneClosesAtPassEnd(t *testing.T) {
	s, err := Build(120, 2, []note.Event{ev(101, true, 1.0, 4)}, keys{}, Options{Passes: 2})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	got := noteHits(t, s.Tracks[1])
	want := []hit{
		{1920, true, 0, 61},
		{3840, false, 0, 61},
		{5760, true, 0, 61},
		{7680, false, 0, 61},
	}
	if len(got) != len(want) {
		t.Fatalf("hits = %+v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("hit %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestNoteOffAcrossTheSeam(t *testing.T) {
	events := []note.Event{ev(100, false, 0.25, 4), ev(100, true, 1.75, 4)}
	s, err := Build(120, 2, events, keys{}, Options{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	got := noteHits(t, s.Tracks[1])
	if len(got) != 2 || got[0].tick != 3360 || got[1].tick != 4320 {
		t.Fatalf("hits = %+v", got)
	}
}

func TestWriteReadsBack(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, 120, 4, []note.Event{ev(0, true, 0, 0)}, keys{}, Options{}); err != nil {
		t.Fatalf("write: %v", err)
	}
	s, err := smf.ReadFrom(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if s.TimeFormat != DefaultResolution {
		t.Fatalf("time format = %v", s.TimeFormat)
	}
	changes := s.TempoChanges()
	if len(changes) == 0 || math.Abs(changes[0].BPM-120) > 1e-6 {
		t.Fatalf("tempo changes = %+v", changes)
	}
}

func TestBuildRejectsBadInput(t *testing.T) {
	one := []note.Event{ev(0, true, 0, 0)}
	if _, err := Build(0, 2, one, keys{}, Options{}); !errors.Is(err, clock.ErrInvalidBPM) {
		t.Fatalf("expected ErrInvalidBPM, got %v", err)
	}
	if _, err := Build(120, 0, one, keys{}, Options{}); !errors.Is(err, ErrNoLoop) {
		t.Fatalf("expected ErrNoLoop, got %v", err)
	}
	if _, err := Build(120, 2, []note.Event{ev(7, true, 0, 0)}, keys{}, Options{}); !errors.Is(err, ErrNoEvents) {
		t.Fatalf("expected ErrNoEvents, got %v", err)
	}
}
