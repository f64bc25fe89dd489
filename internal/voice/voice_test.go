package voice

import (
	"errors"
	"math"
	"testing"

	"github.com/gopxl/beep"
)

const testRate = beep.SampleRate(44100)

// drain pulls s to completion and returns frame count and absolute energy.
func drain(t *testing.T, s beep.Streamer, limit int) (int, float64) {
	t.Helper()
	buf := make([][2]float64, 512)
	frames := 0
	energy := 0.0
	for frames < limit {
		n, ok := s.Stream(buf)
		for _, f := range buf[:n] {
			energy += math.Abs(f[0])
		}
		frames += n
		if !ok {
			return frames, energy
		}
	}
	t.Fatalf("streamer did not finish within %d frames", limit)
	return 0, 0
}

func TestEveryKindIsFiniteAndAudible(t *testing.T) {
	b := NewBank(testRate)
	for i, k := range []Kind{KindKick, KindSnare, KindHat, KindClap, KindTone} {
		b.Set(i, Voice{Kind: k})
		s, err := b.Streamer(i, 4)
		if err != nil {
			t.Fatalf("%v: %v", k, err)
		}
		frames, energy := drain(t, s, int(testRate))
		if frames == 0 || energy == 0 {
			t.Fatalf("%v: frames=%d energy=%v", k, frames, energy)
		}
	}
}

func TestToneLengthFollowsEnvelope(t *testing.T) {
	b := NewBank(testRate)
	b.Set(0, Voice{Kind: KindTone, Key: 9})
	s, err := b.Streamer(0, 4)
	if err != nil {
		t.Fatalf("streamer: %v", err)
	}
	frames, _ := drain(t, s, int(testRate))
	want := testRate.N(500_000_000) // hold 0.3s + release 0.2s
	if frames < want-1 || frames > want+1 {
		t.Fatalf("tone frames = %d, want %d", frames, want)
	}
}

func TestGainScalesOutput(t *testing.T) {
	b := NewBank(testRate)
	b.Set(0, Voice{Kind: KindKick})
	b.Set(1, Voice{Kind: KindKick, Gain: 0.5})
	s0, _ := b.Streamer(0, 0)
	s1, _ := b.Streamer(1, 0)
	_, e0 := drain(t, s0, int(testRate))
	_, e1 := drain(t, s1, int(testRate))
	if math.Abs(e1-e0/2) > 1e-6*e0 {
		t.Fatalf("half gain energy %v, full %v", e1, e0)
	}
}

func TestVibratoOnlyAfterDelay(t *testing.T) {
	render := func(p ToneParams) [][2]float64 {
		b := NewBank(testRate)
		b.SetToneParams(p)
		b.Set(0, Voice{Kind: KindTone, Key: 9})
		s, err := b.Streamer(0, 4)
		if err != nil {
			t.Fatalf("streamer: %v", err)
		}
		out := make([][2]float64, testRate.N(400_000_000))
		s.Stream(out)
		return out
	}
	plain := DefaultToneParams()
	plain.Vibrato.Depth = 0
	a, b := render(plain), render(DefaultToneParams())
	delay := testRate.N(150_000_000)
	for i := 0; i < delay; i++ {
		if a[i] != b[i] {
			t.Fatalf("vibrato audible at frame %d before its delay", i)
		}
	}
	diff := 0.0
	for i := delay; i < len(a); i++ {
		diff += math.Abs(a[i][0] - b[i][0])
	}
	if diff == 0 {
		t.Fatalf("vibrato had no effect")
	}
}

func TestUnknownSurface(t *testing.T) {
	b := NewBank(testRate)
	if _, err := b.Streamer(42, 4); !errors.Is(err, ErrNoVoice) {
		t.Fatalf("expected ErrNoVoice, got %v", err)
	}
}

func TestPitchMath(t *testing.T) {
	if got := MIDINote(4, 0); got != 60 {
		t.Fatalf("C4 = %d, want 60", got)
	}
	if got := Frequency(69); got != 440 {
		t.Fatalf("A4 = %v", got)
	}
	if got := Frequency(81); math.Abs(got-880) > 1e-9 {
		t.Fatalf("A5 = %v", got)
	}
}

func TestMIDIKey(t *testing.T) {
	b := NewBank(testRate)
	b.Set(0, Voice{Kind: KindKick})
	b.Set(1, Voice{Kind: KindHat, Note: 46})
	b.Set(100, Voice{Kind: KindTone, Key: 4})
	cases := []struct {
		surface, octave int
		ch, key         uint8
	}{
		{0, 4, DrumChannel, 36},
		{1, 2, DrumChannel, 46},
		{100, 4, 0, 64},
		{100, 5, 0, 76},
	}
	for _, c := range cases {
		ch, key, ok := b.MIDIKey(c.surface, c.octave)
		if !ok || ch != c.ch || key != c.key {
			t.Fatalf("surface %d octave %d: got ch=%d key=%d ok=%v", c.surface, c.octave, ch, key, ok)
		}
	}
	if _, _, ok := b.MIDIKey(7, 4); ok {
		t.Fatalf("unmapped surface reported a key")
	}
}

func TestParseKind(t *testing.T) {
	for _, name := range []string{"kick", "Snare", " hat ", "clap", "tone"} {
		if _, err := ParseKind(name); err != nil {
			t.Fatalf("%q: %v", name, err)
		}
	}
	if _, err := ParseKind("cowbell"); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
}
