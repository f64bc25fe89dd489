// Package voice synthesises the sound of each surface as a finite
// beep.Streamer.
package voice

import (
	"math"
	"strings"
	"sync"

	"github.com/gopxl/beep"
	"github.com/pkg/errors"
)

type Kind int

const (
	KindKick Kind = iota
	KindSnare
	KindHat
	KindClap
	KindTone
)

var kindNames = [...]string{"kick", "snare", "hat", "clap", "tone"}

// gmDrum is the General MIDI percussion key for each drum kind.
var gmDrum = map[Kind]uint8{
	KindKick:  36,
	KindSnare: 38,
	KindHat:   42,
	KindClap:  39,
}

var (
	ErrUnknownKind = errors.New("unknown voice kind")
	ErrNoVoice     = errors.New("no voice for surface")
)

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

func ParseKind(name string) (Kind, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for i, s := range kindNames {
		if s == n {
			return Kind(i), nil
		}
	}
	return 0, errors.Wrapf(ErrUnknownKind, "%q", name)
}

func (k Kind) Percussive() bool { return k != KindTone }

// Voice describes how one surface sounds.
type Voice struct {
	Kind Kind
	// Key is the semitone within the octave for tones (0 = C).
	Key int
	// Note overrides the MIDI key used on export; 0 picks the default.
	Note uint8
	Gain float64
}

// MIDINote is the note number of key in octave, with octave 4 holding
// middle C (60).
func MIDINote(octave, key int) int {
	return 12*(octave+1) + key
}

func Frequency(midiNote int) float64 {
	return 440 * math.Pow(2, float64(midiNote-69)/12)
}

// DrumChannel is the General MIDI percussion channel (10, zero based).
const DrumChannel uint8 = 9

// Bank maps surfaces to voices. It is safe for concurrent use since the
// audio goroutine and exporters may consult it while the UI edits it.
type Bank struct {
	mu     sync.RWMutex
	sr     beep.SampleRate
	tone   ToneParams
	voices map[int]Voice
}

func NewBank(sr beep.SampleRate) *Bank {
	return &Bank{sr: sr, tone: DefaultToneParams(), voices: map[int]Voice{}}
}

func (b *Bank) SampleRate() beep.SampleRate { return b.sr }

func (b *Bank) SetToneParams(p ToneParams) {
	b.mu.Lock()
	b.tone = p
	b.mu.Unlock()
}

func (b *Bank) Set(surface int, v Voice) {
	if v.Gain == 0 {
		v.Gain = 1
	}
	b.mu.Lock()
	b.voices[surface] = v
	b.mu.Unlock()
}

func (b *Bank) Voice(surface int) (Voice, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.voices[surface]
	return v, ok
}

// Streamer returns a fresh, finite streamer for one hit of surface.
// Percussive voices ignore octave.
func (b *Bank) Streamer(surface, octave int) (beep.Streamer, error) {
	b.mu.RLock()
	v, ok := b.voices[surface]
	tone := b.tone
	b.mu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrNoVoice, "surface %d", surface)
	}
	var s beep.Streamer
	switch v.Kind {
	case KindKick:
		s = newKick(b.sr)
	case KindSnare:
		s = newSnare(b.sr)
	case KindHat:
		s = newHat(b.sr)
	case KindClap:
		s = newClap(b.sr)
	case KindTone:
		s = newTone(b.sr, Frequency(MIDINote(octave, v.Key)), tone)
	default:
		return nil, errors.Wrapf(ErrUnknownKind, "surface %d: %d", surface, v.Kind)
	}
	if v.Gain != 1 {
		s = gain(s, v.Gain)
	}
	return s, nil
}

// MIDIKey maps a surface hit to a channel and key for export.
func (b *Bank) MIDIKey(surface, octave int) (channel, key uint8, ok bool) {
	v, found := b.Voice(surface)
	if !found {
		return 0, 0, false
	}
	if v.Kind.Percussive() {
		if v.Note != 0 {
			return DrumChannel, v.Note, true
		}
		return DrumChannel, gmDrum[v.Kind], true
	}
	n := MIDINote(octave, v.Key)
	if v.Note != 0 {
		n = int(v.Note) + 12*(octave-4)
	}
	if n < 0 || n > 127 {
		return 0, 0, false
	}
	return 0, uint8(n), true
}

func gain(s beep.Streamer, g float64) beep.Streamer {
	return beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		n, ok := s.Stream(samples)
		for i := range samples[:n] {
			samples[i][0] *= g
			samples[i][1] *= g
		}
		return n, ok
	})
}
