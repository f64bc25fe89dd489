// Package smfexport writes recorded tracks as Standard MIDI Files.
package smfexport

import (
	"io"
	"math"
	"os"
	"sort"
	"time"

	"github.com/pkg/errors"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/cbegin/looprec-go/internal/clock"
	"github.com/cbegin/looprec-go/internal/note"
)

// DefaultResolution is ticks per quarter note.
const DefaultResolution = smf.MetricTicks(960)

var (
	ErrNoLoop   = errors.New("loop length must be positive")
	ErrNoEvents = errors.New("nothing to export")
)

// KeyMapper resolves a surface hit to a MIDI channel and key.
type KeyMapper interface {
	MIDIKey(surface, octave int) (channel, key uint8, ok bool)
}

// PercussionChannel notes get a fixed short gate instead of waiting for a
// note-off.
const PercussionChannel uint8 = 9

type Options struct {
	Resolution smf.MetricTicks
	Velocity   uint8
	// Passes repeats the loop; 0 means one pass.
	Passes int
	Name   string
}

func (o Options) withDefaults() Options {
	if o.Resolution == 0 {
		o.Resolution = DefaultResolution
	}
	if o.Velocity == 0 {
		o.Velocity = 100
	}
	if o.Passes < 1 {
		o.Passes = 1
	}
	return o
}

type stamped struct {
	tick uint32
	off  bool
	msg  midi.Message
}

// Build renders events into a format-1 file: a tempo track and one note
// track. Note-offs pair with the earliest open note-on of the same surface
// and octave; unpaired tones are closed at the end of their pass.
func Build(bpm, loopSeconds float64, events []note.Event, keys KeyMapper, opts Options) (*smf.SMF, error) {
	if !(bpm > 0) || math.IsInf(bpm, 0) {
		return nil, errors.Wrapf(clock.ErrInvalidBPM, "export at %v", bpm)
	}
	if !(loopSeconds > 0) {
		return nil, errors.Wrapf(ErrNoLoop, "loop %v", loopSeconds)
	}
	opts = opts.withDefaults()
	ticks := func(sec float64) uint32 {
		return opts.Resolution.Ticks(bpm, time.Duration(sec*float64(time.Second)))
	}
	gate := uint32(opts.Resolution) / 4

	ordered := note.Clone(events)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Time < ordered[j].Time })

	var out []stamped
	for pass := 0; pass < opts.Passes; pass++ {
		base := float64(pass) * loopSeconds
		passEnd := ticks(base + loopSeconds)
		used := make([]bool, len(ordered))
		for i, e := range ordered {
			if !e.On {
				continue
			}
			ch, key, ok := keys.MIDIKey(e.Surface, e.Octave)
			if !ok {
				continue
			}
			start := ticks(base + e.Time)
			var end uint32
			if ch == PercussionChannel {
				end = start + gate
			} else if j := pairOff(ordered, used, i); j >= 0 {
				offAt := ordered[j].Time
				if offAt < e.Time {
					offAt += loopSeconds
				}
				used[j] = true
				end = ticks(base + offAt)
			} else {
				end = passEnd
			}
			if end <= start {
				end = start + 1
			}
			out = append(out,
				stamped{tick: start, msg: midi.NoteOn(ch, key, opts.Velocity)},
				stamped{tick: end, off: true, msg: midi.NoteOff(ch, key)},
			)
		}
	}
	if len(out) == 0 {
		return nil, ErrNoEvents
	}
	// Offs sort before ons on the same tick so a retrigger is not cut short.
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].tick != out[j].tick {
			return out[i].tick < out[j].tick
		}
		return out[i].off && !out[j].off
	})

	s := smf.New()
	s.TimeFormat = opts.Resolution

	var tempo smf.Track
	tempo.Add(0, smf.MetaMeter(clock.BeatsPerBar, 4))
	tempo.Add(0, smf.MetaTempo(bpm))
	tempo.Close(0)
	if err := s.Add(tempo); err != nil {
		return nil, errors.Wrap(err, "add tempo track")
	}

	var notes smf.Track
	if opts.Name != "" {
		notes.Add(0, smf.MetaTrackSequenceName(opts.Name))
	}
	var last uint32
	for _, ev := range out {
		notes.Add(ev.tick-last, ev.msg)
		last = ev.tick
	}
	total := ticks(float64(opts.Passes) * loopSeconds)
	var tail uint32
	if total > last {
		tail = total - last
	}
	notes.Close(tail)
	if err := s.Add(notes); err != nil {
		return nil, errors.Wrap(err, "add note track")
	}
	return s, nil
}

// pairOff finds the first unused note-off after on (wrapping at the seam)
// for the same surface and octave.
func pairOff(events []note.Event, used []bool, on int) int {
	e := events[on]
	for k := 1; k < len(events); k++ {
		j := (on + k) % len(events)
		c := events[j]
		if !c.On && !used[j] && c.Surface == e.Surface && c.Octave == e.Octave {
			return j
		}
	}
	return -1
}

func Write(w io.Writer, bpm, loopSeconds float64, events []note.Event, keys KeyMapper, opts Options) error {
	s, err := Build(bpm, loopSeconds, events, keys, opts)
	if err != nil {
		return err
	}
	if _, err := s.WriteTo(w); err != nil {
		return errors.Wrap(err, "write smf")
	}
	return nil
}

func WriteFile(path string, bpm, loopSeconds float64, events []note.Event, keys KeyMapper, opts Options) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	if err := Write(f, bpm, loopSeconds, events, keys, opts); err != nil {
		f.Close()
		return err
	}
	return errors.Wrapf(f.Close(), "close %s", path)
}
