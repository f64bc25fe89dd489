// Package effects colours a voice with the effect captured on its note.
package effects

import (
	"time"

	"github.com/gopxl/beep"

	"github.com/cbegin/looprec-go/internal/note"
)

// Effector processes one stereo frame at a time and keeps its own state.
type Effector interface {
	Process(l, r float64) (float64, float64)
	Reset()
}

// Chain applies effects in order.
type Chain []Effector

func (c Chain) Process(l, r float64) (float64, float64) {
	for _, e := range c {
		l, r = e.Process(l, r)
	}
	return l, r
}

func (c Chain) Reset() {
	for _, e := range c {
		e.Reset()
	}
}

const (
	delayTime   = 180 * time.Millisecond
	delayTail   = 900 * time.Millisecond
	reverbTail  = 1200 * time.Millisecond
	reverbRoom  = 0.6
	reverbDecay = 0.78
)

// ForNote returns a fresh effector for e and how long its tail rings after
// the dry signal ends. EffectNone yields nil.
func ForNote(e note.Effect, sr beep.SampleRate) (Effector, int) {
	switch e {
	case note.EffectDelay:
		return NewDelay(sr, delayTime, 0.45, 0.3, 0.4), sr.N(delayTail)
	case note.EffectReverb:
		return NewReverb(sr, reverbRoom, reverbDecay, 0.35), sr.N(reverbTail)
	}
	return nil, 0
}

// Apply wraps s with the effect captured on a note. Each call builds its own
// effector so simultaneous hits never share delay lines.
func Apply(s beep.Streamer, e note.Effect, sr beep.SampleRate) beep.Streamer {
	fx, tail := ForNote(e, sr)
	if fx == nil {
		return s
	}
	return Wrap(s, fx, tail)
}

// Wrap runs s through fx and then keeps feeding silence for tail frames so
// echoes and reverberation decay instead of being cut off.
func Wrap(s beep.Streamer, fx Effector, tail int) beep.Streamer {
	return &wet{src: s, fx: fx, tail: tail}
}

type wet struct {
	src     beep.Streamer
	fx      Effector
	tail    int
	srcDone bool
}

func (w *wet) Stream(samples [][2]float64) (int, bool) {
	n := 0
	if !w.srcDone {
		var ok bool
		n, ok = w.src.Stream(samples)
		if !ok {
			w.srcDone = true
			n = 0
		}
	}
	for i := 0; i < n; i++ {
		samples[i][0], samples[i][1] = w.fx.Process(samples[i][0], samples[i][1])
	}
	if w.srcDone {
		for n < len(samples) && w.tail > 0 {
			samples[n][0], samples[n][1] = w.fx.Process(0, 0)
			n++
			w.tail--
		}
	}
	if n == 0 && w.srcDone {
		return 0, false
	}
	return n, true
}

func (w *wet) Err() error {
	if e, ok := w.src.(interface{ Err() error }); ok {
		return e.Err()
	}
	return nil
}
