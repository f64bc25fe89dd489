package voice

import (
	"math"
	"time"

	"github.com/gopxl/beep"

	"github.com/cbegin/looprec-go/internal/lfo"
)

const twoPi = math.Pi * 2

// oneShot renders a mono sample function for a fixed number of frames.
type oneShot struct {
	sr     beep.SampleRate
	pos    int
	length int
	render func(t float64) float64
}

func (g *oneShot) Stream(samples [][2]float64) (n int, ok bool) {
	if g.pos >= g.length {
		return 0, false
	}
	for i := range samples {
		if g.pos >= g.length {
			return i, true
		}
		s := g.render(float64(g.pos) / float64(g.sr))
		samples[i][0] = s
		samples[i][1] = s
		g.pos++
	}
	return len(samples), true
}

func (g *oneShot) Err() error { return nil }

// noise is a 15-bit LFSR; deterministic so offline bounces are repeatable.
type noise uint32

func (n *noise) next() float64 {
	v := uint32(*n)
	v = (v >> 1) ^ (-(v & 1) & 0xB400)
	*n = noise(v)
	return float64(v)/float64(0x7FFF)*2 - 1
}

func newKick(sr beep.SampleRate) beep.Streamer {
	phase := 0.0
	dt := 1 / float64(sr)
	return &oneShot{sr: sr, length: sr.N(350 * time.Millisecond), render: func(t float64) float64 {
		env := math.Exp(-t * 9)
		freq := 50 + 110*math.Exp(-t*30)
		phase += twoPi * freq * dt
		return 0.9 * env * math.Sin(phase)
	}}
}

func newSnare(sr beep.SampleRate) beep.Streamer {
	n := noise(0x7FFF)
	return &oneShot{sr: sr, length: sr.N(220 * time.Millisecond), render: func(t float64) float64 {
		body := 0.35 * math.Exp(-t*25) * math.Sin(twoPi*185*t)
		snap := 0.45 * math.Exp(-t*16) * n.next()
		return body + snap
	}}
}

func newHat(sr beep.SampleRate) beep.Streamer {
	n := noise(0x5A5A)
	prev := 0.0
	return &oneShot{sr: sr, length: sr.N(90 * time.Millisecond), render: func(t float64) float64 {
		// First difference keeps the bright end of the noise.
		x := n.next()
		hp := x - prev
		prev = x
		return 0.25 * math.Exp(-t*45) * hp
	}}
}

func newClap(sr beep.SampleRate) beep.Streamer {
	n := noise(0x1234)
	return &oneShot{sr: sr, length: sr.N(260 * time.Millisecond), render: func(t float64) float64 {
		// Three quick bursts then a short tail.
		burst := math.Mod(t, 0.011)
		env := math.Exp(-burst * 180)
		if t > 0.033 {
			env = 0.6 * math.Exp(-(t-0.033)*14)
		}
		return 0.4 * env * n.next()
	}}
}

// ToneParams shape the two-operator FM voice used for keyboard surfaces.
type ToneParams struct {
	ModMul     float64
	ModIndex   float64
	AttackSec  float64
	DecaySec   float64
	SustainLvl float64
	HoldSec    float64
	ReleaseSec float64
	Gain       float64
	// Vibrato is in semitones; a zero depth disables it.
	Vibrato lfo.Oscillator
}

func DefaultToneParams() ToneParams {
	return ToneParams{
		ModMul:     2.0,
		ModIndex:   1.6,
		AttackSec:  0.005,
		DecaySec:   0.12,
		SustainLvl: 0.75,
		HoldSec:    0.3,
		ReleaseSec: 0.2,
		Gain:       0.45,
		Vibrato:    lfo.Oscillator{Shape: lfo.Sine, RateHz: 5.5, Depth: 0.12, Delay: 0.15},
	}
}

// envelope is a linear ADSR evaluated at t with a fixed note length.
func (p ToneParams) envelope(t float64) float64 {
	switch {
	case t < p.AttackSec:
		return t / p.AttackSec
	case t < p.AttackSec+p.DecaySec:
		x := (t - p.AttackSec) / p.DecaySec
		return 1 - x*(1-p.SustainLvl)
	case t < p.HoldSec:
		return p.SustainLvl
	}
	r := (t - math.Max(p.HoldSec, p.AttackSec+p.DecaySec)) / p.ReleaseSec
	if r >= 1 {
		return 0
	}
	return p.SustainLvl * (1 - r)
}

func (p ToneParams) length() float64 {
	return math.Max(p.HoldSec, p.AttackSec+p.DecaySec) + p.ReleaseSec
}

// newTone renders the serial modulator→carrier pair.
func newTone(sr beep.SampleRate, freq float64, p ToneParams) beep.Streamer {
	if p.AttackSec <= 0 {
		p.AttackSec = 0.001
	}
	if p.DecaySec <= 0 {
		p.DecaySec = 0.001
	}
	if p.ReleaseSec <= 0 {
		p.ReleaseSec = 0.001
	}
	var carPhase, modPhase float64
	base := twoPi * freq / float64(sr)
	vibrato := p.Vibrato
	vibrato.Reset()
	length := sr.N(time.Duration(p.length() * float64(time.Second)))
	return &oneShot{sr: sr, length: length, render: func(t float64) float64 {
		step := base * math.Exp2(vibrato.Next(float64(sr))/12)
		env := p.envelope(t)
		mod := math.Sin(modPhase) * env * p.ModIndex
		s := math.Sin(carPhase+mod) * env * p.Gain
		carPhase += step
		modPhase += step * p.ModMul
		if carPhase > twoPi {
			carPhase -= twoPi
		}
		if modPhase > twoPi {
			modPhase -= twoPi
		}
		return s
	}}
}
