package effects

import "github.com/gopxl/beep"

// Reverb is a small Schroeder network: four parallel combs into two series
// allpasses, summed to mono.
type Reverb struct {
	combs   [4]feedbackLine
	allpass [2]feedbackLine
	wet     float64
}

// feedbackLine is a circular buffer with one feedback gain; the comb and
// allpass topologies differ only in how they read it.
type feedbackLine struct {
	buf []float64
	pos int
	fb  float64
}

func newLine(n int, fb float64) feedbackLine {
	if n < 1 {
		n = 1
	}
	return feedbackLine{buf: make([]float64, n), fb: fb}
}

func (f *feedbackLine) advance() {
	if f.pos++; f.pos == len(f.buf) {
		f.pos = 0
	}
}

func (f *feedbackLine) comb(in float64) float64 {
	out := f.buf[f.pos]
	f.buf[f.pos] = in + out*f.fb
	f.advance()
	return out
}

func (f *feedbackLine) allpass(in float64) float64 {
	delayed := f.buf[f.pos]
	f.buf[f.pos] = in + delayed*f.fb
	f.advance()
	return delayed - in
}

// Comb lengths relative to the base keep the modes from lining up.
var combRatios = [4]float64{1, 1.117, 1.271, 1.437}

var allpassRatios = [2]float64{0.347, 0.213}

// NewReverb: room scales the line lengths (0..1), decay is the comb
// feedback, wet the mix.
func NewReverb(sr beep.SampleRate, room, decay, wet float64) *Reverb {
	base := float64(sr) * clamp(room, 0, 1) * 0.05
	if base < 10 {
		base = 10
	}
	r := &Reverb{wet: clamp(wet, 0, 1)}
	fb := clamp(decay, 0, 0.95)
	for i, ratio := range combRatios {
		r.combs[i] = newLine(int(base*ratio), fb)
	}
	for i, ratio := range allpassRatios {
		r.allpass[i] = newLine(int(base*ratio), 0.5)
	}
	return r
}

func (r *Reverb) Process(l, rr float64) (float64, float64) {
	in := (l + rr) / 2
	var out float64
	for i := range r.combs {
		out += r.combs[i].comb(in)
	}
	out /= float64(len(r.combs))
	for i := range r.allpass {
		out = r.allpass[i].allpass(out)
	}
	return mix(l, out, r.wet), mix(rr, out, r.wet)
}

func (r *Reverb) Reset() {
	for i := range r.combs {
		clear(r.combs[i].buf)
		r.combs[i].pos = 0
	}
	for i := range r.allpass {
		clear(r.allpass[i].buf)
		r.allpass[i].pos = 0
	}
}
