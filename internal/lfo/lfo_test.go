package lfo

import (
	"math"
	"testing"
)

func run(o *Oscillator, sr float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = o.Next(sr)
	}
	return out
}

func TestOscillatorShapes(t *testing.T) {
	cases := []struct {
		shape Shape
		at    map[int]float64
	}{
		{Sine, map[int]float64{0: 0, 25: 1, 50: 0, 75: -1}},
		{Triangle, map[int]float64{0: -1, 25: 0, 50: 1, 75: 0}},
		{Square, map[int]float64{0: 1, 40: 1, 60: -1, 90: -1}},
		{Saw, map[int]float64{0: 1, 50: 0}},
	}
	for _, tc := range cases {
		t.Run(tc.shape.String(), func(t *testing.T) {
			got := run(&Oscillator{Shape: tc.shape, RateHz: 1, Depth: 1}, 100, 100)
			for i, want := range tc.at {
				if math.Abs(got[i]-want) > 0.05 {
					t.Fatalf("sample %d = %f, want %f", i, got[i], want)
				}
			}
		})
	}
}

func TestOscillatorDepthBound(t *testing.T) {
	o := &Oscillator{Shape: Triangle, RateHz: 7, Depth: 0.3}
	for i, v := range run(o, 44100, 44100) {
		if math.Abs(v) > 0.3+1e-9 {
			t.Fatalf("sample %d = %f exceeds depth", i, v)
		}
	}
}

func TestOscillatorInactive(t *testing.T) {
	for _, o := range []*Oscillator{{}, {RateHz: 5}, {Depth: 1}} {
		if o.Active() {
			t.Fatalf("%+v should be inactive", *o)
		}
		if v := o.Next(44100); v != 0 {
			t.Fatalf("inactive oscillator produced %f", v)
		}
	}
}

func TestOscillatorDelayFadesIn(t *testing.T) {
	o := &Oscillator{Shape: Square, RateHz: 1, Depth: 1, Delay: 0.1}
	got := run(o, 100, 30)
	if got[5] != 0 {
		t.Fatalf("output during delay = %f", got[5])
	}
	if math.Abs(got[15]-0.5) > 0.01 {
		t.Fatalf("half-way through fade = %f, want 0.5", got[15])
	}
	if got[25] != 1 {
		t.Fatalf("after fade = %f, want 1", got[25])
	}
}

func TestOscillatorReset(t *testing.T) {
	o := &Oscillator{Shape: Saw, RateHz: 3, Depth: 1}
	first := run(o, 1000, 10)
	o.Reset()
	again := run(o, 1000, 10)
	for i := range first {
		if first[i] != again[i] {
			t.Fatalf("sample %d differs after reset", i)
		}
	}
}

func TestParseShape(t *testing.T) {
	if s, err := ParseShape(" Triangle "); err != nil || s != Triangle {
		t.Fatalf("ParseShape = %v, %v", s, err)
	}
	if _, err := ParseShape("wobble"); err == nil {
		t.Fatalf("unknown shape accepted")
	}
}
