// Package lfo provides the low-frequency oscillator behind voice vibrato.
package lfo

import (
	"math"
	"strings"

	"github.com/pkg/errors"
)

type Shape int

const (
	Sine Shape = iota
	Triangle
	Square
	Saw
)

var shapeNames = []string{"sine", "triangle", "square", "saw"}

var ErrUnknownShape = errors.New("unknown lfo shape")

func (s Shape) String() string {
	if s < 0 || int(s) >= len(shapeNames) {
		return "unknown"
	}
	return shapeNames[s]
}

func ParseShape(name string) (Shape, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range shapeNames {
		if n == name {
			return Shape(i), nil
		}
	}
	return Sine, errors.Wrapf(ErrUnknownShape, "%q", name)
}

// Oscillator yields one value in [-Depth, Depth] per sample. The zero value
// is silent.
type Oscillator struct {
	Shape  Shape
	RateHz float64
	Depth  float64
	// Delay holds the output at zero for the first seconds, then fades in
	// over the same span.
	Delay float64

	phase   float64
	elapsed float64
}

func (o *Oscillator) Active() bool { return o.Depth != 0 && o.RateHz > 0 }

func (o *Oscillator) Reset() {
	o.phase = 0
	o.elapsed = 0
}

// Next advances one sample at sampleRate.
func (o *Oscillator) Next(sampleRate float64) float64 {
	if !o.Active() || !(sampleRate > 0) {
		return 0
	}
	v := o.value()
	o.phase += o.RateHz / sampleRate
	o.phase -= math.Floor(o.phase)
	gain := 1.0
	if o.Delay > 0 {
		switch {
		case o.elapsed < o.Delay:
			gain = 0
		case o.elapsed < 2*o.Delay:
			gain = (o.elapsed - o.Delay) / o.Delay
		}
	}
	o.elapsed += 1 / sampleRate
	return v * o.Depth * gain
}

func (o *Oscillator) value() float64 {
	switch o.Shape {
	case Triangle:
		if o.phase < 0.5 {
			return 4*o.phase - 1
		}
		return 3 - 4*o.phase
	case Square:
		if o.phase < 0.5 {
			return 1
		}
		return -1
	case Saw:
		return 1 - 2*o.phase
	}
	return math.Sin(2 * math.Pi * o.phase)
}
