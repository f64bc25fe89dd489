package clock

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
)

const (
	BeatsPerBar   = 4
	FramesPerBeat = 16

	// MinBPM and MaxBPM bound tempo values entered by a performer.
	MinBPM = 60
	MaxBPM = 300

	DefaultBPM = 120
)

var (
	ErrInvalidBPM      = errors.New("bpm must be a positive finite number")
	ErrBPMOutOfRange   = errors.Errorf("bpm must be within [%d, %d]", MinBPM, MaxBPM)
	ErrInvalidBarCount = errors.New("bar count must be at least 1")
)

// Clock converts a tempo into beat, bar and frame durations.
type Clock struct {
	bpm float64
}

func New(bpm float64) (*Clock, error) {
	c := &Clock{}
	if err := c.SetBPM(bpm); err != nil {
		return nil, err
	}
	return c, nil
}

// SetBPM replaces the tempo. Invalid values leave the previous tempo in place.
func (c *Clock) SetBPM(bpm float64) error {
	if !(bpm > 0) || math.IsInf(bpm, 0) {
		return errors.Wrapf(ErrInvalidBPM, "set bpm %v", bpm)
	}
	c.bpm = bpm
	return nil
}

func (c *Clock) BPM() float64 { return c.bpm }

func (c *Clock) SecondsPerBeat() float64 { return 60 / c.bpm }

func (c *Clock) SecondsPerBar() float64 { return c.SecondsPerBeat() * BeatsPerBar }

// FrameDuration is the length of one meter-stepping grid cell.
func (c *Clock) FrameDuration() float64 { return c.SecondsPerBeat() / FramesPerBeat }

func (c *Clock) LoopDuration(bars int) float64 { return c.SecondsPerBar() * float64(bars) }

// ValidateUserBPM applies the range accepted from performers on top of the
// positivity check the clock itself enforces.
func ValidateUserBPM(bpm float64) error {
	if !(bpm > 0) || math.IsInf(bpm, 0) {
		return errors.Wrapf(ErrInvalidBPM, "bpm %v", bpm)
	}
	if bpm < MinBPM || bpm > MaxBPM {
		return errors.Wrapf(ErrBPMOutOfRange, "bpm %v", bpm)
	}
	return nil
}

// ValidateBars rejects loop lengths that would make loop arithmetic undefined.
func ValidateBars(bars int) error {
	if bars < 1 {
		return errors.Wrapf(ErrInvalidBarCount, "bars %d", bars)
	}
	return nil
}

// FormatDuration renders seconds as MM:SS:HH where HH is hundredths.
func FormatDuration(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	minutes := int(seconds / 60)
	secs := int(math.Mod(seconds, 60))
	hundredths := int(math.Mod(seconds*1000, 1000)) / 10
	return fmt.Sprintf("%02d:%02d:%02d", minutes, secs, hundredths)
}

// Wrap returns x modulo period in [0, period). period must be positive.
func Wrap(x, period float64) float64 {
	m := math.Mod(x, period)
	if m < 0 {
		m += period
	}
	if m >= period {
		m = 0
	}
	return m
}
