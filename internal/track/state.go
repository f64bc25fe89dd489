package track

import (
	"strings"

	"github.com/pkg/errors"
)

// State is a track's position in the arm/record/playback lifecycle.
type State int

const (
	Empty State = iota
	ArmedForRecording
	CountingIn
	Recording
	Recorded
	ArmedForPlayback
	Playing
)

func (s State) String() string {
	switch s {
	case Empty:
		return "empty"
	case ArmedForRecording:
		return "armed-for-recording"
	case CountingIn:
		return "counting-in"
	case Recording:
		return "recording"
	case Recorded:
		return "recorded"
	case ArmedForPlayback:
		return "armed-for-playback"
	case Playing:
		return "playing"
	}
	return "unknown"
}

// Busy reports whether the state belongs to an in-progress record pass.
func (s State) Busy() bool {
	return s == CountingIn || s == Recording
}

// MatchPolicy selects how many recorded events may fire in one tick.
type MatchPolicy int

const (
	// FirstMatch fires at most one event per tick (single-voice drum slots).
	FirstMatch MatchPolicy = iota
	// AllMatch fires every matching event, routed by surface.
	AllMatch
)

var ErrUnknownPolicy = errors.New("unknown match policy")

func (p MatchPolicy) String() string {
	if p == AllMatch {
		return "all-match"
	}
	return "first-match"
}

func ParsePolicy(name string) (MatchPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "first", "first-match":
		return FirstMatch, nil
	case "all", "all-match":
		return AllMatch, nil
	}
	return FirstMatch, errors.Wrapf(ErrUnknownPolicy, "%q", name)
}
