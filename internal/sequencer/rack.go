package sequencer

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"

	"github.com/cbegin/looprec-go/internal/track"
)

// Kind distinguishes the surface family a rack records.
type Kind string

const (
	KindDrum       Kind = "drum"
	KindInstrument Kind = "instrument"
)

// DefaultDrumTracks is the size of a drum kit's track rack.
const DefaultDrumTracks = 4

var (
	ErrUnknownKind = errors.New("unknown rack kind")
	ErrEmptyRack   = errors.New("rack needs at least one track and one surface")
)

func ParseKind(name string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(name))) {
	case KindDrum:
		return KindDrum, nil
	case KindInstrument:
		return KindInstrument, nil
	}
	return "", errors.Wrapf(ErrUnknownKind, "%q", name)
}

// DefaultPolicy is first-match for drum slots and all-match for instruments.
func (k Kind) DefaultPolicy() track.MatchPolicy {
	if k == KindInstrument {
		return track.AllMatch
	}
	return track.FirstMatch
}

type RackOptions struct {
	// Policy overrides the kind's default when set.
	Policy         *track.MatchPolicy
	Sink           track.Sink
	OnStateChanged func(id string, state track.State)
	Logger         *log.Logger
}

// Rack owns the tracks that record one set of surfaces.
type Rack struct {
	name     string
	kind     Kind
	policy   track.MatchPolicy
	surfaces []int
	tracks   []*track.Track
}

func TrackID(rack string, index int) string {
	return fmt.Sprintf("%s_%d", rack, index)
}

func NewRack(name string, kind Kind, bars, count int, surfaces []int, opts RackOptions) (*Rack, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("rack name is empty")
	}
	if kind != KindDrum && kind != KindInstrument {
		return nil, errors.Wrapf(ErrUnknownKind, "rack %s: %q", name, kind)
	}
	if count < 1 || len(surfaces) == 0 {
		return nil, errors.Wrapf(ErrEmptyRack, "rack %s", name)
	}
	seen := make(map[int]struct{}, len(surfaces))
	for _, s := range surfaces {
		if _, dup := seen[s]; dup {
			return nil, errors.Errorf("rack %s: surface %d listed twice", name, s)
		}
		seen[s] = struct{}{}
	}
	policy := kind.DefaultPolicy()
	if opts.Policy != nil {
		policy = *opts.Policy
	}
	r := &Rack{
		name:     name,
		kind:     kind,
		policy:   policy,
		surfaces: append([]int(nil), surfaces...),
	}
	for i := 0; i < count; i++ {
		t, err := track.New(TrackID(name, i), bars, track.Options{
			Policy:         policy,
			Sink:           opts.Sink,
			OnStateChanged: opts.OnStateChanged,
			Logger:         opts.Logger,
		})
		if err != nil {
			return nil, errors.Wrapf(err, "rack %s", name)
		}
		r.tracks = append(r.tracks, t)
	}
	return r, nil
}

func (r *Rack) Name() string              { return r.name }
func (r *Rack) Kind() Kind                { return r.kind }
func (r *Rack) Policy() track.MatchPolicy { return r.policy }
func (r *Rack) Surfaces() []int           { return append([]int(nil), r.surfaces...) }
func (r *Rack) Tracks() []*track.Track    { return append([]*track.Track(nil), r.tracks...) }

func (r *Rack) Track(i int) *track.Track {
	if i < 0 || i >= len(r.tracks) {
		return nil
	}
	return r.tracks[i]
}

func (r *Rack) Owns(surface int) bool {
	for _, s := range r.surfaces {
		if s == surface {
			return true
		}
	}
	return false
}
