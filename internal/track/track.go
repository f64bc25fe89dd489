package track

import (
	"math"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"

	"github.com/cbegin/looprec-go/internal/clock"
	"github.com/cbegin/looprec-go/internal/note"
	"github.com/cbegin/looprec-go/internal/store"
)

var (
	ErrInvalidTransition = errors.New("invalid track transition")
	ErrInvalidBars       = errors.New("track needs at least one bar")
	ErrZeroLoop          = errors.New("loop duration must be positive")
)

// Sink renders a sound for a surface. Implementations must not block the
// scheduler.
type Sink interface {
	TriggerSound(surface int, octave int, effect note.Effect)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(surface int, octave int, effect note.Effect)

func (f SinkFunc) TriggerSound(surface int, octave int, effect note.Effect) {
	f(surface, octave, effect)
}

type Options struct {
	Policy MatchPolicy
	Sink   Sink
	// OnStateChanged is invoked after every transition.
	OnStateChanged func(id string, state State)
	Logger         *log.Logger
}

// Track is one recordable, loopable slot. It is not safe for concurrent use;
// every method is expected to run on the scheduler goroutine.
type Track struct {
	id      string
	bars    int
	policy  MatchPolicy
	sink    Sink
	onState func(id string, state State)
	logger  *log.Logger

	state         State
	events        []note.Event
	fired         []int64
	loop          float64
	start         float64
	playbackArmed bool
}

func New(id string, bars int, opts Options) (*Track, error) {
	if bars < 1 {
		return nil, errors.Wrapf(ErrInvalidBars, "track %s: bars %d", id, bars)
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Track{
		id:      id,
		bars:    bars,
		policy:  opts.Policy,
		sink:    opts.Sink,
		onState: opts.OnStateChanged,
		logger:  logger.With("track", id),
	}, nil
}

func (t *Track) ID() string            { return t.id }
func (t *Track) State() State          { return t.state }
func (t *Track) Bars() int             { return t.bars }
func (t *Track) Policy() MatchPolicy   { return t.policy }
func (t *Track) LoopDuration() float64 { return t.loop }
func (t *Track) Start() float64        { return t.start }
func (t *Track) Len() int              { return len(t.events) }
func (t *Track) HasRecording() bool    { return len(t.events) > 0 }
func (t *Track) PlaybackArmed() bool   { return t.playbackArmed }

// Events returns a copy of the recorded events in capture order.
func (t *Track) Events() []note.Event { return note.Clone(t.events) }

func (t *Track) SetSink(s Sink) { t.sink = s }

func (t *Track) setState(s State) {
	if s == t.state {
		return
	}
	t.logger.Debug("state changed", "from", t.state, "to", s)
	t.state = s
	if t.onState != nil {
		t.onState(t.id, s)
	}
}

func (t *Track) invalid(op string) error {
	return errors.Wrapf(ErrInvalidTransition, "track %s: %s from %s", t.id, op, t.state)
}

// contentState is where a track settles once nothing is armed or running.
func (t *Track) contentState() State {
	if t.HasRecording() {
		return Recorded
	}
	return Empty
}

func (t *Track) ArmForRecording() error {
	switch t.state {
	case ArmedForRecording:
		return nil
	case Empty:
		t.playbackArmed = false
		t.setState(ArmedForRecording)
		return nil
	}
	return t.invalid("arm for recording")
}

func (t *Track) BeginCountIn() error {
	if t.state != ArmedForRecording {
		return t.invalid("begin count-in")
	}
	t.setState(CountingIn)
	return nil
}

// CancelCountIn aborts a count-in and leaves the track armed for recording.
func (t *Track) CancelCountIn() error {
	if t.state != CountingIn {
		return t.invalid("cancel count-in")
	}
	t.setState(ArmedForRecording)
	return nil
}

// StartRecording fixes the loop length, clears the buffer and marks now as
// loop-time zero.
func (t *Track) StartRecording(now, loopDuration float64) error {
	if t.state != CountingIn {
		return t.invalid("start recording")
	}
	if !(loopDuration > 0) || math.IsInf(loopDuration, 0) {
		return errors.Wrapf(ErrZeroLoop, "track %s: loop %v", t.id, loopDuration)
	}
	t.loop = loopDuration
	t.start = now
	t.events = t.events[:0]
	t.fired = t.fired[:0]
	t.setState(Recording)
	return nil
}

// StopRecording freezes the buffer. A pass that captured nothing returns the
// track to Empty. Calling it when not recording does nothing.
func (t *Track) StopRecording() error {
	if t.state != Recording {
		return nil
	}
	t.logger.Info("recording stopped", "events", len(t.events), "loop", t.loop)
	t.setState(t.contentState())
	return nil
}

// RecordingExpired reports whether a full loop has elapsed since recording
// started.
func (t *Track) RecordingExpired(now float64) bool {
	return t.state == Recording && now-t.start >= t.loop
}

func (t *Track) ArmForPlayback() error {
	switch t.state {
	case ArmedForPlayback:
		return nil
	case Recorded:
		t.playbackArmed = true
		t.setState(ArmedForPlayback)
		return nil
	}
	return t.invalid("arm for playback")
}

func (t *Track) StartPlayback(now float64) error {
	if t.state != ArmedForPlayback && t.state != Recorded {
		return t.invalid("start playback")
	}
	if !t.HasRecording() {
		return t.invalid("start playback without recording")
	}
	if !(t.loop > 0) {
		return errors.Wrapf(ErrZeroLoop, "track %s: loop %v", t.id, t.loop)
	}
	t.start = now
	t.fired = t.fired[:0]
	for range t.events {
		t.fired = append(t.fired, -1)
	}
	t.setState(Playing)
	return nil
}

// StopPlayback returns a playing track to ArmedForPlayback while it is still
// armed, otherwise to Recorded. Calling it when not playing does nothing.
func (t *Track) StopPlayback() error {
	if t.state != Playing {
		return nil
	}
	if t.playbackArmed {
		t.setState(ArmedForPlayback)
	} else {
		t.setState(Recorded)
	}
	return nil
}

// Disarm clears any arming. During a count-in only the count-in is aborted
// and the track stays armed for recording; during recording it acts as an
// explicit stop.
func (t *Track) Disarm() error {
	t.playbackArmed = false
	switch t.state {
	case CountingIn:
		return t.CancelCountIn()
	case Recording:
		return t.StopRecording()
	case ArmedForRecording, ArmedForPlayback, Playing:
		t.setState(t.contentState())
	}
	return nil
}

// Delete discards a finished recording.
func (t *Track) Delete() error {
	if t.state != Recorded {
		return t.invalid("delete")
	}
	t.events = nil
	t.fired = nil
	t.loop = 0
	t.playbackArmed = false
	t.setState(Empty)
	return nil
}

// AddEvent stamps e with its loop-relative time and appends it. It reports
// false and leaves the buffer untouched unless the track is recording.
func (t *Track) AddEvent(now float64, e note.Event) bool {
	if t.state != Recording {
		return false
	}
	e.Time = clock.Wrap(now-t.start, t.loop)
	e.Track = t.id
	t.events = append(t.events, e)
	return true
}

// LoopTime is the loop-relative position of now, or 0 without a loop.
func (t *Track) LoopTime(now float64) float64 {
	if !(t.loop > 0) {
		return 0
	}
	return clock.Wrap(now-t.start, t.loop)
}

// PlaybackTick fires the note-on events whose nearest occurrence lies within
// deltaTime of now. Each occurrence fires once, so a tick straddling an event
// never sounds it twice. The nominal jitter is one deltaTime. It returns the
// number of triggers sent.
func (t *Track) PlaybackTick(now, deltaTime float64) int {
	if t.state != Playing || !(deltaTime > 0) {
		return 0
	}
	elapsed := now - t.start
	fired := 0
	for i, e := range t.events {
		if !e.On {
			continue
		}
		offset := elapsed - e.Time
		n := math.Round(offset / t.loop)
		if n < 0 || math.Abs(offset-n*t.loop) >= deltaTime {
			continue
		}
		occurrence := int64(n)
		if t.fired[i] == occurrence {
			continue
		}
		t.fired[i] = occurrence
		fired++
		if t.sink != nil {
			t.sink.TriggerSound(e.Surface, e.Octave, e.Effect)
		}
		if t.policy == FirstMatch {
			break
		}
	}
	return fired
}

// Snapshot returns the persisted form of the track.
func (t *Track) Snapshot() store.Record {
	return store.Record{
		Events:           note.Clone(t.events),
		ArmedForPlayback: t.playbackArmed,
		LoopSeconds:      t.loop,
	}
}

// Restore loads a persisted record into an idle track. A record without a
// loop length gets fallbackLoop.
func (t *Track) Restore(rec store.Record, fallbackLoop float64) error {
	switch t.state {
	case Empty, Recorded, ArmedForPlayback:
	default:
		return t.invalid("restore")
	}
	loop := rec.LoopSeconds
	if !(loop > 0) {
		loop = fallbackLoop
	}
	if len(rec.Events) > 0 && !(loop > 0) {
		return errors.Wrapf(ErrZeroLoop, "track %s: restored loop %v", t.id, loop)
	}
	t.events = note.Clone(rec.Events)
	for i := range t.events {
		t.events[i].Track = t.id
	}
	t.fired = nil
	t.loop = loop
	t.playbackArmed = rec.ArmedForPlayback && len(t.events) > 0
	if t.playbackArmed {
		t.setState(ArmedForPlayback)
	} else {
		t.setState(t.contentState())
	}
	return nil
}
