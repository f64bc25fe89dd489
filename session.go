// Package looprec is a loop-based performance recorder: surfaces are
// captured into tracks against a musical clock and replayed in tempo-locked
// loops.
package looprec

import (
	"github.com/charmbracelet/log"
	"github.com/gopxl/beep"
	"github.com/pkg/errors"

	"github.com/cbegin/looprec-go/internal/clock"
	"github.com/cbegin/looprec-go/internal/config"
	"github.com/cbegin/looprec-go/internal/note"
	"github.com/cbegin/looprec-go/internal/playhead"
	"github.com/cbegin/looprec-go/internal/sequencer"
	"github.com/cbegin/looprec-go/internal/store"
	"github.com/cbegin/looprec-go/internal/track"
	"github.com/cbegin/looprec-go/internal/voice"
)

type (
	State         = track.State
	Effect        = note.Effect
	Phase         = sequencer.Phase
	TriggerResult = sequencer.TriggerResult
)

const (
	Empty             = track.Empty
	ArmedForRecording = track.ArmedForRecording
	CountingIn        = track.CountingIn
	Recording         = track.Recording
	Recorded          = track.Recorded
	ArmedForPlayback  = track.ArmedForPlayback
	Playing           = track.Playing
)

const (
	EffectNone   = note.EffectNone
	EffectReverb = note.EffectReverb
	EffectDelay  = note.EffectDelay
)

var ErrSessionBusy = sequencer.ErrSessionBusy

// Listener receives session notifications. Every field is optional and all
// calls happen on the goroutine driving Tick.
type Listener struct {
	OnStateChanged       func(trackID string, state State)
	OnMeterProgress      func(progress float64)
	OnColumnChanged      func(column int)
	OnCountInBeat        func(step int)
	OnTrackLengthChanged func(seconds float64, formatted string)
}

type SessionOption func(*sessionConfig)

type sessionConfig struct {
	store    store.Store
	sink     track.Sink
	logger   *log.Logger
	listener Listener
	now      func() float64
	columns  playhead.ColumnCounter
}

// WithStore persists tracks; without it recordings live for the session.
func WithStore(s store.Store) SessionOption {
	return func(cfg *sessionConfig) {
		cfg.store = s
	}
}

func WithSink(s track.Sink) SessionOption {
	return func(cfg *sessionConfig) {
		cfg.sink = s
	}
}

func WithLogger(l *log.Logger) SessionOption {
	return func(cfg *sessionConfig) {
		cfg.logger = l
	}
}

func WithListener(l Listener) SessionOption {
	return func(cfg *sessionConfig) {
		cfg.listener = l
	}
}

// WithTimeSource replaces the accumulated tick time with an external clock
// reading in seconds.
func WithTimeSource(now func() float64) SessionOption {
	return func(cfg *sessionConfig) {
		cfg.now = now
	}
}

// WithColumnCounter overrides the configured column count of the timeline.
func WithColumnCounter(c playhead.ColumnCounter) SessionOption {
	return func(cfg *sessionConfig) {
		cfg.columns = c
	}
}

// Session owns the engine and is driven by one Tick per frame. It is not
// safe for concurrent use.
type Session struct {
	cfg      config.Config
	clock    *clock.Clock
	master   *sequencer.Master
	playhead *playhead.Playhead
	store    store.Store
	bank     *voice.Bank
	sink     track.Sink
	logger   *log.Logger
	listener Listener
	timeNow  func() float64

	now      float64
	monitor  bool
	meter    float64
	skipped  []error
	labels   map[int]string
	trackIDs []string
}

// NewVoiceBank builds the voice bank described by cfg. Surfaces of racks
// that fail validation are left out.
func NewVoiceBank(cfg config.Config) *voice.Bank {
	bank := voice.NewBank(beep.SampleRate(cfg.SampleRate))
	for _, r := range cfg.Racks {
		if r.Validate() != nil {
			continue
		}
		for _, s := range r.Surfaces {
			v, err := s.BankVoice()
			if err != nil {
				continue
			}
			// The first rack to claim a surface owns it.
			if _, taken := bank.Voice(s.ID); taken {
				continue
			}
			bank.Set(s.ID, v)
		}
	}
	return bank
}

func NewSession(cfg config.Config, opts ...SessionOption) (*Session, error) {
	var sc sessionConfig
	for _, opt := range opts {
		opt(&sc)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := sc.logger
	if logger == nil {
		logger = log.Default()
	}
	clk, err := clock.New(cfg.BPM)
	if err != nil {
		return nil, err
	}
	s := &Session{
		cfg:      cfg,
		clock:    clk,
		store:    sc.store,
		bank:     NewVoiceBank(cfg),
		sink:     sc.sink,
		logger:   logger.With("component", "session"),
		listener: sc.listener,
		timeNow:  sc.now,
		monitor:  cfg.Monitor,
		labels:   map[int]string{},
	}
	s.master, err = sequencer.NewMaster(sequencer.MasterOptions{
		Clock:           clk,
		Bars:            cfg.Bars,
		CountInBeats:    cfg.CountInBeats,
		SyncPlayback:    cfg.SyncPlayback,
		Store:           sc.store,
		Logger:          logger,
		OnMeterProgress: s.meterProgress,
		OnCountInBeat:   s.countInBeat,
	})
	if err != nil {
		return nil, err
	}
	columns := sc.columns
	if columns == nil {
		columns = playhead.FixedColumns(cfg.NumColumns)
	}
	s.playhead = playhead.New(clk, playhead.Options{
		BeatsPerColumn:  cfg.BeatsPerColumn,
		Columns:         columns,
		OnColumnChanged: s.columnChanged,
		Logger:          logger,
	})
	rackOpts := sequencer.RackOptions{
		Sink:           track.SinkFunc(s.triggerSound),
		OnStateChanged: s.stateChanged,
		Logger:         logger,
	}
	for _, rc := range cfg.Racks {
		if err := s.addRack(rc, rackOpts); err != nil {
			s.logger.Error("rack disabled", "rack", rc.Name, "err", err)
			s.skipped = append(s.skipped, err)
		}
	}
	if len(s.master.Racks()) == 0 {
		return nil, errors.New("no usable racks configured")
	}
	if f, ok := s.store.(*store.File); ok {
		f.SetBPM(clk.BPM())
	}
	s.logger.Info("session ready", "bpm", clk.BPM(), "bars", cfg.Bars, "racks", len(s.master.Racks()), "tracks", len(s.trackIDs))
	return s, nil
}

func (s *Session) addRack(rc config.Rack, opts sequencer.RackOptions) error {
	if err := rc.Validate(); err != nil {
		return err
	}
	kind, err := sequencer.ParseKind(rc.Kind)
	if err != nil {
		return err
	}
	opts.Policy = rc.MatchPolicy()
	r, err := sequencer.NewRack(rc.Name, kind, s.cfg.Bars, rc.Tracks, rc.SurfaceIDs(), opts)
	if err != nil {
		return err
	}
	if err := s.master.AddRack(r); err != nil {
		return err
	}
	for _, sf := range rc.Surfaces {
		s.labels[sf.ID] = sf.Label
	}
	for _, t := range r.Tracks() {
		s.trackIDs = append(s.trackIDs, t.ID())
	}
	return nil
}

// SkippedRacks lists the configuration errors of racks that were disabled.
func (s *Session) SkippedRacks() []error { return append([]error(nil), s.skipped...) }

func (s *Session) Bank() *voice.Bank            { return s.bank }
func (s *Session) Config() config.Config        { return s.cfg }
func (s *Session) Now() float64                 { return s.now }
func (s *Session) Phase() Phase                 { return s.master.Phase() }
func (s *Session) BPM() float64                 { return s.clock.BPM() }
func (s *Session) Monitor() bool                { return s.monitor }
func (s *Session) SetMonitor(on bool)           { s.monitor = on }
func (s *Session) SyncPlayback() bool           { return s.master.SyncPlayback() }
func (s *Session) SetSyncPlayback(on bool)      { s.master.SetSyncPlayback(on) }
func (s *Session) MeterProgress() float64       { return s.meter }
func (s *Session) CountInRemaining() float64    { return s.master.CountInRemaining() }
func (s *Session) Playhead() *playhead.Playhead { return s.playhead }

// SetSink replaces the sound sink; nil silences the session.
func (s *Session) SetSink(sink track.Sink) { s.sink = sink }

func (s *Session) triggerSound(surface, octave int, effect note.Effect) {
	if s.sink != nil {
		s.sink.TriggerSound(surface, octave, effect)
	}
}

func (s *Session) stateChanged(id string, st State) {
	if s.listener.OnStateChanged != nil {
		s.listener.OnStateChanged(id, st)
	}
}

func (s *Session) meterProgress(p float64) {
	s.meter = p
	if s.listener.OnMeterProgress != nil {
		s.listener.OnMeterProgress(p)
	}
}

func (s *Session) countInBeat(step int) {
	s.logger.Debug("count-in", "beat", step+1)
	if s.listener.OnCountInBeat != nil {
		s.listener.OnCountInBeat(step)
	}
}

func (s *Session) columnChanged(col int) {
	if s.listener.OnColumnChanged != nil {
		s.listener.OnColumnChanged(col)
	}
}

// Tick runs one scheduler step with no live input.
func (s *Session) Tick(dt float64) { s.TickWith(dt, nil) }

// TickWith runs one scheduler step: the now snapshot, input (surface edges
// and gestures received this frame), the count-in and record pass, playback
// matching, then the playhead. Captures made by input share the now used for
// playback matching.
func (s *Session) TickWith(dt float64, input func()) {
	if !(dt > 0) {
		return
	}
	if s.timeNow != nil {
		s.now = s.timeNow()
	} else {
		s.now += dt
	}
	if input != nil {
		input()
	}
	s.master.Tick(s.now, dt)
	s.playhead.Tick(dt)
}

// NotifySurfaceTriggered feeds a live pad or key edge into the session. It
// reports whether a recording track captured it.
func (s *Session) NotifySurfaceTriggered(surface int, on bool, octave int, effect Effect) bool {
	if on && s.monitor {
		s.triggerSound(surface, octave, effect)
	}
	e := note.Event{Surface: surface, On: on, Octave: octave, Effect: effect}
	return s.master.Capture(s.now, e)
}

// ArmTrack applies the rack's single-selection model to trackID.
func (s *Session) ArmTrack(trackID string) error { return s.master.Select(trackID) }

func (s *Session) Disarm(trackID string) error { return s.master.Disarm(trackID) }

func (s *Session) DeleteRecording(trackID string) error { return s.master.Delete(trackID) }

func (s *Session) MasterTrigger() TriggerResult { return s.master.OnMasterTrigger(s.now) }

// StopAll ends any count-in, recording or playback.
func (s *Session) StopAll() { s.master.StopAll() }

// SetBPM changes the tempo for future recordings. Existing recordings keep
// the loop length they were captured with.
func (s *Session) SetBPM(bpm float64) error {
	if err := clock.ValidateUserBPM(bpm); err != nil {
		return err
	}
	if ph := s.master.Phase(); ph == sequencer.PhaseCountingIn || ph == sequencer.PhaseRecording {
		return errors.Wrapf(ErrSessionBusy, "set bpm during %s", ph)
	}
	if err := s.clock.SetBPM(bpm); err != nil {
		return err
	}
	if f, ok := s.store.(*store.File); ok {
		f.SetBPM(bpm)
	}
	seconds := s.LoopDuration()
	s.logger.Info("tempo changed", "bpm", bpm, "loop", clock.FormatDuration(seconds))
	if s.listener.OnTrackLengthChanged != nil {
		s.listener.OnTrackLengthChanged(seconds, clock.FormatDuration(seconds))
	}
	return nil
}

// LoopDuration is the length the next recording will have.
func (s *Session) LoopDuration() float64 { return s.clock.LoopDuration(s.cfg.Bars) }

func (s *Session) FormattedLength() string { return clock.FormatDuration(s.LoopDuration()) }

func (s *Session) Play(restart bool) { s.playhead.Play(restart) }
func (s *Session) TogglePause()      { s.playhead.TogglePause() }
func (s *Session) StopPlayhead()     { s.playhead.Stop() }

// TrackInfo is a read-only view of one track.
type TrackInfo struct {
	ID           string
	Rack         string
	State        State
	Events       int
	LoopDuration float64
	LoopTime     float64
	Selected     bool
}

func (s *Session) TrackInfo(id string) (TrackInfo, bool) {
	t, ok := s.master.Track(id)
	if !ok {
		return TrackInfo{}, false
	}
	info := TrackInfo{
		ID:           id,
		State:        t.State(),
		Events:       t.Len(),
		LoopDuration: t.LoopDuration(),
	}
	if t.State() == track.Playing || t.State() == track.Recording {
		info.LoopTime = t.LoopTime(s.now)
	}
	for _, r := range s.master.Racks() {
		for _, rt := range r.Tracks() {
			if rt == t {
				info.Rack = r.Name()
				info.Selected = s.master.Selected(r.Name()) == t
			}
		}
	}
	return info, true
}

// Tracks lists every track in rack order.
func (s *Session) Tracks() []TrackInfo {
	out := make([]TrackInfo, 0, len(s.trackIDs))
	for _, id := range s.trackIDs {
		if info, ok := s.TrackInfo(id); ok {
			out = append(out, info)
		}
	}
	return out
}

// RackInfo describes one enabled rack.
type RackInfo struct {
	Name     string
	Kind     string
	TrackIDs []string
	Surfaces []int
}

func (s *Session) Racks() []RackInfo {
	var out []RackInfo
	for _, r := range s.master.Racks() {
		info := RackInfo{Name: r.Name(), Kind: string(r.Kind()), Surfaces: r.Surfaces()}
		for _, t := range r.Tracks() {
			info.TrackIDs = append(info.TrackIDs, t.ID())
		}
		out = append(out, info)
	}
	return out
}

// Label is the display name configured for surface.
func (s *Session) Label(surface int) string { return s.labels[surface] }

// Recording returns the persisted form of a track.
func (s *Session) Recording(trackID string) (store.Record, bool) {
	t, ok := s.master.Track(trackID)
	if !ok || !t.HasRecording() {
		return store.Record{}, false
	}
	return t.Snapshot(), true
}

// Close stops the engine and flushes a file store.
func (s *Session) Close() error {
	s.master.StopAll()
	if f, ok := s.store.(*store.File); ok {
		if err := f.Flush(); err != nil {
			return errors.Wrap(err, "flush store")
		}
		s.logger.Info("store flushed", "path", f.Path())
	}
	return nil
}
