package sequencer

import (
	"github.com/charmbracelet/log"
	"github.com/pkg/errors"

	"github.com/cbegin/looprec-go/internal/clock"
	"github.com/cbegin/looprec-go/internal/note"
	"github.com/cbegin/looprec-go/internal/store"
	"github.com/cbegin/looprec-go/internal/track"
)

// DefaultCountInBeats is one bar of lead-in.
const DefaultCountInBeats = clock.BeatsPerBar

var (
	ErrUnknownTrack   = errors.New("unknown track")
	ErrSessionBusy    = errors.New("record pass in progress")
	ErrDuplicateRack  = errors.New("duplicate rack name")
	ErrSurfaceClaimed = errors.New("surface already owned by another rack")
)

// Phase is the session-wide activity the master is driving.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseCountingIn
	PhaseRecording
	PhasePlaying
)

func (p Phase) String() string {
	switch p {
	case PhaseCountingIn:
		return "counting-in"
	case PhaseRecording:
		return "recording"
	case PhasePlaying:
		return "playing"
	}
	return "idle"
}

// TriggerResult reports what a master trigger did.
type TriggerResult int

const (
	TriggerNothingArmed TriggerResult = iota
	TriggerIgnored
	TriggerStopped
	TriggerCountIn
	TriggerPlayback
)

func (r TriggerResult) String() string {
	switch r {
	case TriggerIgnored:
		return "ignored"
	case TriggerStopped:
		return "stopped"
	case TriggerCountIn:
		return "count-in"
	case TriggerPlayback:
		return "playback"
	}
	return "nothing-armed"
}

type MasterOptions struct {
	Clock        *clock.Clock
	Bars         int
	CountInBeats int
	// SyncPlayback starts playback-armed tracks together with a recording.
	SyncPlayback bool
	// Store receives a record after every persisted mutation; nil disables
	// persistence.
	Store  store.Store
	Logger *log.Logger

	OnMeterProgress func(progress float64)
	OnCountInBeat   func(step int)
	OnPhaseChanged  func(phase Phase)
}

// Master is the only component that moves tracks between top-level states.
// Like Track it runs on the scheduler goroutine only.
type Master struct {
	clock        *clock.Clock
	bars         int
	countInBeats int
	syncPlayback bool
	store        store.Store
	logger       *log.Logger

	onMeter func(float64)
	onBeat  func(int)
	onPhase func(Phase)

	racks     []*Rack
	byName    map[string]*Rack
	bySurface map[int]*Rack
	byTrack   map[string]*track.Track
	trackRack map[string]*Rack
	selected  map[*Rack]*track.Track

	phase        Phase
	countIn      *CountIn
	elapsed      float64
	passDuration float64
	synced       []*track.Track
}

func NewMaster(opts MasterOptions) (*Master, error) {
	if opts.Clock == nil {
		return nil, errors.New("master needs a clock")
	}
	if err := clock.ValidateBars(opts.Bars); err != nil {
		return nil, errors.Wrap(err, "master")
	}
	if opts.CountInBeats < 0 {
		return nil, errors.Errorf("master: count-in beats %d", opts.CountInBeats)
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Master{
		clock:        opts.Clock,
		bars:         opts.Bars,
		countInBeats: opts.CountInBeats,
		syncPlayback: opts.SyncPlayback,
		store:        opts.Store,
		logger:       logger.With("component", "master"),
		onMeter:      opts.OnMeterProgress,
		onBeat:       opts.OnCountInBeat,
		onPhase:      opts.OnPhaseChanged,
		byName:       map[string]*Rack{},
		bySurface:    map[int]*Rack{},
		byTrack:      map[string]*track.Track{},
		trackRack:    map[string]*Rack{},
		selected:     map[*Rack]*track.Track{},
	}, nil
}

// AddRack registers r and restores its tracks from the store. A rack whose
// name or surfaces collide with an earlier one is rejected whole.
func (m *Master) AddRack(r *Rack) error {
	if _, dup := m.byName[r.Name()]; dup {
		return errors.Wrapf(ErrDuplicateRack, "%s", r.Name())
	}
	for _, s := range r.Surfaces() {
		if owner, ok := m.bySurface[s]; ok {
			return errors.Wrapf(ErrSurfaceClaimed, "rack %s: surface %d owned by %s", r.Name(), s, owner.Name())
		}
	}
	m.racks = append(m.racks, r)
	m.byName[r.Name()] = r
	for _, s := range r.Surfaces() {
		m.bySurface[s] = r
	}
	for _, t := range r.Tracks() {
		m.byTrack[t.ID()] = t
		m.trackRack[t.ID()] = r
		m.restore(r, t)
	}
	return nil
}

func (m *Master) restore(r *Rack, t *track.Track) {
	if m.store == nil {
		return
	}
	rec, ok, err := m.store.Load(t.ID())
	if err != nil {
		m.logger.Warn("load failed", "track", t.ID(), "err", err)
		return
	}
	if !ok {
		return
	}
	if err := t.Restore(rec, m.clock.LoopDuration(t.Bars())); err != nil {
		m.logger.Warn("restore failed", "track", t.ID(), "err", err)
		return
	}
	if t.State() != track.ArmedForPlayback {
		return
	}
	// One armed track per rack; later armed records are demoted.
	if m.selected[r] != nil {
		_ = t.Disarm()
		m.save(t)
		return
	}
	m.selected[r] = t
}

func (m *Master) Phase() Phase       { return m.phase }
func (m *Master) Racks() []*Rack     { return append([]*Rack(nil), m.racks...) }
func (m *Master) Bars() int          { return m.bars }
func (m *Master) SyncPlayback() bool { return m.syncPlayback }

// SetSyncPlayback takes effect at the next record pass.
func (m *Master) SetSyncPlayback(on bool) { m.syncPlayback = on }

func (m *Master) Rack(name string) (*Rack, bool) {
	r, ok := m.byName[name]
	return r, ok
}

func (m *Master) RackFor(surface int) (*Rack, bool) {
	r, ok := m.bySurface[surface]
	return r, ok
}

func (m *Master) Track(id string) (*track.Track, bool) {
	t, ok := m.byTrack[id]
	return t, ok
}

// Selected returns the rack's currently armed track, or nil.
func (m *Master) Selected(rack string) *track.Track {
	r, ok := m.byName[rack]
	if !ok {
		return nil
	}
	return m.selected[r]
}

// Tracks lists every managed track in rack then index order.
func (m *Master) Tracks() []*track.Track {
	var out []*track.Track
	for _, r := range m.racks {
		out = append(out, r.Tracks()...)
	}
	return out
}

// CountInRemaining is the lead-in time left, or 0 outside a count-in.
func (m *Master) CountInRemaining() float64 {
	if m.phase != PhaseCountingIn || m.countIn == nil {
		return 0
	}
	return m.countIn.Remaining()
}

// PassProgress is the record-pass progress in [0,1].
func (m *Master) PassProgress() float64 {
	if m.phase != PhaseRecording || !(m.passDuration > 0) {
		return 0
	}
	return clamp01(m.elapsed / m.passDuration)
}

func (m *Master) lookup(id string) (*Rack, *track.Track, error) {
	t, ok := m.byTrack[id]
	if !ok {
		return nil, nil, errors.Wrapf(ErrUnknownTrack, "%q", id)
	}
	return m.trackRack[id], t, nil
}

func (m *Master) passRunning() bool {
	return m.phase == PhaseCountingIn || m.phase == PhaseRecording
}

// Select applies the single-selection model within the track's rack.
// Selecting the armed track again disarms it; selecting another releases the
// previous one and arms the new one for playback when it holds a recording,
// for recording otherwise.
func (m *Master) Select(id string) error {
	r, t, err := m.lookup(id)
	if err != nil {
		return err
	}
	if m.passRunning() {
		return errors.Wrapf(ErrSessionBusy, "select %s", id)
	}
	prev := m.selected[r]
	if prev == t && armed(t) {
		if err := t.Disarm(); err != nil {
			return err
		}
		delete(m.selected, r)
		m.save(t)
		m.settle()
		return nil
	}
	if prev != nil && prev != t {
		if err := prev.Disarm(); err != nil {
			return err
		}
		m.save(prev)
	}
	if t.HasRecording() {
		err = t.ArmForPlayback()
	} else {
		err = t.ArmForRecording()
	}
	if err != nil {
		m.settle()
		return err
	}
	m.selected[r] = t
	m.save(t)
	m.settle()
	m.logger.Debug("track selected", "rack", r.Name(), "track", id, "state", t.State())
	return nil
}

func armed(t *track.Track) bool {
	switch t.State() {
	case track.ArmedForRecording, track.CountingIn, track.Recording, track.ArmedForPlayback, track.Playing:
		return true
	}
	return false
}

// Disarm clears a track's arming. During a count-in the track stays armed
// for recording and, when no other track is counting in, the count-in is
// cancelled. During recording it stops the track's recording.
func (m *Master) Disarm(id string) error {
	r, t, err := m.lookup(id)
	if err != nil {
		return err
	}
	counting := t.State() == track.CountingIn
	if err := t.Disarm(); err != nil {
		return err
	}
	if !counting && m.selected[r] == t {
		delete(m.selected, r)
	}
	m.save(t)
	m.settle()
	return nil
}

// Delete discards a track's recording, disarming it first. A track without
// a recording is left untouched.
func (m *Master) Delete(id string) error {
	r, t, err := m.lookup(id)
	if err != nil {
		return err
	}
	if m.passRunning() {
		return errors.Wrapf(ErrSessionBusy, "delete %s", id)
	}
	if !t.HasRecording() {
		return errors.Wrapf(track.ErrInvalidTransition, "track %s: delete from %s without recording", id, t.State())
	}
	if err := t.Disarm(); err != nil {
		return err
	}
	if err := t.Delete(); err != nil {
		return err
	}
	if m.selected[r] == t {
		delete(m.selected, r)
	}
	if m.store != nil {
		if err := m.store.Delete(id); err != nil {
			m.logger.Warn("delete failed", "track", id, "err", err)
		}
	}
	m.settle()
	m.logger.Info("recording deleted", "track", id)
	return nil
}

// OnMasterTrigger starts or stops the session: ignored during a pass, stops
// playback when anything plays, otherwise starts a count-in for the tracks
// armed for recording or playback for the tracks armed for playback.
func (m *Master) OnMasterTrigger(now float64) TriggerResult {
	if m.any(track.CountingIn, track.Recording) {
		m.logger.Debug("master trigger ignored", "phase", m.phase)
		return TriggerIgnored
	}
	if m.any(track.Playing) {
		m.StopAll()
		return TriggerStopped
	}
	if recs := m.inState(track.ArmedForRecording); len(recs) > 0 {
		for _, t := range recs {
			if err := t.BeginCountIn(); err != nil {
				m.logger.Warn("count-in refused", "track", t.ID(), "err", err)
			}
		}
		m.countIn = NewCountIn(m.countInBeats, m.clock.SecondsPerBeat(), m.onBeat)
		m.setPhase(PhaseCountingIn)
		m.logger.Info("count-in started", "beats", m.countInBeats, "tracks", len(recs))
		if m.countIn.Start() {
			m.beginPass(now)
		}
		return TriggerCountIn
	}
	if pbs := m.inState(track.ArmedForPlayback); len(pbs) > 0 {
		for _, t := range pbs {
			if err := t.StartPlayback(now); err != nil {
				m.logger.Warn("playback refused", "track", t.ID(), "err", err)
			}
		}
		m.setPhase(PhasePlaying)
		m.logger.Info("playback started", "tracks", len(pbs))
		return TriggerPlayback
	}
	return TriggerNothingArmed
}

// StopAll ends whatever the session is doing and leaves every track idle but
// still armed.
func (m *Master) StopAll() {
	if m.countIn != nil {
		m.countIn.Cancel()
	}
	for _, t := range m.Tracks() {
		switch t.State() {
		case track.CountingIn:
			_ = t.CancelCountIn()
		case track.Recording:
			_ = t.StopRecording()
			m.save(t)
		case track.Playing:
			_ = t.StopPlayback()
		}
	}
	if m.phase == PhaseRecording {
		m.emitMeter(0)
	}
	m.synced = nil
	m.setPhase(PhaseIdle)
}

// Capture routes a live event to the recording track of the surface's rack.
func (m *Master) Capture(now float64, e note.Event) bool {
	r, ok := m.bySurface[e.Surface]
	if !ok {
		return false
	}
	captured := false
	for _, t := range r.Tracks() {
		if t.AddEvent(now, e) {
			captured = true
			m.save(t)
		}
	}
	return captured
}

// Tick advances the count-in or record pass, then runs playback matching for
// every playing track. It returns the number of sounds triggered.
func (m *Master) Tick(now, dt float64) int {
	switch m.phase {
	case PhaseCountingIn:
		if m.countIn.Advance(dt) == CountInComplete {
			m.beginPass(now)
		}
	case PhaseRecording:
		m.elapsed += dt
		m.emitMeter(clamp01(m.elapsed / m.passDuration))
		for _, t := range m.inState(track.Recording) {
			if t.RecordingExpired(now) {
				_ = t.StopRecording()
				m.save(t)
			}
		}
		if m.elapsed >= m.passDuration || !m.any(track.Recording) {
			m.endPass()
		}
	}
	fired := 0
	for _, t := range m.Tracks() {
		fired += t.PlaybackTick(now, dt)
	}
	return fired
}

func (m *Master) beginPass(now float64) {
	loop := m.clock.LoopDuration(m.bars)
	started := 0
	for _, t := range m.inState(track.CountingIn) {
		if err := t.StartRecording(now, loop); err != nil {
			m.logger.Error("recording refused", "track", t.ID(), "err", err)
			_ = t.CancelCountIn()
			continue
		}
		started++
	}
	if started == 0 {
		m.setPhase(PhaseIdle)
		return
	}
	m.synced = nil
	if m.syncPlayback {
		for _, t := range m.inState(track.ArmedForPlayback) {
			if err := t.StartPlayback(now); err != nil {
				m.logger.Warn("sync playback refused", "track", t.ID(), "err", err)
				continue
			}
			m.synced = append(m.synced, t)
		}
	}
	m.elapsed = 0
	m.passDuration = loop
	m.setPhase(PhaseRecording)
	m.emitMeter(0)
	m.logger.Info("recording started", "tracks", started, "synced", len(m.synced), "loop", loop)
}

func (m *Master) endPass() {
	for _, t := range m.inState(track.Recording) {
		_ = t.StopRecording()
		m.save(t)
	}
	for _, t := range m.synced {
		_ = t.StopPlayback()
	}
	m.synced = nil
	m.emitMeter(0)
	m.setPhase(PhaseIdle)
	m.logger.Info("recording pass finished")
}

// settle drops back to idle once nothing the current phase depends on is
// left, cancelling an orphaned count-in.
func (m *Master) settle() {
	switch m.phase {
	case PhaseCountingIn:
		if !m.any(track.CountingIn) {
			m.countIn.Cancel()
			m.setPhase(PhaseIdle)
			m.logger.Info("count-in cancelled")
		}
	case PhaseRecording:
		if !m.any(track.Recording) {
			m.endPass()
		}
	case PhasePlaying:
		if !m.any(track.Playing) {
			m.setPhase(PhaseIdle)
		}
	}
}

func (m *Master) setPhase(p Phase) {
	if p == m.phase {
		return
	}
	m.logger.Debug("phase changed", "from", m.phase, "to", p)
	m.phase = p
	if m.onPhase != nil {
		m.onPhase(p)
	}
}

func (m *Master) emitMeter(progress float64) {
	if m.onMeter != nil {
		m.onMeter(progress)
	}
}

func (m *Master) save(t *track.Track) {
	if m.store == nil {
		return
	}
	if err := m.store.Save(t.ID(), t.Snapshot()); err != nil {
		m.logger.Warn("save failed", "track", t.ID(), "err", err)
	}
}

func (m *Master) any(states ...track.State) bool {
	for _, t := range m.byTrack {
		for _, s := range states {
			if t.State() == s {
				return true
			}
		}
	}
	return false
}

func (m *Master) inState(s track.State) []*track.Track {
	var out []*track.Track
	for _, t := range m.Tracks() {
		if t.State() == s {
			out = append(out, t)
		}
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
