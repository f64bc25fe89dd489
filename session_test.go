package looprec

import (
	"errors"
	"io"
	"math"
	"path/filepath"
	"testing"

	"github.com/charmbracelet/log"

	"github.com/cbegin/looprec-go/internal/clock"
	"github.com/cbegin/looprec-go/internal/config"
	"github.com/cbegin/looprec-go/internal/note"
	"github.com/cbegin/looprec-go/internal/playhead"
	"github.com/cbegin/looprec-go/internal/sequencer"
	"github.com/cbegin/looprec-go/internal/store"
	"github.com/cbegin/looprec-go/internal/track"
)

const frameDT = 0.01

type hit struct {
	at      float64
	surface int
}

type rig struct {
	t       *testing.T
	session *Session
	hits    []hit
	lengths []string
	columns []int
}

func newRig(t *testing.T, cfg config.Config, opts ...SessionOption) *rig {
	t.Helper()
	r := &rig{t: t}
	opts = append([]SessionOption{
		WithLogger(log.New(io.Discard)),
		WithListener(Listener{
			OnTrackLengthChanged: func(_ float64, formatted string) { r.lengths = append(r.lengths, formatted) },
			OnColumnChanged:      func(col int) { r.columns = append(r.columns, col) },
		}),
	}, opts...)
	s, err := NewSession(cfg, opts...)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	s.SetSink(track.SinkFunc(func(surface, _ int, _ note.Effect) {
		r.hits = append(r.hits, hit{at: s.Now(), surface: surface})
	}))
	r.session = s
	return r
}

func (r *rig) run(seconds float64) {
	steps := int(math.Round(seconds / frameDT))
	for i := 0; i < steps; i++ {
		r.session.Tick(frameDT)
	}
}

func (r *rig) runUntil(limit float64, cond func() bool) {
	r.t.Helper()
	for elapsed := 0.0; elapsed < limit && !cond(); elapsed += frameDT {
		r.session.Tick(frameDT)
	}
	if !cond() {
		r.t.Fatalf("condition not reached within %.2fs", limit)
	}
}

func (r *rig) hitsFor(surface int) []float64 {
	var out []float64
	for _, h := range r.hits {
		if h.surface == surface {
			out = append(out, h.at)
		}
	}
	return out
}

func (r *rig) info(id string) TrackInfo {
	r.t.Helper()
	info, ok := r.session.TrackInfo(id)
	if !ok {
		r.t.Fatalf("unknown track %s", id)
	}
	return info
}

func quietConfig() config.Config {
	cfg := config.Default()
	cfg.Monitor = false
	return cfg
}

// recordTwoHits records a kick at 2.0s and a snare at 2.3s into Drums_0.
func (r *rig) recordTwoHits() {
	r.t.Helper()
	s := r.session
	if err := s.ArmTrack("Drums_0"); err != nil {
		r.t.Fatalf("arm: %v", err)
	}
	if got := s.MasterTrigger(); got != sequencer.TriggerCountIn {
		r.t.Fatalf("trigger = %v", got)
	}
	r.runUntil(3, func() bool { return s.Phase() == sequencer.PhaseRecording })
	r.run(2.0)
	if !s.NotifySurfaceTriggered(0, true, 4, EffectNone) {
		r.t.Fatalf("kick was not captured")
	}
	r.run(0.3)
	if !s.NotifySurfaceTriggered(1, true, 4, EffectReverb) {
		r.t.Fatalf("snare was not captured")
	}
	r.runUntil(10, func() bool { return s.Phase() == sequencer.PhaseIdle })
}

func TestSessionRecordsAndReplaysLoop(t *testing.T) {
	r := newRig(t, quietConfig())
	r.recordTwoHits()
	if got := r.info("Drums_0").State; got != Recorded {
		t.Fatalf("state after pass = %v", got)
	}
	rec, ok := r.session.Recording("Drums_0")
	if !ok || len(rec.Events) != 2 {
		t.Fatalf("recording = %+v, %v", rec, ok)
	}
	if rec.LoopSeconds != 8 {
		t.Fatalf("loop = %v, want 8", rec.LoopSeconds)
	}
	for i, want := range []float64{2.0, 2.3} {
		if math.Abs(rec.Events[i].Time-want) > 0.02 {
			t.Fatalf("event %d at %.3f, want %.1f", i, rec.Events[i].Time, want)
		}
	}
	if len(r.hits) != 0 {
		t.Fatalf("recording with monitor off should be silent, got %v", r.hits)
	}

	if err := r.session.ArmTrack("Drums_0"); err != nil {
		t.Fatalf("arm for playback: %v", err)
	}
	if got := r.info("Drums_0").State; got != ArmedForPlayback {
		t.Fatalf("state = %v", got)
	}
	if got := r.session.MasterTrigger(); got != sequencer.TriggerPlayback {
		t.Fatalf("trigger = %v", got)
	}
	start := r.session.Now()
	r.run(17)
	for surface, offset := range map[int]float64{0: 2.0, 1: 2.3} {
		got := r.hitsFor(surface)
		if len(got) != 2 {
			t.Fatalf("surface %d fired %d times, want 2", surface, len(got))
		}
		for pass, at := range got {
			want := start + offset + float64(pass)*8
			if math.Abs(at-want) > 2*frameDT {
				t.Fatalf("surface %d pass %d at %.3f, want %.3f", surface, pass, at, want)
			}
		}
	}
	if got := r.session.MasterTrigger(); got != sequencer.TriggerStopped {
		t.Fatalf("second trigger = %v", got)
	}
	if got := r.info("Drums_0").State; got != ArmedForPlayback {
		t.Fatalf("state after stop = %v", got)
	}
}

func TestSessionSetBPM(t *testing.T) {
	r := newRig(t, quietConfig())
	if err := r.session.SetBPM(60); err != nil {
		t.Fatalf("set bpm: %v", err)
	}
	if got := r.session.LoopDuration(); got != 16 {
		t.Fatalf("loop = %v, want 16", got)
	}
	if len(r.lengths) != 1 || r.lengths[0] != "00:16:00" {
		t.Fatalf("length notifications = %v", r.lengths)
	}
	for _, bpm := range []float64{59, 301, math.NaN()} {
		if err := r.session.SetBPM(bpm); err == nil {
			t.Fatalf("bpm %v should be rejected", bpm)
		}
	}
	if r.session.BPM() != 60 {
		t.Fatalf("rejected bpm changed tempo to %v", r.session.BPM())
	}

	if err := r.session.ArmTrack("Drums_1"); err != nil {
		t.Fatalf("arm: %v", err)
	}
	r.session.MasterTrigger()
	if err := r.session.SetBPM(100); !errors.Is(err, ErrSessionBusy) {
		t.Fatalf("set bpm during count-in = %v", err)
	}
}

func TestSessionSkipsBadRack(t *testing.T) {
	cfg := quietConfig()
	cfg.Racks = append(cfg.Racks,
		config.Rack{Name: "Clash", Kind: "drum", Tracks: 1, Surfaces: []config.Surface{{ID: 0, Voice: "kick"}}},
		config.Rack{Name: "Broken", Kind: "organ", Tracks: 1, Surfaces: []config.Surface{{ID: 50, Voice: "tone"}}},
	)
	r := newRig(t, cfg)
	if got := len(r.session.SkippedRacks()); got != 2 {
		t.Fatalf("skipped = %d, want 2", got)
	}
	if got := len(r.session.Racks()); got != 2 {
		t.Fatalf("racks = %d, want 2", got)
	}
	if v, ok := r.session.Bank().Voice(0); !ok || v.Kind.String() != "kick" {
		t.Fatalf("surface 0 voice = %+v, %v", v, ok)
	}

	cfg.Racks = cfg.Racks[3:]
	if _, err := NewSession(cfg, WithLogger(log.New(io.Discard))); err == nil {
		t.Fatalf("a session without usable racks should fail")
	}
}

func TestSessionPersistsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "take.yaml")
	f, err := store.OpenFile(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	r := newRig(t, quietConfig(), WithStore(f))
	r.recordTwoHits()
	if err := r.session.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := store.OpenFile(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.BPM() != clock.DefaultBPM {
		t.Fatalf("snapshot bpm = %v", reopened.BPM())
	}
	next := newRig(t, quietConfig(), WithStore(reopened))
	info := next.info("Drums_0")
	if info.State != Recorded || info.Events != 2 || info.LoopDuration != 8 {
		t.Fatalf("restored %+v", info)
	}
	if err := next.session.DeleteRecording("Drums_0"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := reopened.Load("Drums_0"); ok {
		t.Fatalf("deleted recording still stored")
	}
}

func TestSessionMonitor(t *testing.T) {
	r := newRig(t, config.Default())
	if r.session.NotifySurfaceTriggered(2, true, 4, EffectNone) {
		t.Fatalf("nothing is recording, capture should fail")
	}
	r.session.NotifySurfaceTriggered(2, false, 4, EffectNone)
	if got := r.hitsFor(2); len(got) != 1 {
		t.Fatalf("monitor hits = %v", got)
	}
	r.session.SetMonitor(false)
	r.session.NotifySurfaceTriggered(2, true, 4, EffectNone)
	if got := r.hitsFor(2); len(got) != 1 {
		t.Fatalf("monitor off still sounded: %v", got)
	}
}

func TestSessionPlayhead(t *testing.T) {
	r := newRig(t, quietConfig(), WithColumnCounter(playhead.FixedColumns(2)))
	ph := r.session.Playhead()
	if got := ph.TotalDuration(); got != 16 {
		t.Fatalf("total = %v", got)
	}
	r.session.Play(true)
	r.run(8.05)
	if len(r.columns) != 1 || r.columns[0] != 1 {
		t.Fatalf("columns = %v", r.columns)
	}
	r.session.TogglePause()
	before := ph.CurrentTime()
	r.run(1)
	if ph.CurrentTime() != before {
		t.Fatalf("paused playhead moved")
	}
	r.session.StopPlayhead()
	if ph.CurrentTime() != 0 || r.columns[len(r.columns)-1] != 0 {
		t.Fatalf("stop should rewind, columns %v", r.columns)
	}
}

func TestSessionTimeSource(t *testing.T) {
	external := 0.0
	r := newRig(t, quietConfig(), WithTimeSource(func() float64 { return external }))
	external = 5
	r.session.Tick(frameDT)
	if r.session.Now() != 5 {
		t.Fatalf("now = %v, want 5", r.session.Now())
	}
	r.session.Tick(0)
	external = 6
	r.session.Tick(-1)
	if r.session.Now() != 5 {
		t.Fatalf("non-positive dt should not advance, now %v", r.session.Now())
	}
}

func TestSessionRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.BPM = 20
	if _, err := NewSession(cfg); !errors.Is(err, clock.ErrBPMOutOfRange) {
		t.Fatalf("err = %v", err)
	}
}

func TestTickWithCapturesAtTickNow(t *testing.T) {
	r := newRig(t, quietConfig())
	s := r.session
	if err := s.ArmTrack("Drums_0"); err != nil {
		t.Fatalf("arm: %v", err)
	}
	s.MasterTrigger()
	r.runUntil(3, func() bool { return s.Phase() == sequencer.PhaseRecording })
	r.run(1)

	var inputNow float64
	captured := false
	s.TickWith(frameDT, func() {
		inputNow = s.Now()
		captured = s.NotifySurfaceTriggered(0, true, 4, EffectNone)
	})
	if !captured {
		t.Fatalf("hit during recording was not captured")
	}
	if inputNow != s.Now() {
		t.Fatalf("input saw now %v, tick ran at %v", inputNow, s.Now())
	}
	rec, ok := s.Recording("Drums_0")
	if !ok || len(rec.Events) != 1 {
		t.Fatalf("recording = %+v, %v", rec, ok)
	}
	if want := r.info("Drums_0").LoopTime; rec.Events[0].Time != want {
		t.Fatalf("event stamped %v, tick loop time %v", rec.Events[0].Time, want)
	}
}
