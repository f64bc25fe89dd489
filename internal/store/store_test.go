package store

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/cbegin/looprec-go/internal/note"
)

func fiveEvents() []note.Event {
	return []note.Event{
		{Surface: 0, On: true, Time: 0.25, Track: "Kit_0"},
		{Surface: 0, On: false, Time: 0.5, Track: "Kit_0"},
		{Surface: 4, On: true, Time: 1.125, Octave: 3, Effect: note.EffectReverb, Track: "Kit_0"},
		{Surface: 4, On: false, Time: 1.5, Octave: 3, Track: "Kit_0"},
		{Surface: 7, On: true, Time: 3.75, Octave: 5, Effect: note.EffectDelay, Track: "Kit_0"},
	}
}

func TestMemoryRoundTrip(t *testing.T) {
	m := NewMemory()
	rec := Record{Events: fiveEvents(), ArmedForPlayback: true, LoopSeconds: 8}
	if err := m.Save("Kit_0", rec); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, ok, err := m.Load("Kit_0")
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if !reflect.DeepEqual(got, rec) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, rec)
	}
}

func TestMemoryCopiesRecords(t *testing.T) {
	m := NewMemory()
	events := fiveEvents()
	_ = m.Save("a_0", Record{Events: events})
	events[0].Time = 99
	got, _, _ := m.Load("a_0")
	if got.Events[0].Time != 0.25 {
		t.Fatal("store aliased the caller's slice on save")
	}
	got.Events[1].Time = 42
	again, _, _ := m.Load("a_0")
	if again.Events[1].Time != 0.5 {
		t.Fatal("store aliased its slice on load")
	}
}

func TestMemoryMissingAndDelete(t *testing.T) {
	m := NewMemory()
	if _, ok, _ := m.Load("nope"); ok {
		t.Fatal("expected missing record")
	}
	_ = m.Save("b_1", Record{})
	_ = m.Save("a_0", Record{})
	if ids := m.IDs(); !reflect.DeepEqual(ids, []string{"a_0", "b_1"}) {
		t.Fatalf("ids = %v", ids)
	}
	_ = m.Delete("a_0")
	if _, ok, _ := m.Load("a_0"); ok {
		t.Fatal("record survived delete")
	}
}

func TestFileFlushAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.yaml")
	f, err := OpenFile(path)
	if err != nil {
		t.Fatalf("open missing: %v", err)
	}
	f.SetBPM(96)
	rec := Record{Events: fiveEvents(), ArmedForPlayback: true, LoopSeconds: 10}
	_ = f.Save("Keys_2", rec)
	if err := f.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	reopened, err := OpenFile(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.BPM() != 96 {
		t.Fatalf("bpm = %v", reopened.BPM())
	}
	got, ok, _ := reopened.Load("Keys_2")
	if !ok || !reflect.DeepEqual(got, rec) {
		t.Fatalf("reopened record mismatch: %+v", got)
	}
}

func TestFileRejectsGarbageAndNewerVersions(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("tracks: [unterminated"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenFile(bad); err == nil {
		t.Fatal("expected decode error")
	}
	newer := filepath.Join(dir, "newer.yaml")
	if err := os.WriteFile(newer, []byte("version: 9\ntracks: {}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenFile(newer); err == nil {
		t.Fatal("expected version error")
	}
}
