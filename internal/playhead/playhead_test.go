package playhead

import (
	"io"
	"testing"

	"github.com/charmbracelet/log"

	"github.com/cbegin/looprec-go/internal/clock"
)

func newPlayhead(t *testing.T, bpm float64, columns int, seen *[]int) *Playhead {
	t.Helper()
	clk, err := clock.New(bpm)
	if err != nil {
		t.Fatalf("clock: %v", err)
	}
	return New(clk, Options{
		BeatsPerColumn:  DefaultBeatsPerColumn,
		Columns:         FixedColumns(columns),
		OnColumnChanged: func(c int) { *seen = append(*seen, c) },
		Logger:          log.New(io.Discard),
	})
}

func TestColumnAdvancesEveryFourBars(t *testing.T) {
	var seen []int
	p := newPlayhead(t, 120, 4, &seen)
	p.Play(false)
	// 16 beats at 120 BPM is 8 seconds per column.
	for i := 0; i < 1700; i++ {
		p.Tick(0.01)
	}
	if p.Column() != 2 {
		t.Fatalf("column = %d after %.2fs, want 2", p.Column(), p.CurrentTime())
	}
	if len(seen) != 2 || seen[0] != 1 || seen[1] != 2 {
		t.Fatalf("column notifications = %v", seen)
	}
}

func TestTickIgnoredWhenStoppedOrPaused(t *testing.T) {
	var seen []int
	p := newPlayhead(t, 120, 4, &seen)
	p.Tick(1)
	if p.CurrentTime() != 0 {
		t.Fatalf("stopped playhead moved")
	}
	p.Play(false)
	p.Tick(1)
	p.TogglePause()
	p.Tick(5)
	if p.CurrentTime() != 1 {
		t.Fatalf("paused playhead moved: %v", p.CurrentTime())
	}
	p.TogglePause()
	p.Tick(1)
	if p.CurrentTime() != 2 {
		t.Fatalf("resumed playhead at %v, want 2", p.CurrentTime())
	}
}

func TestStopThenRestartResetsToColumnZero(t *testing.T) {
	var seen []int
	p := newPlayhead(t, 120, 4, &seen)
	p.Play(false)
	p.Tick(9)
	if p.Column() != 1 {
		t.Fatalf("column = %d, want 1", p.Column())
	}
	p.Stop()
	if seen[len(seen)-1] != 0 {
		t.Fatalf("stop should notify column 0, got %v", seen)
	}
	if p.CurrentTime() != 0 || p.Column() != 0 || p.Playing() {
		t.Fatalf("stop left time=%v column=%d playing=%v", p.CurrentTime(), p.Column(), p.Playing())
	}
	p.Play(true)
	p.Tick(0.5)
	if p.Column() != 0 || p.CurrentTime() != 0.5 {
		t.Fatalf("restart: column=%d time=%v", p.Column(), p.CurrentTime())
	}
}

func TestPlayRestartFromMidTimeline(t *testing.T) {
	var seen []int
	p := newPlayhead(t, 120, 4, &seen)
	p.Play(false)
	p.Tick(17)
	p.Play(true)
	if p.CurrentTime() != 0 || p.Column() != 0 {
		t.Fatalf("restart left time=%v column=%d", p.CurrentTime(), p.Column())
	}
	if seen[len(seen)-1] != 0 {
		t.Fatalf("restart should announce column 0, got %v", seen)
	}
}

func TestTotalDurationAndProgress(t *testing.T) {
	var seen []int
	p := newPlayhead(t, 120, 4, &seen)
	if got := p.TotalDuration(); got != 32 {
		t.Fatalf("total = %v, want 32", got)
	}
	p.Play(false)
	p.Tick(8)
	if got := p.Progress(); got != 0.25 {
		t.Fatalf("progress = %v, want 0.25", got)
	}
	p.Tick(100)
	if got := p.Progress(); got != 1 {
		t.Fatalf("progress should clamp at 1, got %v", got)
	}
	empty := New(p.clock, Options{Logger: log.New(io.Discard)})
	if empty.TotalDuration() != 0 || empty.Progress() != 0 {
		t.Fatalf("playhead without columns should report zero")
	}
}
