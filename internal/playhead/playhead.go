// Package playhead tracks the wall-clock timeline used for visual cursors and
// column indexing. It observes the session and never drives playback.
package playhead

import (
	"math"

	"github.com/charmbracelet/log"

	"github.com/cbegin/looprec-go/internal/clock"
)

// DefaultBeatsPerColumn is one grid column per four bars.
const DefaultBeatsPerColumn = 16

// ColumnCounter reports how many grid columns the arrangement has.
type ColumnCounter interface {
	NumColumns() int
}

// ColumnCounterFunc adapts a function to ColumnCounter.
type ColumnCounterFunc func() int

func (f ColumnCounterFunc) NumColumns() int { return f() }

// FixedColumns is a constant ColumnCounter.
type FixedColumns int

func (n FixedColumns) NumColumns() int { return int(n) }

type Options struct {
	BeatsPerColumn  int
	Columns         ColumnCounter
	OnColumnChanged func(column int)
	Logger          *log.Logger
}

type Playhead struct {
	clock          *clock.Clock
	beatsPerColumn int
	columns        ColumnCounter
	onColumn       func(int)
	logger         *log.Logger

	current float64
	column  int
	playing bool
	paused  bool
}

func New(clk *clock.Clock, opts Options) *Playhead {
	bpc := opts.BeatsPerColumn
	if bpc < 1 {
		bpc = DefaultBeatsPerColumn
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Playhead{
		clock:          clk,
		beatsPerColumn: bpc,
		columns:        opts.Columns,
		onColumn:       opts.OnColumnChanged,
		logger:         logger.With("component", "playhead"),
	}
}

func (p *Playhead) CurrentTime() float64 { return p.current }
func (p *Playhead) Column() int          { return p.column }
func (p *Playhead) Playing() bool        { return p.playing }
func (p *Playhead) Paused() bool         { return p.paused }
func (p *Playhead) BeatsPerColumn() int  { return p.beatsPerColumn }

// Tick advances the playhead while it plays unpaused.
func (p *Playhead) Tick(dt float64) {
	if !p.playing || p.paused {
		return
	}
	p.current += dt
	p.updateColumn()
}

func (p *Playhead) updateColumn() {
	beats := int(math.Floor(p.current / p.clock.SecondsPerBeat()))
	col := beats / p.beatsPerColumn
	if col == p.column {
		return
	}
	p.column = col
	p.logger.Debug("column changed", "column", col, "at", clock.FormatDuration(p.current))
	p.notify()
}

func (p *Playhead) notify() {
	if p.onColumn != nil {
		p.onColumn(p.column)
	}
}

// Play starts or resumes the playhead; restart rewinds it to zero first.
func (p *Playhead) Play(restart bool) {
	if restart {
		p.current = 0
		p.updateColumn()
	}
	p.playing = true
	p.paused = false
	p.logger.Debug("playhead started", "restart", restart)
}

func (p *Playhead) TogglePause() {
	p.paused = !p.paused
	p.logger.Debug("playhead paused", "paused", p.paused)
}

// Stop rewinds and always announces column 0.
func (p *Playhead) Stop() {
	p.playing = false
	p.paused = false
	p.current = 0
	p.column = 0
	p.logger.Debug("playhead stopped")
	p.notify()
}

// TotalDuration is the length of the whole grid at the current tempo.
func (p *Playhead) TotalDuration() float64 {
	if p.columns == nil {
		return 0
	}
	n := p.columns.NumColumns()
	if n < 1 {
		return 0
	}
	return float64(n*p.beatsPerColumn) * p.clock.SecondsPerBeat()
}

// Progress is CurrentTime over TotalDuration, clamped to [0,1].
func (p *Playhead) Progress() float64 {
	total := p.TotalDuration()
	if !(total > 0) {
		return 0
	}
	return math.Max(0, math.Min(1, p.current/total))
}
