package sequencer

// countInEpsilon absorbs float accumulation so a beat boundary that lands
// exactly on a tick is not deferred to the following tick.
const countInEpsilon = 1e-9

// CountInStatus is what one Advance call observed.
type CountInStatus int

const (
	// CountInIdle: not running (never started, cancelled or finished).
	CountInIdle CountInStatus = iota
	CountInWaiting
	// CountInBeat: at least one beat tick was emitted this call.
	CountInBeat
	CountInComplete
)

func (s CountInStatus) String() string {
	switch s {
	case CountInWaiting:
		return "waiting"
	case CountInBeat:
		return "beat"
	case CountInComplete:
		return "complete"
	}
	return "idle"
}

// CountIn is a cooperative metronome lead-in. It never blocks: Advance is
// called once per scheduler tick and reports completion on the tick in which
// the last beat's wait runs out.
type CountIn struct {
	beats          int
	secondsPerBeat float64
	onBeat         func(step int)

	step      int
	remaining float64
	running   bool
	cancelled bool
	completed bool
}

func NewCountIn(beats int, secondsPerBeat float64, onBeat func(step int)) *CountIn {
	if beats < 0 {
		beats = 0
	}
	return &CountIn{beats: beats, secondsPerBeat: secondsPerBeat, onBeat: onBeat}
}

// Start emits beat 0 and begins waiting. It reports true when there are no
// beats to count, in which case the sequence is already complete.
func (c *CountIn) Start() bool {
	c.step = 0
	c.cancelled = false
	if c.beats == 0 || !(c.secondsPerBeat > 0) {
		c.running = false
		c.completed = true
		return true
	}
	c.running = true
	c.completed = false
	c.remaining = c.secondsPerBeat
	c.emit(0)
	return false
}

// Advance consumes dt seconds. Overshoot past a beat boundary is carried into
// the next beat so long count-ins keep their phase.
func (c *CountIn) Advance(dt float64) CountInStatus {
	if !c.running {
		return CountInIdle
	}
	status := CountInWaiting
	c.remaining -= dt
	for c.remaining <= countInEpsilon {
		c.step++
		if c.step >= c.beats {
			c.running = false
			c.completed = true
			return CountInComplete
		}
		c.emit(c.step)
		status = CountInBeat
		c.remaining += c.secondsPerBeat
	}
	return status
}

// Cancel stops the sequence; a cancelled count-in never emits or completes.
func (c *CountIn) Cancel() {
	if c.running {
		c.cancelled = true
	}
	c.running = false
}

func (c *CountIn) emit(step int) {
	if c.onBeat != nil {
		c.onBeat(step)
	}
}

func (c *CountIn) Running() bool   { return c.running }
func (c *CountIn) Cancelled() bool { return c.cancelled }
func (c *CountIn) Completed() bool { return c.completed }
func (c *CountIn) Step() int       { return c.step }
func (c *CountIn) Beats() int      { return c.beats }

// Remaining is the time left in the whole count-in.
func (c *CountIn) Remaining() float64 {
	if !c.running {
		return 0
	}
	return c.remaining + float64(c.beats-c.step-1)*c.secondsPerBeat
}
