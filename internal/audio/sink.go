package audio

import (
	"sync"

	"github.com/charmbracelet/log"
	"github.com/gopxl/beep"

	"github.com/cbegin/looprec-go/internal/effects"
	"github.com/cbegin/looprec-go/internal/note"
	"github.com/cbegin/looprec-go/internal/voice"
)

// DefaultMaxVoices bounds simultaneous hits; extra triggers are dropped.
const DefaultMaxVoices = 48

type SinkOption func(*sinkConfig)

type sinkConfig struct {
	maxVoices int
	volume    float64
	logger    *log.Logger
	sampleTap func([]float32)
}

func WithMaxVoices(n int) SinkOption {
	return func(cfg *sinkConfig) {
		cfg.maxVoices = n
	}
}

// WithVolume sets the master gain applied after mixing.
func WithVolume(v float64) SinkOption {
	return func(cfg *sinkConfig) {
		cfg.volume = v
	}
}

func WithLogger(l *log.Logger) SinkOption {
	return func(cfg *sinkConfig) {
		cfg.logger = l
	}
}

// WithSampleTap installs a callback invoked with each rendered interleaved
// buffer. It runs on the audio goroutine and must not block.
func WithSampleTap(tap func([]float32)) SinkOption {
	return func(cfg *sinkConfig) {
		cfg.sampleTap = tap
	}
}

// Sink turns triggers into sound. TriggerSound is called from the scheduler
// while the audio goroutine pulls samples, so the mixer sits behind a mutex.
type Sink struct {
	mu     sync.Mutex
	bank   *voice.Bank
	mixer  beep.Mixer
	frames [][2]float64
	closed bool

	maxVoices int
	volume    float64
	logger    *log.Logger
	tap       func([]float32)
}

func NewSink(bank *voice.Bank, opts ...SinkOption) *Sink {
	cfg := sinkConfig{maxVoices: DefaultMaxVoices, volume: 1}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = log.Default()
	}
	if cfg.maxVoices < 1 {
		cfg.maxVoices = DefaultMaxVoices
	}
	return &Sink{
		bank:      bank,
		maxVoices: cfg.maxVoices,
		volume:    cfg.volume,
		logger:    cfg.logger.With("component", "sink"),
		tap:       cfg.sampleTap,
	}
}

func (s *Sink) SampleRate() beep.SampleRate { return s.bank.SampleRate() }

// TriggerSound starts one hit of surface. Unknown surfaces are ignored.
func (s *Sink) TriggerSound(surface int, octave int, effect note.Effect) {
	st, err := s.bank.Streamer(surface, octave)
	if err != nil {
		s.logger.Debug("trigger dropped", "surface", surface, "err", err)
		return
	}
	st = effects.Apply(st, effect, s.bank.SampleRate())
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.mixer.Len() >= s.maxVoices {
		s.logger.Debug("voice limit reached", "surface", surface, "active", s.mixer.Len())
		return
	}
	s.mixer.Add(st)
}

// Active is the number of voices still sounding.
func (s *Sink) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mixer.Len()
}

// Stream mixes every active voice; it yields silence when nothing plays, so
// it never drains.
func (s *Sink) Stream(samples [][2]float64) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, _ := s.mixer.Stream(samples)
	if s.volume != 1 {
		for i := range samples[:n] {
			samples[i][0] *= s.volume
			samples[i][1] *= s.volume
		}
	}
	return n, true
}

func (s *Sink) Err() error { return nil }

// Process fills dst with interleaved stereo frames for StreamReader.
func (s *Sink) Process(dst []float32) {
	frames := len(dst) / 2
	s.mu.Lock()
	if cap(s.frames) < frames {
		s.frames = make([][2]float64, frames)
	}
	buf := s.frames[:frames]
	s.mu.Unlock()
	clear(buf)
	s.Stream(buf)
	for i, f := range buf {
		dst[2*i] = float32(clampSample(f[0]))
		dst[2*i+1] = float32(clampSample(f[1]))
	}
	if s.tap != nil {
		s.tap(dst)
	}
}

// Close silences the sink; the stream reader reports EOF afterwards.
func (s *Sink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.mixer.Clear()
}

func (s *Sink) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func clampSample(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
