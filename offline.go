package looprec

import (
	"encoding/binary"
	"io"
	"math"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/wav"
	"github.com/pkg/errors"

	"github.com/cbegin/looprec-go/internal/effects"
	"github.com/cbegin/looprec-go/internal/store"
	"github.com/cbegin/looprec-go/internal/track"
	"github.com/cbegin/looprec-go/internal/voice"
)

// Bounce schedules every note-on of rec at its exact sample offset for the
// given number of loop passes. The streamer ends after the last pass; tails
// still ringing at that point are cut so the result loops seamlessly.
func Bounce(bank *voice.Bank, rec store.Record, passes int) (beep.Streamer, int, error) {
	if !(rec.LoopSeconds > 0) {
		return nil, 0, errors.Wrapf(track.ErrZeroLoop, "bounce loop %v", rec.LoopSeconds)
	}
	if passes < 1 {
		passes = 1
	}
	sr := bank.SampleRate()
	at := func(sec float64) int { return sr.N(time.Duration(sec * float64(time.Second))) }
	mixer := &beep.Mixer{}
	for pass := 0; pass < passes; pass++ {
		base := float64(pass) * rec.LoopSeconds
		for _, e := range rec.Events {
			if !e.On {
				continue
			}
			st, err := bank.Streamer(e.Surface, e.Octave)
			if err != nil {
				continue
			}
			st = effects.Apply(st, e.Effect, sr)
			mixer.Add(beep.Seq(beep.Silence(at(base+e.Time)), st))
		}
	}
	total := at(float64(passes) * rec.LoopSeconds)
	return beep.Take(total, mixer), total, nil
}

// RenderTrack bounces rec into interleaved stereo float32 samples.
func RenderTrack(bank *voice.Bank, rec store.Record, passes int) ([]float32, error) {
	st, total, err := Bounce(bank, rec, passes)
	if err != nil {
		return nil, err
	}
	frames := make([][2]float64, total)
	for filled := 0; filled < total; {
		n, ok := st.Stream(frames[filled:])
		filled += n
		if !ok {
			break
		}
	}
	out := make([]float32, total*2)
	for i, f := range frames {
		out[2*i] = float32(math.Max(-1, math.Min(1, f[0])))
		out[2*i+1] = float32(math.Max(-1, math.Min(1, f[1])))
	}
	return out, nil
}

// WriteWAV bounces rec as 16-bit PCM.
func WriteWAV(w io.WriteSeeker, bank *voice.Bank, rec store.Record, passes int) error {
	st, _, err := Bounce(bank, rec, passes)
	if err != nil {
		return err
	}
	format := beep.Format{SampleRate: bank.SampleRate(), NumChannels: 2, Precision: 2}
	return errors.Wrap(wav.Encode(w, st, format), "encode wav")
}

// EncodeWAVFloat32LE wraps interleaved samples in a 32-bit float WAV
// container.
func EncodeWAVFloat32LE(samples []float32, sampleRate int, channels int) []byte {
	const header = 44
	dataSize := len(samples) * 4
	out := make([]byte, header+dataSize)
	le := binary.LittleEndian
	copy(out[0:], "RIFF")
	le.PutUint32(out[4:], uint32(header-8+dataSize))
	copy(out[8:], "WAVEfmt ")
	le.PutUint32(out[16:], 16)
	le.PutUint16(out[20:], 3) // IEEE float
	le.PutUint16(out[22:], uint16(channels))
	le.PutUint32(out[24:], uint32(sampleRate))
	le.PutUint32(out[28:], uint32(sampleRate*channels*4))
	le.PutUint16(out[32:], uint16(channels*4))
	le.PutUint16(out[34:], 32)
	copy(out[36:], "data")
	le.PutUint32(out[40:], uint32(dataSize))
	for i, s := range samples {
		le.PutUint32(out[header+i*4:], math.Float32bits(s))
	}
	return out
}
