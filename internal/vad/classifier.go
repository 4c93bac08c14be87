package vad

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
)

var ErrBadChunk = errors.New("vad: chunk is not PCM16LE")

// Classifier labels one chunk of raw client audio. An error return is
// treated by callers the same as an Error event.
type Classifier interface {
	Classify(ctx context.Context, pcm []byte) (Event, error)
}

// EnergyClassifier bands chunks by RMS level of 16-bit little-endian mono
// samples: at or above VoiceRMS is voice, at or above NoiseRMS is noise,
// anything quieter is silence.
type EnergyClassifier struct {
	VoiceRMS float64
	NoiseRMS float64
}

func NewEnergyClassifier(voiceRMS, noiseRMS float64) *EnergyClassifier {
	if noiseRMS > voiceRMS {
		noiseRMS = voiceRMS
	}
	return &EnergyClassifier{VoiceRMS: voiceRMS, NoiseRMS: noiseRMS}
}

func (c *EnergyClassifier) Classify(ctx context.Context, pcm []byte) (Event, error) {
	if err := ctx.Err(); err != nil {
		return Error, err
	}
	if len(pcm) < 2 || len(pcm)%2 != 0 {
		metricClassified.WithLabelValues(Error.String()).Inc()
		return Error, ErrBadChunk
	}
	rms := RMS(pcm)
	ev := Silence
	switch {
	case rms >= c.VoiceRMS:
		ev = Voice
	case rms >= c.NoiseRMS:
		ev = Noise
	}
	metricClassified.WithLabelValues(ev.String()).Inc()
	return ev, nil
}

// RMS computes the root mean square of PCM16LE samples. A trailing odd byte
// is ignored.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[2*i:])))
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}
