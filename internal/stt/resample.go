package stt

import (
	"fmt"

	resampling "github.com/tphakala/go-audio-resampling"
)

// Resample converts mono PCM16LE between sample rates. Equal rates return
// the input unchanged.
func Resample(pcm []byte, from, to int) ([]byte, error) {
	if from == to || len(pcm) < 2 {
		return pcm, nil
	}
	r, err := resampling.New(&resampling.Config{
		InputRate:  float64(from),
		OutputRate: float64(to),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("stt: resampler: %w", err)
	}

	n := len(pcm) / 2
	in := make([]float64, n)
	for i := 0; i < n; i++ {
		s := int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8)
		in[i] = float64(s) / 32768.0
	}
	out, err := r.Process(in)
	if err != nil {
		return nil, fmt.Errorf("stt: resample %d->%d: %w", from, to, err)
	}

	b := make([]byte, len(out)*2)
	for i, s := range out {
		var v int16
		switch {
		case s >= 1.0:
			v = 32767
		case s <= -1.0:
			v = -32768
		default:
			v = int16(s * 32767.0)
		}
		b[2*i] = byte(v)
		b[2*i+1] = byte(uint16(v) >> 8)
	}
	return b, nil
}
