package vad

import (
	"context"
	"encoding/binary"
	"math"
)

// Preprocessor conditions a chunk before classification. The session keeps
// the unfiltered chunk for transcription.
type Preprocessor interface {
	Process(ctx context.Context, pcm []byte) ([]byte, error)
}

// HighPass is a first-order RC high-pass filter over PCM16LE mono. It removes
// DC offset and low rumble (handling noise, HVAC) below CutoffHz. Each chunk
// is filtered independently.
type HighPass struct {
	CutoffHz   float64
	SampleRate int
}

func NewHighPass(cutoffHz float64, sampleRate int) *HighPass {
	return &HighPass{CutoffHz: cutoffHz, SampleRate: sampleRate}
}

func (h *HighPass) Process(ctx context.Context, pcm []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(pcm)%2 != 0 {
		return nil, ErrBadChunk
	}
	out := make([]byte, len(pcm))
	if h.CutoffHz <= 0 || h.SampleRate <= 0 {
		copy(out, pcm)
		return out, nil
	}
	alpha := h.alpha()
	var prevIn, prevOut float64
	for i := 0; i+1 < len(pcm); i += 2 {
		x := float64(int16(binary.LittleEndian.Uint16(pcm[i:])))
		var y float64
		if i == 0 {
			y = 0
		} else {
			y = alpha * (prevOut + x - prevIn)
		}
		prevIn, prevOut = x, y
		binary.LittleEndian.PutUint16(out[i:], uint16(clamp16(y)))
	}
	return out, nil
}

func (h *HighPass) alpha() float64 {
	rc := 1.0 / (2 * math.Pi * h.CutoffHz)
	dt := 1.0 / float64(h.SampleRate)
	return rc / (rc + dt)
}

func clamp16(v float64) int16 {
	v = math.Round(v)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
