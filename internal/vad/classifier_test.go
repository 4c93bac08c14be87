package vad

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"testing"
)

// sine builds n samples of a tone at the given peak amplitude.
func sine(n int, amp float64, freq float64, sampleRate int) []byte {
	b := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := amp * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate))
		binary.LittleEndian.PutUint16(b[2*i:], uint16(int16(v)))
	}
	return b
}

func constant(n int, v int16) []byte {
	b := make([]byte, n*2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(b[2*i:], uint16(v))
	}
	return b
}

func TestRMS(t *testing.T) {
	if got := RMS(constant(100, 1000)); math.Abs(got-1000) > 1e-9 {
		t.Fatalf("expected 1000, got %v", got)
	}
	if got := RMS(constant(100, -1000)); math.Abs(got-1000) > 1e-9 {
		t.Fatalf("expected 1000 for negative samples, got %v", got)
	}
	if got := RMS(nil); got != 0 {
		t.Fatalf("expected 0 for empty input, got %v", got)
	}
}

func TestEnergyClassifierBands(t *testing.T) {
	c := NewEnergyClassifier(1200, 300)
	ctx := context.Background()

	cases := []struct {
		name string
		pcm  []byte
		want Event
	}{
		{"loud tone", sine(960, 8000, 440, 48000), Voice},
		{"murmur", sine(960, 800, 440, 48000), Noise},
		{"quiet", sine(960, 100, 440, 48000), Silence},
		{"digital silence", constant(960, 0), Silence},
	}
	for _, tc := range cases {
		got, err := c.Classify(ctx, tc.pcm)
		if err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if got != tc.want {
			t.Errorf("%s: got %s, want %s (rms=%.1f)", tc.name, got, tc.want, RMS(tc.pcm))
		}
	}
}

func TestEnergyClassifierRejectsMalformedChunks(t *testing.T) {
	c := NewEnergyClassifier(1200, 300)
	for _, pcm := range [][]byte{nil, {0x01}, {0x01, 0x02, 0x03}} {
		ev, err := c.Classify(context.Background(), pcm)
		if ev != Error || !errors.Is(err, ErrBadChunk) {
			t.Fatalf("expected error event for %v, got %s %v", pcm, ev, err)
		}
	}
}

func TestEnergyClassifierHonorsCancelledContext(t *testing.T) {
	c := NewEnergyClassifier(1200, 300)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if ev, err := c.Classify(ctx, constant(10, 5000)); ev != Error || err == nil {
		t.Fatalf("expected error on cancelled context, got %s %v", ev, err)
	}
}
