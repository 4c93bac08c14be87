package tts

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"testing"
)

type recordingSink struct {
	frames [][]byte
	failAt int
}

func (r *recordingSink) WriteAudio(ctx context.Context, frame []byte) error {
	if r.failAt > 0 && len(r.frames)+1 == r.failAt {
		return errors.New("client gone")
	}
	r.frames = append(r.frames, frame)
	return nil
}

func TestStreamFramesSplitsIntoFixedFrames(t *testing.T) {
	pcm := bytes.Repeat([]byte{1, 2}, FrameBytes) // two full frames
	pcm = append(pcm, 9, 9, 9, 9)
	sink := &recordingSink{}
	calls := 0
	n, err := StreamFrames(context.Background(), bytes.NewReader(pcm), FrameBytes, sink, func() { calls++ })
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if n != len(pcm) {
		t.Fatalf("expected %d bytes, got %d", len(pcm), n)
	}
	if len(sink.frames) != 3 || calls != 3 {
		t.Fatalf("expected 3 frames, got %d (calls=%d)", len(sink.frames), calls)
	}
	if len(sink.frames[0]) != FrameBytes || len(sink.frames[2]) != 4 {
		t.Fatalf("unexpected frame sizes %d, %d", len(sink.frames[0]), len(sink.frames[2]))
	}
	var joined []byte
	for _, f := range sink.frames {
		joined = append(joined, f...)
	}
	if !bytes.Equal(joined, pcm) {
		t.Fatal("frames do not reassemble to the input")
	}
}

func TestStreamFramesStopsOnSinkError(t *testing.T) {
	pcm := make([]byte, FrameBytes*4)
	sink := &recordingSink{failAt: 2}
	n, err := StreamFrames(context.Background(), bytes.NewReader(pcm), FrameBytes, sink, nil)
	if err == nil {
		t.Fatal("expected sink error")
	}
	if n != FrameBytes {
		t.Fatalf("expected one frame written, got %d bytes", n)
	}
}

func TestStreamFramesHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := StreamFrames(ctx, bytes.NewReader(make([]byte, 100)), 10, &recordingSink{}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestFrameBytesIsTwentyMilliseconds(t *testing.T) {
	if FrameBytes != 960 {
		t.Fatalf("expected 960 bytes per 20ms at 24kHz, got %d", FrameBytes)
	}
}

func TestSplitSentences(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"Hola", []string{"Hola"}},
		{"Muy bien hecho. Sigue leyendo el texto!", []string{"Muy bien hecho.", "Sigue leyendo el texto!"}},
		{"¡Sí! Eso es correcto, buen trabajo.", []string{"¡Sí! Eso es correcto, buen trabajo."}},
		{"Son las 3.5 horas de lectura. ¿Seguimos ahora?", []string{"Son las 3.5 horas de lectura.", "¿Seguimos ahora?"}},
		{"Lo leíste muy bien. Gracias", []string{"Lo leíste muy bien. Gracias"}},
	}
	for _, tc := range cases {
		got := SplitSentences(tc.in)
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("SplitSentences(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
