package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/openai/openai-go"
	"go.uber.org/zap"

	"github.com/carllippert/nuance-server/internal/logging"
)

// OpenAI returns raw 24kHz 16-bit mono little-endian PCM for the pcm format.
const (
	SampleRate = 24000
	FrameBytes = SampleRate / 50 * 2 // 20ms
)

// AudioSink receives synthesized audio frames in playback order.
type AudioSink interface {
	WriteAudio(ctx context.Context, frame []byte) error
}

// Speaker synthesizes text with the OpenAI speech endpoint and forwards the
// PCM to a sink in 20ms frames as it arrives.
type Speaker struct {
	client *openai.Client
	model  string
	voice  string
	log    *zap.SugaredLogger
}

func NewSpeaker(client *openai.Client, model, voice string, log *zap.SugaredLogger) *Speaker {
	return &Speaker{client: client, model: model, voice: voice, log: logging.OrNop(log)}
}

func (s *Speaker) Model() string { return s.model }

// Stream synthesizes text sentence by sentence and returns once the last
// frame has been handed to sink.
func (s *Speaker) Stream(ctx context.Context, text string, sink AudioSink) error {
	sentences := SplitSentences(text)
	if len(sentences) == 0 {
		ttsSynthesisTotal.WithLabelValues("empty").Inc()
		return nil
	}
	start := time.Now()
	first := true
	var total int
	for i, sentence := range sentences {
		reqStart := time.Now()
		resp, err := s.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
			Input:          sentence,
			Model:          openai.SpeechModel(s.model),
			Voice:          openai.AudioSpeechNewParamsVoice(s.voice),
			ResponseFormat: openai.AudioSpeechNewParamsResponseFormatPCM,
		})
		if err != nil {
			ttsSynthesisTotal.WithLabelValues("error").Inc()
			return fmt.Errorf("tts: speech request %d/%d: %w", i+1, len(sentences), err)
		}
		ttsOpenAILatencyMS.Observe(float64(time.Since(reqStart).Milliseconds()))

		n, err := StreamFrames(ctx, resp.Body, FrameBytes, sink, func() {
			if first {
				first = false
				ttsFirstFrameMS.Observe(float64(time.Since(start).Milliseconds()))
			}
		})
		resp.Body.Close()
		total += n
		if err != nil {
			ttsSynthesisTotal.WithLabelValues("error").Inc()
			return fmt.Errorf("tts: stream sentence %d/%d: %w", i+1, len(sentences), err)
		}
	}
	ttsSynthesisTotal.WithLabelValues("ok").Inc()
	ttsTotalDurationMS.Observe(float64(time.Since(start).Milliseconds()))
	s.log.Debugw("tts complete", "sentences", len(sentences), "bytes", total, "elapsed_ms", time.Since(start).Milliseconds())
	return nil
}

// StreamFrames copies r to sink in frames of frameBytes; the final frame may
// be shorter. onFrame, if set, runs before each write. It returns the number
// of bytes written.
func StreamFrames(ctx context.Context, r io.Reader, frameBytes int, sink AudioSink, onFrame func()) (int, error) {
	if frameBytes <= 0 {
		return 0, errors.New("tts: frame size must be positive")
	}
	buf := make([]byte, frameBytes)
	written := 0
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, rerr := io.ReadFull(r, buf)
		if n > 0 {
			if onFrame != nil {
				onFrame()
			}
			frame := append([]byte(nil), buf[:n]...)
			if err := sink.WriteAudio(ctx, frame); err != nil {
				return written, err
			}
			written += n
			ttsFramesTotal.Inc()
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}
