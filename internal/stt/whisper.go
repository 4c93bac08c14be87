package stt

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"go.uber.org/zap"

	"github.com/carllippert/nuance-server/internal/logging"
)

// UploadRate is the rate audio is converted to before upload. Whisper works
// at 16kHz internally so sending more only costs bandwidth.
const UploadRate = 16000

// Whisper transcribes finished utterances with the OpenAI transcription
// endpoint.
type Whisper struct {
	client   *openai.Client
	model    string
	language string
	breaker  *Breaker
	log      *zap.SugaredLogger
}

func NewWhisper(client *openai.Client, model, language string, log *zap.SugaredLogger) *Whisper {
	return &Whisper{client: client, model: model, language: language, breaker: NewBreaker(), log: logging.OrNop(log)}
}

func (w *Whisper) Model() string { return w.model }

// Transcribe returns the trimmed transcript of mono PCM16LE audio. Empty
// audio yields an empty transcript without calling the API.
func (w *Whisper) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	if len(pcm) < 2 {
		metricEmptyAudio.Inc()
		return "", nil
	}
	if !w.breaker.Allow() {
		metricRequests.WithLabelValues("circuit_open").Inc()
		return "", ErrCircuitOpen
	}
	metricAudioBytes.Add(float64(len(pcm)))

	audio, err := Resample(pcm, sampleRate, UploadRate)
	rate := UploadRate
	if err != nil {
		// upload at the original rate rather than drop the utterance
		w.log.Warnw("resample failed", "error", err, "sample_rate", sampleRate)
		audio, rate = pcm, sampleRate
	}
	wav := BuildWAV(audio, rate, 1, 16)

	params := openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(wav), "utterance.wav", "audio/wav"),
		Model: openai.AudioModel(w.model),
	}
	if w.language != "" {
		params.Language = openai.String(w.language)
	}

	start := time.Now()
	res, err := w.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		w.breaker.Failure()
		metricRequests.WithLabelValues("error").Inc()
		return "", fmt.Errorf("stt: transcribe: %w", err)
	}
	w.breaker.Success()
	metricRequests.WithLabelValues("ok").Inc()
	metricLatencyMS.Observe(float64(time.Since(start).Milliseconds()))

	text := strings.TrimSpace(res.Text)
	if text == "" {
		metricEmptyTranscripts.Inc()
	}
	w.log.Debugw("transcribed", "bytes", len(pcm), "chars", len(text), "elapsed_ms", time.Since(start).Milliseconds())
	return text, nil
}
