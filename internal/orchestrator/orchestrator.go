package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/carllippert/nuance-server/internal/analytics"
	"github.com/carllippert/nuance-server/internal/llm"
	"github.com/carllippert/nuance-server/internal/logging"
	"github.com/carllippert/nuance-server/internal/tts"
	"github.com/carllippert/nuance-server/internal/types"
)

// ErrorTranscribing is the value of the generic failure notice sent to the
// client when any pipeline stage fails.
const ErrorTranscribing = "Error transcribing audio"

// Record classification for spoken reading input.
const (
	InputClassification = "reading"
	InputClassifier     = "none"
)

var tracer = otel.Tracer("github.com/carllippert/nuance-server/internal/orchestrator")

// Client is the outbound side of a voice session.
type Client interface {
	SendMessage(ctx context.Context, m types.Message) error
	WriteAudio(ctx context.Context, frame []byte) error
}

type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error)
}

type Responder interface {
	Respond(ctx context.Context, transcript string) (llm.Completion, error)
}

// Synthesizer streams speech for text into sink and returns when the last
// frame has been written.
type Synthesizer interface {
	Stream(ctx context.Context, text string, sink tts.AudioSink) error
}

type LanguageClassifier interface {
	ClassifyLanguage(ctx context.Context, text string) (types.Scoring, error)
}

type MessageStore interface {
	PersistMessage(ctx context.Context, rec *types.MessageRecord) error
}

type EventRecorder interface {
	RecordEvent(ctx context.Context, name, distinctID string, props map[string]any) error
}

// Config carries the pipeline's fixed strings and model names.
type Config struct {
	SourceLanguage     string
	ApologyPhrase      string
	TranscriptionModel string
	LLMModel           string
	TTSModel           string
	BackgroundTimeout  time.Duration
}

// Deps are the pipeline collaborators. Classifier, Store and Events are
// optional.
type Deps struct {
	Transcriber Transcriber
	Responder   Responder
	Synthesizer Synthesizer
	Classifier  LanguageClassifier
	Store       MessageStore
	Events      EventRecorder
	Logger      *zap.SugaredLogger
}

// sessionState serializes runs for one session and tracks its stage.
type sessionState struct {
	mu    sync.Mutex
	refs  int
	state string
}

// Orchestrator turns a finished utterance into a spoken reply.
type Orchestrator struct {
	cfg  Config
	deps Deps
	log  *zap.SugaredLogger
	now  func() time.Time

	mu   sync.Mutex
	sess map[string]*sessionState

	bg sync.WaitGroup
}

func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if deps.Transcriber == nil || deps.Responder == nil || deps.Synthesizer == nil {
		return nil, errors.New("orchestrator: transcriber, responder and synthesizer are required")
	}
	if cfg.BackgroundTimeout <= 0 {
		cfg.BackgroundTimeout = 30 * time.Second
	}
	return &Orchestrator{
		cfg:  cfg,
		deps: deps,
		log:  logging.OrNop(deps.Logger),
		now:  time.Now,
		sess: make(map[string]*sessionState),
	}, nil
}

// Run processes one utterance. Runs for the same session execute one after
// another; the transcript text frame is always written before any audio.
// Classification, persistence and analytics continue in the background
// after Run returns.
func (o *Orchestrator) Run(ctx context.Context, u types.Utterance, c Client) {
	st := o.acquire(u.SessionID)
	st.mu.Lock()
	defer func() {
		o.setState(st, "IDLE")
		st.mu.Unlock()
		o.release(u.SessionID)
	}()

	ctx, span := tracer.Start(ctx, "orchestrator.utterance", trace.WithAttributes(
		attribute.String("session.id", u.SessionID),
		attribute.String("utterance.id", u.ID),
		attribute.Int("audio.bytes", len(u.Audio)),
	))
	defer span.End()
	log := o.log.With("session.id", u.SessionID, "utterance.id", u.ID)
	start := o.now()

	o.setState(st, "TRANSCRIBING")
	transcript, err := o.stage(ctx, "transcribe", func(ctx context.Context) (string, error) {
		return o.deps.Transcriber.Transcribe(ctx, u.Audio, u.SampleRate)
	})
	if err != nil {
		o.fail(ctx, span, log, c, "transcribe", err)
		return
	}

	if strings.TrimSpace(transcript) == "" {
		o.apologize(ctx, span, log, u, c)
		return
	}

	o.setState(st, "GENERATING")
	var completion llm.Completion
	_, err = o.stage(ctx, "generate", func(ctx context.Context) (string, error) {
		var err error
		completion, err = o.deps.Responder.Respond(ctx, transcript)
		return completion.Text, err
	})
	if err != nil {
		o.fail(ctx, span, log, c, "generate", err)
		return
	}

	if err := c.SendMessage(ctx, types.Message{
		Key:    types.KeyTranscription,
		Value:  completion.Text,
		Key2:   o.cfg.SourceLanguage,
		Value2: transcript,
	}); err != nil {
		log.Warnw("send transcription failed", "error", err)
	}

	o.setState(st, "SPEAKING")
	_, err = o.stage(ctx, "synthesize", func(ctx context.Context) (string, error) {
		return "", o.deps.Synthesizer.Stream(ctx, completion.Text, c)
	})
	if err != nil {
		o.fail(ctx, span, log, c, "synthesize", err)
	} else {
		metricUtterances.WithLabelValues("answered").Inc()
	}
	metricUtteranceMS.Observe(float64(o.now().Sub(start).Milliseconds()))
	log.Infow("utterance answered", "transcript_chars", len(transcript), "response_chars", len(completion.Text), "attempts", completion.Attempts)

	o.background(ctx, "persist", func(ctx context.Context) {
		o.persist(ctx, u, transcript, completion)
	})
}

// Wait blocks until every background task has finished.
func (o *Orchestrator) Wait() { o.bg.Wait() }

func (o *Orchestrator) apologize(ctx context.Context, span trace.Span, log *zap.SugaredLogger, u types.Utterance, c Client) {
	metricUtterances.WithLabelValues("empty").Inc()
	span.SetAttributes(attribute.Bool("transcript.empty", true))
	log.Infow("empty transcription, sending apology")

	_, err := o.stage(ctx, "apology", func(ctx context.Context) (string, error) {
		return "", o.deps.Synthesizer.Stream(ctx, o.cfg.ApologyPhrase, c)
	})
	if err != nil {
		o.fail(ctx, span, log, c, "apology", err)
	}

	if o.deps.Events == nil {
		return
	}
	o.background(ctx, "empty_transcription_event", func(ctx context.Context) {
		err := o.deps.Events.RecordEvent(ctx, analytics.EventEmptyTranscription, analytics.DistinctID(u.Identity.UserID), map[string]any{
			"message_input_classification": InputClassification,
			"message_input_classifier":     InputClassifier,
			"transcription_model":          o.cfg.TranscriptionModel,
		})
		if err != nil {
			metricBackgroundFailures.WithLabelValues("event").Inc()
			log.Warnw("record empty_transcription failed", "error", err)
		}
	})
}

// persist classifies both sides of the exchange concurrently, writes the
// record and emits message_received. Every failure is logged and dropped.
func (o *Orchestrator) persist(ctx context.Context, u types.Utterance, transcript string, completion llm.Completion) {
	log := o.log.With("session.id", u.SessionID, "utterance.id", u.ID)

	var userScore, appScore *types.Scoring
	if o.deps.Classifier != nil {
		var g errgroup.Group
		g.Go(func() error {
			s, err := o.deps.Classifier.ClassifyLanguage(ctx, transcript)
			if err != nil {
				return fmt.Errorf("classify transcript: %w", err)
			}
			userScore = &s
			return nil
		})
		g.Go(func() error {
			s, err := o.deps.Classifier.ClassifyLanguage(ctx, completion.Text)
			if err != nil {
				return fmt.Errorf("classify response: %w", err)
			}
			appScore = &s
			return nil
		})
		if err := g.Wait(); err != nil {
			metricBackgroundFailures.WithLabelValues("classify").Inc()
			log.Warnw("language classification failed", "error", err)
		}
	}

	if o.deps.Store != nil {
		rec := &types.MessageRecord{
			UserID:                     u.Identity.UserID,
			SessionID:                  u.SessionID,
			UtteranceID:                u.ID,
			TranscriptionResponseText:  transcript,
			ResponseMessageText:        completion.Text,
			MessageInputClassification: InputClassification,
			MessageInputClassifier:     InputClassifier,
			UserInputMachineScoring:    userScore,
			ApplicationResponseScoring: appScore,
			CompletionTokens:           completion.CompletionTokens,
			TotalCompletionTokens:      completion.TotalTokens,
			CompletionAttempts:         completion.Attempts,
			CurrentSecondsFromGMT:      u.Identity.TimezoneOffset,
			CurrentUserTimezone:        u.Identity.TimezoneName,
			TranscriptionModel:         o.cfg.TranscriptionModel,
			LLMModel:                   o.cfg.LLMModel,
			TextToSpeechModel:          o.cfg.TTSModel,
			CreatedAt:                  o.now().UTC(),
		}
		if err := o.deps.Store.PersistMessage(ctx, rec); err != nil {
			metricBackgroundFailures.WithLabelValues("persist").Inc()
			log.Errorw("persist message failed", "error", err)
		}
	}

	if o.deps.Events != nil {
		err := o.deps.Events.RecordEvent(ctx, analytics.EventMessageReceived, analytics.DistinctID(u.Identity.UserID), map[string]any{
			"message_input_classification": InputClassification,
			"message_input_classifier":     InputClassifier,
			"transcription_model":          o.cfg.TranscriptionModel,
			"text_to_speech_model":         o.cfg.TTSModel,
			"llm_model":                    o.cfg.LLMModel,
		})
		if err != nil {
			metricBackgroundFailures.WithLabelValues("event").Inc()
			log.Warnw("record message_received failed", "error", err)
		}
	}
}

// stage runs fn inside a child span and records its latency.
func (o *Orchestrator) stage(ctx context.Context, name string, fn func(context.Context) (string, error)) (string, error) {
	ctx, span := tracer.Start(ctx, "orchestrator."+name)
	defer span.End()
	start := o.now()
	out, err := fn(ctx)
	metricStageLatencyMS.WithLabelValues(name).Observe(float64(o.now().Sub(start).Milliseconds()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return out, err
}

func (o *Orchestrator) fail(ctx context.Context, span trace.Span, log *zap.SugaredLogger, c Client, stage string, err error) {
	metricStageFailures.WithLabelValues(stage).Inc()
	metricUtterances.WithLabelValues("failed").Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, stage+" failed")
	log.Errorw("pipeline stage failed", "stage", stage, "error", err)
	if serr := c.SendMessage(ctx, types.Message{Key: types.KeyError, Value: ErrorTranscribing}); serr != nil {
		log.Warnw("send error notice failed", "error", serr)
	}
}

// background runs fn detached from the caller's cancellation, bounded by
// BackgroundTimeout.
func (o *Orchestrator) background(parent context.Context, name string, fn func(context.Context)) {
	o.bg.Add(1)
	metricBackgroundInflight.Inc()
	go func() {
		defer o.bg.Done()
		defer metricBackgroundInflight.Dec()
		defer func() {
			if r := recover(); r != nil {
				metricBackgroundFailures.WithLabelValues("panic").Inc()
				o.log.Errorw("background task panicked", "task", name, "panic", r)
			}
		}()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), o.cfg.BackgroundTimeout)
		defer cancel()
		fn(ctx)
	}()
}

func (o *Orchestrator) acquire(sessionID string) *sessionState {
	o.mu.Lock()
	defer o.mu.Unlock()
	st := o.sess[sessionID]
	if st == nil {
		st = &sessionState{state: "IDLE"}
		o.sess[sessionID] = st
	}
	st.refs++
	return st
}

func (o *Orchestrator) release(sessionID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if st := o.sess[sessionID]; st != nil {
		st.refs--
		if st.refs <= 0 {
			delete(o.sess, sessionID)
		}
	}
}

// setState must be called with st.mu held.
func (o *Orchestrator) setState(st *sessionState, to string) {
	if st.state == to {
		return
	}
	metricStateTransitions.WithLabelValues(st.state, to).Inc()
	st.state = to
}
