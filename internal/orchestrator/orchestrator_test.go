package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carllippert/nuance-server/internal/analytics"
	"github.com/carllippert/nuance-server/internal/llm"
	"github.com/carllippert/nuance-server/internal/tts"
	"github.com/carllippert/nuance-server/internal/types"
)

type frame struct {
	msg   *types.Message
	audio []byte
}

type fakeClient struct {
	mu     sync.Mutex
	frames []frame
}

func (c *fakeClient) SendMessage(_ context.Context, m types.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, frame{msg: &m})
	return nil
}

func (c *fakeClient) WriteAudio(_ context.Context, b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, frame{audio: append([]byte(nil), b...)})
	return nil
}

func (c *fakeClient) snapshot() []frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]frame(nil), c.frames...)
}

type fakeTranscriber struct {
	text string
	err  error
}

func (f fakeTranscriber) Transcribe(context.Context, []byte, int) (string, error) {
	return f.text, f.err
}

type fakeResponder struct {
	text string
	err  error
}

func (f fakeResponder) Respond(context.Context, string) (llm.Completion, error) {
	if f.err != nil {
		return llm.Completion{}, f.err
	}
	return llm.Completion{Text: f.text, CompletionTokens: 7, TotalTokens: 21, Attempts: 1}, nil
}

type fakeSynth struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (f *fakeSynth) Stream(ctx context.Context, text string, sink tts.AudioSink) error {
	f.mu.Lock()
	f.texts = append(f.texts, text)
	f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if err := sink.WriteAudio(ctx, []byte{1, 2}); err != nil {
		return err
	}
	return sink.WriteAudio(ctx, []byte{3, 4})
}

type fakeClassifier struct{}

func (fakeClassifier) ClassifyLanguage(_ context.Context, text string) (types.Scoring, error) {
	return types.Scoring{Language: "es", Category: "statement", Confidence: 0.9}, nil
}

type fakeStore struct {
	mu   sync.Mutex
	recs []*types.MessageRecord
	err  error
}

func (f *fakeStore) PersistMessage(_ context.Context, r *types.MessageRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.recs = append(f.recs, r)
	return nil
}

type recorded struct {
	name, distinct string
	props          map[string]any
}

type fakeEvents struct {
	mu     sync.Mutex
	events []recorded
}

func (f *fakeEvents) RecordEvent(_ context.Context, name, distinct string, props map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, recorded{name, distinct, props})
	return nil
}

func newTestOrchestrator(t *testing.T, d Deps) *Orchestrator {
	t.Helper()
	o, err := New(Config{
		SourceLanguage:     "es",
		ApologyPhrase:      "Lo siento",
		TranscriptionModel: "whisper-1",
		LLMModel:           "gpt-3.5-turbo",
		TTSModel:           "tts-1",
		BackgroundTimeout:  time.Second,
	}, d)
	require.NoError(t, err)
	return o
}

func utterance() types.Utterance {
	return types.Utterance{
		ID:         "u1",
		SessionID:  "s1",
		Identity:   types.Identity{UserID: "user-abc", TimezoneName: "Europe/Madrid", TimezoneOffset: 7200},
		Audio:      []byte{0, 1, 0, 1},
		SampleRate: 16000,
	}
}

func TestNewRequiresCoreStages(t *testing.T) {
	_, err := New(Config{}, Deps{Transcriber: fakeTranscriber{}})
	assert.Error(t, err)
}

func TestRunAnswersWithTranscriptBeforeAudio(t *testing.T) {
	synth := &fakeSynth{}
	store := &fakeStore{}
	events := &fakeEvents{}
	o := newTestOrchestrator(t, Deps{
		Transcriber: fakeTranscriber{text: "hola que tal"},
		Responder:   fakeResponder{text: "muy bien"},
		Synthesizer: synth,
		Classifier:  fakeClassifier{},
		Store:       store,
		Events:      events,
	})
	c := &fakeClient{}

	o.Run(context.Background(), utterance(), c)
	o.Wait()

	frames := c.snapshot()
	require.Len(t, frames, 3)
	require.NotNil(t, frames[0].msg)
	assert.Equal(t, types.Message{Key: types.KeyTranscription, Value: "muy bien", Key2: "es", Value2: "hola que tal"}, *frames[0].msg)
	assert.Equal(t, []byte{1, 2}, frames[1].audio)
	assert.Equal(t, []byte{3, 4}, frames[2].audio)
	assert.Equal(t, []string{"muy bien"}, synth.texts)

	require.Len(t, store.recs, 1)
	rec := store.recs[0]
	assert.Equal(t, "user-abc", rec.UserID)
	assert.Equal(t, "hola que tal", rec.TranscriptionResponseText)
	assert.Equal(t, "muy bien", rec.ResponseMessageText)
	assert.Equal(t, InputClassification, rec.MessageInputClassification)
	assert.Equal(t, InputClassifier, rec.MessageInputClassifier)
	assert.Equal(t, int64(7), rec.CompletionTokens)
	assert.Equal(t, 7200, rec.CurrentSecondsFromGMT)
	assert.Equal(t, "Europe/Madrid", rec.CurrentUserTimezone)
	require.NotNil(t, rec.UserInputMachineScoring)
	require.NotNil(t, rec.ApplicationResponseScoring)

	require.Len(t, events.events, 1)
	assert.Equal(t, analytics.EventMessageReceived, events.events[0].name)
	assert.Equal(t, "USER-ABC", events.events[0].distinct)
	assert.Equal(t, "tts-1", events.events[0].props["text_to_speech_model"])
}

func TestRunEmptyTranscriptApologizes(t *testing.T) {
	for _, text := range []string{"", "   \n"} {
		synth := &fakeSynth{}
		store := &fakeStore{}
		events := &fakeEvents{}
		o := newTestOrchestrator(t, Deps{
			Transcriber: fakeTranscriber{text: text},
			Responder:   fakeResponder{err: errors.New("must not be called")},
			Synthesizer: synth,
			Store:       store,
			Events:      events,
		})
		c := &fakeClient{}

		o.Run(context.Background(), utterance(), c)
		o.Wait()

		assert.Equal(t, []string{"Lo siento"}, synth.texts)
		for _, f := range c.snapshot() {
			assert.Nil(t, f.msg, "no text frames expected for an empty transcript")
		}
		assert.Empty(t, store.recs)
		require.Len(t, events.events, 1)
		assert.Equal(t, analytics.EventEmptyTranscription, events.events[0].name)
		assert.Equal(t, "reading", events.events[0].props["message_input_classification"])
		assert.Equal(t, "whisper-1", events.events[0].props["transcription_model"])
	}
}

func TestRunStageFailureSendsErrorNotice(t *testing.T) {
	cases := map[string]Deps{
		"transcribe": {
			Transcriber: fakeTranscriber{err: errors.New("whisper down")},
			Responder:   fakeResponder{text: "x"},
			Synthesizer: &fakeSynth{},
		},
		"generate": {
			Transcriber: fakeTranscriber{text: "hola"},
			Responder:   fakeResponder{err: errors.New("llm down")},
			Synthesizer: &fakeSynth{},
		},
	}
	for name, d := range cases {
		t.Run(name, func(t *testing.T) {
			store := &fakeStore{}
			d.Store = store
			o := newTestOrchestrator(t, d)
			c := &fakeClient{}

			o.Run(context.Background(), utterance(), c)
			o.Wait()

			frames := c.snapshot()
			require.Len(t, frames, 1)
			assert.Equal(t, types.Message{Key: types.KeyError, Value: ErrorTranscribing}, *frames[0].msg)
			assert.Empty(t, store.recs)
		})
	}
}

func TestRunSynthesisFailureStillPersists(t *testing.T) {
	store := &fakeStore{}
	o := newTestOrchestrator(t, Deps{
		Transcriber: fakeTranscriber{text: "hola"},
		Responder:   fakeResponder{text: "adios"},
		Synthesizer: &fakeSynth{err: errors.New("tts down")},
		Store:       store,
	})
	c := &fakeClient{}

	o.Run(context.Background(), utterance(), c)
	o.Wait()

	frames := c.snapshot()
	require.Len(t, frames, 2)
	assert.Equal(t, types.KeyTranscription, frames[0].msg.Key)
	assert.Equal(t, types.Message{Key: types.KeyError, Value: ErrorTranscribing}, *frames[1].msg)
	assert.Len(t, store.recs, 1)
}

func TestPersistFailureIsNotSurfaced(t *testing.T) {
	o := newTestOrchestrator(t, Deps{
		Transcriber: fakeTranscriber{text: "hola"},
		Responder:   fakeResponder{text: "adios"},
		Synthesizer: &fakeSynth{},
		Store:       &fakeStore{err: errors.New("db gone")},
	})
	c := &fakeClient{}

	o.Run(context.Background(), utterance(), c)
	o.Wait()

	for _, f := range c.snapshot() {
		if f.msg != nil {
			assert.NotEqual(t, types.KeyError, f.msg.Key)
		}
	}
}

// blockingSynth holds the first Stream call until released.
type blockingSynth struct {
	release chan struct{}
	mu      sync.Mutex
	active  int
	maxSeen int
}

func (b *blockingSynth) Stream(ctx context.Context, text string, sink tts.AudioSink) error {
	b.mu.Lock()
	b.active++
	if b.active > b.maxSeen {
		b.maxSeen = b.active
	}
	b.mu.Unlock()
	<-b.release
	b.mu.Lock()
	b.active--
	b.mu.Unlock()
	return nil
}

func TestRunSerializesPerSession(t *testing.T) {
	synth := &blockingSynth{release: make(chan struct{})}
	o := newTestOrchestrator(t, Deps{
		Transcriber: fakeTranscriber{text: "hola"},
		Responder:   fakeResponder{text: "adios"},
		Synthesizer: synth,
	})

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.Run(context.Background(), utterance(), &fakeClient{})
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(synth.release)
	wg.Wait()
	o.Wait()

	assert.Equal(t, 1, synth.maxSeen)
	o.mu.Lock()
	assert.Empty(t, o.sess)
	o.mu.Unlock()
}
