package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/carllippert/nuance-server/internal/logging"
	"github.com/carllippert/nuance-server/internal/orchestrator"
	"github.com/carllippert/nuance-server/internal/types"
	"github.com/carllippert/nuance-server/internal/vad"
)

var (
	ErrSessionClosed = errors.New("session closed")
	ErrQueueFull     = errors.New("utterance queue full")
)

// Heartbeat close.
const (
	CloseHeartbeat       = 4000
	CloseHeartbeatReason = "Connection was closed abnormally"
)

// Ping and pong are both the single byte 0x00.
var pingFrame = []byte{0x00}

// Conn is the transport under a session.
type Conn interface {
	WriteText(ctx context.Context, data []byte) error
	WriteBinary(ctx context.Context, data []byte) error
	Close(code int, reason string) error
}

type Pipeline interface {
	Run(ctx context.Context, u types.Utterance, c orchestrator.Client)
}

// EventLog receives session lifecycle events.
type EventLog interface {
	AppendEvent(sessionID, typ string, payload map[string]any) types.Event
}

type Deps struct {
	Conn         Conn
	Preprocessor vad.Preprocessor
	Classifier   vad.Classifier
	Pipeline     Pipeline
	Events       EventLog
	Logger       *zap.SugaredLogger
	Now          func() time.Time
}

// Session owns the voice-activity state of one connection. Chunks are
// processed in arrival order by a single worker; finished utterances are
// handed to a second worker that runs the pipeline one at a time.
type Session struct {
	id       string
	identity types.Identity
	opts     Options
	scorer   vad.Scorer

	conn   Conn
	pre    vad.Preprocessor
	cls    vad.Classifier
	pipe   Pipeline
	events EventLog
	log    *zap.SugaredLogger
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	chunks     chan []byte
	utterances chan types.Utterance

	mu           sync.Mutex
	vad          vad.State
	buffer       []byte
	firstChunkAt time.Time
	startedAt    time.Time
	autoPaused   bool
	alive        bool
	started      bool
	closed       bool
	closeReason  string

	startOnce sync.Once
	closeOnce sync.Once
	workers   sync.WaitGroup
}

func New(id string, identity types.Identity, opts Options, deps Deps) (*Session, error) {
	if deps.Conn == nil || deps.Classifier == nil || deps.Pipeline == nil {
		return nil, errors.New("session: conn, classifier and pipeline are required")
	}
	if opts.SpeechStartThreshold < 1 || opts.SpeechEndThreshold < 1 {
		return nil, fmt.Errorf("session: invalid thresholds %d/%d", opts.SpeechStartThreshold, opts.SpeechEndThreshold)
	}
	if opts.HeartbeatInterval <= 0 {
		return nil, errors.New("session: heartbeat interval must be positive")
	}
	if opts.ChunkQueueSize < 1 {
		opts.ChunkQueueSize = 1
	}
	if opts.UtteranceQueueSize < 1 {
		opts.UtteranceQueueSize = 1
	}
	if opts.PipelineTimeout <= 0 {
		opts.PipelineTimeout = 2 * time.Minute
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = opts.HeartbeatInterval
	}
	// speech that confirms late must still have its opening in the buffer
	if opts.MaxLeadIn > 0 && opts.MaxLeadIn < opts.AutoPause {
		opts.MaxLeadIn = opts.AutoPause
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:         id,
		identity:   identity,
		opts:       opts,
		scorer:     vad.NewScorer(opts.SpeechStartThreshold, opts.SpeechEndThreshold),
		conn:       deps.Conn,
		pre:        deps.Preprocessor,
		cls:        deps.Classifier,
		pipe:       deps.Pipeline,
		events:     deps.Events,
		log:        logging.OrNop(deps.Logger).With(logging.SessionFields(id, identity.UserID)...),
		now:        now,
		ctx:        ctx,
		cancel:     cancel,
		chunks:     make(chan []byte, opts.ChunkQueueSize),
		utterances: make(chan types.Utterance, opts.UtteranceQueueSize),
		alive:      true,
	}, nil
}

func (s *Session) ID() string { return s.id }

func (s *Session) Identity() types.Identity { return s.identity }

// Start launches the chunk worker, the pipeline worker and the heartbeat.
func (s *Session) Start() {
	s.startOnce.Do(func() {
		s.mu.Lock()
		s.started = true
		s.mu.Unlock()
		metricActive.Inc()
		s.record("connected", map[string]any{"user_id": s.identity.UserID})
		s.workers.Add(3)
		go s.chunkLoop()
		go s.pipelineLoop()
		go s.heartbeatLoop()
	})
}

// HandleBinary routes one inbound binary frame: a lone 0x00 is a pong,
// anything else is audio.
func (s *Session) HandleBinary(ctx context.Context, data []byte) error {
	if len(data) == 1 && data[0] == 0x00 {
		s.HandlePong()
		return nil
	}
	return s.Enqueue(ctx, data)
}

func (s *Session) HandlePong() {
	s.mu.Lock()
	s.alive = true
	s.mu.Unlock()
}

// Enqueue adds a chunk to the FIFO queue, blocking while it is full.
func (s *Session) Enqueue(ctx context.Context, chunk []byte) error {
	if s.ctx.Err() != nil {
		return ErrSessionClosed
	}
	select {
	case s.chunks <- chunk:
		return nil
	case <-s.ctx.Done():
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops chunk processing and the heartbeat. A pipeline run already in
// progress is left to finish. Safe to call more than once.
func (s *Session) Close(reason string) {
	s.closeOnce.Do(func() {
		s.startOnce.Do(func() {})
		s.mu.Lock()
		s.closed = true
		s.closeReason = reason
		started := s.started
		s.mu.Unlock()
		s.cancel()
		if started {
			metricActive.Dec()
		}
		s.record("disconnected", map[string]any{"reason": reason})
		s.log.Infow("session closed", "reason", reason)
	})
}

// CloseReason is the reason passed to the first Close call.
func (s *Session) CloseReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeReason
}

// Done is closed once the session has been closed.
func (s *Session) Done() <-chan struct{} { return s.ctx.Done() }

// Wait blocks until every worker has exited, including the pipeline drain.
func (s *Session) Wait() { s.workers.Wait() }

// SendMessage writes m as a JSON text frame.
func (s *Session) SendMessage(ctx context.Context, m types.Message) error {
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.WriteTimeout)
	defer cancel()
	return s.conn.WriteText(ctx, b)
}

// WriteAudio writes one frame of synthesized audio.
func (s *Session) WriteAudio(ctx context.Context, frame []byte) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.WriteTimeout)
	defer cancel()
	return s.conn.WriteBinary(ctx, frame)
}

func (s *Session) chunkLoop() {
	defer s.workers.Done()
	defer close(s.utterances)
	for {
		select {
		case <-s.ctx.Done():
			return
		case chunk := <-s.chunks:
			s.process(chunk)
		}
	}
}

func (s *Session) pipelineLoop() {
	defer s.workers.Done()
	for u := range s.utterances {
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.PipelineTimeout)
		s.pipe.Run(ctx, u, s)
		cancel()
	}
}

// process runs one chunk through classification and the hysteresis scorer
// and emits the resulting notices in order.
func (s *Session) process(chunk []byte) {
	ctx := s.ctx
	now := s.now()

	s.mu.Lock()
	if s.firstChunkAt.IsZero() {
		s.firstChunkAt = now
	}
	s.mu.Unlock()

	if s.opts.VerboseStatus {
		s.notify(ctx, types.KeyMessage, "Processing Audio Chunk")
	}

	ev := s.classify(ctx, chunk)
	metricChunks.WithLabelValues(ev.String()).Inc()

	var (
		utt       *types.Utterance
		autoPause bool
		silentFor time.Duration
	)
	s.mu.Lock()
	s.buffer = append(s.buffer, chunk...)
	next, d := s.scorer.Apply(s.vad, ev)
	s.vad = next
	switch d.Transition {
	case vad.SpeechStarted:
		s.startedAt = now
		s.autoPaused = false
	case vad.SpeechEnded:
		utt = &types.Utterance{
			ID:         uuid.NewString(),
			SessionID:  s.id,
			Identity:   s.identity,
			Audio:      s.buffer,
			SampleRate: s.opts.SampleRate,
			StartedAt:  s.startedAt,
			EndedAt:    now,
		}
		s.buffer = nil
		s.firstChunkAt = time.Time{}
		s.startedAt = time.Time{}
		s.autoPaused = false
	}
	if s.vad.Phase == vad.NotSpeaking {
		s.trimLeadIn()
		if ev.IsNotVoice() && !s.firstChunkAt.IsZero() && !s.autoPaused &&
			now.Sub(s.firstChunkAt) > s.opts.AutoPause {
			s.autoPaused = true
			autoPause = true
			silentFor = now.Sub(s.firstChunkAt)
		}
	}
	s.mu.Unlock()

	if s.opts.VerboseStatus || ev == vad.Error {
		s.notify(ctx, types.KeyVAD, ev.String())
	}

	switch d.Transition {
	case vad.SpeechStarted:
		metricTransitions.WithLabelValues("start").Inc()
		s.log.Debugw("speech started")
		s.notify(ctx, types.KeyMessage, "Confirmed Speech Start")
		s.notify(ctx, types.KeyServerState, types.StateVoiceDetected)
		s.record("speech_started", nil)
	case vad.SpeechEnded:
		metricTransitions.WithLabelValues("end").Inc()
		s.notify(ctx, types.KeyMessage, "Starting Transcription")
		s.notify(ctx, types.KeyServerState, types.StateTranscribing)
		s.record("speech_ended", map[string]any{"utterance_id": utt.ID, "bytes": len(utt.Audio)})
		if err := s.dispatch(*utt); err != nil {
			s.log.Warnw("utterance dropped", "utterance.id", utt.ID, "error", err)
			s.notify(ctx, types.KeyError, orchestrator.ErrorTranscribing)
		}
	}

	if autoPause {
		metricAutoPauses.Inc()
		s.log.Infow("auto pause", "silent_for", silentFor.String())
		s.notify(ctx, types.KeyServerState, types.StateAutoPause)
		s.record("auto_pause", nil)
	}
}

func (s *Session) classify(ctx context.Context, chunk []byte) vad.Event {
	pcm := chunk
	if s.pre != nil {
		out, err := s.pre.Process(ctx, chunk)
		if err != nil {
			s.log.Debugw("preprocess failed", "error", err)
			return vad.Error
		}
		pcm = out
	}
	ev, err := s.cls.Classify(ctx, pcm)
	if err != nil {
		s.log.Debugw("classify failed", "error", err)
		return vad.Error
	}
	return ev
}

// dispatch hands an utterance to the pipeline worker without blocking.
func (s *Session) dispatch(u types.Utterance) error {
	metricUtteranceBytes.Observe(float64(len(u.Audio)))
	select {
	case s.utterances <- u:
		return nil
	default:
		metricUtterancesDropped.Inc()
		return ErrQueueFull
	}
}

// trimLeadIn drops the oldest buffered audio beyond MaxLeadIn. Must hold s.mu.
func (s *Session) trimLeadIn() {
	limit := s.opts.maxLeadInBytes()
	if limit == 0 || len(s.buffer) <= limit {
		return
	}
	s.buffer = append([]byte(nil), s.buffer[len(s.buffer)-limit:]...)
}

func (s *Session) heartbeatLoop() {
	defer s.workers.Done()
	t := time.NewTicker(s.opts.HeartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-t.C:
			if !s.beat() {
				return
			}
		}
	}
}

// beat sends a ping if the previous one was answered and reports whether
// the heartbeat should keep running.
func (s *Session) beat() bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	if !s.alive {
		s.mu.Unlock()
		s.expire()
		return false
	}
	s.alive = false
	s.mu.Unlock()

	if err := s.WriteAudio(s.ctx, pingFrame); err != nil {
		s.log.Debugw("ping failed", "error", err)
	}
	return true
}

func (s *Session) expire() {
	metricHeartbeatTimeouts.Inc()
	s.log.Warnw("heartbeat timeout")
	s.record("heartbeat_timeout", nil)
	// close first so the workers stop and the read loop sees this reason,
	// even if the peer never drains the notice below
	s.Close("heartbeat_timeout")
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.WriteTimeout)
	defer cancel()
	s.notify(ctx, types.KeyError, fmt.Sprint(CloseHeartbeat))
	if err := s.conn.Close(CloseHeartbeat, CloseHeartbeatReason); err != nil {
		s.log.Debugw("close after heartbeat timeout", "error", err)
	}
}

func (s *Session) notify(ctx context.Context, key, value string) {
	if err := s.SendMessage(ctx, types.Message{Key: key, Value: value}); err != nil {
		s.log.Debugw("send failed", "key", key, "error", err)
	}
}

func (s *Session) record(typ string, payload map[string]any) {
	if s.events != nil {
		s.events.AppendEvent(s.id, typ, payload)
	}
}
