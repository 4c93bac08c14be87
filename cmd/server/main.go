package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/carllippert/nuance-server/internal/analytics"
	"github.com/carllippert/nuance-server/internal/api"
	"github.com/carllippert/nuance-server/internal/config"
	"github.com/carllippert/nuance-server/internal/health"
	"github.com/carllippert/nuance-server/internal/llm"
	"github.com/carllippert/nuance-server/internal/logging"
	"github.com/carllippert/nuance-server/internal/openaix"
	"github.com/carllippert/nuance-server/internal/orchestrator"
	"github.com/carllippert/nuance-server/internal/persist"
	"github.com/carllippert/nuance-server/internal/session"
	"github.com/carllippert/nuance-server/internal/store"
	"github.com/carllippert/nuance-server/internal/stt"
	"github.com/carllippert/nuance-server/internal/tts"
	"github.com/carllippert/nuance-server/internal/types"
	"github.com/carllippert/nuance-server/internal/vad"
	"github.com/carllippert/nuance-server/internal/ws"
)

// Closed sessions stay visible on /sessions for this long.
const sessionRetention = time.Hour

func main() {
	check := flag.Bool("check", false, "run dependency health checks and exit")
	flag.Parse()

	// Load .env file if present (ignored if missing)
	_ = godotenv.Load()

	cfg := config.Load()
	log := logging.Init(cfg.Server.LogLevel)
	defer log.Sync()

	if err := cfg.Validate(); err != nil {
		log.Fatalw("invalid configuration", "error", err)
	}
	cfg.LogSummary(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	messages, err := persist.Open(cfg.Database.Driver, cfg.Database.DSN, logging.Named("persist"))
	if err != nil {
		log.Fatalw("open message store", "error", err)
	}
	defer messages.Close()

	var (
		events analytics.Recorder
		redis  health.Pinger
	)
	if cfg.Redis.Addr != "" {
		rec, err := analytics.NewRedisRecorder(ctx, analytics.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Stream:   cfg.Redis.Stream,
			MaxLen:   cfg.Redis.MaxLen,
		}, logging.Named("analytics"))
		if err != nil {
			log.Fatalw("connect analytics redis", "error", err)
		}
		defer rec.Close()
		events, redis = rec, rec
	} else {
		events = analytics.NewLogRecorder(logging.Named("analytics"))
	}

	checker := health.NewChecker(cfg, messages, redis)
	if *check {
		cctx, cancel := context.WithTimeout(ctx, 15*time.Second)
		st := checker.CheckAll(cctx)
		cancel()
		fmt.Print(st.String())
		if !st.OK {
			os.Exit(1)
		}
		return
	}

	orch, err := newOrchestrator(cfg, messages, events, log)
	if err != nil {
		log.Fatalw("build pipeline", "error", err)
	}

	st := store.New()
	reg := ws.NewRegistry()
	wss := ws.NewServer(st, reg, sessionFactory(cfg, orch, st), cfg.Session.MaxFrameBytes, logging.Named("ws"))

	h := api.NewHandlers(st, checker, messages, logging.Named("api"))
	mux := http.NewServeMux()
	mux.Handle("/", api.NewRouter(h, http.HandlerFunc(wss.HandleVoiceWS)))

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           logMiddleware(log, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	if cfg.Server.GRPCHealthPort != "" {
		go serveGRPCHealth(ctx, cfg.Server.GRPCHealthPort, checker, log)
	}
	go pruneSessions(ctx, st, log)

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		<-ctx.Done()
		log.Infow("shutdown signal received; stopping server")
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
		defer cancel()
		// Stop voice sessions before draining HTTP
		if err := reg.Shutdown(sctx); err != nil {
			log.Warnw("sessions did not drain", "error", err)
		}
		_ = srv.Shutdown(sctx)
		orch.Wait()
	}()

	log.Infow("server starting", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Errorw("server error", "error", err)
		os.Exit(1)
	}
	<-drained
	log.Infow("server stopped")
}

func newOrchestrator(cfg config.Config, messages *persist.Store, events analytics.Recorder, log *zap.SugaredLogger) (*orchestrator.Orchestrator, error) {
	client, err := openaix.NewClient(openaix.Options{
		APIKey:     cfg.OpenAI.APIKey,
		BaseURL:    cfg.OpenAI.BaseURL,
		MaxRetries: cfg.OpenAI.MaxRetries,
		Timeout:    cfg.Session.PipelineTimeout,
	})
	if err != nil {
		return nil, err
	}
	whisper := stt.NewWhisper(client, cfg.OpenAI.TranscriptionModel, cfg.OpenAI.TranscriptionLanguage, logging.Named("stt"))
	responder := llm.NewResponder(client, cfg.OpenAI.ChatModel, cfg.OpenAI.SystemPrompt, logging.Named("llm"))
	speaker := tts.NewSpeaker(client, cfg.OpenAI.TTSModel, cfg.OpenAI.TTSVoice, logging.Named("tts"))

	return orchestrator.New(orchestrator.Config{
		SourceLanguage:     cfg.OpenAI.TranscriptionLanguage,
		ApologyPhrase:      cfg.OpenAI.ApologyPhrase,
		TranscriptionModel: whisper.Model(),
		LLMModel:           responder.Model(),
		TTSModel:           speaker.Model(),
	}, orchestrator.Deps{
		Transcriber: whisper,
		Responder:   responder,
		Synthesizer: speaker,
		Classifier:  llm.NewCategorizer(client, cfg.OpenAI.ChatModel, logging.Named("llm")),
		Store:       messages,
		Events:      events,
		Logger:      logging.Named("orchestrator"),
	})
}

func sessionFactory(cfg config.Config, orch *orchestrator.Orchestrator, st *store.Store) ws.SessionFactory {
	opts := session.OptionsFromConfig(cfg)
	classifier := vad.NewEnergyClassifier(cfg.VAD.VoiceRMS, cfg.VAD.NoiseRMS)
	return func(id string, identity types.Identity, conn session.Conn) (*session.Session, error) {
		return session.New(id, identity, opts, session.Deps{
			Conn:         conn,
			Preprocessor: vad.NewHighPass(cfg.VAD.HighPassCutoffHz, cfg.VAD.SampleRate),
			Classifier:   classifier,
			Pipeline:     orch,
			Events:       st,
			Logger:       logging.Named("session"),
		})
	}
}

func serveGRPCHealth(ctx context.Context, port string, checker *health.Checker, log *zap.SugaredLogger) {
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		log.Errorw("grpc health listen failed", "port", port, "error", err)
		return
	}
	log.Infow("grpc health starting", "port", port)
	if err := health.ServeGRPC(ctx, lis, checker, 10*time.Second, logging.Named("health")); err != nil {
		log.Warnw("grpc health stopped", "error", err)
	}
}

func pruneSessions(ctx context.Context, st *store.Store, log *zap.SugaredLogger) {
	t := time.NewTicker(sessionRetention / 4)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := st.Prune(now.Add(-sessionRetention)); n > 0 {
				log.Debugw("pruned closed sessions", "count", n)
			}
		}
	}
}

func logMiddleware(log *zap.SugaredLogger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debugw("http request", "method", r.Method, "path", r.URL.Path, "took", time.Since(start))
	})
}
