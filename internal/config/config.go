package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	DefaultSystemPrompt = "You are a friendly Spanish tutor. The student is reading Spanish text out loud to you. " +
		"Reply in Spanish with a short, encouraging response to what they read, and correct obvious mistakes gently. " +
		"Keep answers to one or two sentences."
	DefaultApologyPhrase = "Oops. Sorry. We got confused by some noise. Just keep reading and avoid noisy areas if possible."
)

type Config struct {
	Server struct {
		Port           string
		LogLevel       string
		GRPCHealthPort string
		ShutdownGrace  time.Duration
	}
	VAD struct {
		SpeechStartThreshold int
		SpeechEndThreshold   int
		AutoPause            time.Duration
		SampleRate           int
		HighPassCutoffHz     float64
		VoiceRMS             float64
		NoiseRMS             float64
		MaxLeadIn            time.Duration
	}
	Heartbeat struct {
		Interval time.Duration
	}
	Session struct {
		ChunkQueueSize     int
		UtteranceQueueSize int
		MaxFrameBytes      int64
		VerboseStatus      bool
		PipelineTimeout    time.Duration
		WriteTimeout       time.Duration
	}
	OpenAI struct {
		APIKey                string
		BaseURL               string
		TranscriptionModel    string
		TranscriptionLanguage string
		ChatModel             string
		SystemPrompt          string
		TTSModel              string
		TTSVoice              string
		ApologyPhrase         string
		MaxRetries            int
	}
	Database struct {
		Driver string
		DSN    string
	}
	Redis struct {
		Addr     string
		Password string
		DB       int
		Stream   string
		MaxLen   int64
	}
}

func Load() Config {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.grpc_health_port", "")
	v.SetDefault("server.shutdown_grace", 5*time.Second)

	v.SetDefault("vad.speech_start_threshold", 10)
	v.SetDefault("vad.speech_end_threshold", 10)
	v.SetDefault("vad.auto_pause", 20*time.Second)
	v.SetDefault("vad.sample_rate", 48000)
	v.SetDefault("vad.high_pass_cutoff_hz", 100.0)
	v.SetDefault("vad.voice_rms", 1200.0)
	v.SetDefault("vad.noise_rms", 300.0)
	v.SetDefault("vad.max_lead_in", 30*time.Second)

	v.SetDefault("heartbeat.interval", 5*time.Second)

	v.SetDefault("session.chunk_queue_size", 64)
	v.SetDefault("session.utterance_queue_size", 8)
	v.SetDefault("session.max_frame_bytes", 1<<20)
	v.SetDefault("session.verbose_status", true)
	v.SetDefault("session.pipeline_timeout", 2*time.Minute)
	v.SetDefault("session.write_timeout", 5*time.Second)

	v.SetDefault("openai.base_url", "")
	v.SetDefault("openai.transcription_model", "whisper-1")
	v.SetDefault("openai.transcription_language", "es")
	v.SetDefault("openai.chat_model", "gpt-3.5-turbo")
	v.SetDefault("openai.system_prompt", DefaultSystemPrompt)
	v.SetDefault("openai.tts_model", "tts-1")
	v.SetDefault("openai.tts_voice", "nova")
	v.SetDefault("openai.apology_phrase", DefaultApologyPhrase)
	v.SetDefault("openai.max_retries", 2)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "file:nuance.db?_pragma=busy_timeout(5000)")

	v.SetDefault("redis.stream", "nuance:analytics")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.max_len", 100000)

	// Map envs
	v.BindEnv("server.port", "PORT")
	v.BindEnv("server.log_level", "LOG_LEVEL")
	v.BindEnv("server.grpc_health_port", "GRPC_HEALTH_PORT")
	v.BindEnv("server.shutdown_grace", "SHUTDOWN_GRACE")

	v.BindEnv("vad.speech_start_threshold", "VAD_SPEECH_START_THRESHOLD")
	v.BindEnv("vad.speech_end_threshold", "VAD_SPEECH_END_THRESHOLD")
	v.BindEnv("vad.auto_pause", "VAD_AUTO_PAUSE")
	v.BindEnv("vad.sample_rate", "VAD_SAMPLE_RATE")
	v.BindEnv("vad.high_pass_cutoff_hz", "VAD_HIGH_PASS_CUTOFF_HZ")
	v.BindEnv("vad.voice_rms", "VAD_VOICE_RMS")
	v.BindEnv("vad.noise_rms", "VAD_NOISE_RMS")
	v.BindEnv("vad.max_lead_in", "VAD_MAX_LEAD_IN")

	v.BindEnv("heartbeat.interval", "HEARTBEAT_INTERVAL")

	v.BindEnv("session.chunk_queue_size", "SESSION_CHUNK_QUEUE_SIZE")
	v.BindEnv("session.utterance_queue_size", "SESSION_UTTERANCE_QUEUE_SIZE")
	v.BindEnv("session.max_frame_bytes", "SESSION_MAX_FRAME_BYTES")
	v.BindEnv("session.verbose_status", "SESSION_VERBOSE_STATUS")
	v.BindEnv("session.pipeline_timeout", "SESSION_PIPELINE_TIMEOUT")
	v.BindEnv("session.write_timeout", "SESSION_WRITE_TIMEOUT")

	v.BindEnv("openai.api_key", "OPENAI_API_KEY")
	v.BindEnv("openai.base_url", "OPENAI_BASE_URL")
	v.BindEnv("openai.transcription_model", "OPENAI_TRANSCRIPTION_MODEL")
	v.BindEnv("openai.transcription_language", "OPENAI_TRANSCRIPTION_LANGUAGE")
	v.BindEnv("openai.chat_model", "OPENAI_CHAT_MODEL")
	v.BindEnv("openai.system_prompt", "OPENAI_SYSTEM_PROMPT")
	v.BindEnv("openai.tts_model", "OPENAI_TTS_MODEL")
	v.BindEnv("openai.tts_voice", "OPENAI_TTS_VOICE")
	v.BindEnv("openai.apology_phrase", "APOLOGY_PHRASE")
	v.BindEnv("openai.max_retries", "OPENAI_MAX_RETRIES")

	v.BindEnv("database.driver", "DATABASE_DRIVER")
	v.BindEnv("database.dsn", "DATABASE_URL")

	v.BindEnv("redis.addr", "REDIS_ADDR")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("redis.db", "REDIS_DB")
	v.BindEnv("redis.stream", "REDIS_ANALYTICS_STREAM")
	v.BindEnv("redis.max_len", "REDIS_ANALYTICS_MAXLEN")

	var c Config
	c.Server.Port = toString(v.Get("server.port"))
	c.Server.LogLevel = v.GetString("server.log_level")
	c.Server.GRPCHealthPort = toString(v.Get("server.grpc_health_port"))
	c.Server.ShutdownGrace = v.GetDuration("server.shutdown_grace")

	c.VAD.SpeechStartThreshold = v.GetInt("vad.speech_start_threshold")
	c.VAD.SpeechEndThreshold = v.GetInt("vad.speech_end_threshold")
	c.VAD.AutoPause = v.GetDuration("vad.auto_pause")
	c.VAD.SampleRate = v.GetInt("vad.sample_rate")
	c.VAD.HighPassCutoffHz = v.GetFloat64("vad.high_pass_cutoff_hz")
	c.VAD.VoiceRMS = v.GetFloat64("vad.voice_rms")
	c.VAD.NoiseRMS = v.GetFloat64("vad.noise_rms")
	c.VAD.MaxLeadIn = v.GetDuration("vad.max_lead_in")

	c.Heartbeat.Interval = v.GetDuration("heartbeat.interval")

	c.Session.ChunkQueueSize = v.GetInt("session.chunk_queue_size")
	c.Session.UtteranceQueueSize = v.GetInt("session.utterance_queue_size")
	c.Session.MaxFrameBytes = v.GetInt64("session.max_frame_bytes")
	c.Session.VerboseStatus = v.GetBool("session.verbose_status")
	c.Session.PipelineTimeout = v.GetDuration("session.pipeline_timeout")
	c.Session.WriteTimeout = v.GetDuration("session.write_timeout")

	c.OpenAI.APIKey = v.GetString("openai.api_key")
	c.OpenAI.BaseURL = v.GetString("openai.base_url")
	c.OpenAI.TranscriptionModel = v.GetString("openai.transcription_model")
	c.OpenAI.TranscriptionLanguage = v.GetString("openai.transcription_language")
	c.OpenAI.ChatModel = v.GetString("openai.chat_model")
	c.OpenAI.SystemPrompt = v.GetString("openai.system_prompt")
	c.OpenAI.TTSModel = v.GetString("openai.tts_model")
	c.OpenAI.TTSVoice = v.GetString("openai.tts_voice")
	c.OpenAI.ApologyPhrase = v.GetString("openai.apology_phrase")
	c.OpenAI.MaxRetries = v.GetInt("openai.max_retries")

	c.Database.Driver = v.GetString("database.driver")
	c.Database.DSN = v.GetString("database.dsn")

	c.Redis.Addr = v.GetString("redis.addr")
	c.Redis.Password = v.GetString("redis.password")
	c.Redis.DB = v.GetInt("redis.db")
	c.Redis.Stream = v.GetString("redis.stream")
	c.Redis.MaxLen = v.GetInt64("redis.max_len")

	return c
}

// Validate rejects settings the voice session cannot run with.
func (c Config) Validate() error {
	if c.VAD.SpeechStartThreshold < 1 || c.VAD.SpeechEndThreshold < 1 {
		return fmt.Errorf("vad thresholds must be positive (start=%d end=%d)", c.VAD.SpeechStartThreshold, c.VAD.SpeechEndThreshold)
	}
	if c.VAD.SampleRate <= 0 {
		return fmt.Errorf("vad sample rate must be positive, got %d", c.VAD.SampleRate)
	}
	if c.Heartbeat.Interval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive, got %s", c.Heartbeat.Interval)
	}
	if c.VAD.MaxLeadIn > 0 && c.VAD.MaxLeadIn < c.VAD.AutoPause {
		return fmt.Errorf("vad max lead-in %s is shorter than auto-pause %s", c.VAD.MaxLeadIn, c.VAD.AutoPause)
	}
	if c.Session.ChunkQueueSize < 1 || c.Session.UtteranceQueueSize < 1 {
		return fmt.Errorf("session queue sizes must be positive")
	}
	switch c.Database.Driver {
	case "", "sqlite", "postgres", "mysql":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	return nil
}

// LogSummary writes the non-secret parts of the config.
func (c Config) LogSummary(log *zap.SugaredLogger) {
	log.Infow("config loaded",
		"port", c.Server.Port,
		"heartbeat", c.Heartbeat.Interval,
		"auto_pause", c.VAD.AutoPause,
		"speech_start_threshold", c.VAD.SpeechStartThreshold,
		"speech_end_threshold", c.VAD.SpeechEndThreshold,
		"database_driver", c.Database.Driver,
		"redis", c.Redis.Addr != "",
		"openai", c.OpenAI.APIKey != "",
	)
}

func toString(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
