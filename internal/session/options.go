package session

import (
	"time"

	"github.com/carllippert/nuance-server/internal/config"
)

// Options tunes one session. The zero value is not usable; start from
// DefaultOptions or OptionsFromConfig.
type Options struct {
	SpeechStartThreshold int
	SpeechEndThreshold   int
	AutoPause            time.Duration
	HeartbeatInterval    time.Duration
	SampleRate           int
	// MaxLeadIn caps how much audio is kept while not speaking. Zero keeps
	// everything. New raises a positive value below AutoPause to AutoPause.
	MaxLeadIn          time.Duration
	ChunkQueueSize     int
	UtteranceQueueSize int
	VerboseStatus      bool
	PipelineTimeout    time.Duration
	// WriteTimeout bounds every frame written to the client. Defaults to
	// HeartbeatInterval.
	WriteTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		SpeechStartThreshold: 10,
		SpeechEndThreshold:   10,
		AutoPause:            20 * time.Second,
		HeartbeatInterval:    5 * time.Second,
		SampleRate:           48000,
		MaxLeadIn:            30 * time.Second,
		ChunkQueueSize:       64,
		UtteranceQueueSize:   8,
		VerboseStatus:        true,
		PipelineTimeout:      2 * time.Minute,
		WriteTimeout:         5 * time.Second,
	}
}

func OptionsFromConfig(c config.Config) Options {
	return Options{
		SpeechStartThreshold: c.VAD.SpeechStartThreshold,
		SpeechEndThreshold:   c.VAD.SpeechEndThreshold,
		AutoPause:            c.VAD.AutoPause,
		HeartbeatInterval:    c.Heartbeat.Interval,
		SampleRate:           c.VAD.SampleRate,
		MaxLeadIn:            c.VAD.MaxLeadIn,
		ChunkQueueSize:       c.Session.ChunkQueueSize,
		UtteranceQueueSize:   c.Session.UtteranceQueueSize,
		VerboseStatus:        c.Session.VerboseStatus,
		PipelineTimeout:      c.Session.PipelineTimeout,
		WriteTimeout:         c.Session.WriteTimeout,
	}
}

// maxLeadInBytes is MaxLeadIn expressed in PCM16 mono bytes, rounded down to
// a whole sample.
func (o Options) maxLeadInBytes() int {
	if o.MaxLeadIn <= 0 || o.SampleRate <= 0 {
		return 0
	}
	n := int64(o.MaxLeadIn) * int64(o.SampleRate) * 2 / int64(time.Second)
	return int(n) &^ 1
}
