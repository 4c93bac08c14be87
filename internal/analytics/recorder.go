package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/carllippert/nuance-server/internal/logging"
)

// Event names.
const (
	EventEmptyTranscription = "empty_transcription"
	EventMessageReceived    = "message_received"
)

// DistinctID is the analytics identity for a user: the user id upper-cased.
func DistinctID(userID string) string { return strings.ToUpper(userID) }

// Recorder records one named product event for a user.
type Recorder interface {
	RecordEvent(ctx context.Context, name, distinctID string, props map[string]any) error
}

// Options configures the Redis stream recorder.
type Options struct {
	Addr     string
	Password string
	DB       int
	Stream   string
	MaxLen   int64
}

// RedisRecorder appends analytics events to a Redis stream for a downstream
// consumer to forward.
type RedisRecorder struct {
	client *redis.Client
	stream string
	maxLen int64
	now    func() time.Time
	log    *zap.SugaredLogger
}

func NewRedisRecorder(ctx context.Context, o Options, log *zap.SugaredLogger) (*RedisRecorder, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     o.Addr,
		Password: o.Password,
		DB:       o.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("analytics: connect redis %s: %w", o.Addr, err)
	}
	stream := o.Stream
	if stream == "" {
		stream = "nuance:analytics"
	}
	return &RedisRecorder{client: client, stream: stream, maxLen: o.MaxLen, now: time.Now, log: logging.OrNop(log)}, nil
}

func (r *RedisRecorder) RecordEvent(ctx context.Context, name, distinctID string, props map[string]any) error {
	payload, err := json.Marshal(props)
	if err != nil {
		metricEvents.WithLabelValues(name, "error").Inc()
		return fmt.Errorf("analytics: encode %s properties: %w", name, err)
	}
	args := &redis.XAddArgs{
		Stream: r.stream,
		Values: map[string]any{
			"event":       name,
			"distinct_id": distinctID,
			"properties":  string(payload),
			"ts":          r.now().UTC().Format(time.RFC3339Nano),
		},
	}
	if r.maxLen > 0 {
		args.MaxLen = r.maxLen
		args.Approx = true
	}
	if err := r.client.XAdd(ctx, args).Err(); err != nil {
		metricEvents.WithLabelValues(name, "error").Inc()
		return fmt.Errorf("analytics: xadd %s: %w", name, err)
	}
	metricEvents.WithLabelValues(name, "ok").Inc()
	return nil
}

func (r *RedisRecorder) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }

func (r *RedisRecorder) Close() error { return r.client.Close() }

// LogRecorder writes events to the log. Used when Redis is not configured.
type LogRecorder struct {
	log *zap.SugaredLogger
}

func NewLogRecorder(log *zap.SugaredLogger) *LogRecorder {
	return &LogRecorder{log: logging.OrNop(log)}
}

func (l *LogRecorder) RecordEvent(ctx context.Context, name, distinctID string, props map[string]any) error {
	l.log.Infow("analytics event", "event", name, "distinct_id", distinctID, "properties", props)
	metricEvents.WithLabelValues(name, "logged").Inc()
	return nil
}
