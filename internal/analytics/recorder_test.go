package analytics

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisRecorder) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rec, err := NewRedisRecorder(context.Background(), Options{Addr: mr.Addr(), Stream: "test:analytics"}, nil)
	require.NoError(t, err)
	rec.now = func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) }
	return mr, rec
}

func TestRecordEventAppendsToStream(t *testing.T) {
	mr, rec := setupTestRedis(t)
	defer mr.Close()
	defer rec.Close()

	err := rec.RecordEvent(context.Background(), EventMessageReceived, DistinctID("abc-123"), map[string]any{
		"message_input_classification": "reading",
		"llm_model":                    "gpt-3.5-turbo",
	})
	require.NoError(t, err)

	entries, err := rec.client.XRange(context.Background(), "test:analytics", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)

	v := entries[0].Values
	assert.Equal(t, "message_received", v["event"])
	assert.Equal(t, "ABC-123", v["distinct_id"])
	assert.Equal(t, "2026-03-01T10:00:00Z", v["ts"])

	var props map[string]any
	require.NoError(t, json.Unmarshal([]byte(v["properties"].(string)), &props))
	assert.Equal(t, "reading", props["message_input_classification"])
}

func TestRecordEventFailsWhenRedisIsDown(t *testing.T) {
	mr, rec := setupTestRedis(t)
	defer rec.Close()
	mr.Close()

	err := rec.RecordEvent(context.Background(), EventEmptyTranscription, "X", nil)
	assert.Error(t, err)
}

func TestNewRedisRecorderFailsFast(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	_, err = NewRedisRecorder(context.Background(), Options{Addr: addr}, nil)
	assert.Error(t, err)
}

func TestLogRecorderNeverFails(t *testing.T) {
	assert.NoError(t, NewLogRecorder(nil).RecordEvent(context.Background(), "x", "Y", map[string]any{"a": 1}))
}

func TestDistinctID(t *testing.T) {
	assert.Equal(t, "USER_9", DistinctID("user_9"))
}
