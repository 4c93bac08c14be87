package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"go.uber.org/zap"

	"github.com/carllippert/nuance-server/internal/logging"
	"github.com/carllippert/nuance-server/internal/types"
)

const categorizePrompt = `Classify the text you are given. Reply with a JSON object only, shaped as
{"language": "<ISO 639-1 code of the main language>", "category": "<one of: reading, question, conversation, other>", "confidence": <0..1>}`

// Categorizer scores text for language and intent with a JSON-mode chat
// completion.
type Categorizer struct {
	chat  chatAPI
	model string
	log   *zap.SugaredLogger
}

func NewCategorizer(client *openai.Client, model string, log *zap.SugaredLogger) *Categorizer {
	return &Categorizer{chat: chatService{client: client}, model: model, log: logging.OrNop(log)}
}

func (c *Categorizer) ClassifyLanguage(ctx context.Context, text string) (types.Scoring, error) {
	if strings.TrimSpace(text) == "" {
		return types.Scoring{}, fmt.Errorf("llm: classify: empty text")
	}
	start := time.Now()
	resp, err := c.chat.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(categorizePrompt),
			openai.UserMessage(text),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
		},
		Temperature: openai.Float(0),
	})
	metricLatencyMS.WithLabelValues("classify").Observe(float64(time.Since(start).Milliseconds()))
	if err != nil {
		metricRequests.WithLabelValues("classify", "error").Inc()
		return types.Scoring{}, fmt.Errorf("llm: classify: %w", err)
	}
	if len(resp.Choices) == 0 {
		metricRequests.WithLabelValues("classify", "empty").Inc()
		return types.Scoring{}, ErrEmptyCompletion
	}
	s, err := ParseScoring(resp.Choices[0].Message.Content)
	if err != nil {
		metricRequests.WithLabelValues("classify", "invalid").Inc()
		return types.Scoring{}, err
	}
	metricRequests.WithLabelValues("classify", "ok").Inc()
	return s, nil
}

// ParseScoring decodes the model's JSON answer, tolerating a surrounding
// markdown code fence.
func ParseScoring(raw string) (types.Scoring, error) {
	body := strings.TrimSpace(raw)
	body = strings.TrimPrefix(body, "```json")
	body = strings.TrimPrefix(body, "```")
	body = strings.TrimSuffix(body, "```")
	body = strings.TrimSpace(body)

	var s types.Scoring
	if err := json.Unmarshal([]byte(body), &s); err != nil {
		return types.Scoring{}, fmt.Errorf("llm: decode scoring %q: %w", raw, err)
	}
	s.Language = strings.ToLower(strings.TrimSpace(s.Language))
	s.Category = strings.ToLower(strings.TrimSpace(s.Category))
	if s.Language == "" {
		return types.Scoring{}, fmt.Errorf("llm: scoring has no language: %q", raw)
	}
	if s.Confidence < 0 {
		s.Confidence = 0
	}
	if s.Confidence > 1 {
		s.Confidence = 1
	}
	return s, nil
}
