package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"go.uber.org/zap"

	"github.com/carllippert/nuance-server/internal/logging"
)

var ErrEmptyCompletion = errors.New("llm: empty completion")

// Completion is a generated reply plus the accounting we persist with it.
type Completion struct {
	Text             string
	Model            string
	CompletionTokens int64
	TotalTokens      int64
	Attempts         int
}

// chatAPI is the slice of the OpenAI client we use; tests swap it out.
type chatAPI interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams) (*openai.ChatCompletion, error)
}

type chatService struct{ client *openai.Client }

func (c chatService) New(ctx context.Context, body openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	return c.client.Chat.Completions.New(ctx, body)
}

// Responder generates the tutor's reply to a transcript.
type Responder struct {
	chat         chatAPI
	model        string
	systemPrompt string
	maxAttempts  int
	log          *zap.SugaredLogger
}

func NewResponder(client *openai.Client, model, systemPrompt string, log *zap.SugaredLogger) *Responder {
	return &Responder{
		chat:         chatService{client: client},
		model:        model,
		systemPrompt: systemPrompt,
		maxAttempts:  3,
		log:          logging.OrNop(log),
	}
}

func (r *Responder) Model() string { return r.model }

// Respond asks the chat model for a reply, retrying empty completions with
// backoff. Transport errors are returned as is; the openai client already
// retries those.
func (r *Responder) Respond(ctx context.Context, transcript string) (Completion, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(r.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(r.systemPrompt),
			openai.UserMessage(transcript),
		},
	}

	out := Completion{Model: r.model}
	var lastErr error
	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleepBackoff(ctx, attempt); err != nil {
				return out, err
			}
		}
		out.Attempts = attempt + 1
		start := time.Now()
		resp, err := r.chat.New(ctx, params)
		metricLatencyMS.WithLabelValues("respond").Observe(float64(time.Since(start).Milliseconds()))
		if err != nil {
			metricRequests.WithLabelValues("respond", "error").Inc()
			r.log.Warnw("completion failed", "attempt", out.Attempts, "error", err)
			return out, fmt.Errorf("llm: respond: %w", err)
		}
		out.CompletionTokens += resp.Usage.CompletionTokens
		out.TotalTokens += resp.Usage.TotalTokens
		if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
			lastErr = ErrEmptyCompletion
			metricRequests.WithLabelValues("respond", "empty").Inc()
			continue
		}
		metricRequests.WithLabelValues("respond", "ok").Inc()
		out.Text = strings.TrimSpace(resp.Choices[0].Message.Content)
		return out, nil
	}
	return out, fmt.Errorf("llm: respond after %d attempts: %w", out.Attempts, lastErr)
}
