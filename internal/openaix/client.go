package openaix

import (
	"errors"
	"net/http"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

var ErrNotConfigured = errors.New("openai: api key not configured")

// Options configures the shared API client.
type Options struct {
	APIKey     string
	BaseURL    string
	MaxRetries int
	Timeout    time.Duration
	HTTPClient *http.Client
}

// NewClient builds the one client shared by transcription, chat and speech.
func NewClient(o Options) (*openai.Client, error) {
	if o.APIKey == "" {
		return nil, ErrNotConfigured
	}
	hc := o.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: o.Timeout}
	}
	opts := []option.RequestOption{
		option.WithAPIKey(o.APIKey),
		option.WithHTTPClient(hc),
		option.WithMaxRetries(o.MaxRetries),
	}
	if o.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(o.BaseURL))
	}
	client := openai.NewClient(opts...)
	return &client, nil
}
