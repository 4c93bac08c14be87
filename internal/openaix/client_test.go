package openaix

import (
	"errors"
	"testing"
)

func TestNewClientRequiresKey(t *testing.T) {
	if _, err := NewClient(Options{}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	c, err := NewClient(Options{APIKey: "sk-test", BaseURL: "http://127.0.0.1:1/v1/"})
	if err != nil || c == nil {
		t.Fatalf("expected client, got %v %v", c, err)
	}
}
