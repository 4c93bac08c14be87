package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/carllippert/nuance-server/internal/config"
)

type CheckResult struct {
	Name    string        `json:"name"`
	OK      bool          `json:"ok"`
	Latency time.Duration `json:"latency_ms"`
	Error   string        `json:"error,omitempty"`
}

type HealthStatus struct {
	OK        bool          `json:"ok"`
	Checks    []CheckResult `json:"checks"`
	CheckedAt time.Time     `json:"checked_at"`
}

func (h HealthStatus) String() string {
	status := "OK"
	if !h.OK {
		status = "FAIL"
	}
	s := fmt.Sprintf("Health: %s\n", status)
	for _, c := range h.Checks {
		mark := "✓"
		if !c.OK {
			mark = "✗"
		}
		s += fmt.Sprintf("  %s %s (%dms)", mark, c.Name, c.Latency.Milliseconds())
		if c.Error != "" {
			s += fmt.Sprintf(" - %s", c.Error)
		}
		s += "\n"
	}
	return s
}

// Pinger is anything with a cheap liveness round trip (database, Redis).
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checker runs dependency checks. DB and Redis are optional.
type Checker struct {
	cfg    config.Config
	client *http.Client
	db     Pinger
	redis  Pinger
}

func NewChecker(cfg config.Config, db, redis Pinger) *Checker {
	return &Checker{cfg: cfg, client: &http.Client{Timeout: 10 * time.Second}, db: db, redis: redis}
}

// CheckAll runs every check, including the OpenAI round trip. Used by
// --check.
func (c *Checker) CheckAll(ctx context.Context) HealthStatus {
	checks := []CheckResult{c.checkOpenAI(ctx)}
	checks = append(checks, c.local(ctx)...)
	return combine(checks)
}

// Ready checks only the local backing stores and is cheap enough for
// /readyz.
func (c *Checker) Ready(ctx context.Context) HealthStatus {
	return combine(c.local(ctx))
}

func (c *Checker) local(ctx context.Context) []CheckResult {
	var out []CheckResult
	if c.db != nil {
		out = append(out, ping(ctx, "database", c.db))
	}
	if c.redis != nil {
		out = append(out, ping(ctx, "redis", c.redis))
	}
	return out
}

func combine(checks []CheckResult) HealthStatus {
	allOK := true
	for _, c := range checks {
		if !c.OK {
			allOK = false
		}
	}
	return HealthStatus{
		OK:        allOK,
		Checks:    checks,
		CheckedAt: time.Now().UTC(),
	}
}

func ping(ctx context.Context, name string, p Pinger) CheckResult {
	start := time.Now()
	result := CheckResult{Name: name}
	err := p.Ping(ctx)
	result.Latency = time.Since(start)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.OK = true
	return result
}

func (c *Checker) checkOpenAI(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Name: "openai"}

	if c.cfg.OpenAI.APIKey == "" {
		result.Error = "OPENAI_API_KEY not set"
		result.Latency = time.Since(start)
		return result
	}

	base := c.cfg.OpenAI.BaseURL
	if base == "" {
		base = "https://api.openai.com/v1"
	}
	// Listing models is free and works with restricted keys.
	req, err := http.NewRequestWithContext(ctx, "GET", strings.TrimSuffix(base, "/")+"/models", nil)
	if err != nil {
		result.Error = fmt.Sprintf("request build failed: %v", err)
		result.Latency = time.Since(start)
		return result
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.OpenAI.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		result.Error = fmt.Sprintf("request failed: %v", err)
		result.Latency = time.Since(start)
		return result
	}
	defer resp.Body.Close()

	result.Latency = time.Since(start)

	if resp.StatusCode == 401 {
		result.Error = "invalid API key (401)"
		return result
	}
	if resp.StatusCode != 200 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		result.Error = fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, string(body))
		return result
	}
	io.Copy(io.Discard, resp.Body)

	result.OK = true
	return result
}
