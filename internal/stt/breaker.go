package stt

import (
	"errors"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("stt: circuit open")

// Breaker opens after Threshold failures inside Window and rejects calls
// for Cooldown. A success clears the failure history.
type Breaker struct {
	Threshold int
	Window    time.Duration
	Cooldown  time.Duration

	mu      sync.Mutex
	fails   []time.Time
	openTil time.Time
	now     func() time.Time
}

func NewBreaker() *Breaker {
	return &Breaker{Threshold: 3, Window: 60 * time.Second, Cooldown: 30 * time.Second, now: time.Now}
}

func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.now().Before(b.openTil)
}

func (b *Breaker) Success() {
	b.mu.Lock()
	b.fails = nil
	b.mu.Unlock()
}

func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	b.fails = append(b.fails, now)
	// prune older than the window
	cutoff := now.Add(-b.Window)
	j := 0
	for _, t := range b.fails {
		if t.After(cutoff) {
			b.fails[j] = t
			j++
		}
	}
	b.fails = b.fails[:j]
	if len(b.fails) >= b.Threshold {
		b.openTil = now.Add(b.Cooldown)
		b.fails = nil
		metricCircuitOpens.Inc()
	}
}
