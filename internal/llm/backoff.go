package llm

import (
    "context"
    "math/rand"
    "time"
)

// backoffBase is a var so tests can shrink it.
var backoffBase = 200 * time.Millisecond

// backoff returns base * 2^(attempt-1), capped at 16x, plus up to one base of jitter.
func backoff(attempt int) time.Duration {
    if attempt < 1 { attempt = 1 }
    pow := 1 << uint(min(attempt-1, 4)) // 1,2,4,8,16
    sleep := time.Duration(pow) * backoffBase
    jitter := time.Duration(rand.Int63n(int64(backoffBase) + 1))
    return sleep + jitter
}

func sleepBackoff(ctx context.Context, attempt int) error {
    if err := ctx.Err(); err != nil {
        return err
    }
    timer := time.NewTimer(backoff(attempt))
    defer timer.Stop()
    select {
    case <-timer.C:
        return nil
    case <-ctx.Done():
        return ctx.Err()
    }
}
