// Package ratelimit gates calls to the upstream provider. Limiters wrap a
// provider.Fetcher and keep its contract: a cancelled wait becomes a failed
// result, never an error.
package ratelimit

import (
    "context"
    "sync"
    "time"

    "golang.org/x/time/rate"

    "pricerelay/internal/provider"
    "pricerelay/internal/symbols"
)

// TokenBucket wraps a Fetcher and gates upstream calls using a token bucket
// that starts full, allowing an initial burst.
type TokenBucket struct {
    F provider.Fetcher
    L *rate.Limiter
}

// NewTokenBucket allows rpm calls per minute with the given burst.
func NewTokenBucket(f provider.Fetcher, rpm, burst int) *TokenBucket {
    if burst <= 0 {
        burst = 1
    }
    return &TokenBucket{F: f, L: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), burst)}
}

func (t *TokenBucket) Name() string { return t.F.Name() }

func (t *TokenBucket) Fetch(ctx context.Context, set symbols.Set) *provider.FetchResult {
    if t.L != nil {
        if err := t.L.Wait(ctx); err != nil {
            return provider.Failed(set, err)
        }
    }
    return t.F.Fetch(ctx, set)
}

// MinInterval wraps a fetcher and enforces a minimum time between upstream
// calls. Concurrent callers reserve consecutive slots and queue behind each
// other.
type MinInterval struct {
    F        provider.Fetcher
    Interval time.Duration
    mu       sync.Mutex
    last     time.Time
}

func (m *MinInterval) Name() string { return m.F.Name() }

func (m *MinInterval) Fetch(ctx context.Context, set symbols.Set) *provider.FetchResult {
    if m.Interval > 0 {
        m.mu.Lock()
        next := m.last.Add(m.Interval)
        if now := time.Now(); next.Before(now) {
            next = now
        }
        m.last = next
        m.mu.Unlock()
        if wait := time.Until(next); wait > 0 {
            t := time.NewTimer(wait)
            defer t.Stop()
            select {
            case <-ctx.Done():
                return provider.Failed(set, ctx.Err())
            case <-t.C:
            }
        }
    }
    return m.F.Fetch(ctx, set)
}

// Wrap applies the configured limiter to f. A positive rpm selects the token
// bucket; otherwise a positive minInterval selects MinInterval; otherwise f is
// returned unchanged.
func Wrap(f provider.Fetcher, rpm, burst int, minInterval time.Duration) provider.Fetcher {
    switch {
    case rpm > 0:
        return NewTokenBucket(f, rpm, burst)
    case minInterval > 0:
        return &MinInterval{F: f, Interval: minInterval}
    }
    return f
}
