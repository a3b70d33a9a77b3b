// Package ratelimit paces page fetches per host with token buckets.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/page-extractor/internal/extract"
	"github.com/JakeFAU/page-extractor/internal/metrics"
)

// Limiter manages per-host rate limits.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
}

// Config holds rate limiter configuration. A non-positive DefaultRPS disables pacing.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.DefaultRPS)
	if cfg.DefaultRPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.DefaultBurst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  r,
		defaultBurst: burst,
	}
}

// Enabled reports whether the limiter ever delays.
func (l *Limiter) Enabled() bool {
	return l != nil && l.defaultRate != rate.Inf
}

// Wait blocks until a token is available for the URL's host, respecting the context.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := hostOf(rawURL)
	l.mu.Lock()
	limiter, exists := l.limiters[host]
	if !exists {
		limiter = rate.NewLimiter(l.defaultRate, l.defaultBurst)
		l.limiters[host] = limiter
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	// Immediate grants are not delays.
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, waited)
	}
	return nil
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Pace wraps a session provider so that every fetch first waits on the limiter.
// A disabled limiter returns the provider unchanged.
func Pace(provider extract.SessionProvider, limiter *Limiter) extract.SessionProvider {
	if !limiter.Enabled() {
		return provider
	}
	return &pacedProvider{next: provider, limiter: limiter}
}

type pacedProvider struct {
	next    extract.SessionProvider
	limiter *Limiter
}

func (p *pacedProvider) Acquire(ctx context.Context) (extract.Session, error) {
	sess, err := p.next.Acquire(ctx)
	if err != nil {
		return nil, err //nolint:wrapcheck // provider errors are already descriptive
	}
	return &pacedSession{Session: sess, limiter: p.limiter}, nil
}

type pacedSession struct {
	extract.Session
	limiter *Limiter
}

func (s *pacedSession) Fetch(ctx context.Context, rawURL string) (extract.Page, error) {
	if err := s.limiter.Wait(ctx, rawURL); err != nil {
		return extract.Page{}, err
	}
	return s.Session.Fetch(ctx, rawURL) //nolint:wrapcheck // pass-through
}
