package ratelimit

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/page-extractor/internal/extract"
)

func TestLimiter_Wait(t *testing.T) {
	t.Parallel()

	// 10 RPS = 1 token every 100ms, starting with one token.
	l := New(Config{DefaultRPS: 10, DefaultBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://www.example.com/product-reviews/B000000001/?pageNumber=1"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://www.example.com/product-reviews/B000000001/?pageNumber=2"))
	if dur := time.Since(start); dur < 80*time.Millisecond {
		t.Errorf("expected wait ~100ms, got %v", dur)
	}
}

func TestLimiter_DifferentHosts(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 1, DefaultBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://a.example/1"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://b.example/1"))
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiter_ContextCanceled(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 0.1, DefaultBurst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://a.example/1"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "https://a.example/2"))
}

func TestPaceDisabledReturnsProvider(t *testing.T) {
	t.Parallel()

	inner := &countingProvider{}
	require.Same(t, inner, Pace(inner, New(Config{})))
}

func TestPacedSessionWaitsBeforeFetch(t *testing.T) {
	t.Parallel()

	inner := &countingProvider{}
	provider := Pace(inner, New(Config{DefaultRPS: 10, DefaultBurst: 1}))

	sess, err := provider.Acquire(context.Background())
	require.NoError(t, err)

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := sess.Fetch(context.Background(), "https://old.example/r/x.json")
		require.NoError(t, err)
	}
	require.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
	require.EqualValues(t, 3, inner.fetches.Load())

	require.NoError(t, sess.Close())
	require.EqualValues(t, 1, inner.closes.Load())
}

func TestPacedProviderPropagatesAcquireError(t *testing.T) {
	t.Parallel()

	provider := Pace(&countingProvider{acquireErr: errors.New("no browser")}, New(Config{DefaultRPS: 1}))
	_, err := provider.Acquire(context.Background())
	require.EqualError(t, err, "no browser")
}

type countingProvider struct {
	acquireErr error
	fetches    atomic.Int32
	closes     atomic.Int32
}

func (p *countingProvider) Acquire(context.Context) (extract.Session, error) {
	if p.acquireErr != nil {
		return nil, p.acquireErr
	}
	return &countingSession{p: p}, nil
}

type countingSession struct {
	p *countingProvider
}

func (s *countingSession) Fetch(_ context.Context, rawURL string) (extract.Page, error) {
	s.p.fetches.Add(1)
	return extract.Page{URL: rawURL, StatusCode: 200}, nil
}

func (s *countingSession) Close() error {
	s.p.closes.Add(1)
	return nil
}
