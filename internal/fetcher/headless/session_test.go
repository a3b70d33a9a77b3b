package headless

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLaunchWithinReturnsLaunchResult(t *testing.T) {
	t.Parallel()

	var aborted atomic.Bool
	err := launchWithin(context.Background(), time.Second, func() { aborted.Store(true) }, func() error {
		return nil
	})
	require.NoError(t, err)
	require.False(t, aborted.Load())

	boom := errors.New("exec: chrome not found")
	err = launchWithin(context.Background(), time.Second, func() {}, func() error { return boom })
	require.ErrorIs(t, err, boom)
}

func TestLaunchWithinAbortsOnTimeout(t *testing.T) {
	t.Parallel()

	stop := make(chan struct{})
	var once atomic.Bool
	abort := func() {
		if once.CompareAndSwap(false, true) {
			close(stop)
		}
	}
	err := launchWithin(context.Background(), 20*time.Millisecond, abort, func() error {
		<-stop
		return context.Canceled
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.True(t, once.Load())
}

func TestLaunchWithinAbortsWhenCallerCancels(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	stop := make(chan struct{})
	started := make(chan struct{})
	go func() {
		<-started
		cancel()
	}()
	err := launchWithin(ctx, time.Minute, func() { close(stop) }, func() error {
		close(started)
		<-stop
		return context.Canceled
	})
	require.ErrorIs(t, err, context.Canceled)
}

// chromePath finds a local Chrome build. CHROME_PATH takes precedence over PATH lookups.
func chromePath(t *testing.T) string {
	t.Helper()
	if p := os.Getenv("CHROME_PATH"); p != "" {
		return p
	}
	for _, name := range []string{
		"chrome-headless-shell",
		"headless-shell",
		"google-chrome-stable",
		"google-chrome",
		"chromium",
		"chromium-browser",
	} {
		if p, err := exec.LookPath(name); err == nil {
			return p
		}
	}
	t.Skip("no Chrome binary available")
	return ""
}

func TestSessionLifecycleAgainstLocalServer(t *testing.T) {
	if testing.Short() {
		t.Skip("launches a browser")
	}
	execPath := chromePath(t)

	mux := http.NewServeMux()
	mux.HandleFunc("/thread.json", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"kind":"Listing"}]`))
	})
	mux.HandleFunc("/reviews", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><head><title>Reviews</title></head><body><div data-hook="review">Great</div></body></html>`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	provider, err := NewChromedp(Config{
		MaxParallel:       1,
		Headless:          true,
		NoSandbox:         true,
		ExecPath:          execPath,
		Locale:            "en-US",
		Timezone:          "America/New_York",
		Settle:            -1,
		NavigationTimeout: 30 * time.Second,
	}, zap.NewNop())
	require.NoError(t, err)

	sess, err := provider.Acquire(context.Background())
	require.NoError(t, err)

	page, err := sess.Fetch(context.Background(), srv.URL+"/thread.json")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, page.StatusCode)
	require.JSONEq(t, `[{"kind":"Listing"}]`, page.Text)

	// Listing requests walk several pages on one browser.
	page, err = sess.Fetch(context.Background(), srv.URL+"/reviews")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, page.StatusCode)
	require.Equal(t, "Reviews", page.Title)
	require.Contains(t, page.HTML, `data-hook="review"`)
	require.Equal(t, "Great", page.Text)

	require.NoError(t, sess.Close())

	// The slot is free again once the session is closed.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, provider.acquire(ctx))
	provider.release()
}
