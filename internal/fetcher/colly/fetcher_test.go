package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/page-extractor/internal/extract"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/r/test/comments/abc/title.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"kind":"Listing","lang":"` + r.Header.Get("Accept-Language") + `"}]`))
	})
	mux.HandleFunc("/product-reviews/B0TEST0001/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><head><title>Amazon.com: Customer reviews: Widget</title></head>
<body><div data-hook="review" id="R1"><span class="a-profile-name">Ann</span></div></body></html>`))
	})
	mux.HandleFunc("/blocked", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`<html><head><title>Robot Check</title></head><body>captcha</body></html>`))
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func acquire(t *testing.T, p *Provider) extract.Session {
	t.Helper()
	sess, err := p.Acquire(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Close() })
	return sess
}

func TestSessionFetchJSON(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	p, err := New(Config{Locale: "en-US", UserAgent: "agent"}, zap.NewNop())
	require.NoError(t, err)

	page, err := acquire(t, p).Fetch(context.Background(), srv.URL+"/r/test/comments/abc/title.json")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, page.StatusCode)
	require.JSONEq(t, `[{"kind":"Listing","lang":"en-US"}]`, page.Text)
}

func TestSessionFetchHTML(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	p, err := New(Config{}, nil)
	require.NoError(t, err)

	page, err := acquire(t, p).Fetch(context.Background(), srv.URL+"/product-reviews/B0TEST0001/")
	require.NoError(t, err)
	require.Equal(t, "Amazon.com: Customer reviews: Widget", page.Title)
	require.Contains(t, page.HTML, `data-hook="review"`)
	require.Equal(t, "Ann", page.Text)
}

func TestSessionFetchReturnsErrorStatusAsPage(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	p, err := New(Config{}, nil)
	require.NoError(t, err)

	page, err := acquire(t, p).Fetch(context.Background(), srv.URL+"/blocked")
	require.NoError(t, err)
	require.Equal(t, http.StatusServiceUnavailable, page.StatusCode)
	require.Equal(t, "Robot Check", page.Title)
	require.Contains(t, page.HTML, "captcha")
}

func TestSessionFetchHonoursContext(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	p, err := New(Config{}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = acquire(t, p).Fetch(ctx, srv.URL+"/slow")
	require.Error(t, err)
	require.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestSessionFetchCancelsInFlightRequest(t *testing.T) {
	t.Parallel()

	aborted := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
			close(aborted)
		case <-time.After(5 * time.Second):
			w.WriteHeader(http.StatusOK)
		}
	}))
	t.Cleanup(srv.Close)

	p, err := New(Config{Timeout: time.Minute}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = acquire(t, p).Fetch(ctx, srv.URL+"/hang")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, time.Since(start), 2*time.Second)

	select {
	case <-aborted:
	case <-time.After(2 * time.Second):
		t.Fatal("upstream request was not canceled")
	}
}

func TestSessionCloseReleasesSlot(t *testing.T) {
	t.Parallel()

	p, err := New(Config{MaxParallel: 1}, nil)
	require.NoError(t, err)

	sess, err := p.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx)
	require.Error(t, err)

	require.NoError(t, sess.Close())
	require.NoError(t, sess.Close())

	again, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, again.Close())

	_, err = sess.Fetch(context.Background(), "http://127.0.0.1/")
	require.Error(t, err)
}

func TestNewRejectsInvalidProxy(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Proxies: []string{"://bad"}}, nil)
	require.Error(t, err)

	_, err = New(Config{MaxParallel: -1}, nil)
	require.Error(t, err)
}

func TestProxiedSessionsUseOwnTransport(t *testing.T) {
	t.Parallel()

	p, err := New(Config{Proxies: []string{"http://127.0.0.1:3128"}}, nil)
	require.NoError(t, err)

	_, err = p.newCollector()
	require.NoError(t, err)
	require.NotNil(t, p.transport.Proxy)
	require.False(t, p.transport.DisableKeepAlives)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	sess := &session{locale: "en-US", logger: zap.NewNop()}
	var result extract.Page
	var fetchErr error

	hooks := &stubHooks{}
	sess.configureCollectorHooks(hooks, "https://example.com/a", &result, &fetchErr)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	require.Equal(t, "en-US", collyReq.Headers.Get("Accept-Language"))

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusCreated,
		Body:       []byte(`{"ok":true}`),
		Headers:    &http.Header{"Content-Type": {"application/json"}},
		Request: &colly.Request{
			URL: mustParseURL(t, "https://example.com/b"),
		},
	})
	require.Equal(t, http.StatusCreated, result.StatusCode)
	require.Equal(t, "https://example.com/a", result.URL)
	require.Equal(t, "https://example.com/b", result.FinalURL)
	require.Equal(t, `{"ok":true}`, result.Text)

	hooks.onError(nil, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("failed to parse url %q: %v", raw, err)
	}
	return u
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
