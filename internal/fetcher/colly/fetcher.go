// Package collyfetcher provides plain HTTP sessions using gocolly. It renders no
// JavaScript and is meant for endpoints that serve complete documents.
package collyfetcher

import (
	"bytes"
	"context"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"github.com/gocolly/colly/v2/proxy"
	"go.uber.org/zap"

	"github.com/JakeFAU/page-extractor/internal/extract"
)

const defaultTimeout = 30 * time.Second

// Config controls collector behavior.
type Config struct {
	MaxParallel int
	UserAgent   string
	Locale      string
	Timeout     time.Duration
	Proxies     []string
}

// Provider hands out isolated collectors, each with its own cookie jar and proxy.
type Provider struct {
	cfg       Config
	transport *http.Transport
	limiter   chan struct{}
	logger    *zap.Logger
	pick      func(n int) int
}

var _ extract.SessionProvider = (*Provider)(nil)

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Provider.
func New(cfg Config, logger *zap.Logger) (*Provider, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	for _, p := range cfg.Proxies {
		if _, err := proxy.RoundRobinProxySwitcher(strings.TrimSpace(p)); err != nil {
			return nil, fmt.Errorf("invalid proxy %q: %w", p, err)
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}
	return &Provider{
		cfg:       cfg,
		transport: newHTTPTransport(),
		limiter:   limiter,
		logger:    logger,
		pick:      rand.IntN,
	}, nil
}

// Acquire returns a session backed by a fresh collector.
func (p *Provider) Acquire(ctx context.Context) (extract.Session, error) {
	if err := p.acquire(ctx); err != nil {
		return nil, err
	}
	collector, err := p.newCollector()
	if err != nil {
		p.release()
		return nil, err
	}
	p.logger.Debug("collector session started", zap.Bool("proxied", len(p.cfg.Proxies) > 0))
	return &session{
		base:    collector,
		locale:  p.cfg.Locale,
		release: p.release,
		logger:  p.logger,
	}, nil
}

func (p *Provider) newCollector() (*colly.Collector, error) {
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
		colly.ParseHTTPErrorResponse(),
	)
	if p.cfg.UserAgent != "" {
		c.UserAgent = p.cfg.UserAgent
	}
	c.SetRequestTimeout(p.cfg.Timeout)

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	c.SetCookieJar(jar)

	if len(p.cfg.Proxies) == 0 {
		c.WithTransport(p.transport)
		return c, nil
	}
	// SetProxyFunc mutates the transport, so proxied sessions get their own.
	c.WithTransport(p.transport.Clone())
	chosen := strings.TrimSpace(p.cfg.Proxies[p.pick(len(p.cfg.Proxies))])
	proxyFunc, err := proxy.RoundRobinProxySwitcher(chosen)
	if err != nil {
		return nil, fmt.Errorf("configure proxy: %w", err)
	}
	c.SetProxyFunc(proxyFunc)
	return c, nil
}

func (p *Provider) acquire(ctx context.Context) error {
	if p.limiter == nil {
		return nil
	}
	select {
	case p.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("collector slot wait canceled: %w", ctx.Err())
	}
}

func (p *Provider) release() {
	if p.limiter == nil {
		return
	}
	select {
	case <-p.limiter:
	default:
	}
}

type session struct {
	base    *colly.Collector
	locale  string
	release func()
	logger  *zap.Logger

	mu     sync.Mutex
	closed bool
}

// Fetch executes a single HTTP GET. Error statuses are returned as pages, not errors.
func (s *session) Fetch(ctx context.Context, url string) (extract.Page, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return extract.Page{}, fmt.Errorf("collector session closed")
	}

	var (
		result   extract.Page
		fetchErr error
	)
	collector := s.base.Clone()
	s.configureCollectorHooks(collector, url, &result, &fetchErr)
	if err := runCollector(ctx, collector, url, &fetchErr); err != nil {
		return extract.Page{}, err
	}
	if result.URL == "" {
		return extract.Page{}, fmt.Errorf("colly returned no response for %s", url)
	}
	return result, nil
}

// Close frees the session's slot. It is safe to call more than once.
func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.release()
	return nil
}

func (s *session) configureCollectorHooks(
	hooks collectorHooks,
	requestURL string,
	result *extract.Page,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		if s.locale != "" {
			r.Headers.Set("Accept-Language", s.locale)
		}
		r.Headers.Set("Accept", "text/html,application/json;q=0.9,*/*;q=0.8")
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = toPage(requestURL, r)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		*fetchErr = err
		if r != nil && r.StatusCode > 0 {
			s.logger.Debug("collector error response", zap.Int("status", r.StatusCode), zap.Error(err))
		}
	})
}

func toPage(requestURL string, r *colly.Response) extract.Page {
	body := string(r.Body)
	page := extract.Page{
		URL:        requestURL,
		StatusCode: r.StatusCode,
		HTML:       body,
		Text:       body,
	}
	if r.Request != nil && r.Request.URL != nil {
		page.FinalURL = r.Request.URL.String()
	}
	if r.Headers != nil && !strings.Contains(strings.ToLower(r.Headers.Get("Content-Type")), "html") {
		return page
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(r.Body))
	if err != nil {
		return page
	}
	page.Title = strings.TrimSpace(doc.Find("title").First().Text())
	page.Text = strings.TrimSpace(doc.Find("body").Text())
	return page
}

// runCollector visits url with the request bound to ctx. It does not return before the
// visit goroutine has finished, so the hooks never write after Fetch returns.
func runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	collector.Context = ctx
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		<-done
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
