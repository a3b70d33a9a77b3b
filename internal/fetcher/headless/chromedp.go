// Package headless provides browser sessions backed by chromedp and headless Chrome.
package headless

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/page-extractor/internal/extract"
)

const (
	defaultNavTimeout = 45 * time.Second
	defaultSettle     = 500 * time.Millisecond
)

// Config controls how browsers are launched and driven.
type Config struct {
	MaxParallel       int
	Headless          bool
	NoSandbox         bool
	ExecPath          string
	UserAgent         string
	Locale            string
	Timezone          string
	Settle            time.Duration
	NavigationTimeout time.Duration
	// Proxies are picked at random, one per session.
	Proxies []string
}

// Provider launches one isolated browser per session.
type Provider struct {
	cfg     Config
	limiter chan struct{}
	logger  *zap.Logger
	pick    func(n int) int
}

var _ extract.SessionProvider = (*Provider)(nil)

// NewChromedp creates a session provider backed by chromedp.
func NewChromedp(cfg Config, logger *zap.Logger) (*Provider, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavTimeout
	}
	switch {
	case cfg.Settle < 0:
		cfg.Settle = 0
	case cfg.Settle == 0:
		cfg.Settle = defaultSettle
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}
	return &Provider{
		cfg:     cfg,
		limiter: limiter,
		logger:  logger,
		pick:    rand.IntN,
	}, nil
}

// Acquire launches a fresh browser and returns a session that owns it. The session
// must be closed to free the browser and its concurrency slot.
func (p *Provider) Acquire(ctx context.Context) (extract.Session, error) {
	if err := p.acquire(ctx); err != nil {
		return nil, err
	}

	proxy := p.proxy()
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), p.allocatorOptions(proxy)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// The first Run allocates the browser and binds it to the context it is given, so it
	// must run on browserCtx itself. Launch time is bounded by cancelling the browser.
	err := launchWithin(ctx, p.cfg.NavigationTimeout, browserCancel, func() error {
		return chromedp.Run(browserCtx, p.setupAction())
	})
	if err != nil {
		browserCancel()
		allocCancel()
		p.release()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("browser launch canceled: %w", ctxErr)
		}
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	meta := newResponseMeta()
	chromedp.ListenTarget(browserCtx, meta.captureEvent)

	p.logger.Debug("browser session started", zap.Bool("proxied", proxy != ""))
	return &session{
		ctx:        browserCtx,
		cancel:     func() { browserCancel(); allocCancel() },
		release:    p.release,
		meta:       meta,
		settle:     p.cfg.Settle,
		navTimeout: p.cfg.NavigationTimeout,
		logger:     p.logger,
	}, nil
}

func (p *Provider) allocatorOptions(proxy string) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", p.cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("hide-scrollbars", true),
	)
	if p.cfg.NoSandbox {
		opts = append(opts,
			chromedp.NoSandbox,
			chromedp.Flag("disable-setuid-sandbox", true),
		)
	}
	if p.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(p.cfg.UserAgent))
	}
	if p.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(p.cfg.ExecPath))
	}
	if proxy != "" {
		opts = append(opts, chromedp.ProxyServer(proxy))
	}
	return opts
}

func (p *Provider) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if p.cfg.UserAgent != "" {
			override := emulation.SetUserAgentOverride(p.cfg.UserAgent)
			if p.cfg.Locale != "" {
				override = override.WithAcceptLanguage(acceptLanguage(p.cfg.Locale))
			}
			if err := override.Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if p.cfg.Locale != "" {
			if err := emulation.SetLocaleOverride().WithLocale(p.cfg.Locale).Do(ctx); err != nil {
				return fmt.Errorf("set locale: %w", err)
			}
			headers := http.Header{"Accept-Language": {acceptLanguage(p.cfg.Locale)}}
			if err := network.SetExtraHTTPHeaders(toNetworkHeaders(headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		if p.cfg.Timezone != "" {
			if err := emulation.SetTimezoneOverride(p.cfg.Timezone).Do(ctx); err != nil {
				return fmt.Errorf("set timezone: %w", err)
			}
		}
		return nil
	})
}

func (p *Provider) proxy() string {
	if len(p.cfg.Proxies) == 0 {
		return ""
	}
	return strings.TrimSpace(p.cfg.Proxies[p.pick(len(p.cfg.Proxies))])
}

func (p *Provider) acquire(ctx context.Context) error {
	if p.limiter == nil {
		return nil
	}
	select {
	case p.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("browser slot wait canceled: %w", ctx.Err())
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
	ctx        context.Context
	cancel     func()
	release    func()
	meta       *responseMeta
	settle     time.Duration
	navTimeout time.Duration
	logger     *zap.Logger

	once        sync.Once
	closeResult error
}

// Fetch navigates the session's tab and snapshots the rendered document.
func (s *session) Fetch(ctx context.Context, url string) (extract.Page, error) {
	if err := s.ctx.Err(); err != nil {
		return extract.Page{}, fmt.Errorf("browser session closed: %w", err)
	}
	taskCtx, cancel := context.WithTimeout(s.ctx, s.navTimeout)
	defer cancel()
	stopForward := forwardCancel(ctx, cancel)
	defer stopForward()

	s.meta.reset()
	var (
		html     string
		text     string
		title    string
		finalURL string
	)
	actions := []chromedp.Action{
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if s.settle > 0 {
		actions = append(actions, chromedp.Sleep(s.settle))
	}
	actions = append(actions,
		chromedp.Location(&finalURL),
		chromedp.Title(&title),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		chromedp.Evaluate(`document.body ? document.body.innerText : ""`, &text),
	)
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return extract.Page{}, fmt.Errorf("chromedp run: %w", ctxErr)
		}
		if errors.Is(taskCtx.Err(), context.DeadlineExceeded) {
			return extract.Page{}, fmt.Errorf("chromedp run: %w", context.DeadlineExceeded)
		}
		return extract.Page{}, fmt.Errorf("chromedp run: %w", err)
	}

	status, responseURL := s.meta.snapshotWithFallbacks(url, finalURL)
	return extract.Page{
		URL:        url,
		FinalURL:   responseURL,
		StatusCode: status,
		HTML:       html,
		Title:      title,
		Text:       text,
	}, nil
}

// Close shuts the browser down and frees the slot. It is safe to call more than once.
func (s *session) Close() error {
	s.once.Do(func() {
		err := chromedp.Cancel(s.ctx)
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, chromedp.ErrInvalidContext) {
			s.closeResult = fmt.Errorf("close browser: %w", err)
		}
		s.cancel()
		s.release()
		s.logger.Debug("browser session closed")
	})
	return s.closeResult
}

// launchWithin runs launch and calls abort when the caller gives up or timeout passes
// first. It waits for launch to return in every case.
func launchWithin(ctx context.Context, timeout time.Duration, abort func(), launch func() error) error {
	done := make(chan error, 1)
	go func() {
		done <- launch()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		abort()
		<-done
		return fmt.Errorf("browser launch timed out after %s: %w", timeout, context.DeadlineExceeded)
	case <-ctx.Done():
		abort()
		<-done
		return fmt.Errorf("browser launch canceled: %w", ctx.Err())
	}
}

// forwardCancel cancels the task when parent finishes first.
func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}

type responseMeta struct {
	mu     sync.RWMutex
	status int
	url    string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) reset() {
	m.mu.Lock()
	m.status = 0
	m.url = ""
	m.mu.Unlock()
}

// capture keeps the last main document response; redirects overwrite earlier hops.
func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	m.mu.Lock()
	m.status = int(event.Response.Status)
	m.url = event.Response.URL
	m.mu.Unlock()
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, string) {
	m.mu.RLock()
	status, url := m.status, m.url
	m.mu.RUnlock()
	switch {
	case finalURL != "":
		url = finalURL
	case url != "":
	default:
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	return status, url
}

func acceptLanguage(locale string) string {
	locale = strings.TrimSpace(locale)
	base, _, found := strings.Cut(locale, "-")
	if !found || base == "" {
		return locale
	}
	return fmt.Sprintf("%s,%s;q=0.9", locale, base)
}

func toNetworkHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		if len(values) == 0 {
			continue
		}
		if len(values) == 1 {
			headers[key] = values[0]
		} else {
			headers[key] = append([]string(nil), values...)
		}
	}
	return headers
}
