// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/page-extractor/internal/config"
	"github.com/JakeFAU/page-extractor/internal/extract"
	collyfetcher "github.com/JakeFAU/page-extractor/internal/fetcher/colly"
	"github.com/JakeFAU/page-extractor/internal/fetcher/headless"
	"github.com/JakeFAU/page-extractor/internal/metrics"
	"github.com/JakeFAU/page-extractor/internal/policy/ratelimit"
)

// App holds the shared, long-lived services for the process.
// It is initialized once at startup and handed to the commands that need it.
type App struct {
	cfg          config.Config
	logger       *zap.Logger
	orchestrator *extract.Orchestrator
}

// GetConfig returns the validated configuration the App was built from.
func (a *App) GetConfig() config.Config {
	return a.cfg
}

// GetLogger returns the shared zap logger.
func (a *App) GetLogger() *zap.Logger {
	return a.logger
}

// GetOrchestrator returns the extraction pipeline.
func (a *App) GetOrchestrator() *extract.Orchestrator {
	return a.orchestrator
}

// NewApp creates the session provider selected by browser.engine, paces it per host
// and wires the orchestrator on top. It fails fast on invalid settings.
func NewApp(cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	metrics.Init()

	sessions, err := newSessionProvider(cfg, logger)
	if err != nil {
		return nil, err
	}
	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.Browser.DomainQPS,
		DefaultBurst: cfg.Browser.DomainBurst,
	})
	if limiter.Enabled() {
		logger.Info("per-host pacing enabled",
			zap.Float64("qps", cfg.Browser.DomainQPS),
			zap.Int("burst", cfg.Browser.DomainBurst),
		)
	}
	sessions = ratelimit.Pace(sessions, limiter)

	detector := extract.NewHeuristicDetector(cfg.Detector.ChallengeSelectors, cfg.Detector.TitleMarkers)
	orchestrator := extract.NewOrchestrator(sessions, detector, cfg.ExtractOptions(), logger.Named("extract"))

	logger.Info("application services initialized",
		zap.String("engine", cfg.Browser.Engine),
		zap.Int("max_parallel", cfg.Browser.MaxParallel),
		zap.String("block_policy", cfg.Listing.BlockPolicy),
	)
	return &App{
		cfg:          cfg,
		logger:       logger,
		orchestrator: orchestrator,
	}, nil
}

func newSessionProvider(cfg config.Config, logger *zap.Logger) (extract.SessionProvider, error) {
	switch cfg.Browser.Engine {
	case config.EngineDirect:
		logger.Info("using direct HTTP sessions; pages are not rendered")
		p, err := collyfetcher.New(collyfetcher.Config{
			MaxParallel: cfg.Browser.MaxParallel,
			UserAgent:   cfg.Browser.UserAgent,
			Locale:      cfg.Browser.Locale,
			Timeout:     cfg.NavTimeout(),
			Proxies:     cfg.Browser.Proxies,
		}, logger.Named("colly"))
		if err != nil {
			return nil, fmt.Errorf("init direct sessions: %w", err)
		}
		return p, nil
	case config.EngineHeadless:
		p, err := headless.NewChromedp(headless.Config{
			MaxParallel:       cfg.Browser.MaxParallel,
			Headless:          cfg.Browser.Headless,
			NoSandbox:         cfg.Browser.NoSandbox,
			ExecPath:          cfg.Browser.ExecPath,
			UserAgent:         cfg.Browser.UserAgent,
			Locale:            cfg.Browser.Locale,
			Timezone:          cfg.Browser.Timezone,
			Settle:            cfg.Settle(),
			NavigationTimeout: cfg.NavTimeout(),
			Proxies:           cfg.Browser.Proxies,
		}, logger.Named("chromedp"))
		if err != nil {
			return nil, fmt.Errorf("init browser sessions: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown browser engine: %s", cfg.Browser.Engine)
	}
}

// Close flushes the logger. Browsers are owned by individual sessions and are
// already gone by the time the App shuts down.
func (a *App) Close() {
	a.logger.Info("shutting down application services")
	_ = a.logger.Sync()
}
