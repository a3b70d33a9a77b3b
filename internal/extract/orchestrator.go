package extract

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/page-extractor/internal/metrics"
)

// DefaultFetchTimeout is the ceiling for a single page fetch.
const DefaultFetchTimeout = 60 * time.Second

// Phase names the orchestration state a request reached.
type Phase string

// Request phases, in order.
const (
	PhaseIdle            Phase = "idle"
	PhaseSessionAcquired Phase = "session_acquired"
	PhaseFetching        Phase = "fetching"
	PhaseExtracting      Phase = "extracting"
	PhaseBlocked         Phase = "blocked"
	PhaseFailed          Phase = "failed"
	PhaseSessionReleased Phase = "session_released"
	PhaseResponded       Phase = "responded"
)

// Options configure an Orchestrator.
type Options struct {
	Canonical    CanonicalOptions
	Selectors    ListingSelectors
	MaxCards     int
	BlockPolicy  BlockPolicy
	FetchTimeout time.Duration
	PreviewLimit int
	DefaultPages int
	MaxPages     int
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		Canonical:    DefaultCanonicalOptions(),
		Selectors:    DefaultListingSelectors(),
		MaxCards:     DefaultMaxCardsPerPage,
		BlockPolicy:  BlockAbort,
		FetchTimeout: DefaultFetchTimeout,
		PreviewLimit: DefaultPreviewLimit,
		DefaultPages: DefaultPageLimit,
		MaxPages:     MaxPageLimit,
	}
}

// Orchestrator runs one extraction per call: canonicalize, acquire a session, fetch,
// detect blocks, extract, release the session and return the result or a typed error.
// It holds no per-request state and never retries.
type Orchestrator struct {
	sessions  SessionProvider
	detector  BlockDetector
	canon     *Canonicalizer
	paginator *Paginator
	opts      Options
	logger    *zap.Logger
}

// NewOrchestrator wires the pipeline components.
func NewOrchestrator(sessions SessionProvider, detector BlockDetector, opts Options, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if detector == nil {
		detector = NewHeuristicDetector(nil, nil)
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	if opts.DefaultPages <= 0 {
		opts.DefaultPages = DefaultPageLimit
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = MaxPageLimit
	}
	opts.PreviewLimit = NormalizePreviewLimit(opts.PreviewLimit)
	canon := NewCanonicalizer(opts.Canonical)
	extractor := NewListingExtractor(opts.Selectors, opts.MaxCards)
	return &Orchestrator{
		sessions:  sessions,
		detector:  detector,
		canon:     canon,
		paginator: NewPaginator(canon, extractor, opts.BlockPolicy, opts.PreviewLimit, logger.Named("paginator")),
		opts:      opts,
		logger:    logger,
	}
}

// NewRequest builds a Request using the orchestrator's page defaults and bounds.
func (o *Orchestrator) NewRequest(source SourceType, rawURL string, pageLimit int) Request {
	return NewRequest(source, rawURL, pageLimit, o.opts.DefaultPages, o.opts.MaxPages)
}

// Extract dispatches on the request's source type.
func (o *Orchestrator) Extract(ctx context.Context, req Request) (any, error) {
	switch req.Source {
	case SourceThread:
		return o.Thread(ctx, req)
	case SourceListing:
		return o.Listing(ctx, req)
	default:
		return nil, newError(KindInvalidURL, fmt.Sprintf("unsupported source type %q", req.Source), nil)
	}
}

// Thread fetches a discussion thread's JSON document.
func (o *Orchestrator) Thread(ctx context.Context, req Request) (result ThreadResult, err error) {
	start := time.Now()
	target, err := o.canon.Canonicalize(req.RawURL, SourceThread, 0)
	if err != nil {
		o.finish(SourceThread, start, PhaseIdle, err)
		return ThreadResult{}, err
	}
	log := o.logger.With(zap.String("source", string(SourceThread)), zap.String("url", target.FetchURL))
	phase := PhaseIdle
	defer func() {
		if err != nil {
			err = annotate(err, target.FetchURL, 0)
		}
		o.finish(SourceThread, start, phase, err)
	}()

	err = o.withSession(ctx, log, &phase, func(sess Session) error {
		phase = PhaseFetching
		outcome, ferr := o.fetch(ctx, sess, SourceThread, target.FetchURL, 0)
		if ferr != nil {
			phase = PhaseFailed
			return ferr
		}
		if outcome.Blocked {
			phase = PhaseBlocked
			return &Error{
				Kind:       KindRemoteBlocked,
				Message:    blockMessage(outcome),
				URL:        target.FetchURL,
				HTTPStatus: outcome.StatusCode,
				Preview:    Preview(outcome.HTML, o.opts.PreviewLimit),
			}
		}
		phase = PhaseExtracting
		data, derr := DecodeJSON(outcome.Text, o.opts.PreviewLimit)
		if derr != nil {
			phase = PhaseFailed
			return derr
		}
		result = ThreadResult{FetchURL: target.FetchURL, Data: data}
		return nil
	})
	if err != nil {
		return ThreadResult{}, err
	}
	return result, nil
}

// Listing walks a product's review listing up to req.PageLimit pages.
func (o *Orchestrator) Listing(ctx context.Context, req Request) (result ListingResult, err error) {
	start := time.Now()
	asin, err := ExtractASIN(req.RawURL)
	if err != nil {
		o.finish(SourceListing, start, PhaseIdle, err)
		return ListingResult{}, err
	}
	limit := req.PageLimit
	if limit <= 0 {
		limit = o.NewRequest(SourceListing, req.RawURL, 0).PageLimit
	}
	log := o.logger.With(
		zap.String("source", string(SourceListing)),
		zap.String("asin", asin),
		zap.Int("page_limit", limit),
	)
	phase := PhaseIdle
	defer func() {
		o.finish(SourceListing, start, phase, err)
	}()

	err = o.withSession(ctx, log, &phase, func(sess Session) error {
		phase = PhaseFetching
		fetch := func(ctx context.Context, url string, page int) (FetchOutcome, error) {
			outcome, ferr := o.fetch(ctx, sess, SourceListing, url, page)
			if ferr != nil {
				return FetchOutcome{}, annotate(ferr, url, page)
			}
			return outcome, nil
		}
		pages, perr := o.paginator.Paginate(ctx, fetch, asin, limit)
		if perr != nil {
			if KindOf(perr) == KindRemoteBlocked {
				phase = PhaseBlocked
			} else {
				phase = PhaseFailed
			}
			return perr
		}
		phase = PhaseExtracting
		records := pages.Records
		if records == nil {
			records = []ReviewRecord{}
		}
		result = ListingResult{
			ASIN:         asin,
			ProductTitle: pages.ProductTitle,
			ReviewCount:  len(records),
			Reviews:      records,
			PagesFetched: pages.Fetched,
			SkippedPages: pages.Skipped,
		}
		metrics.ObserveRecords(string(SourceListing), len(records))
		return nil
	})
	if err != nil {
		if e, ok := AsError(err); ok && e.URL == "" {
			e.URL = o.canon.ListingURL(asin, max(e.Page, 1))
		}
		return ListingResult{}, err
	}
	return result, nil
}

// withSession pairs acquisition and release: release runs on every exit path.
func (o *Orchestrator) withSession(ctx context.Context, log *zap.Logger, phase *Phase, fn func(Session) error) error {
	if o.sessions == nil {
		return newError(KindUnknown, "no session provider configured", nil)
	}
	sess, err := o.sessions.Acquire(ctx)
	if err != nil {
		*phase = PhaseFailed
		if errors.Is(err, context.DeadlineExceeded) {
			return newError(KindTimeout, "timed out acquiring browser session", err)
		}
		return newError(KindUnknown, "failed to acquire browser session", err)
	}
	*phase = PhaseSessionAcquired
	metrics.IncActiveSessions()
	log.Debug("session acquired")

	defer func() {
		if cerr := sess.Close(); cerr != nil {
			log.Warn("session release failed", zap.Error(cerr))
		}
		metrics.DecActiveSessions()
		log.Debug("session released", zap.String("last_phase", string(*phase)))
	}()
	return fn(sess)
}

// fetch performs one bounded page fetch and classifies the result.
func (o *Orchestrator) fetch(ctx context.Context, sess Session, source SourceType, url string, page int) (FetchOutcome, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, o.opts.FetchTimeout)
	defer cancel()

	start := time.Now()
	snapshot, err := sess.Fetch(fetchCtx, url)
	if err != nil {
		kind := KindUnknown
		msg := "page fetch failed"
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(fetchCtx.Err(), context.DeadlineExceeded) {
			kind = KindTimeout
			msg = fmt.Sprintf("page fetch timed out after %s", o.opts.FetchTimeout)
		}
		metrics.ObservePageFetch(url, string(kind), time.Since(start))
		return FetchOutcome{}, &Error{Kind: kind, Message: msg, URL: url, Page: page, Err: err}
	}
	if snapshot.URL == "" {
		snapshot.URL = url
	}

	outcome := FetchOutcome{Page: snapshot}
	if snapshot.StatusCode >= 400 {
		outcome.Blocked = true
		outcome.BlockReason = fmt.Sprintf("http status %d", snapshot.StatusCode)
	} else if blocked, reason := o.detector.Detect(snapshot); blocked {
		outcome.Blocked = true
		outcome.BlockReason = reason
	}

	status := "ok"
	if outcome.Blocked {
		status = "blocked"
		o.logger.Warn("remote block detected",
			zap.String("source", string(source)),
			zap.String("url", url),
			zap.Int("page", page),
			zap.Int("status", snapshot.StatusCode),
			zap.String("reason", outcome.BlockReason),
		)
	}
	metrics.ObservePageFetch(url, status, time.Since(start))
	return outcome, nil
}

func (o *Orchestrator) finish(source SourceType, start time.Time, phase Phase, err error) {
	outcome := "success"
	if err != nil {
		outcome = string(KindOf(err))
	}
	metrics.ObserveExtraction(string(source), outcome, time.Since(start))
	fields := []zap.Field{
		zap.String("source", string(source)),
		zap.String("outcome", outcome),
		zap.String("phase", string(phase)),
		zap.Duration("elapsed", time.Since(start)),
	}
	if err != nil {
		o.logger.Info("extraction failed", append(fields, zap.Error(err))...)
		return
	}
	o.logger.Debug("extraction "+string(PhaseResponded), fields...)
}

// annotate converts foreign errors into the taxonomy and fills missing context.
func annotate(err error, url string, page int) error {
	e, ok := AsError(err)
	if !ok {
		return &Error{Kind: KindOf(err), Message: err.Error(), URL: url, Page: page, Err: err}
	}
	if e.URL == "" {
		e.URL = url
	}
	if e.Page == 0 {
		e.Page = page
	}
	return e
}
