package extract

import "context"

// Session is an isolated browser (or HTTP) session owned by a single request.
type Session interface {
	// Fetch navigates to url, waits for the DOM to settle and returns a snapshot.
	Fetch(ctx context.Context, url string) (Page, error)
	// Close releases the session. It must be safe to call more than once.
	Close() error
}

// SessionProvider hands out fresh sessions. Implementations bound concurrency.
type SessionProvider interface {
	Acquire(ctx context.Context) (Session, error)
}

// BlockDetector decides whether a fetched page is a challenge or block page.
type BlockDetector interface {
	Detect(page Page) (blocked bool, reason string)
}

// FetchFunc fetches one page and classifies it.
type FetchFunc func(ctx context.Context, url string, page int) (FetchOutcome, error)
