package extract

import (
	"encoding/json"
	"fmt"
	"strings"
)

// SourceType selects the canonicalization and extraction strategy for a request.
type SourceType string

// Supported source types.
const (
	SourceThread  SourceType = "thread"
	SourceListing SourceType = "listing"
)

// Page limits applied to listing requests when no configuration overrides them.
const (
	DefaultPageLimit = 3
	MaxPageLimit     = 20
)

// ParseSourceType maps a user-supplied name onto a SourceType.
func ParseSourceType(raw string) (SourceType, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(SourceThread), "reddit":
		return SourceThread, nil
	case string(SourceListing), "amazon", "reviews":
		return SourceListing, nil
	default:
		return "", fmt.Errorf("unknown source type %q", raw)
	}
}

// Request is the immutable input of one orchestration call.
type Request struct {
	Source    SourceType
	RawURL    string
	PageLimit int
}

// NewRequest builds a Request, clamping the page limit for listing sources to
// [1, maxPages]. A non-positive limit selects defaultPages.
func NewRequest(source SourceType, rawURL string, pageLimit, defaultPages, maxPages int) Request {
	req := Request{Source: source, RawURL: rawURL}
	if source != SourceListing {
		return req
	}
	if maxPages <= 0 {
		maxPages = MaxPageLimit
	}
	if defaultPages <= 0 {
		defaultPages = DefaultPageLimit
	}
	if pageLimit <= 0 {
		pageLimit = defaultPages
	}
	req.PageLimit = clamp(pageLimit, 1, maxPages)
	return req
}

// Target is the canonical fetch target derived from a Request.
type Target struct {
	FetchURL   string
	Source     SourceType
	Identifier string
	Page       int
}

// Page is the snapshot a Session returns after navigating and letting the DOM settle.
type Page struct {
	URL        string
	FinalURL   string
	StatusCode int
	HTML       string
	Title      string
	Text       string
}

// FetchOutcome is produced once per page fetch and never mutated afterwards.
type FetchOutcome struct {
	Page
	Blocked     bool
	BlockReason string
}

// ThreadResult carries the parsed thread payload. Data is the remote document verbatim.
type ThreadResult struct {
	FetchURL string          `json:"jsonUrl"`
	Data     json.RawMessage `json:"data"`
}

// ReviewRecord is one review card. Subfields that could not be located are empty strings.
type ReviewRecord struct {
	ID           string `json:"reviewId"`
	ReviewerName string `json:"reviewerName"`
	Rating       string `json:"rating"`
	Date         string `json:"date"`
	Title        string `json:"title"`
	Body         string `json:"body"`
	Page         int    `json:"page"`
}

// ListingResult aggregates the review records of a listing in page-then-card order.
type ListingResult struct {
	ASIN         string         `json:"asin"`
	ProductTitle string         `json:"productTitle"`
	ReviewCount  int            `json:"reviewsCount"`
	Reviews      []ReviewRecord `json:"reviews"`
	PagesFetched int            `json:"pagesFetched"`
	SkippedPages []int          `json:"skippedPages,omitempty"`
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
