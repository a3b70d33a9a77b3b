package extract

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

const (
	jsonSuffix = ".json"

	// DefaultThreadHost is forced onto thread URLs unless configured otherwise.
	DefaultThreadHost = "old.reddit.com"
	// DefaultListingHost serves the paginated review listing.
	DefaultListingHost = "www.amazon.com"
)

var invisibleChars = strings.NewReplacer(
	"\u200b", "",
	"\u200c", "",
	"\u200d", "",
	"\u2060", "",
	"\ufeff", "",
)

// Identifier shapes in priority order. The product-reviews shape keeps canonical
// listing URLs stable under re-canonicalization.
var asinPathPatterns = []*regexp.Regexp{
	regexp.MustCompile(`/dp/([A-Za-z0-9]{10})(?:[/?#&]|$)`),
	regexp.MustCompile(`/gp/product/([A-Za-z0-9]{10})(?:[/?#&]|$)`),
	regexp.MustCompile(`/product-reviews/([A-Za-z0-9]{10})(?:[/?#&]|$)`),
}

var (
	asinQueryPattern = regexp.MustCompile(`(?i)[?&]asin=([A-Za-z0-9]{10})(?:[&#]|$)`)
	asinValue        = regexp.MustCompile(`^[A-Za-z0-9]{10}$`)
)

// CanonicalOptions selects between the historical canonicalization policies.
type CanonicalOptions struct {
	// ForceHost replaces the thread hostname. Empty keeps the caller's host.
	ForceHost string
	// StrictParse parses thread URLs. When false the JSON suffix is appended naively.
	StrictParse bool
	// ListingHost is the host of the review listing pages.
	ListingHost string
}

// DefaultCanonicalOptions mirrors the production defaults.
func DefaultCanonicalOptions() CanonicalOptions {
	return CanonicalOptions{
		ForceHost:   DefaultThreadHost,
		StrictParse: true,
		ListingHost: DefaultListingHost,
	}
}

// Canonicalizer maps user-supplied URLs onto exact fetch targets. It is a pure function
// of its options and inputs.
type Canonicalizer struct {
	opts CanonicalOptions
}

// NewCanonicalizer builds a Canonicalizer.
func NewCanonicalizer(opts CanonicalOptions) *Canonicalizer {
	opts.ForceHost = strings.ToLower(strings.TrimSpace(opts.ForceHost))
	opts.ListingHost = strings.ToLower(strings.TrimSpace(opts.ListingHost))
	if opts.ListingHost == "" {
		opts.ListingHost = DefaultListingHost
	}
	return &Canonicalizer{opts: opts}
}

// Canonicalize returns the fetch target for rawURL. page is only used by listing sources
// and defaults to 1.
func (c *Canonicalizer) Canonicalize(rawURL string, source SourceType, page int) (Target, error) {
	switch source {
	case SourceThread:
		fetchURL, err := c.ThreadURL(rawURL)
		if err != nil {
			return Target{}, err
		}
		return Target{FetchURL: fetchURL, Source: SourceThread}, nil
	case SourceListing:
		asin, err := ExtractASIN(rawURL)
		if err != nil {
			return Target{}, err
		}
		if page < 1 {
			page = 1
		}
		return Target{
			FetchURL:   c.ListingURL(asin, page),
			Source:     SourceListing,
			Identifier: asin,
			Page:       page,
		}, nil
	default:
		return Target{}, newError(KindInvalidURL, fmt.Sprintf("unsupported source type %q", source), nil)
	}
}

// ThreadURL returns the JSON endpoint of a discussion thread.
func (c *Canonicalizer) ThreadURL(rawURL string) (string, error) {
	cleaned := cleanInput(rawURL)
	if cleaned == "" {
		return "", &Error{Kind: KindInvalidURL, Message: "url is required", URL: rawURL}
	}
	if !c.opts.StrictParse {
		return naiveJSONURL(cleaned), nil
	}

	u, err := url.Parse(cleaned)
	if err != nil {
		// Degraded mode: keep going with a best-effort suffix.
		return naiveJSONURL(cleaned), nil
	}
	if u.Host == "" {
		return "", &Error{Kind: KindInvalidURL, Message: "url has no host", URL: rawURL}
	}

	u.Scheme = strings.ToLower(u.Scheme)
	if c.opts.ForceHost != "" {
		u.Host = c.opts.ForceHost
	} else {
		u.Host = strings.ToLower(u.Host)
	}
	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	u.RawFragment = ""

	escaped := strings.TrimRight(u.EscapedPath(), "/")
	if !strings.HasSuffix(escaped, jsonSuffix) {
		escaped += jsonSuffix
	}
	if !strings.HasPrefix(escaped, "/") {
		escaped = "/" + escaped
	}
	unescaped, err := url.PathUnescape(escaped)
	if err != nil {
		return naiveJSONURL(cleaned), nil
	}
	u.Path = unescaped
	u.RawPath = escaped
	return u.String(), nil
}

// ListingURL builds the most-recent-first review page URL for an identifier.
func (c *Canonicalizer) ListingURL(asin string, page int) string {
	if page < 1 {
		page = 1
	}
	return fmt.Sprintf(
		"https://%s/product-reviews/%s/?ie=UTF8&reviewerType=all_reviews&sortBy=recent&pageNumber=%d",
		c.opts.ListingHost,
		asin,
		page,
	)
}

// ExtractASIN pulls the 10 character product identifier out of a product URL.
func ExtractASIN(rawURL string) (string, error) {
	cleaned := cleanInput(rawURL)
	if cleaned == "" {
		return "", &Error{Kind: KindInvalidURL, Message: "url is required", URL: rawURL}
	}
	for _, pattern := range asinPathPatterns {
		if m := pattern.FindStringSubmatch(cleaned); m != nil {
			return strings.ToUpper(m[1]), nil
		}
	}
	if u, err := url.Parse(cleaned); err == nil {
		for key, values := range u.Query() {
			if !strings.EqualFold(key, "asin") || len(values) == 0 {
				continue
			}
			if asinValue.MatchString(values[0]) {
				return strings.ToUpper(values[0]), nil
			}
		}
	}
	if m := asinQueryPattern.FindStringSubmatch(cleaned); m != nil {
		return strings.ToUpper(m[1]), nil
	}
	return "", &Error{Kind: KindInvalidURL, Message: "could not extract ASIN from url", URL: rawURL}
}

func cleanInput(raw string) string {
	s := strings.TrimSpace(invisibleChars.Replace(raw))
	if s == "" {
		return ""
	}
	lower := strings.ToLower(s)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		s = "https://" + strings.TrimLeft(s, "/")
	}
	return s
}

func naiveJSONURL(s string) string {
	if strings.HasSuffix(s, jsonSuffix) {
		return s
	}
	return s + jsonSuffix
}
