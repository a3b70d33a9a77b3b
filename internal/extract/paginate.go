package extract

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// BlockPolicy decides what a blocked listing page does to the rest of the request.
type BlockPolicy string

// Supported block policies.
const (
	// BlockAbort fails the whole request on the first blocked page.
	BlockAbort BlockPolicy = "abort"
	// BlockSkip records the blocked page and continues with the next one.
	BlockSkip BlockPolicy = "skip"
)

// ParseBlockPolicy validates a configured policy name. Empty selects BlockAbort.
func ParseBlockPolicy(raw string) (BlockPolicy, error) {
	switch BlockPolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", BlockAbort:
		return BlockAbort, nil
	case BlockSkip:
		return BlockSkip, nil
	default:
		return "", fmt.Errorf("unknown block policy %q", raw)
	}
}

// ListingPages is what one pagination run collected.
type ListingPages struct {
	ProductTitle string
	Records      []ReviewRecord
	Fetched      int
	Skipped      []int
}

// Paginator drives a listing through ascending page numbers.
type Paginator struct {
	canon     *Canonicalizer
	extractor *ListingExtractor
	policy    BlockPolicy
	preview   int
	logger    *zap.Logger
}

// NewPaginator builds a Paginator.
func NewPaginator(
	canon *Canonicalizer,
	extractor *ListingExtractor,
	policy BlockPolicy,
	previewLimit int,
	logger *zap.Logger,
) *Paginator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy == "" {
		policy = BlockAbort
	}
	return &Paginator{
		canon:     canon,
		extractor: extractor,
		policy:    policy,
		preview:   NormalizePreviewLimit(previewLimit),
		logger:    logger,
	}
}

// Paginate fetches pages 1..pageLimit in order. It stops after the first page without
// records; a blocked page either aborts the run or is skipped according to the policy.
// The sequence is finite and not restartable.
func (p *Paginator) Paginate(ctx context.Context, fetch FetchFunc, asin string, pageLimit int) (ListingPages, error) {
	var out ListingPages
	if pageLimit < 1 {
		pageLimit = 1
	}
	for page := 1; page <= pageLimit; page++ {
		if err := ctx.Err(); err != nil {
			return ListingPages{}, &Error{Kind: KindOf(err), Message: "listing canceled", Page: page, Err: err}
		}
		pageURL := p.canon.ListingURL(asin, page)
		outcome, err := fetch(ctx, pageURL, page)
		if err != nil {
			return ListingPages{}, err
		}
		out.Fetched++

		if outcome.Blocked {
			if p.policy == BlockSkip {
				p.logger.Warn("listing page blocked; skipping",
					zap.String("asin", asin),
					zap.Int("page", page),
					zap.String("reason", outcome.BlockReason),
				)
				out.Skipped = append(out.Skipped, page)
				continue
			}
			return ListingPages{}, &Error{
				Kind:       KindRemoteBlocked,
				Message:    blockMessage(outcome),
				URL:        pageURL,
				Page:       page,
				HTTPStatus: outcome.StatusCode,
				Preview:    Preview(outcome.HTML, p.preview),
			}
		}

		records, err := p.extractor.Reviews(outcome.HTML, page)
		if err != nil {
			if e, ok := AsError(err); ok && e.URL == "" {
				e.URL = pageURL
			}
			return ListingPages{}, err
		}
		if page == 1 || out.ProductTitle == "" {
			out.ProductTitle = p.extractor.ProductTitle(outcome.HTML, outcome.Title)
		}
		if len(records) == 0 {
			p.logger.Debug("listing exhausted", zap.String("asin", asin), zap.Int("page", page))
			break
		}
		out.Records = append(out.Records, records...)
	}
	return out, nil
}

func blockMessage(outcome FetchOutcome) string {
	if outcome.StatusCode >= 400 {
		return fmt.Sprintf("remote returned HTTP %d", outcome.StatusCode)
	}
	if outcome.BlockReason != "" {
		return "blocked by remote: " + outcome.BlockReason
	}
	return "blocked by remote"
}
