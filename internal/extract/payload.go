package extract

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DefaultMaxCardsPerPage bounds the review containers read from one page.
const DefaultMaxCardsPerPage = 10

// DecodeJSON parses the rendered text of a JSON endpoint. The document is returned
// verbatim (compacted); no schema is imposed.
func DecodeJSON(text string, previewLimit int) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, newError(KindEmptyResponse, "empty response body", nil)
	}
	var probe any
	if err := json.Unmarshal([]byte(trimmed), &probe); err != nil {
		return nil, &Error{
			Kind:       KindMalformedPayload,
			Message:    "failed to parse JSON payload",
			ParseError: err.Error(),
			Preview:    Preview(text, NormalizePreviewLimit(previewLimit)),
			Err:        err,
		}
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(trimmed)); err != nil {
		return json.RawMessage(trimmed), nil
	}
	return json.RawMessage(buf.Bytes()), nil
}

// ListingSelectors locate review cards and their subfields.
type ListingSelectors struct {
	Card         string `mapstructure:"card"`
	Reviewer     string `mapstructure:"reviewer"`
	Rating       string `mapstructure:"rating"`
	Date         string `mapstructure:"date"`
	Title        string `mapstructure:"title"`
	Body         string `mapstructure:"body"`
	ProductTitle string `mapstructure:"product_title"`
}

// DefaultListingSelectors matches the review listing markup.
func DefaultListingSelectors() ListingSelectors {
	return ListingSelectors{
		Card:         `div[data-hook="review"]`,
		Reviewer:     `span.a-profile-name`,
		Rating:       `i[data-hook="review-star-rating"] span.a-icon-alt, i[data-hook="cmps-review-star-rating"] span.a-icon-alt`,
		Date:         `span[data-hook="review-date"]`,
		Title:        `[data-hook="review-title"]`,
		Body:         `span[data-hook="review-body"]`,
		ProductTitle: `a[data-hook="product-link"]`,
	}
}

func (s ListingSelectors) withDefaults() ListingSelectors {
	def := DefaultListingSelectors()
	if s.Card == "" {
		s.Card = def.Card
	}
	if s.Reviewer == "" {
		s.Reviewer = def.Reviewer
	}
	if s.Rating == "" {
		s.Rating = def.Rating
	}
	if s.Date == "" {
		s.Date = def.Date
	}
	if s.Title == "" {
		s.Title = def.Title
	}
	if s.Body == "" {
		s.Body = def.Body
	}
	if s.ProductTitle == "" {
		s.ProductTitle = def.ProductTitle
	}
	return s
}

// ListingExtractor walks a bounded set of review cards on a rendered listing page.
type ListingExtractor struct {
	selectors ListingSelectors
	maxCards  int
}

// NewListingExtractor builds an extractor. Empty selectors fall back to the defaults.
func NewListingExtractor(selectors ListingSelectors, maxCards int) *ListingExtractor {
	if maxCards <= 0 {
		maxCards = DefaultMaxCardsPerPage
	}
	return &ListingExtractor{selectors: selectors.withDefaults(), maxCards: maxCards}
}

// Reviews returns the review records on one page. Zero records means the listing is
// exhausted; it is not an error.
func (x *ListingExtractor) Reviews(html string, page int) ([]ReviewRecord, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, &Error{Kind: KindMalformedPayload, Message: "failed to parse listing HTML", Page: page, Err: err}
	}
	cards := doc.Find(x.selectors.Card)
	if cards.Length() > x.maxCards {
		cards = cards.Slice(0, x.maxCards)
	}
	records := make([]ReviewRecord, 0, cards.Length())
	cards.Each(func(_ int, card *goquery.Selection) {
		records = append(records, x.record(card, page))
	})
	return records, nil
}

// ProductTitle returns the product's display title, or "" when none is present.
func (x *ListingExtractor) ProductTitle(html, pageTitle string) string {
	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(html)); err == nil {
		if title := textOf(doc.Selection, x.selectors.ProductTitle); title != "" {
			return title
		}
		if pageTitle == "" {
			pageTitle = doc.Find("title").First().Text()
		}
	}
	return trimTitlePrefix(pageTitle)
}

// record composes independent result-or-default lookups into a fixed-shape record.
func (x *ListingExtractor) record(card *goquery.Selection, page int) ReviewRecord {
	id, _ := card.Attr("id")
	return ReviewRecord{
		ID:           strings.TrimSpace(id),
		ReviewerName: textOf(card, x.selectors.Reviewer),
		Rating:       textOf(card, x.selectors.Rating),
		Date:         textOf(card, x.selectors.Date),
		Title:        reviewTitle(card, x.selectors.Title),
		Body:         textOf(card, x.selectors.Body),
		Page:         page,
	}
}

func textOf(sel *goquery.Selection, selector string) (text string) {
	defer func() {
		if recover() != nil {
			text = ""
		}
	}()
	if sel == nil || selector == "" {
		return ""
	}
	return collapseSpace(sel.Find(selector).First().Text())
}

// reviewTitle skips the star-rating label nested inside the title link.
func reviewTitle(card *goquery.Selection, selector string) (title string) {
	defer func() {
		if recover() != nil {
			title = ""
		}
	}()
	node := card.Find(selector).First()
	if node.Length() == 0 {
		return ""
	}
	spans := node.ChildrenFiltered("span").Not(".a-icon-alt, .a-letter-space")
	for i := spans.Length() - 1; i >= 0; i-- {
		if text := collapseSpace(spans.Eq(i).Text()); text != "" {
			return text
		}
	}
	clone := node.Clone()
	clone.Find(".a-icon-alt").Remove()
	return collapseSpace(clone.Text())
}

func trimTitlePrefix(title string) string {
	title = collapseSpace(title)
	for _, prefix := range []string{"Amazon.com: Customer reviews: ", "Amazon.com: "} {
		if strings.HasPrefix(title, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(title, prefix))
		}
	}
	return title
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
