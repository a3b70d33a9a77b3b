package extract

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

const listingPage = `<html><head><title>Amazon.com: Customer reviews: Acme Widget</title></head><body>
<a data-hook="product-link" href="/dp/B08N5WRWNW">Acme   Widget, Blue</a>
<div data-hook="review" id="R1ABC">
  <span class="a-profile-name">Ann Reader</span>
  <i data-hook="review-star-rating"><span class="a-icon-alt">5.0 out of 5 stars</span></i>
  <a data-hook="review-title" href="#"><i class="a-icon"><span class="a-icon-alt">5.0 out of 5 stars</span></i><span class="a-letter-space"></span><span>Works great</span></a>
  <span data-hook="review-date">Reviewed in the United States on March 3, 2024</span>
  <span data-hook="review-body"><span>Does exactly
  what it says.</span></span>
</div>
<div data-hook="review" id="R2DEF">
  <span class="a-profile-name">Bo</span>
  <span data-hook="review-title">No stars here</span>
  <span data-hook="review-date">Reviewed on March 1, 2024</span>
  <span data-hook="review-body">Fine.</span>
</div>
</body></html>`

func TestDecodeJSON(t *testing.T) {
	t.Parallel()

	data, err := DecodeJSON("  [ {\"kind\": \"Listing\"} ]\n", DefaultPreviewLimit)
	require.NoError(t, err)
	require.Equal(t, `[{"kind":"Listing"}]`, string(data))
}

func TestDecodeJSONEmpty(t *testing.T) {
	t.Parallel()

	_, err := DecodeJSON(" \n\t", DefaultPreviewLimit)
	require.Equal(t, KindEmptyResponse, KindOf(err))
}

func TestDecodeJSONMalformedPreview(t *testing.T) {
	t.Parallel()

	body := "{not json" + strings.Repeat("x", 2000)
	_, err := DecodeJSON(body, 0)
	e, ok := AsError(err)
	require.True(t, ok)
	require.Equal(t, KindMalformedPayload, e.Kind)
	require.NotEmpty(t, e.ParseError)
	require.Equal(t, body[:1000], e.Preview)

	_, err = DecodeJSON("{not json", 0)
	e, _ = AsError(err)
	require.Equal(t, "{not json", e.Preview)
}

func TestPreviewIsRuneSafe(t *testing.T) {
	t.Parallel()

	s := strings.Repeat("é", 600)
	got := Preview(s, 500)
	require.True(t, utf8.ValidString(got))
	require.Equal(t, 500, utf8.RuneCountInString(got))
	require.Equal(t, "abc", Preview("abc", 500))

	require.Equal(t, 1000, NormalizePreviewLimit(0))
	require.Equal(t, 500, NormalizePreviewLimit(10))
	require.Equal(t, 700, NormalizePreviewLimit(700))
	require.Equal(t, 1000, NormalizePreviewLimit(5000))
}

func TestListingExtractorReviews(t *testing.T) {
	t.Parallel()

	x := NewListingExtractor(ListingSelectors{}, 0)
	records, err := x.Reviews(listingPage, 2)
	require.NoError(t, err)
	require.Len(t, records, 2)

	require.Equal(t, ReviewRecord{
		ID:           "R1ABC",
		ReviewerName: "Ann Reader",
		Rating:       "5.0 out of 5 stars",
		Date:         "Reviewed in the United States on March 3, 2024",
		Title:        "Works great",
		Body:         "Does exactly what it says.",
		Page:         2,
	}, records[0])

	// A missing rating leaves only that field empty.
	require.Equal(t, "R2DEF", records[1].ID)
	require.Empty(t, records[1].Rating)
	require.Equal(t, "Bo", records[1].ReviewerName)
	require.Equal(t, "No stars here", records[1].Title)
	require.Equal(t, "Fine.", records[1].Body)
	require.Equal(t, "Reviewed on March 1, 2024", records[1].Date)
}

func TestListingExtractorBoundsCards(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	b.WriteString("<html><body>")
	for i := 0; i < 15; i++ {
		b.WriteString(`<div data-hook="review"><span class="a-profile-name">r</span></div>`)
	}
	b.WriteString("</body></html>")

	records, err := NewListingExtractor(ListingSelectors{}, 0).Reviews(b.String(), 1)
	require.NoError(t, err)
	require.Len(t, records, DefaultMaxCardsPerPage)

	records, err = NewListingExtractor(ListingSelectors{}, 4).Reviews(b.String(), 1)
	require.NoError(t, err)
	require.Len(t, records, 4)
}

func TestListingExtractorEmptyPage(t *testing.T) {
	t.Parallel()

	records, err := NewListingExtractor(ListingSelectors{}, 0).Reviews("<html><body>No reviews</body></html>", 3)
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestListingExtractorCustomSelectors(t *testing.T) {
	t.Parallel()

	x := NewListingExtractor(ListingSelectors{Card: "li.review", Reviewer: ".who"}, 0)
	records, err := x.Reviews(`<ul><li class="review" id="a"><b class="who">Cy</b></li></ul>`, 1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "Cy", records[0].ReviewerName)
	require.Equal(t, "a", records[0].ID)
}

func TestProductTitle(t *testing.T) {
	t.Parallel()

	x := NewListingExtractor(ListingSelectors{}, 0)
	require.Equal(t, "Acme Widget, Blue", x.ProductTitle(listingPage, ""))
	require.Equal(t, "Gizmo", x.ProductTitle(
		"<html><head><title>Amazon.com: Customer reviews: Gizmo</title></head></html>", ""))
	require.Equal(t, "Gadget", x.ProductTitle("<html></html>", "Amazon.com: Gadget"))
	require.Empty(t, x.ProductTitle("<html></html>", ""))
}
