package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DefaultChallengeSelectors match verification forms served in place of content.
var DefaultChallengeSelectors = []string{
	`form[action*="validateCaptcha"]`,
	`input#captchacharacters`,
	`form#challenge-form`,
	`#challenge-running`,
	`form[action*="/captcha"]`,
	`div.g-recaptcha`,
	`iframe[src*="hcaptcha.com"]`,
}

// DefaultTitleMarkers are lowercase title phrases used by known block pages.
var DefaultTitleMarkers = []string{
	"robot check",
	"just a moment",
	"attention required",
	"verify you are human",
	"are you a robot",
	"whoa there, pardner",
	"access denied",
	"too many requests",
	"sorry! something went wrong",
}

// HeuristicDetector implements BlockDetector using DOM and title signals.
type HeuristicDetector struct {
	selectors []string
	markers   []string
}

// NewHeuristicDetector constructs a detector. Nil slices select the defaults.
func NewHeuristicDetector(selectors, markers []string) *HeuristicDetector {
	if selectors == nil {
		selectors = DefaultChallengeSelectors
	}
	if markers == nil {
		markers = DefaultTitleMarkers
	}
	lowerMarkers := make([]string, 0, len(markers))
	for _, m := range markers {
		m = strings.ToLower(strings.TrimSpace(m))
		if m != "" {
			lowerMarkers = append(lowerMarkers, m)
		}
	}
	cleanSelectors := make([]string, 0, len(selectors))
	for _, s := range selectors {
		s = strings.TrimSpace(s)
		if s != "" {
			cleanSelectors = append(cleanSelectors, s)
		}
	}
	return &HeuristicDetector{
		selectors: cleanSelectors,
		markers:   lowerMarkers,
	}
}

// Detect reports whether page is a block page and which signal fired.
func (d *HeuristicDetector) Detect(page Page) (bool, string) {
	if d == nil {
		return false, ""
	}
	var doc *goquery.Document
	if strings.TrimSpace(page.HTML) != "" {
		parsed, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
		if err == nil {
			doc = parsed
		}
	}
	if doc != nil {
		for _, sel := range d.selectors {
			if doc.Find(sel).Length() > 0 {
				return true, "challenge element " + sel
			}
		}
	}

	title := page.Title
	if title == "" && doc != nil {
		title = doc.Find("title").First().Text()
	}
	title = strings.ToLower(strings.TrimSpace(title))
	if title == "" {
		return false, ""
	}
	for _, marker := range d.markers {
		if strings.Contains(title, marker) {
			return true, "title marker " + marker
		}
	}
	return false, ""
}
