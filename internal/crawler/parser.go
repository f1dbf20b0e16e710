package crawler

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/user/price-aggregator/internal/domain"
)

// SourceAdapter isolates everything site-specific: URL construction and
// listing-page parsing. The orchestration core only sees this interface.
type SourceAdapter interface {
	Source() domain.Source
	PageURL(target domain.CrawlTarget, page int) string
	ParseListingPage(html string) ([]domain.RawListing, error)
}

// SelectorSet is the per-marketplace extraction configuration. Selectors
// are configuration, not contract; sites change them without notice.
type SelectorSet struct {
	Item           string // one listing card
	Name           string
	Price          string
	OriginalPrice  string
	URL            string // anchor inside the card, href used
	ExternalIDAttr string // attribute on the card carrying the source id; empty falls back to the URL slug
	Image          string
	Rating         string
	ReviewCount    string
	SoldCount      string
	Brand          string
	Category       string
	Unavailable    string // presence marks the item sold out
}

// URLTemplates build page URLs. Placeholders: {category}, {q}, {page}.
type URLTemplates struct {
	Category string
	Keyword  string
}

// SelectorAdapter is a goquery-driven SourceAdapter configured entirely by
// selectors and URL templates.
type SelectorAdapter struct {
	source    domain.Source
	templates URLTemplates
	selectors SelectorSet
}

func NewSelectorAdapter(source domain.Source, templates URLTemplates, selectors SelectorSet) *SelectorAdapter {
	return &SelectorAdapter{source: source, templates: templates, selectors: selectors}
}

func (a *SelectorAdapter) Source() domain.Source { return a.source }

func (a *SelectorAdapter) PageURL(target domain.CrawlTarget, page int) string {
	pageStr := strconv.Itoa(page)
	if target.Kind == domain.TargetCategory {
		r := strings.NewReplacer("{category}", url.PathEscape(target.CategoryID), "{page}", pageStr)
		return r.Replace(a.templates.Category)
	}
	r := strings.NewReplacer("{q}", url.QueryEscape(target.Keyword), "{page}", pageStr)
	return r.Replace(a.templates.Keyword)
}

func (a *SelectorAdapter) ParseListingPage(html string) ([]domain.RawListing, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}

	var listings []domain.RawListing
	doc.Find(a.selectors.Item).Each(func(_ int, card *goquery.Selection) {
		name := strings.TrimSpace(card.Find(a.selectors.Name).First().Text())
		if name == "" {
			return
		}

		externalURL := ""
		if href, ok := card.Find(a.selectors.URL).First().Attr("href"); ok {
			externalURL = a.absoluteURL(href)
		}

		externalID := ""
		if a.selectors.ExternalIDAttr != "" {
			externalID, _ = card.Attr(a.selectors.ExternalIDAttr)
		}
		if externalID == "" {
			externalID = idFromURL(externalURL)
		}
		if externalID == "" {
			return
		}

		price := parsePrice(card.Find(a.selectors.Price).First().Text())
		original := price
		if a.selectors.OriginalPrice != "" {
			if p := parsePrice(card.Find(a.selectors.OriginalPrice).First().Text()); p > 0 {
				original = p
			}
		}
		discount := 0.0
		if original > price && original > 0 {
			discount = (original - price) / original * 100
		}

		l := domain.RawListing{
			SourceID:        a.source.ID,
			ExternalID:      externalID,
			ExternalURL:     externalURL,
			Name:            name,
			Price:           price,
			OriginalPrice:   original,
			DiscountPercent: discount,
			BrandRaw:        strings.TrimSpace(card.Find(a.selectors.Brand).First().Text()),
			CategoryRaw:     strings.TrimSpace(card.Find(a.selectors.Category).First().Text()),
			Rating:          parseFloat(card.Find(a.selectors.Rating).First().Text()),
			ReviewCount:     parseCount(card.Find(a.selectors.ReviewCount).First().Text()),
			SoldCount:       parseCount(card.Find(a.selectors.SoldCount).First().Text()),
			Available:       a.selectors.Unavailable == "" || card.Find(a.selectors.Unavailable).Length() == 0,
			DedupStatus:     domain.DedupPending,
		}
		if src, ok := card.Find(a.selectors.Image).First().Attr("src"); ok {
			l.ImageURL = a.absoluteURL(src)
		}
		l.Fingerprint()
		listings = append(listings, l)
	})
	return listings, nil
}

func (a *SelectorAdapter) absoluteURL(href string) string {
	if href == "" || strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	base, err := url.Parse(a.source.BaseURL)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

var (
	numberRe = regexp.MustCompile(`[\d][\d.,]*`)
	idTailRe = regexp.MustCompile(`[\w-]+$`)
)

// parsePrice extracts a numeric price from marketplace text like
// "₫28.000.000", "$1,299.00" or "28000000". Group separators are dropped;
// a trailing two-digit fraction after the last separator is kept.
func parsePrice(s string) float64 {
	m := numberRe.FindString(s)
	if m == "" {
		return 0
	}
	// If the last separator is followed by exactly two digits, treat it as
	// a decimal point; everything else is grouping.
	lastSep := strings.LastIndexAny(m, ".,")
	frac := ""
	if lastSep >= 0 && len(m)-lastSep-1 == 2 {
		frac = m[lastSep+1:]
		m = m[:lastSep]
	}
	digits := strings.NewReplacer(".", "", ",", "").Replace(m)
	v, err := strconv.ParseFloat(digits, 64)
	if err != nil {
		return 0
	}
	if frac != "" {
		f, _ := strconv.ParseFloat(frac, 64)
		v += f / 100
	}
	return v
}

func parseFloat(s string) float64 {
	m := numberRe.FindString(s)
	if m == "" {
		return 0
	}
	v, _ := strconv.ParseFloat(strings.ReplaceAll(m, ",", "."), 64)
	return v
}

// parseCount handles compact counters like "1.2k sold" or "3,4rb".
func parseCount(s string) int {
	m := numberRe.FindString(s)
	if m == "" {
		return 0
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", "."), 64)
	if err != nil {
		return 0
	}
	lower := strings.ToLower(s)
	switch {
	case strings.Contains(lower, "k") || strings.Contains(lower, "rb"):
		v *= 1_000
	case strings.Contains(lower, "m") || strings.Contains(lower, "jt"):
		v *= 1_000_000
	}
	return int(v)
}

// idFromURL falls back to the last path segment as the external id.
func idFromURL(u string) string {
	parsed, err := url.Parse(u)
	if err != nil || parsed.Path == "" {
		return ""
	}
	path := strings.TrimRight(parsed.Path, "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		path = path[i+1:]
	}
	return idTailRe.FindString(path)
}
