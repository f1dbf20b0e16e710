package crawler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/price-aggregator/internal/domain"
)

func testAdapter() *SelectorAdapter {
	return NewSelectorAdapter(
		domain.Source{ID: "test-mart", BaseURL: "https://test-mart.example"},
		URLTemplates{
			Category: "https://test-mart.example/c/{category}?page={page}",
			Keyword:  "https://test-mart.example/search?q={q}&page={page}",
		},
		SelectorSet{
			Item:           "div.card",
			Name:           "p.name",
			Price:          "span.price",
			OriginalPrice:  "span.price-old",
			URL:            "a.link",
			ExternalIDAttr: "data-id",
			Image:          "img.thumb",
			Rating:         "span.rating",
			ReviewCount:    "span.reviews",
			SoldCount:      "span.sold",
			Unavailable:    "div.sold-out",
		},
	)
}

const samplePage = `<html><body>
<div class="card" data-id="sku-1">
  <a class="link" href="/p/iphone-15-pro-max"><p class="name">iPhone 15 Pro Max 256GB</p></a>
  <span class="price">Rp28.000.000</span>
  <span class="price-old">Rp32.000.000</span>
  <img class="thumb" src="/img/1.jpg"/>
  <span class="rating">4.9</span>
  <span class="reviews">1,2rb</span>
  <span class="sold">5rb+ sold</span>
</div>
<div class="card" data-id="sku-2">
  <a class="link" href="https://test-mart.example/p/galaxy-s24"><p class="name">Samsung Galaxy S24 Ultra</p></a>
  <span class="price">Rp21.500.000</span>
  <div class="sold-out"></div>
</div>
<div class="card">
  <a class="link" href="/p/no-name"><p class="name"></p></a>
  <span class="price">Rp1.000</span>
</div>
</body></html>`

func TestParseListingPage(t *testing.T) {
	listings, err := testAdapter().ParseListingPage(samplePage)
	require.NoError(t, err)
	// The nameless card is dropped.
	require.Len(t, listings, 2)

	first := listings[0]
	assert.Equal(t, "test-mart", first.SourceID)
	assert.Equal(t, "sku-1", first.ExternalID)
	assert.Equal(t, "iPhone 15 Pro Max 256GB", first.Name)
	assert.Equal(t, "iphone 15 pro max 256gb", first.NormalizedName)
	assert.NotZero(t, first.NameHash)
	assert.Equal(t, 28000000.0, first.Price)
	assert.Equal(t, 32000000.0, first.OriginalPrice)
	assert.InDelta(t, 12.5, first.DiscountPercent, 0.01)
	assert.Equal(t, "https://test-mart.example/p/iphone-15-pro-max", first.ExternalURL)
	assert.Equal(t, "https://test-mart.example/img/1.jpg", first.ImageURL)
	assert.Equal(t, 4.9, first.Rating)
	assert.Equal(t, 1200, first.ReviewCount)
	assert.Equal(t, 5000, first.SoldCount)
	assert.True(t, first.Available)
	assert.Equal(t, domain.DedupPending, first.DedupStatus)

	second := listings[1]
	assert.Equal(t, "sku-2", second.ExternalID)
	assert.False(t, second.Available)
	// No crossed-out price means no discount.
	assert.Equal(t, second.Price, second.OriginalPrice)
	assert.Zero(t, second.DiscountPercent)
}

func TestPageURL(t *testing.T) {
	a := testAdapter()

	cat := a.PageURL(domain.CrawlTarget{Kind: domain.TargetCategory, CategoryID: "handphone"}, 3)
	assert.Equal(t, "https://test-mart.example/c/handphone?page=3", cat)

	kw := a.PageURL(domain.CrawlTarget{Kind: domain.TargetKeyword, Keyword: "iphone 15"}, 1)
	assert.Equal(t, "https://test-mart.example/search?q=iphone+15&page=1", kw)
}

func TestParsePrice(t *testing.T) {
	cases := []struct {
		in   string
		want float64
	}{
		{"Rp28.000.000", 28000000},
		{"₫1.250.000", 1250000},
		{"$1,299.00", 1299},
		{"$1,299.99", 1299.99},
		{"28000000", 28000000},
		{"Free", 0},
		{"", 0},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, parsePrice(c.in), "input %q", c.in)
	}
}

func TestParseCount(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"1.2k sold", 1200},
		{"3,4rb", 3400},
		{"2jt+", 2000000},
		{"57", 57},
		{"", 0},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, parseCount(c.in), "input %q", c.in)
	}
}

func TestIDFromURL(t *testing.T) {
	assert.Equal(t, "iphone-15-pro-max", idFromURL("https://test-mart.example/p/iphone-15-pro-max"))
	assert.Equal(t, "galaxy-s24", idFromURL("https://test-mart.example/p/galaxy-s24/"))
	assert.Equal(t, "", idFromURL("https://test-mart.example"))
}
