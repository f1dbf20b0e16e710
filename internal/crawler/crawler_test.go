package crawler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/user/price-aggregator/internal/domain"
	"github.com/user/price-aggregator/internal/monitoring"
	"github.com/user/price-aggregator/internal/repository"
)

var testMetrics = monitoring.NewMetrics()

func testConfig() Config {
	return Config{
		FlushThreshold: 4,
		JitterMin:      time.Millisecond,
		JitterMax:      5 * time.Millisecond,
		BlockCooldown:  time.Millisecond,
		RetrySleep:     time.Millisecond,
	}
}

// fakeAdapter serves preset listings per page; pages beyond the map are empty.
type fakeAdapter struct {
	pages map[int][]domain.RawListing
}

func (a *fakeAdapter) Source() domain.Source {
	return domain.Source{ID: "test-mart", BaseURL: "https://test-mart.example"}
}

func (a *fakeAdapter) PageURL(_ domain.CrawlTarget, page int) string {
	return fmt.Sprintf("https://test-mart.example/search?page=%d", page)
}

func (a *fakeAdapter) ParseListingPage(html string) ([]domain.RawListing, error) {
	var page int
	fmt.Sscanf(html, "page %d", &page)
	return a.pages[page], nil
}

// fakeFetcher answers each call from a script of errors, then succeeds.
type fakeFetcher struct {
	calls int
	errs  []error
}

func (f *fakeFetcher) FetchPage(_ context.Context, url string) (*Page, error) {
	f.calls++
	if f.calls <= len(f.errs) && f.errs[f.calls-1] != nil {
		return nil, f.errs[f.calls-1]
	}
	var page int
	fmt.Sscanf(url, "https://test-mart.example/search?page=%d", &page)
	return &Page{URL: url, Title: "Search Results", HTML: fmt.Sprintf("page %d", page)}, nil
}

type fakeListingStore struct {
	batches [][]domain.RawListing
	allNew  bool
	fail    bool
}

func (s *fakeListingStore) UpsertBatch(_ context.Context, listings []domain.RawListing) (repository.UpsertResult, error) {
	if s.fail {
		return repository.UpsertResult{}, errors.New("db down")
	}
	cp := make([]domain.RawListing, len(listings))
	copy(cp, listings)
	s.batches = append(s.batches, cp)
	if s.allNew {
		return repository.UpsertResult{New: len(listings)}, nil
	}
	return repository.UpsertResult{Updated: len(listings)}, nil
}

func (s *fakeListingStore) ListAll(context.Context) ([]domain.RawListing, error) { return nil, nil }
func (s *fakeListingStore) ListPending(context.Context, int) ([]domain.RawListing, error) {
	return nil, nil
}
func (s *fakeListingStore) MarkResolved(context.Context, []int64) error { return nil }
func (s *fakeListingStore) PriceHistory(context.Context, int64) ([]domain.PricePoint, error) {
	return nil, nil
}

type fakeCatalog struct {
	sessions []domain.CrawlSession
}

func (c *fakeCatalog) ListSources(context.Context) ([]domain.Source, error) { return nil, nil }
func (c *fakeCatalog) ActiveCategories(context.Context, string) ([]domain.CrawlTarget, error) {
	return nil, nil
}
func (c *fakeCatalog) ActiveKeywords(context.Context, string) ([]domain.CrawlTarget, error) {
	return nil, nil
}
func (c *fakeCatalog) TouchTarget(context.Context, domain.CrawlTarget, time.Time) error { return nil }
func (c *fakeCatalog) CreateSession(_ context.Context, s *domain.CrawlSession) error {
	c.sessions = append(c.sessions, *s)
	return nil
}
func (c *fakeCatalog) UpdateSession(_ context.Context, s *domain.CrawlSession) error {
	c.sessions = append(c.sessions, *s)
	return nil
}

func listing(id string) domain.RawListing {
	l := domain.RawListing{ExternalID: id, Name: "Product " + id, Price: 100}
	l.Fingerprint()
	return l
}

func target() domain.CrawlTarget {
	return domain.CrawlTarget{SourceID: "test-mart", Kind: domain.TargetKeyword, Keyword: "phone", MaxPages: 10}
}

func TestCrawlPersistsAllPages(t *testing.T) {
	adapter := &fakeAdapter{pages: map[int][]domain.RawListing{
		1: {listing("a1"), listing("a2")},
		2: {listing("b1"), listing("b2")},
	}}
	store := &fakeListingStore{allNew: true}
	catalog := &fakeCatalog{}
	c := NewSourceCrawler(adapter, &fakeFetcher{}, store, catalog, testConfig(), zap.NewNop(), testMetrics)

	res, err := c.Crawl(context.Background(), target())
	require.NoError(t, err)

	assert.Equal(t, 4, res.TotalItems)
	assert.Equal(t, 4, res.NewItems)
	assert.False(t, res.Aborted)
	assert.False(t, res.AutoSkipped)
	// Pages 1 and 2 plus the empty page 3 that ends the target.
	assert.Equal(t, 3, res.PagesFetched)

	var persisted int
	for _, b := range store.batches {
		persisted += len(b)
	}
	assert.Equal(t, 4, persisted)

	last := catalog.sessions[len(catalog.sessions)-1]
	assert.Equal(t, domain.SessionCompleted, last.Status)
	require.NotNil(t, last.CompletedAt)
}

func TestCrawlDeduplicatesWithinPage(t *testing.T) {
	adapter := &fakeAdapter{pages: map[int][]domain.RawListing{
		1: {listing("a1"), listing("a1"), listing("a2"), listing("a1")},
	}}
	store := &fakeListingStore{allNew: true}
	c := NewSourceCrawler(adapter, &fakeFetcher{}, store, &fakeCatalog{}, testConfig(), zap.NewNop(), testMetrics)

	res, err := c.Crawl(context.Background(), target())
	require.NoError(t, err)
	assert.Equal(t, 2, res.TotalItems)
}

func TestCrawlAutoSkipsWhenNothingIsNew(t *testing.T) {
	pages := make(map[int][]domain.RawListing)
	for p := 1; p <= 10; p++ {
		pages[p] = []domain.RawListing{
			listing(fmt.Sprintf("p%d-1", p)), listing(fmt.Sprintf("p%d-2", p)),
			listing(fmt.Sprintf("p%d-3", p)), listing(fmt.Sprintf("p%d-4", p)),
		}
	}
	adapter := &fakeAdapter{pages: pages}
	store := &fakeListingStore{allNew: false} // everything already known
	c := NewSourceCrawler(adapter, &fakeFetcher{}, store, &fakeCatalog{}, testConfig(), zap.NewNop(), testMetrics)

	res, err := c.Crawl(context.Background(), target())
	require.NoError(t, err)

	assert.True(t, res.AutoSkipped)
	assert.False(t, res.Aborted)
	// Three flushes of four items with zero new items each triggered the skip.
	assert.Len(t, store.batches, 3)
}

func TestCrawlAbortsAfterConsecutiveErrors(t *testing.T) {
	boom := errors.New("connection reset")
	fetcher := &fakeFetcher{errs: []error{boom, boom, boom}}
	adapter := &fakeAdapter{pages: map[int][]domain.RawListing{1: {listing("a1")}}}
	c := NewSourceCrawler(adapter, fetcher, &fakeListingStore{allNew: true}, &fakeCatalog{}, testConfig(), zap.NewNop(), testMetrics)

	res, err := c.Crawl(context.Background(), target())
	require.NoError(t, err)

	assert.True(t, res.Aborted)
	assert.Equal(t, "consecutive errors", res.AbortReason)
	assert.Equal(t, 3, res.ErrorCount)
	assert.Zero(t, res.TotalItems)
}

func TestCrawlRecoversFromTransientErrors(t *testing.T) {
	boom := errors.New("connection reset")
	// Two failures, success, two failures, success: the counter resets.
	fetcher := &fakeFetcher{errs: []error{boom, boom, nil, boom, boom}}
	adapter := &fakeAdapter{pages: map[int][]domain.RawListing{1: {listing("a1")}}}
	c := NewSourceCrawler(adapter, fetcher, &fakeListingStore{allNew: true}, &fakeCatalog{}, testConfig(), zap.NewNop(), testMetrics)

	res, err := c.Crawl(context.Background(), target())
	require.NoError(t, err)

	assert.False(t, res.Aborted)
	assert.Equal(t, 1, res.TotalItems)
}

func TestCrawlAbandonsTargetOnRepeatedSoftBlock(t *testing.T) {
	fetcher := &fakeFetcher{errs: []error{ErrSoftBlocked, ErrSoftBlocked}}
	adapter := &fakeAdapter{pages: map[int][]domain.RawListing{1: {listing("a1")}}}
	catalog := &fakeCatalog{}
	c := NewSourceCrawler(adapter, fetcher, &fakeListingStore{allNew: true}, catalog, testConfig(), zap.NewNop(), testMetrics)

	res, err := c.Crawl(context.Background(), target())
	require.NoError(t, err)

	assert.True(t, res.Aborted)
	assert.Equal(t, "soft-blocked", res.AbortReason)

	last := catalog.sessions[len(catalog.sessions)-1]
	assert.Equal(t, domain.SessionAborted, last.Status)
}

func TestCrawlTreatsChallengeTitleAsSoftBlock(t *testing.T) {
	assert.True(t, isBlockedTitle("Just a moment..."))
	assert.True(t, isBlockedTitle("Security Check Required"))
	assert.True(t, isBlockedTitle("CAPTCHA verification"))
	assert.False(t, isBlockedTitle("Search Results - phone"))
}

func TestCrawlStopsOnContextCancel(t *testing.T) {
	pages := make(map[int][]domain.RawListing)
	for p := 1; p <= 10; p++ {
		pages[p] = []domain.RawListing{listing(fmt.Sprintf("p%d", p))}
	}
	adapter := &fakeAdapter{pages: pages}
	c := NewSourceCrawler(adapter, &fakeFetcher{}, &fakeListingStore{allNew: true}, &fakeCatalog{}, testConfig(), zap.NewNop(), testMetrics)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := c.Crawl(ctx, target())

	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, res.Aborted)
	assert.Equal(t, "canceled", res.AbortReason)
}

func TestFlushKeepsBufferOnPersistentFailure(t *testing.T) {
	adapter := &fakeAdapter{pages: map[int][]domain.RawListing{1: {listing("a1")}}}
	store := &fakeListingStore{fail: true}
	c := NewSourceCrawler(adapter, &fakeFetcher{}, store, &fakeCatalog{}, testConfig(), zap.NewNop(), testMetrics)

	res, err := c.Crawl(context.Background(), target())
	require.NoError(t, err)

	assert.Empty(t, store.batches)
	assert.Equal(t, 1, res.TotalItems)
	assert.Zero(t, res.NewItems)
	assert.Equal(t, 1, res.ErrorCount)
}
