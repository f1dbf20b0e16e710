package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/user/price-aggregator/internal/browser"
	"github.com/user/price-aggregator/internal/domain"
)

// ErrSoftBlocked marks a fetch that hit an anti-bot challenge rather than a
// real listing page. The crawler cools down and retries or abandons the
// target instead of counting it as a plain error.
var ErrSoftBlocked = errors.New("soft-blocked by anti-bot countermeasure")

// Page is one fetched listing page.
type Page struct {
	URL   string
	Title string
	HTML  string
}

// PageFetcher abstracts how a source's pages are retrieved: a pooled
// browser session for marketplaces that need rendering, or a plain
// rate-limited HTTP client for sources with stable markup.
type PageFetcher interface {
	FetchPage(ctx context.Context, url string) (*Page, error)
}

// CookieAware is implemented by fetchers that accept pre-authenticated
// session cookies.
type CookieAware interface {
	SetCookies(cookies []domain.Cookie)
}

// BrowserFetcher fetches pages through the session pool. A session is
// acquired per page and released immediately, so the pool's page budget
// and recycling apply transparently.
type BrowserFetcher struct {
	pool *browser.Pool

	mu      sync.Mutex
	cookies []domain.Cookie
}

func NewBrowserFetcher(pool *browser.Pool) *BrowserFetcher {
	return &BrowserFetcher{pool: pool}
}

func (f *BrowserFetcher) SetCookies(cookies []domain.Cookie) {
	f.mu.Lock()
	f.cookies = cookies
	f.mu.Unlock()
}

func (f *BrowserFetcher) FetchPage(ctx context.Context, url string) (*Page, error) {
	s, err := f.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer f.pool.Release(s)

	f.mu.Lock()
	cookies := f.cookies
	f.mu.Unlock()
	if len(cookies) > 0 {
		if err := s.SetCookies(cookies); err != nil {
			return nil, err
		}
	}

	html, title, err := s.Navigate(ctx, url)
	if err != nil {
		return nil, err
	}
	return &Page{URL: url, Title: title, HTML: html}, nil
}

// HTTPFetcher is the direct path for sources that serve stable HTML without
// challenge pages. Requests are spaced by a minimum interval.
type HTTPFetcher struct {
	client      *http.Client
	userAgent   string
	minInterval time.Duration

	mu          sync.Mutex
	lastRequest time.Time
	cookies     []domain.Cookie
}

func NewHTTPFetcher(userAgent string, timeout, minInterval time.Duration) *HTTPFetcher {
	return &HTTPFetcher{
		client:      &http.Client{Timeout: timeout},
		userAgent:   userAgent,
		minInterval: minInterval,
	}
}

func (f *HTTPFetcher) SetCookies(cookies []domain.Cookie) {
	f.mu.Lock()
	f.cookies = cookies
	f.mu.Unlock()
}

func (f *HTTPFetcher) FetchPage(ctx context.Context, url string) (*Page, error) {
	if err := f.throttle(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	f.mu.Lock()
	for _, c := range f.cookies {
		req.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value, Path: c.Path, Domain: c.Domain})
	}
	f.mu.Unlock()

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%w: status %d", ErrSoftBlocked, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	html := string(body)

	title := ""
	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(html)); err == nil {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	return &Page{URL: url, Title: title, HTML: html}, nil
}

// throttle reserves the next request slot under the lock, then waits it out
// without holding the lock so cookie updates and cancellation stay prompt.
func (f *HTTPFetcher) throttle(ctx context.Context) error {
	f.mu.Lock()
	now := time.Now()
	wait := f.minInterval - now.Sub(f.lastRequest)
	if wait > 0 {
		f.lastRequest = now.Add(wait)
	} else {
		f.lastRequest = now
	}
	f.mu.Unlock()

	if wait <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
		return nil
	}
}
