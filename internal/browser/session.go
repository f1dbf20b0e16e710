package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"

	"github.com/user/price-aggregator/internal/domain"
)

// Session is one controlled browser process lent out by the pool. It is not
// safe for concurrent use; the pool hands it to one crawler at a time.
type Session struct {
	id          string
	browserCtx  context.Context
	ctxCancel   context.CancelFunc
	allocCancel context.CancelFunc
	userAgent   string
	viewport    Viewport
	pageTimeout time.Duration

	pagesServed int
	unhealthy   bool
}

// ID returns the session identifier used in logs.
func (s *Session) ID() string { return s.id }

// PagesServed returns how many page navigations this session has run.
func (s *Session) PagesServed() int { return s.pagesServed }

// Navigate loads a URL and returns the rendered HTML and document title.
// A failed navigation marks the session unhealthy so the pool retires it
// on release instead of lending it out again.
func (s *Session) Navigate(ctx context.Context, url string) (html, title string, err error) {
	s.pagesServed++

	tctx, cancel := context.WithTimeout(s.browserCtx, s.pageTimeout)
	defer cancel()

	err = chromedp.Run(tctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Title(&title),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		if s.browserCtx.Err() != nil {
			s.unhealthy = true
		}
		return "", "", fmt.Errorf("navigate %s: %w", url, err)
	}
	return html, title, nil
}

// SetCookies injects normalized pre-authenticated cookies into the session.
func (s *Session) SetCookies(cookies []domain.Cookie) error {
	return chromedp.Run(s.browserCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		for _, c := range cookies {
			err := network.SetCookie(c.Name, c.Value).
				WithDomain(c.Domain).
				WithPath(c.Path).
				Do(ctx)
			if err != nil {
				return fmt.Errorf("set cookie %s: %w", c.Name, err)
			}
		}
		return nil
	}))
}

func (s *Session) disconnected() bool {
	if s.unhealthy {
		return true
	}
	return s.browserCtx != nil && s.browserCtx.Err() != nil
}

// Close terminates the underlying browser process.
func (s *Session) Close() {
	if s.ctxCancel != nil {
		s.ctxCancel()
	}
	if s.allocCancel != nil {
		s.allocCancel()
	}
}

func newChromeSession(cfg PoolConfig) (*Session, error) {
	ua := randomUserAgent()
	vp := randomViewport()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.UserAgent(ua),
		chromedp.WindowSize(vp.Width, vp.Height),
	)
	if cfg.ProxyURL != "" {
		opts = append(opts, chromedp.ProxyServer(cfg.ProxyURL))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, ctxCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(string, ...interface{}) {}))

	s := &Session{
		id:          uuid.NewString(),
		browserCtx:  browserCtx,
		ctxCancel:   ctxCancel,
		allocCancel: allocCancel,
		userAgent:   ua,
		viewport:    vp,
		pageTimeout: cfg.PageTimeout,
	}

	if cfg.ProxyUser != "" {
		// Proxy auth arrives as a fetch event; answer it with the
		// configured credentials and let every other request through.
		chromedp.ListenTarget(browserCtx, func(ev interface{}) {
			switch e := ev.(type) {
			case *fetch.EventAuthRequired:
				go func() {
					c := chromedp.FromContext(browserCtx)
					execCtx := cdp.WithExecutor(browserCtx, c.Target)
					_ = fetch.ContinueWithAuth(e.RequestID, &fetch.AuthChallengeResponse{
						Response: fetch.AuthChallengeResponseResponseProvideCredentials,
						Username: cfg.ProxyUser,
						Password: cfg.ProxyPassword,
					}).Do(execCtx)
				}()
			case *fetch.EventRequestPaused:
				go func() {
					c := chromedp.FromContext(browserCtx)
					execCtx := cdp.WithExecutor(browserCtx, c.Target)
					_ = fetch.ContinueRequest(e.RequestID).Do(execCtx)
				}()
			}
		})
	}

	actions := []chromedp.Action{
		network.Enable(),
		network.SetBlockedURLs(blockedURLPatterns),
		emulation.SetUserAgentOverride(ua),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx)
			return err
		}),
	}
	if cfg.ProxyUser != "" {
		actions = append(actions, fetch.Enable().WithHandleAuthRequests(true))
	}

	if err := chromedp.Run(browserCtx, actions...); err != nil {
		ctxCancel()
		allocCancel()
		return nil, fmt.Errorf("start browser session: %w", err)
	}
	return s, nil
}
