package crawler

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/user/price-aggregator/internal/domain"
	"github.com/user/price-aggregator/internal/monitoring"
	"github.com/user/price-aggregator/internal/repository"
)

// Crawler is the capability every source implements.
type Crawler interface {
	Crawl(ctx context.Context, target domain.CrawlTarget) (*CrawlResult, error)
}

// MassCrawler is the optional capability for sources that can sweep many
// targets in one pass themselves. Callers branch on interface satisfaction.
type MassCrawler interface {
	Crawler
	MassCrawl(ctx context.Context, targets []domain.CrawlTarget) error
}

// Config tunes the per-target pagination loop.
type Config struct {
	FlushThreshold       int
	MaxConsecutiveErrors int
	MaxZeroNewFlushes    int
	MaxBlockRetries      int
	JitterMin            time.Duration
	JitterMax            time.Duration
	BlockCooldown        time.Duration
	RetrySleep           time.Duration
	MaxPagesDefault      int
}

func (c *Config) applyDefaults() {
	if c.FlushThreshold <= 0 {
		c.FlushThreshold = 200
	}
	if c.MaxConsecutiveErrors <= 0 {
		c.MaxConsecutiveErrors = 3
	}
	if c.MaxZeroNewFlushes <= 0 {
		c.MaxZeroNewFlushes = 3
	}
	if c.MaxBlockRetries <= 0 {
		c.MaxBlockRetries = 1
	}
	if c.JitterMin <= 0 {
		c.JitterMin = 1500 * time.Millisecond
	}
	if c.JitterMax <= c.JitterMin {
		c.JitterMax = c.JitterMin + 3*time.Second
	}
	if c.BlockCooldown <= 0 {
		c.BlockCooldown = 45 * time.Second
	}
	if c.RetrySleep <= 0 {
		c.RetrySleep = 2 * time.Second
	}
	if c.MaxPagesDefault <= 0 {
		c.MaxPagesDefault = 50
	}
}

// CrawlResult summarizes one target crawl.
type CrawlResult struct {
	SessionID    string
	PagesFetched int
	TotalItems   int
	NewItems     int
	UpdatedItems int
	ErrorCount   int
	AutoSkipped  bool
	Aborted      bool
	AbortReason  string
}

// blockMarkers are title fragments of known challenge/captcha pages.
var blockMarkers = []string{
	"captcha",
	"verify",
	"access denied",
	"unusual traffic",
	"are you a robot",
	"security check",
	"just a moment",
}

func isBlockedTitle(title string) bool {
	lower := strings.ToLower(title)
	for _, m := range blockMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// SourceCrawler drives one marketplace's pagination state machine:
// fetch -> soft-block check -> parse -> in-page dedupe -> buffer -> flush,
// with the auto-skip and consecutive-error rules bounding wasted work.
type SourceCrawler struct {
	adapter  SourceAdapter
	fetcher  PageFetcher
	listings repository.RawListingStore
	catalog  repository.CatalogStore
	cfg      Config
	logger   *zap.Logger
	metrics  *monitoring.Metrics
}

var _ Crawler = (*SourceCrawler)(nil)

func NewSourceCrawler(
	adapter SourceAdapter,
	fetcher PageFetcher,
	listings repository.RawListingStore,
	catalog repository.CatalogStore,
	cfg Config,
	logger *zap.Logger,
	metrics *monitoring.Metrics,
) *SourceCrawler {
	cfg.applyDefaults()
	return &SourceCrawler{
		adapter:  adapter,
		fetcher:  fetcher,
		listings: listings,
		catalog:  catalog,
		cfg:      cfg,
		logger:   logger.With(zap.String("source", adapter.Source().ID)),
		metrics:  metrics,
	}
}

// SetCookies forwards pre-authenticated session state to the fetcher, for
// sources that require a login.
func (c *SourceCrawler) SetCookies(cookies []domain.Cookie) {
	if ca, ok := c.fetcher.(CookieAware); ok {
		ca.SetCookies(cookies)
	}
}

// Crawl runs one target to completion, persisting as it goes. Errors are
// absorbed into the result; only context cancellation propagates.
func (c *SourceCrawler) Crawl(ctx context.Context, target domain.CrawlTarget) (*CrawlResult, error) {
	sourceID := c.adapter.Source().ID
	maxPages := target.MaxPages
	if maxPages <= 0 {
		maxPages = c.cfg.MaxPagesDefault
	}

	session := &domain.CrawlSession{
		ID:        uuid.NewString(),
		SourceID:  sourceID,
		TargetKey: target.Key(),
		StartedAt: time.Now(),
		Status:    domain.SessionRunning,
	}
	if err := c.catalog.CreateSession(ctx, session); err != nil {
		c.logger.Warn("failed to create crawl session record", zap.Error(err))
	}

	res := &CrawlResult{SessionID: session.ID}
	var buffer []domain.RawListing
	consecutiveErrors := 0
	zeroNewFlushes := 0
	blockRetries := 0

	c.logger.Info("crawl started",
		zap.String("target", target.Key()),
		zap.Int("max_pages", maxPages))

	page := 1
pageLoop:
	for page <= maxPages {
		if ctx.Err() != nil {
			c.abort(res, session, "canceled")
			break
		}

		pg, err := c.fetchPage(ctx, target, page)
		if err != nil {
			if errors.Is(err, ErrSoftBlocked) {
				c.metrics.SoftBlocks.WithLabelValues(sourceID).Inc()
				blockRetries++
				if blockRetries > c.cfg.MaxBlockRetries {
					c.logger.Warn("repeated soft-block, abandoning target",
						zap.String("target", target.Key()), zap.Int("page", page))
					c.abort(res, session, "soft-blocked")
					break
				}
				c.logger.Warn("soft-block detected, cooling down",
					zap.String("target", target.Key()),
					zap.Int("page", page),
					zap.Duration("cooldown", c.cfg.BlockCooldown))
				c.sleep(ctx, c.cfg.BlockCooldown)
				continue
			}
			consecutiveErrors++
			res.ErrorCount++
			session.ErrorCount++
			c.logger.Warn("page fetch failed",
				zap.Int("page", page),
				zap.Int("consecutive", consecutiveErrors),
				zap.Error(err))
			if consecutiveErrors >= c.cfg.MaxConsecutiveErrors {
				c.abort(res, session, "consecutive errors")
				break
			}
			c.sleep(ctx, c.cfg.RetrySleep)
			continue
		}

		listings, err := c.adapter.ParseListingPage(pg.HTML)
		if err != nil {
			c.metrics.FetchErrors.WithLabelValues(sourceID, "parse_failed").Inc()
			consecutiveErrors++
			res.ErrorCount++
			session.ErrorCount++
			c.logger.Warn("page parse failed", zap.Int("page", page), zap.Error(err))
			if consecutiveErrors >= c.cfg.MaxConsecutiveErrors {
				c.abort(res, session, "consecutive errors")
				break
			}
			c.sleep(ctx, c.cfg.RetrySleep)
			continue
		}
		consecutiveErrors = 0
		res.PagesFetched++

		if len(listings) == 0 {
			c.logger.Info("empty page, target exhausted", zap.Int("page", page))
			break
		}

		// Deduplicate within the page by external id.
		seen := make(map[string]struct{}, len(listings))
		for _, l := range listings {
			if _, dup := seen[l.ExternalID]; dup {
				continue
			}
			seen[l.ExternalID] = struct{}{}
			buffer = append(buffer, l)
			res.TotalItems++
			session.TotalItems++
		}

		if len(buffer) >= c.cfg.FlushThreshold {
			nNew, flushed := c.flush(ctx, &buffer, res, session)
			if flushed {
				if nNew == 0 {
					zeroNewFlushes++
					if zeroNewFlushes >= c.cfg.MaxZeroNewFlushes {
						c.logger.Info("auto-skip: no new inventory",
							zap.String("target", target.Key()),
							zap.Int("page", page))
						res.AutoSkipped = true
						break pageLoop
					}
				} else {
					zeroNewFlushes = 0
				}
			}
		}

		c.updateSession(ctx, session)

		page++
		if page <= maxPages {
			c.sleep(ctx, c.jitter())
		}
	}

	c.flush(ctx, &buffer, res, session)
	c.finalize(ctx, res, session)

	c.metrics.TargetsCrawled.WithLabelValues(sourceID, string(session.Status)).Inc()
	c.logger.Info("crawl finished",
		zap.String("target", target.Key()),
		zap.Int("pages", res.PagesFetched),
		zap.Int("total", res.TotalItems),
		zap.Int("new", res.NewItems),
		zap.Int("updated", res.UpdatedItems),
		zap.Bool("auto_skipped", res.AutoSkipped),
		zap.String("status", string(session.Status)))

	return res, ctx.Err()
}

func (c *SourceCrawler) fetchPage(ctx context.Context, target domain.CrawlTarget, page int) (*Page, error) {
	sourceID := c.adapter.Source().ID
	url := c.adapter.PageURL(target, page)

	start := time.Now()
	pg, err := c.fetcher.FetchPage(ctx, url)
	c.metrics.FetchDuration.WithLabelValues(sourceID).Observe(time.Since(start).Seconds())
	c.metrics.PagesFetched.WithLabelValues(sourceID).Inc()

	if err != nil {
		if !errors.Is(err, ErrSoftBlocked) {
			c.metrics.FetchErrors.WithLabelValues(sourceID, "fetch_failed").Inc()
		}
		return nil, err
	}
	if isBlockedTitle(pg.Title) {
		return nil, ErrSoftBlocked
	}
	return pg, nil
}

// flush upserts the buffer with a bounded backoff retry. On persistent
// failure the items stay buffered for the next flush rather than being
// dropped; the crawl loop continues. Returns the new-item count and
// whether the write landed.
func (c *SourceCrawler) flush(ctx context.Context, buffer *[]domain.RawListing, res *CrawlResult, session *domain.CrawlSession) (int, bool) {
	if len(*buffer) == 0 {
		return 0, false
	}
	sourceID := c.adapter.Source().ID

	backoff := 500 * time.Millisecond
	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		up, err := c.listings.UpsertBatch(ctx, *buffer)
		if err == nil {
			res.NewItems += up.New
			res.UpdatedItems += up.Updated
			session.NewItems += up.New
			session.UpdatedItems += up.Updated
			c.metrics.ListingsUpserted.WithLabelValues(sourceID, "new").Add(float64(up.New))
			c.metrics.ListingsUpserted.WithLabelValues(sourceID, "updated").Add(float64(up.Updated))
			*buffer = (*buffer)[:0]
			return up.New, true
		}
		lastErr = err
		c.sleep(ctx, backoff)
		backoff *= 2
	}

	c.metrics.FetchErrors.WithLabelValues(sourceID, "db_save_failed").Inc()
	session.ErrorCount++
	res.ErrorCount++
	c.logger.Error("batch flush failed, items re-queued",
		zap.Int("buffered", len(*buffer)),
		zap.Error(lastErr))
	return 0, false
}

func (c *SourceCrawler) abort(res *CrawlResult, session *domain.CrawlSession, reason string) {
	res.Aborted = true
	res.AbortReason = reason
	session.Status = domain.SessionAborted
}

func (c *SourceCrawler) finalize(ctx context.Context, res *CrawlResult, session *domain.CrawlSession) {
	now := time.Now()
	session.CompletedAt = &now
	if session.Status == domain.SessionRunning {
		session.Status = domain.SessionCompleted
	}
	c.updateSession(ctx, session)
}

// updateSession is best-effort; a session-log failure must not abort a crawl.
func (c *SourceCrawler) updateSession(ctx context.Context, session *domain.CrawlSession) {
	if err := c.catalog.UpdateSession(ctx, session); err != nil {
		c.logger.Warn("failed to update crawl session record", zap.Error(err))
	}
}

func (c *SourceCrawler) jitter() time.Duration {
	spread := c.cfg.JitterMax - c.cfg.JitterMin
	return c.cfg.JitterMin + time.Duration(rand.Int63n(int64(spread)))
}

func (c *SourceCrawler) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
