package repository

import (
	"context"
	"time"

	"github.com/user/price-aggregator/internal/domain"
)

// CatalogStore defines the contract for the external catalog: sources,
// crawl targets and crawl session bookkeeping.
type CatalogStore interface {
	ListSources(ctx context.Context) ([]domain.Source, error)
	// ActiveCategories returns the category targets for one source with
	// their last successful crawl time.
	ActiveCategories(ctx context.Context, sourceID string) ([]domain.CrawlTarget, error)
	// ActiveKeywords returns the keyword targets for one source.
	ActiveKeywords(ctx context.Context, sourceID string) ([]domain.CrawlTarget, error)
	// TouchTarget records a successful crawl of a target.
	TouchTarget(ctx context.Context, target domain.CrawlTarget, at time.Time) error

	CreateSession(ctx context.Context, s *domain.CrawlSession) error
	// UpdateSession is best-effort: callers ignore its error beyond logging.
	UpdateSession(ctx context.Context, s *domain.CrawlSession) error
}

// FreshnessStore is the fast-path freshness check backed by TTL keys, so
// the scheduler can skip recently crawled targets without a catalog read.
// It also keeps short-lived per-target failure counters.
type FreshnessStore interface {
	MarkTargetCrawled(ctx context.Context, key string, ttl time.Duration) error
	IsTargetFresh(ctx context.Context, key string) (bool, error)
	// IncrementTargetFailure bumps the failure counter for a target and
	// returns the new count.
	IncrementTargetFailure(ctx context.Context, key string) (int64, error)
}

// ResolutionLock guards resolution's single-flight guarantee across
// processes. The in-process coordinator check still applies without it.
type ResolutionLock interface {
	AcquireResolutionLock(ctx context.Context, ttl time.Duration) (bool, error)
	ReleaseResolutionLock(ctx context.Context) error
}
