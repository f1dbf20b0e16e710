package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/user/price-aggregator/internal/crawler"
	"github.com/user/price-aggregator/internal/domain"
	"github.com/user/price-aggregator/internal/repository"
)

var (
	ErrUnknownSource  = errors.New("unknown source")
	ErrAlreadyRunning = errors.New("source crawl already running")
	ErrNotStarted     = errors.New("scheduler is not running")
)

// Config tunes the mass-crawl loop.
type Config struct {
	Workers          int
	FreshnessWindow  time.Duration
	IdleCooldown     time.Duration
	InterTargetSleep time.Duration
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 5
	}
	if c.FreshnessWindow <= 0 {
		c.FreshnessWindow = 24 * time.Hour
	}
	if c.IdleCooldown <= 0 {
		c.IdleCooldown = time.Hour
	}
	if c.InterTargetSleep <= 0 {
		c.InterTargetSleep = 5 * time.Second
	}
}

// SourceStats are the live counters exposed per source.
type SourceStats struct {
	SourceID       string    `json:"source_id"`
	Running        bool      `json:"running"`
	CurrentTarget  string    `json:"current_target,omitempty"`
	TargetsCrawled int       `json:"targets_crawled"`
	NewItems       int       `json:"new_items"`
	UpdatedItems   int       `json:"updated_items"`
	Errors         int       `json:"errors"`
	LastFinishedAt time.Time `json:"last_finished_at,omitempty"`
}

type sourceState struct {
	cancel  context.CancelFunc
	running bool
	stats   SourceStats
}

// Scheduler pulls stale targets from the catalog and drives source crawlers
// over them, looping indefinitely with cooldowns. Sources run independently;
// pagination within a source stays strictly sequential.
type Scheduler struct {
	crawlers  map[string]crawler.Crawler
	catalog   repository.CatalogStore
	freshness repository.FreshnessStore
	cfg       Config
	logger    *zap.Logger

	mu      sync.Mutex
	baseCtx context.Context
	states  map[string]*sourceState
	sem     chan struct{}
	wg      sync.WaitGroup
}

func NewScheduler(
	crawlers map[string]crawler.Crawler,
	catalog repository.CatalogStore,
	freshness repository.FreshnessStore,
	cfg Config,
	logger *zap.Logger,
) *Scheduler {
	cfg.applyDefaults()
	return &Scheduler{
		crawlers:  crawlers,
		catalog:   catalog,
		freshness: freshness,
		cfg:       cfg,
		logger:    logger,
		states:    make(map[string]*sourceState),
		sem:       make(chan struct{}, cfg.Workers),
	}
}

// Run starts a crawl loop for every listed source and blocks until ctx is
// canceled and all loops have drained.
func (s *Scheduler) Run(ctx context.Context, sourceIDs []string) {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	for _, id := range sourceIDs {
		if err := s.StartSource(id); err != nil {
			s.logger.Warn("could not start source loop",
				zap.String("source", id), zap.Error(err))
		}
	}

	<-ctx.Done()
	s.wg.Wait()
}

// StartSource launches the crawl loop for one source. It returns
// ErrAlreadyRunning when a loop for the source is active.
func (s *Scheduler) StartSource(sourceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.baseCtx == nil {
		return ErrNotStarted
	}
	cr, ok := s.crawlers[sourceID]
	if !ok {
		return ErrUnknownSource
	}
	if st := s.states[sourceID]; st != nil && st.running {
		return ErrAlreadyRunning
	}

	sctx, cancel := context.WithCancel(s.baseCtx)
	st := &sourceState{
		cancel:  cancel,
		running: true,
		stats:   SourceStats{SourceID: sourceID, Running: true},
	}
	s.states[sourceID] = st

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runSource(sctx, sourceID, cr, st)
		s.mu.Lock()
		st.running = false
		st.stats.Running = false
		st.stats.CurrentTarget = ""
		s.mu.Unlock()
	}()
	return nil
}

// StopSource cooperatively stops one source's loop; the in-flight page
// fetch finishes before the loop exits.
func (s *Scheduler) StopSource(sourceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.states[sourceID]
	if st == nil || !st.running {
		return ErrUnknownSource
	}
	st.cancel()
	return nil
}

// IsRunning reports whether a source's loop is active.
func (s *Scheduler) IsRunning(sourceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.states[sourceID]
	return st != nil && st.running
}

// Stats returns a snapshot of the per-source live counters.
func (s *Scheduler) Stats() map[string]SourceStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]SourceStats, len(s.states))
	for id, st := range s.states {
		out[id] = st.stats
	}
	return out
}

// Cookies forwards pre-authenticated session state to a source's crawler.
func (s *Scheduler) Cookies(sourceID string, cookies []domain.Cookie) error {
	cr, ok := s.crawlers[sourceID]
	if !ok {
		return ErrUnknownSource
	}
	if ca, ok := cr.(interface{ SetCookies([]domain.Cookie) }); ok {
		ca.SetCookies(cookies)
	}
	return nil
}

func (s *Scheduler) runSource(ctx context.Context, sourceID string, cr crawler.Crawler, st *sourceState) {
	log := s.logger.With(zap.String("source", sourceID))
	log.Info("source loop started")

	for {
		if ctx.Err() != nil {
			log.Info("source loop stopped")
			return
		}

		targets, err := s.staleTargets(ctx, sourceID)
		if err != nil {
			log.Error("failed to load targets", zap.Error(err))
			s.sleep(ctx, time.Minute)
			continue
		}

		if len(targets) == 0 {
			log.Info("all targets fresh, idling",
				zap.Duration("cooldown", s.cfg.IdleCooldown))
			s.sleep(ctx, s.cfg.IdleCooldown)
			continue
		}

		// Sources that sweep in bulk themselves get the whole batch.
		if mc, ok := cr.(crawler.MassCrawler); ok {
			if err := mc.MassCrawl(ctx, targets); err != nil {
				log.Error("mass crawl failed", zap.Error(err))
			}
			s.sleep(ctx, s.cfg.InterTargetSleep)
			continue
		}

		for _, target := range targets {
			if ctx.Err() != nil {
				return
			}
			s.crawlTarget(ctx, sourceID, cr, st, target, log)
			s.sleep(ctx, s.cfg.InterTargetSleep)
		}
	}
}

func (s *Scheduler) crawlTarget(ctx context.Context, sourceID string, cr crawler.Crawler, st *sourceState, target domain.CrawlTarget, log *zap.Logger) {
	// The semaphore caps how many sources crawl pages concurrently.
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return
	}
	defer func() { <-s.sem }()

	s.mu.Lock()
	st.stats.CurrentTarget = target.Key()
	s.mu.Unlock()

	res, err := cr.Crawl(ctx, target)

	s.mu.Lock()
	st.stats.CurrentTarget = ""
	st.stats.LastFinishedAt = time.Now()
	if res != nil {
		st.stats.TargetsCrawled++
		st.stats.NewItems += res.NewItems
		st.stats.UpdatedItems += res.UpdatedItems
		st.stats.Errors += res.ErrorCount
	}
	s.mu.Unlock()

	if err != nil {
		// Cancellation; the loop above exits on its next check.
		return
	}
	if res.Aborted {
		failures, ferr := s.freshness.IncrementTargetFailure(ctx, target.Key())
		if ferr != nil {
			failures = -1
		}
		log.Warn("target aborted",
			zap.String("target", target.Key()),
			zap.String("reason", res.AbortReason),
			zap.Int64("recent_failures", failures))
		return
	}

	now := time.Now()
	if err := s.catalog.TouchTarget(ctx, target, now); err != nil {
		log.Warn("failed to record target crawl time", zap.Error(err))
	}
	if err := s.freshness.MarkTargetCrawled(ctx, target.Key(), s.cfg.FreshnessWindow); err != nil {
		log.Warn("failed to mark target fresh", zap.Error(err))
	}
}

// staleTargets returns the source's category targets followed by keyword
// targets, excluding anything crawled within the freshness window.
// Categories come first: they give broad deduplicated coverage, keywords
// catch the long tail.
func (s *Scheduler) staleTargets(ctx context.Context, sourceID string) ([]domain.CrawlTarget, error) {
	categories, err := s.catalog.ActiveCategories(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	keywords, err := s.catalog.ActiveKeywords(ctx, sourceID)
	if err != nil {
		return nil, err
	}

	all := make([]domain.CrawlTarget, 0, len(categories)+len(keywords))
	all = append(all, categories...)
	all = append(all, keywords...)

	cutoff := time.Now().Add(-s.cfg.FreshnessWindow)
	stale := all[:0]
	for _, t := range all {
		if t.LastCrawledAt != nil && t.LastCrawledAt.After(cutoff) {
			continue
		}
		fresh, err := s.freshness.IsTargetFresh(ctx, t.Key())
		if err != nil {
			// The catalog timestamp already answered; treat the fast
			// path as a miss.
			s.logger.Warn("freshness check failed", zap.Error(err))
		} else if fresh {
			continue
		}
		stale = append(stale, t)
	}
	return stale, nil
}

func (s *Scheduler) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
