package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/user/price-aggregator/internal/monitoring"
)

// ErrPoolClosed is returned by Acquire after CloseAll.
var ErrPoolClosed = errors.New("session pool is shutting down")

const acquirePollInterval = 100 * time.Millisecond

// PoolConfig bounds the pool and configures each session it creates.
type PoolConfig struct {
	Capacity           int
	MaxPagesPerSession int
	PageTimeout        time.Duration
	ProxyURL           string
	ProxyUser          string
	ProxyPassword      string
}

// Pool owns a bounded set of browser sessions. Sessions are created lazily,
// lent out one at a time and torn down once they have served their page
// budget, bounding memory growth from long-lived browser processes.
type Pool struct {
	cfg     PoolConfig
	logger  *zap.Logger
	metrics *monitoring.Metrics

	newSession func(PoolConfig) (*Session, error)

	mu     sync.Mutex
	idle   []*Session
	live   int // sessions in existence, idle or lent out
	closed bool
}

func NewPool(cfg PoolConfig, logger *zap.Logger, metrics *monitoring.Metrics) *Pool {
	if cfg.Capacity < 1 {
		cfg.Capacity = 1
	}
	if cfg.MaxPagesPerSession < 1 {
		cfg.MaxPagesPerSession = 10
	}
	return &Pool{
		cfg:        cfg,
		logger:     logger,
		metrics:    metrics,
		newSession: newChromeSession,
	}
}

// Acquire returns an idle session, or creates one while the pool is below
// capacity, or polls until either happens. It fails only when the pool is
// shutting down or ctx expires.
func (p *Pool) Acquire(ctx context.Context) (*Session, error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}
		if n := len(p.idle); n > 0 {
			s := p.idle[n-1]
			p.idle = p.idle[:n-1]
			if s.disconnected() {
				// Crashed while idle; drop it and try again.
				p.live--
				p.mu.Unlock()
				p.metrics.SessionsLive.Dec()
				p.logger.Warn("dropping disconnected session", zap.String("session", s.ID()))
				s.Close()
				continue
			}
			p.mu.Unlock()
			return s, nil
		}
		if p.live < p.cfg.Capacity {
			p.live++
			p.mu.Unlock()

			s, err := p.newSession(p.cfg)
			if err != nil {
				p.mu.Lock()
				p.live--
				p.mu.Unlock()
				return nil, fmt.Errorf("create session: %w", err)
			}
			p.metrics.SessionsCreated.Inc()
			p.metrics.SessionsLive.Inc()
			p.logger.Debug("created browser session", zap.String("session", s.ID()))
			return s, nil
		}
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(acquirePollInterval):
		}
	}
}

// Release returns a session to the idle set, or tears it down once it has
// served its page budget or lost its browser process.
func (p *Pool) Release(s *Session) {
	if s == nil {
		return
	}
	p.mu.Lock()
	if p.closed {
		p.live--
		p.mu.Unlock()
		p.metrics.SessionsLive.Dec()
		s.Close()
		return
	}
	if s.pagesServed >= p.cfg.MaxPagesPerSession || s.disconnected() {
		p.live--
		p.mu.Unlock()
		p.metrics.SessionsRecycled.Inc()
		p.metrics.SessionsLive.Dec()
		p.logger.Debug("recycling session",
			zap.String("session", s.ID()),
			zap.Int("pages_served", s.pagesServed))
		s.Close()
		return
	}
	p.idle = append(p.idle, s)
	p.mu.Unlock()
}

// CloseAll drains and terminates every idle session and marks the pool
// closed. Sessions still lent out are torn down when released.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.live -= len(idle)
	p.mu.Unlock()

	for _, s := range idle {
		p.metrics.SessionsLive.Dec()
		s.Close()
	}
	p.logger.Info("session pool closed", zap.Int("sessions_drained", len(idle)))
}
