package resolution

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/user/price-aggregator/internal/domain"
	"github.com/user/price-aggregator/internal/monitoring"
	"github.com/user/price-aggregator/internal/repository"
)

// ErrJobRunning means a resolution job is already in flight. The id of the
// running job travels alongside it in Coordinator.Start's return value.
var ErrJobRunning = errors.New("resolution job already running")

// Resolver runs one resolution job end to end. *Engine is the production
// implementation.
type Resolver interface {
	Resolve(ctx context.Context, jobID string, opts Options, emit ProgressFunc) (*Result, error)
}

// Coordinator enforces the single-flight guarantee for resolution jobs and
// owns all job-row mutation. The engine reports through progress events
// only, so job state is written from exactly one place.
type Coordinator struct {
	resolver Resolver
	jobs     repository.ResolutionJobStore
	lock     repository.ResolutionLock // optional cross-process guard
	logger   *zap.Logger
	metrics  *monitoring.Metrics

	mu      sync.Mutex
	current *domain.ResolutionJob
	subs    map[chan Progress]struct{}
	cancel  context.CancelFunc
}

func NewCoordinator(resolver Resolver, jobs repository.ResolutionJobStore, lock repository.ResolutionLock, logger *zap.Logger, metrics *monitoring.Metrics) *Coordinator {
	return &Coordinator{
		resolver: resolver,
		jobs:     jobs,
		lock:     lock,
		logger:   logger,
		metrics:  metrics,
		subs:     make(map[chan Progress]struct{}),
	}
}

// lockTTL bounds how long a crashed process can block the next run.
const lockTTL = 2 * time.Hour

// Start launches a resolution job in the background. When a job is already
// running it returns that job's id with ErrJobRunning.
func (c *Coordinator) Start(ctx context.Context, opts Options) (string, error) {
	if opts.Mode == "" {
		opts.Mode = domain.ModeIncremental
	}

	c.mu.Lock()
	if c.current != nil && c.current.Status == domain.JobRunning {
		id := c.current.ID
		c.mu.Unlock()
		return id, ErrJobRunning
	}

	if c.lock != nil {
		ok, err := c.lock.AcquireResolutionLock(ctx, lockTTL)
		if err != nil {
			c.mu.Unlock()
			return "", err
		}
		if !ok {
			c.mu.Unlock()
			return "", ErrJobRunning
		}
	}

	job := &domain.ResolutionJob{
		ID:              uuid.NewString(),
		Status:          domain.JobRunning,
		Mode:            opts.Mode,
		CurrentPhase:    domain.PhaseBlocking,
		SourceBreakdown: map[string]int{},
		StartedAt:       time.Now(),
	}
	c.current = job
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	c.mu.Unlock()

	if err := c.jobs.CreateJob(ctx, job); err != nil {
		c.mu.Lock()
		c.current = nil
		c.cancel = nil
		c.mu.Unlock()
		cancel()
		if c.lock != nil {
			_ = c.lock.ReleaseResolutionLock(ctx)
		}
		return "", err
	}

	if c.metrics != nil {
		c.metrics.ResolutionActive.Set(1)
	}
	go c.run(runCtx, job.ID, opts)
	return job.ID, nil
}

// Stop cancels the running job, if any.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
}

func (c *Coordinator) run(ctx context.Context, jobID string, opts Options) {
	defer func() {
		if c.metrics != nil {
			c.metrics.ResolutionActive.Set(0)
		}
		if c.lock != nil {
			if err := c.lock.ReleaseResolutionLock(context.WithoutCancel(ctx)); err != nil {
				c.logger.Warn("failed to release resolution lock", zap.Error(err))
			}
		}
	}()

	res, err := c.resolver.Resolve(ctx, jobID, opts, c.onProgress)

	c.mu.Lock()
	job := c.current
	now := time.Now()
	job.CompletedAt = &now
	if err != nil {
		job.Status = domain.JobFailed
		job.CurrentPhase = domain.PhaseError
		job.ErrorMessage = err.Error()
	} else {
		job.Status = domain.JobCompleted
		job.CurrentPhase = domain.PhaseDone
		job.SourceBreakdown = res.CrossSourceMatrix
	}
	snapshot := *job
	c.cancel = nil
	c.mu.Unlock()

	if uerr := c.jobs.UpdateJob(context.WithoutCancel(ctx), &snapshot); uerr != nil {
		c.logger.Error("failed to persist final job state",
			zap.String("job", jobID), zap.Error(uerr))
	}

	status := "completed"
	if err != nil {
		status = "failed"
		c.logger.Error("resolution job failed", zap.String("job", jobID), zap.Error(err))
	} else {
		c.logger.Info("resolution job completed",
			zap.String("job", jobID),
			zap.Int("total_raw", res.TotalRaw),
			zap.Int("canonical", res.TotalCanonical),
			zap.Int("mappings", res.TotalMappings),
			zap.Float64("reduction_rate", res.ReductionRate))
	}
	if c.metrics != nil {
		c.metrics.ResolutionRuns.WithLabelValues(string(opts.Mode), status).Inc()
	}
}

// onProgress folds an engine event into the job row and fans it out to
// subscribers. It is the only writer of in-flight job state.
func (c *Coordinator) onProgress(p Progress) {
	c.mu.Lock()
	job := c.current
	if job == nil || job.ID != p.JobID {
		c.mu.Unlock()
		return
	}
	job.CurrentPhase = p.Phase
	job.TotalRaw = p.TotalRaw
	job.Processed = p.Processed
	job.CanonicalCreated = p.CanonicalCreated
	job.MappingsCreated = p.MappingsCreated
	snapshot := *job
	for ch := range c.subs {
		// Last event wins; a slow subscriber never blocks the engine.
		select {
		case ch <- p:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- p:
			default:
			}
		}
	}
	c.mu.Unlock()

	if err := c.jobs.UpdateJob(context.Background(), &snapshot); err != nil {
		c.logger.Warn("failed to persist job progress",
			zap.String("job", snapshot.ID), zap.Error(err))
	}
}

// Subscribe returns a progress channel and an unsubscribe func. The channel
// holds one event; newer events overwrite undelivered ones.
func (c *Coordinator) Subscribe() (<-chan Progress, func()) {
	ch := make(chan Progress, 1)
	c.mu.Lock()
	c.subs[ch] = struct{}{}
	c.mu.Unlock()

	return ch, func() {
		c.mu.Lock()
		delete(c.subs, ch)
		c.mu.Unlock()
	}
}

// Status returns a snapshot of the current (or most recent) job, or nil
// when no job has run yet.
func (c *Coordinator) Status() *domain.ResolutionJob {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil
	}
	snapshot := *c.current
	return &snapshot
}

// Job looks a job up by id, serving the current one from memory.
func (c *Coordinator) Job(ctx context.Context, id string) (*domain.ResolutionJob, error) {
	c.mu.Lock()
	if c.current != nil && c.current.ID == id {
		snapshot := *c.current
		c.mu.Unlock()
		return &snapshot, nil
	}
	c.mu.Unlock()
	return c.jobs.GetJob(ctx, id)
}
