package resolution

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/user/price-aggregator/internal/domain"
	"github.com/user/price-aggregator/internal/monitoring"
	"github.com/user/price-aggregator/internal/repository"
)

// Options tunes one resolution run.
type Options struct {
	Mode          domain.ResolutionMode
	BatchSize     int
	MinMatchScore float64
}

// Result summarizes a finished run.
type Result struct {
	TotalRaw          int            `json:"total_raw"`
	TotalCanonical    int            `json:"total_canonical"`
	TotalMappings     int            `json:"total_mappings"`
	ReductionRate     float64        `json:"reduction_rate"`
	CrossSourceMatrix map[string]int `json:"cross_source_matrix"`
}

// Progress is one phased progress event. Processed counts listings out of
// TotalRaw; pairwise comparison volume is reported separately.
type Progress struct {
	JobID            string                 `json:"job_id"`
	Phase            domain.ResolutionPhase `json:"phase"`
	TotalRaw         int                    `json:"total_raw"`
	Processed        int                    `json:"processed"`
	PairsExamined    int                    `json:"pairs_examined,omitempty"`
	CanonicalCreated int                    `json:"canonical_created"`
	MappingsCreated  int                    `json:"mappings_created"`
	Message          string                 `json:"message,omitempty"`
}

// ProgressFunc receives progress events during a run.
type ProgressFunc func(Progress)

// Engine is the entity resolution pipeline:
// blocking -> scoring -> clustering -> persisting.
type Engine struct {
	listings  repository.RawListingStore
	canonical repository.CanonicalStore
	semantic  SemanticScorer
	logger    *zap.Logger
	metrics   *monitoring.Metrics
}

func NewEngine(
	listings repository.RawListingStore,
	canonical repository.CanonicalStore,
	semantic SemanticScorer,
	logger *zap.Logger,
	metrics *monitoring.Metrics,
) *Engine {
	return &Engine{
		listings:  listings,
		canonical: canonical,
		semantic:  semantic,
		logger:    logger,
		metrics:   metrics,
	}
}

type scoredPair struct {
	aID, bID int64 // listing ids, aID < bID
	aSrc     string
	bSrc     string
	score    float64
	method   domain.MatchMethod
}

// Resolve runs one job. A phase-level error is fatal for the run; a
// per-cluster persistence failure is logged and skipped.
func (e *Engine) Resolve(ctx context.Context, jobID string, opts Options, emit ProgressFunc) (*Result, error) {
	if opts.MinMatchScore <= 0 {
		opts.MinMatchScore = 0.75
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 500
	}
	if opts.Mode == "" {
		opts.Mode = domain.ModeIncremental
	}
	if emit == nil {
		emit = func(Progress) {}
	}
	prog := Progress{JobID: jobID, Phase: domain.PhaseBlocking}

	// ---- blocking ----
	phaseStart := time.Now()
	candidates, pending, err := e.loadCandidates(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("blocking: %w", err)
	}
	if opts.Mode == domain.ModeFresh {
		prog.TotalRaw = len(candidates)
	} else {
		prog.TotalRaw = len(pending)
	}
	emit(prog)

	if prog.TotalRaw == 0 {
		prog.Phase = domain.PhaseDone
		emit(prog)
		return &Result{CrossSourceMatrix: map[string]int{}}, nil
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID < candidates[j].ID })
	buckets := buildBlocks(candidates)
	e.observePhase(domain.PhaseBlocking, phaseStart)
	e.logger.Info("blocking done",
		zap.String("job", jobID),
		zap.Int("candidates", len(candidates)),
		zap.Int("buckets", len(buckets)))

	// ---- scoring ----
	phaseStart = time.Now()
	prog.Phase = domain.PhaseScoring
	emit(prog)

	pairs, matrix, err := e.scoreBuckets(ctx, candidates, buckets, pending, opts, &prog, emit)
	if err != nil {
		return nil, fmt.Errorf("scoring: %w", err)
	}
	e.observePhase(domain.PhaseScoring, phaseStart)
	e.logger.Info("scoring done",
		zap.String("job", jobID),
		zap.Int("qualifying_pairs", len(pairs)))

	// ---- clustering ----
	phaseStart = time.Now()
	prog.Phase = domain.PhaseClustering
	emit(prog)

	uf := newUnionFind()
	if opts.Mode == domain.ModeFresh {
		for _, c := range candidates {
			uf.add(c.ID)
		}
	} else {
		for id := range pending {
			uf.add(id)
		}
	}
	byID := make(map[int64]int, len(candidates))
	for i, c := range candidates {
		byID[c.ID] = i
	}
	pairsByRoot := make(map[int64][]scoredPair)
	for _, p := range pairs {
		uf.union(p.aID, p.bID)
	}
	for _, p := range pairs {
		root := uf.find(p.aID)
		pairsByRoot[root] = append(pairsByRoot[root], p)
	}
	comps := uf.components()
	roots := make([]int64, 0, len(comps))
	for root := range comps {
		roots = append(roots, root)
	}
	sort.Slice(roots, func(i, j int) bool { return roots[i] < roots[j] })
	e.observePhase(domain.PhaseClustering, phaseStart)

	// ---- persisting ----
	phaseStart = time.Now()
	prog.Phase = domain.PhasePersisting
	emit(prog)

	if opts.Mode == domain.ModeFresh {
		if err := e.canonical.DeleteAll(ctx); err != nil {
			return nil, fmt.Errorf("persisting: wipe canonical catalog: %w", err)
		}
	}

	res := &Result{TotalRaw: prog.TotalRaw, CrossSourceMatrix: matrix}
	for _, root := range roots {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("persisting: %w", ctx.Err())
		}
		memberIDs := comps[root]
		sort.Slice(memberIDs, func(i, j int) bool { return memberIDs[i] < memberIDs[j] })

		members := make([]domain.RawListing, 0, len(memberIDs))
		for _, id := range memberIDs {
			if i, ok := byID[id]; ok {
				members = append(members, candidates[i])
			}
		}
		if len(members) == 0 {
			continue
		}

		created, mappings, err := e.persistCluster(ctx, jobID, members, pairsByRoot[root], pending, opts.Mode)
		if err != nil {
			e.logger.Error("cluster persistence failed, skipping",
				zap.String("job", jobID),
				zap.Int64("cluster_root", root),
				zap.Int("members", len(members)),
				zap.Error(err))
			continue
		}
		res.TotalCanonical++
		if created {
			prog.CanonicalCreated++
		}
		res.TotalMappings += mappings
		prog.MappingsCreated += mappings
		// Listings newly mapped this run; in incremental mode the cluster's
		// already-resolved members do not count toward TotalRaw.
		prog.Processed += mappings
		if res.TotalCanonical%100 == 0 {
			emit(prog)
		}
	}
	if res.TotalRaw > 0 {
		res.ReductionRate = 1 - float64(res.TotalCanonical)/float64(res.TotalRaw)
	}
	e.observePhase(domain.PhasePersisting, phaseStart)

	prog.Phase = domain.PhaseDone
	emit(prog)
	return res, nil
}

func (e *Engine) observePhase(phase domain.ResolutionPhase, start time.Time) {
	if e.metrics != nil {
		e.metrics.ResolutionPhaseDuration.WithLabelValues(string(phase)).Observe(time.Since(start).Seconds())
	}
}

func (e *Engine) loadCandidates(ctx context.Context, opts Options) ([]domain.RawListing, map[int64]bool, error) {
	if opts.Mode == domain.ModeFresh {
		all, err := e.listings.ListAll(ctx)
		return all, nil, err
	}

	pend, err := e.listings.ListPending(ctx, opts.BatchSize)
	if err != nil {
		return nil, nil, err
	}
	pending := make(map[int64]bool, len(pend))
	for _, l := range pend {
		pending[l.ID] = true
	}
	// Pending listings are compared against the full corpus so they can
	// attach to existing clusters.
	all, err := e.listings.ListAll(ctx)
	if err != nil {
		return nil, nil, err
	}
	return all, pending, nil
}

func (e *Engine) scoreBuckets(
	ctx context.Context,
	candidates []domain.RawListing,
	buckets map[string][]int,
	pending map[int64]bool,
	opts Options,
	prog *Progress,
	emit ProgressFunc,
) ([]scoredPair, map[string]int, error) {
	keys := make([]string, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	seen := make(map[[2]int64]struct{})
	matrix := make(map[string]int)
	var pairs []scoredPair

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		members := buckets[key]
		for i := 0; i < len(members); i++ {
			for j := i + 1; j < len(members); j++ {
				a, b := members[i], members[j]
				if candidates[a].ID > candidates[b].ID {
					a, b = b, a
				}
				la, lb := candidates[a], candidates[b]
				if pending != nil && !pending[la.ID] && !pending[lb.ID] {
					continue
				}
				pk := [2]int64{la.ID, lb.ID}
				if _, dup := seen[pk]; dup {
					continue
				}
				seen[pk] = struct{}{}

				score, method := scorePair(la, lb, e.semantic)
				if score < opts.MinMatchScore {
					continue
				}
				pairs = append(pairs, scoredPair{
					aID: la.ID, bID: lb.ID,
					aSrc: la.SourceID, bSrc: lb.SourceID,
					score: score, method: method,
				})
				matrix[sourcePairKey(la.SourceID, lb.SourceID)]++

				if len(pairs)%1000 == 0 {
					prog.PairsExamined = len(seen)
					emit(*prog)
				}
			}
		}
	}
	prog.PairsExamined = len(seen)
	emit(*prog)
	return pairs, matrix, nil
}

// persistCluster writes one cluster: a new canonical product, or in
// incremental mode an attachment to the existing cluster a resolved member
// already belongs to. Returns whether a canonical was created and how many
// mappings were written.
func (e *Engine) persistCluster(
	ctx context.Context,
	jobID string,
	members []domain.RawListing,
	clusterPairs []scoredPair,
	pending map[int64]bool,
	mode domain.ResolutionMode,
) (bool, int, error) {
	best := bestPairSignals(clusterPairs)

	var canonical *domain.CanonicalProduct
	var newMembers []domain.RawListing
	created := false

	if mode == domain.ModeIncremental {
		existing, err := e.attachableCanonical(ctx, members, pending)
		if err != nil {
			return false, 0, err
		}
		if existing != nil {
			existingListings, err := e.canonical.ListingsByCanonical(ctx, existing.ID)
			if err != nil {
				return false, 0, err
			}
			combined := mergeListings(existingListings, members)
			aggregate(existing, combined)
			if err := e.canonical.UpdateCanonical(ctx, existing); err != nil {
				return false, 0, err
			}
			canonical = existing
		}
	}

	if canonical == nil {
		c := &domain.CanonicalProduct{IsActive: true}
		aggregate(c, members)
		if err := e.canonical.InsertCanonical(ctx, c); err != nil {
			return false, 0, err
		}
		canonical = c
		created = true
	}

	for _, m := range members {
		if pending != nil && !pending[m.ID] {
			continue // already mapped; incremental leaves it alone
		}
		newMembers = append(newMembers, m)
	}

	ids := make([]int64, len(newMembers))
	mappings := make([]domain.ProductMapping, len(newMembers))
	for i, m := range newMembers {
		ids[i] = m.ID
		score, method := 1.0, domain.MatchExact // singleton default
		if s, ok := best[m.ID]; ok {
			score, method = s.score, s.method
		}
		mappings[i] = domain.ProductMapping{
			RawListingID:    m.ID,
			CanonicalID:     canonical.ID,
			ConfidenceScore: score,
			Method:          method,
			JobID:           jobID,
			Active:          true,
		}
	}

	// A re-clustered listing gets its old mapping retired before the new
	// one lands, preserving "at most one active mapping per listing".
	if err := e.canonical.RetireMappings(ctx, ids); err != nil {
		return false, 0, err
	}
	if err := e.canonical.InsertMappings(ctx, mappings); err != nil {
		return false, 0, err
	}

	if err := e.insertPairRows(ctx, jobID, canonical.ID, clusterPairs); err != nil {
		return false, 0, err
	}

	if err := e.listings.MarkResolved(ctx, ids); err != nil {
		return false, 0, err
	}
	return created, len(mappings), nil
}
