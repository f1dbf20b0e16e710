package resolution

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/user/price-aggregator/internal/domain"
	"github.com/user/price-aggregator/internal/repository"
)

// memStore is an in-memory stand-in for the Postgres store, implementing
// the listing, canonical and job contracts the engine consumes.
type memStore struct {
	mu            sync.Mutex
	listings      map[int64]domain.RawListing
	history       map[int64][]domain.PricePoint
	canonicals    map[int64]domain.CanonicalProduct
	mappings      []domain.ProductMapping
	pairs         []domain.MatchingPair
	jobs          map[string]domain.ResolutionJob
	nextListing   int64
	nextCanonical int64
	lockHeld      bool
}

func newMemStore() *memStore {
	return &memStore{
		listings:   make(map[int64]domain.RawListing),
		history:    make(map[int64][]domain.PricePoint),
		canonicals: make(map[int64]domain.CanonicalProduct),
		jobs:       make(map[string]domain.ResolutionJob),
	}
}

func (m *memStore) add(l domain.RawListing) domain.RawListing {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextListing++
	l.ID = m.nextListing
	if l.DedupStatus == "" {
		l.DedupStatus = domain.DedupPending
	}
	m.listings[l.ID] = l
	return l
}

// --- repository.RawListingStore ---

func (m *memStore) UpsertBatch(_ context.Context, listings []domain.RawListing) (repository.UpsertResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res repository.UpsertResult
	for _, l := range listings {
		var found *domain.RawListing
		for id, existing := range m.listings {
			if existing.SourceID == l.SourceID && existing.ExternalID == l.ExternalID {
				e := m.listings[id]
				found = &e
				break
			}
		}
		if found == nil {
			m.nextListing++
			l.ID = m.nextListing
			l.DedupStatus = domain.DedupPending
			m.listings[l.ID] = l
			m.history[l.ID] = append(m.history[l.ID], domain.PricePoint{ListingID: l.ID, Price: l.Price, RecordedAt: time.Now()})
			res.New++
			continue
		}
		if found.Price != l.Price {
			m.history[found.ID] = append(m.history[found.ID], domain.PricePoint{ListingID: found.ID, Price: l.Price, RecordedAt: time.Now()})
		}
		l.ID = found.ID
		l.DedupStatus = found.DedupStatus
		if found.NameHash != l.NameHash {
			// A renamed listing goes back through entity resolution.
			l.DedupStatus = domain.DedupPending
		}
		m.listings[found.ID] = l
		res.Updated++
	}
	return res, nil
}

func (m *memStore) ListAll(context.Context) ([]domain.RawListing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.RawListing, 0, len(m.listings))
	for _, l := range m.listings {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) ListPending(_ context.Context, limit int) ([]domain.RawListing, error) {
	all, _ := m.ListAll(context.Background())
	out := make([]domain.RawListing, 0)
	for _, l := range all {
		if l.DedupStatus == domain.DedupPending {
			out = append(out, l)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *memStore) MarkResolved(_ context.Context, ids []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		l, ok := m.listings[id]
		if !ok {
			return fmt.Errorf("listing %d: not found", id)
		}
		l.DedupStatus = domain.DedupResolved
		m.listings[id] = l
	}
	return nil
}

func (m *memStore) PriceHistory(_ context.Context, listingID int64) ([]domain.PricePoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.PricePoint(nil), m.history[listingID]...), nil
}

// --- repository.CanonicalStore ---

func (m *memStore) DeleteAll(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.canonicals = make(map[int64]domain.CanonicalProduct)
	m.mappings = nil
	m.pairs = nil
	return nil
}

func (m *memStore) InsertCanonical(_ context.Context, p *domain.CanonicalProduct) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextCanonical++
	p.ID = m.nextCanonical
	m.canonicals[p.ID] = *p
	return nil
}

func (m *memStore) UpdateCanonical(_ context.Context, p *domain.CanonicalProduct) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.canonicals[p.ID]; !ok {
		return fmt.Errorf("canonical %d: not found", p.ID)
	}
	m.canonicals[p.ID] = *p
	return nil
}

func (m *memStore) CanonicalByListing(_ context.Context, listingID int64) (*domain.CanonicalProduct, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mp := range m.mappings {
		if mp.RawListingID == listingID && mp.Active {
			c := m.canonicals[mp.CanonicalID]
			return &c, nil
		}
	}
	return nil, nil
}

func (m *memStore) ListingsByCanonical(_ context.Context, canonicalID int64) ([]domain.RawListing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.RawListing
	for _, mp := range m.mappings {
		if mp.CanonicalID == canonicalID && mp.Active {
			out = append(out, m.listings[mp.RawListingID])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) RetireMappings(_ context.Context, listingIDs []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.mappings {
		for _, id := range listingIDs {
			if m.mappings[i].RawListingID == id {
				m.mappings[i].Active = false
			}
		}
	}
	return nil
}

func (m *memStore) InsertMappings(_ context.Context, mappings []domain.ProductMapping) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mappings = append(m.mappings, mappings...)
	return nil
}

func (m *memStore) InsertMatchingPairs(_ context.Context, pairs []domain.MatchingPair) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pairs = append(m.pairs, pairs...)
	return nil
}

// --- repository.ResolutionJobStore ---

func (m *memStore) CreateJob(_ context.Context, job *domain.ResolutionJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = *job
	return nil
}

func (m *memStore) UpdateJob(_ context.Context, job *domain.ResolutionJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; !ok {
		return fmt.Errorf("job %s: not found", job.ID)
	}
	m.jobs[job.ID] = *job
	return nil
}

func (m *memStore) GetJob(_ context.Context, id string) (*domain.ResolutionJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: not found", id)
	}
	return &job, nil
}

// --- repository.ResolutionLock ---

func (m *memStore) AcquireResolutionLock(context.Context, time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lockHeld {
		return false, nil
	}
	m.lockHeld = true
	return true, nil
}

func (m *memStore) ReleaseResolutionLock(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lockHeld = false
	return nil
}

func (m *memStore) activeMappings() []domain.ProductMapping {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ProductMapping
	for _, mp := range m.mappings {
		if mp.Active {
			out = append(out, mp)
		}
	}
	return out
}
