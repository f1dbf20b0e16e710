package repository

import (
	"context"

	"github.com/user/price-aggregator/internal/domain"
)

// CanonicalStore defines the contract for the canonical catalog written by
// the entity resolution engine. It is the engine's single-writer surface;
// the single-flight job guarantee serializes access.
type CanonicalStore interface {
	// DeleteAll wipes canonical products and mappings for a fresh rebuild.
	DeleteAll(ctx context.Context) error
	// InsertCanonical persists a new canonical product and sets its ID.
	InsertCanonical(ctx context.Context, p *domain.CanonicalProduct) error
	// UpdateCanonical rewrites the aggregates of an existing product.
	UpdateCanonical(ctx context.Context, p *domain.CanonicalProduct) error
	// CanonicalByListing returns the active canonical a listing maps to,
	// or nil when the listing is unmapped.
	CanonicalByListing(ctx context.Context, listingID int64) (*domain.CanonicalProduct, error)
	// ListingsByCanonical returns the raw listings actively mapped to a
	// canonical product.
	ListingsByCanonical(ctx context.Context, canonicalID int64) ([]domain.RawListing, error)
	// RetireMappings deactivates any active mappings for the given listings.
	RetireMappings(ctx context.Context, listingIDs []int64) error
	InsertMappings(ctx context.Context, mappings []domain.ProductMapping) error
	InsertMatchingPairs(ctx context.Context, pairs []domain.MatchingPair) error
}

// ResolutionJobStore persists resolution job rows and their progress.
type ResolutionJobStore interface {
	CreateJob(ctx context.Context, job *domain.ResolutionJob) error
	UpdateJob(ctx context.Context, job *domain.ResolutionJob) error
	GetJob(ctx context.Context, id string) (*domain.ResolutionJob, error)
}
