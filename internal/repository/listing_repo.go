package repository

import (
	"context"

	"github.com/user/price-aggregator/internal/domain"
)

// UpsertResult reports how a batch write split between first-seen and
// already-known listings. The split drives the crawler's auto-skip rule.
type UpsertResult struct {
	New     int
	Updated int
}

// RawListingStore defines the contract for the raw listing store. Writes
// are keyed upserts on (source_id, external_id); a price change appends a
// price-history point instead of duplicating the row.
type RawListingStore interface {
	UpsertBatch(ctx context.Context, listings []domain.RawListing) (UpsertResult, error)
	// ListAll returns every raw listing, for a fresh resolution run.
	ListAll(ctx context.Context) ([]domain.RawListing, error)
	// ListPending returns listings with dedup_status = pending.
	ListPending(ctx context.Context, limit int) ([]domain.RawListing, error)
	// MarkResolved flips dedup_status to resolved for the given ids.
	MarkResolved(ctx context.Context, ids []int64) error
	// PriceHistory returns the recorded price points for one listing.
	PriceHistory(ctx context.Context, listingID int64) ([]domain.PricePoint, error)
}
