package storage

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/user/price-aggregator/internal/domain"
)

func (s *PostgresStore) DeleteAll(ctx context.Context) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// matching_pairs and product_mappings reference canonical_products,
	// so they go first.
	for _, stmt := range []string{
		`DELETE FROM matching_pairs`,
		`DELETE FROM product_mappings`,
		`DELETE FROM canonical_products`,
	} {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) InsertCanonical(ctx context.Context, p *domain.CanonicalProduct) error {
	return s.db.QueryRow(ctx,
		`INSERT INTO canonical_products (name, normalized_name, slug, brand_id, category_id,
		   min_price, max_price, avg_rating, total_reviews, total_sold, source_count,
		   quality_score, is_verified, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW(), NOW())
		 RETURNING id`,
		p.Name, p.NormalizedName, p.Slug, p.BrandID, p.CategoryID,
		p.MinPrice, p.MaxPrice, p.AvgRating, p.TotalReviews, p.TotalSold, p.SourceCount,
		p.QualityScore, p.IsVerified, p.IsActive,
	).Scan(&p.ID)
}

func (s *PostgresStore) UpdateCanonical(ctx context.Context, p *domain.CanonicalProduct) error {
	_, err := s.db.Exec(ctx,
		`UPDATE canonical_products SET
		   name = $2, normalized_name = $3, slug = $4, min_price = $5, max_price = $6,
		   avg_rating = $7, total_reviews = $8, total_sold = $9, source_count = $10,
		   quality_score = $11, updated_at = NOW()
		 WHERE id = $1`,
		p.ID, p.Name, p.NormalizedName, p.Slug, p.MinPrice, p.MaxPrice,
		p.AvgRating, p.TotalReviews, p.TotalSold, p.SourceCount, p.QualityScore)
	return err
}

func (s *PostgresStore) CanonicalByListing(ctx context.Context, listingID int64) (*domain.CanonicalProduct, error) {
	var p domain.CanonicalProduct
	err := s.db.QueryRow(ctx,
		`SELECT cp.id, cp.name, cp.normalized_name, cp.slug, cp.brand_id, cp.category_id,
		   cp.min_price, cp.max_price, cp.avg_rating, cp.total_reviews, cp.total_sold,
		   cp.source_count, cp.quality_score, cp.is_verified, cp.is_active, cp.created_at, cp.updated_at
		 FROM canonical_products cp
		 JOIN product_mappings pm ON pm.canonical_id = cp.id
		 WHERE pm.raw_listing_id = $1 AND pm.active`,
		listingID,
	).Scan(&p.ID, &p.Name, &p.NormalizedName, &p.Slug, &p.BrandID, &p.CategoryID,
		&p.MinPrice, &p.MaxPrice, &p.AvgRating, &p.TotalReviews, &p.TotalSold,
		&p.SourceCount, &p.QualityScore, &p.IsVerified, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) ListingsByCanonical(ctx context.Context, canonicalID int64) ([]domain.RawListing, error) {
	rows, err := s.db.Query(ctx,
		`SELECT rl.id, rl.source_id, rl.external_id, rl.external_url, rl.name, rl.normalized_name, rl.name_hash,
		   rl.price, rl.original_price, rl.discount_percent, rl.brand_raw, rl.category_raw, rl.image_url,
		   rl.rating, rl.review_count, rl.sold_count, rl.available, rl.specs, rl.metadata, rl.dedup_status,
		   rl.crawled_at, rl.updated_at
		 FROM raw_listings rl
		 JOIN product_mappings pm ON pm.raw_listing_id = rl.id
		 WHERE pm.canonical_id = $1 AND pm.active
		 ORDER BY rl.id`, canonicalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanListings(rows)
}

func (s *PostgresStore) RetireMappings(ctx context.Context, listingIDs []int64) error {
	if len(listingIDs) == 0 {
		return nil
	}
	_, err := s.db.Exec(ctx,
		`UPDATE product_mappings SET active = FALSE
		 WHERE raw_listing_id = ANY($1) AND active`, listingIDs)
	return err
}

func (s *PostgresStore) InsertMappings(ctx context.Context, mappings []domain.ProductMapping) error {
	if len(mappings) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, m := range mappings {
		batch.Queue(
			`INSERT INTO product_mappings (raw_listing_id, canonical_id, confidence_score, method, job_id, active, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, NOW())`,
			m.RawListingID, m.CanonicalID, m.ConfidenceScore, m.Method, m.JobID, m.Active)
	}
	return s.db.SendBatch(ctx, batch).Close()
}

func (s *PostgresStore) InsertMatchingPairs(ctx context.Context, pairs []domain.MatchingPair) error {
	if len(pairs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, p := range pairs {
		batch.Queue(
			`INSERT INTO matching_pairs (listing_a, listing_b, source_a, source_b, score, method, canonical_id, job_id, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())`,
			p.ListingA, p.ListingB, p.SourceA, p.SourceB, p.Score, p.Method, p.CanonicalID, p.JobID)
	}
	return s.db.SendBatch(ctx, batch).Close()
}
