package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/user/price-aggregator/internal/domain"
	"github.com/user/price-aggregator/internal/repository"
)

// PostgresStore handles interactions with the PostgreSQL database. It
// implements the raw listing, canonical catalog, crawl catalog and
// resolution job store contracts.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(connStr string) (*PostgresStore, error) {
	db, err := pgxpool.New(context.Background(), connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *PostgresStore) Close() {
	s.db.Close()
}

const listingColumns = `id, source_id, external_id, external_url, name, normalized_name, name_hash,
	price, original_price, discount_percent, brand_raw, category_raw, image_url,
	rating, review_count, sold_count, available, specs, metadata, dedup_status,
	crawled_at, updated_at`

// UpsertBatch writes one flush of parsed listings in a single transaction.
// A row is keyed on (source_id, external_id); a changed price also appends
// a price history point, and a changed name hash sends the listing back
// through entity resolution.
func (s *PostgresStore) UpsertBatch(ctx context.Context, listings []domain.RawListing) (repository.UpsertResult, error) {
	var res repository.UpsertResult
	if len(listings) == 0 {
		return res, nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return res, err
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, l := range listings {
		batch.Queue(
			`INSERT INTO raw_listings (source_id, external_id, external_url, name, normalized_name, name_hash,
			   price, original_price, discount_percent, brand_raw, category_raw, image_url,
			   rating, review_count, sold_count, available, specs, metadata, dedup_status, crawled_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, 'pending', NOW(), NOW())
			 ON CONFLICT (source_id, external_id) DO UPDATE SET
			   external_url = EXCLUDED.external_url, name = EXCLUDED.name,
			   normalized_name = EXCLUDED.normalized_name, name_hash = EXCLUDED.name_hash,
			   price = EXCLUDED.price, original_price = EXCLUDED.original_price,
			   discount_percent = EXCLUDED.discount_percent, brand_raw = EXCLUDED.brand_raw,
			   category_raw = EXCLUDED.category_raw, image_url = EXCLUDED.image_url,
			   rating = EXCLUDED.rating, review_count = EXCLUDED.review_count,
			   sold_count = EXCLUDED.sold_count, available = EXCLUDED.available,
			   specs = EXCLUDED.specs, metadata = EXCLUDED.metadata,
			   dedup_status = CASE WHEN raw_listings.name_hash <> EXCLUDED.name_hash
			                       THEN 'pending' ELSE raw_listings.dedup_status END,
			   updated_at = NOW()
			 RETURNING id, (xmax = 0) AS inserted`,
			l.SourceID, l.ExternalID, l.ExternalURL, l.Name, l.NormalizedName, int64(l.NameHash),
			l.Price, l.OriginalPrice, l.DiscountPercent, l.BrandRaw, l.CategoryRaw, l.ImageURL,
			l.Rating, l.ReviewCount, l.SoldCount, l.Available, l.Specs, l.Metadata,
		)
		// Append a price point when the latest recorded price differs.
		// The subquery is NULL for a brand new listing, which also records
		// the initial price.
		batch.Queue(
			`INSERT INTO price_history (listing_id, price, recorded_at)
			 SELECT rl.id, rl.price, NOW() FROM raw_listings rl
			 WHERE rl.source_id = $1 AND rl.external_id = $2
			   AND rl.price IS DISTINCT FROM (
			     SELECT ph.price FROM price_history ph
			     WHERE ph.listing_id = rl.id
			     ORDER BY ph.recorded_at DESC LIMIT 1)`,
			l.SourceID, l.ExternalID,
		)
	}

	br := tx.SendBatch(ctx, batch)
	for range listings {
		var id int64
		var inserted bool
		if err := br.QueryRow().Scan(&id, &inserted); err != nil {
			br.Close()
			return repository.UpsertResult{}, err
		}
		if inserted {
			res.New++
		} else {
			res.Updated++
		}
		if _, err := br.Exec(); err != nil {
			br.Close()
			return repository.UpsertResult{}, err
		}
	}
	if err := br.Close(); err != nil {
		return repository.UpsertResult{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return repository.UpsertResult{}, err
	}
	return res, nil
}

func (s *PostgresStore) ListAll(ctx context.Context) ([]domain.RawListing, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+listingColumns+` FROM raw_listings ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanListings(rows)
}

func (s *PostgresStore) ListPending(ctx context.Context, limit int) ([]domain.RawListing, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+listingColumns+` FROM raw_listings
		 WHERE dedup_status = 'pending' ORDER BY id LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanListings(rows)
}

func (s *PostgresStore) MarkResolved(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.Exec(ctx,
		`UPDATE raw_listings SET dedup_status = 'resolved', updated_at = NOW()
		 WHERE id = ANY($1)`, ids)
	return err
}

func (s *PostgresStore) PriceHistory(ctx context.Context, listingID int64) ([]domain.PricePoint, error) {
	rows, err := s.db.Query(ctx,
		`SELECT listing_id, price, recorded_at FROM price_history
		 WHERE listing_id = $1 ORDER BY recorded_at`, listingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []domain.PricePoint
	for rows.Next() {
		var p domain.PricePoint
		if err := rows.Scan(&p.ListingID, &p.Price, &p.RecordedAt); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

func scanListings(rows pgx.Rows) ([]domain.RawListing, error) {
	var listings []domain.RawListing
	for rows.Next() {
		var l domain.RawListing
		var hash int64
		if err := rows.Scan(
			&l.ID, &l.SourceID, &l.ExternalID, &l.ExternalURL, &l.Name, &l.NormalizedName, &hash,
			&l.Price, &l.OriginalPrice, &l.DiscountPercent, &l.BrandRaw, &l.CategoryRaw, &l.ImageURL,
			&l.Rating, &l.ReviewCount, &l.SoldCount, &l.Available, &l.Specs, &l.Metadata, &l.DedupStatus,
			&l.CrawledAt, &l.UpdatedAt,
		); err != nil {
			return nil, err
		}
		l.NameHash = uint64(hash)
		listings = append(listings, l)
	}
	return listings, rows.Err()
}
