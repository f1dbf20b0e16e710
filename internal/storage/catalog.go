package storage

import (
	"context"
	"time"

	"github.com/user/price-aggregator/internal/domain"
)

func (s *PostgresStore) ListSources(ctx context.Context) ([]domain.Source, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, name, base_url, requires_browser, active FROM sources ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sources []domain.Source
	for rows.Next() {
		var src domain.Source
		if err := rows.Scan(&src.ID, &src.Name, &src.BaseURL, &src.RequiresBrowser, &src.Active); err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

func (s *PostgresStore) ActiveCategories(ctx context.Context, sourceID string) ([]domain.CrawlTarget, error) {
	rows, err := s.db.Query(ctx,
		`SELECT source_id, category_id, max_pages, last_crawled_at
		 FROM crawl_categories WHERE source_id = $1 AND active
		 ORDER BY category_id`, sourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var targets []domain.CrawlTarget
	for rows.Next() {
		t := domain.CrawlTarget{Kind: domain.TargetCategory}
		if err := rows.Scan(&t.SourceID, &t.CategoryID, &t.MaxPages, &t.LastCrawledAt); err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

func (s *PostgresStore) ActiveKeywords(ctx context.Context, sourceID string) ([]domain.CrawlTarget, error) {
	rows, err := s.db.Query(ctx,
		`SELECT source_id, keyword, max_pages, last_crawled_at
		 FROM crawl_keywords WHERE source_id = $1 AND active
		 ORDER BY keyword`, sourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var targets []domain.CrawlTarget
	for rows.Next() {
		t := domain.CrawlTarget{Kind: domain.TargetKeyword}
		if err := rows.Scan(&t.SourceID, &t.Keyword, &t.MaxPages, &t.LastCrawledAt); err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

func (s *PostgresStore) TouchTarget(ctx context.Context, target domain.CrawlTarget, at time.Time) error {
	var err error
	if target.Kind == domain.TargetCategory {
		_, err = s.db.Exec(ctx,
			`UPDATE crawl_categories SET last_crawled_at = $3
			 WHERE source_id = $1 AND category_id = $2`,
			target.SourceID, target.CategoryID, at)
	} else {
		_, err = s.db.Exec(ctx,
			`UPDATE crawl_keywords SET last_crawled_at = $3
			 WHERE source_id = $1 AND keyword = $2`,
			target.SourceID, target.Keyword, at)
	}
	return err
}

func (s *PostgresStore) CreateSession(ctx context.Context, cs *domain.CrawlSession) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO crawl_sessions (id, source_id, target_key, started_at, status)
		 VALUES ($1, $2, $3, $4, $5)`,
		cs.ID, cs.SourceID, cs.TargetKey, cs.StartedAt, cs.Status)
	return err
}

func (s *PostgresStore) UpdateSession(ctx context.Context, cs *domain.CrawlSession) error {
	_, err := s.db.Exec(ctx,
		`UPDATE crawl_sessions SET
		   completed_at = $2, total_items = $3, new_items = $4,
		   updated_items = $5, error_count = $6, status = $7
		 WHERE id = $1`,
		cs.ID, cs.CompletedAt, cs.TotalItems, cs.NewItems,
		cs.UpdatedItems, cs.ErrorCount, cs.Status)
	return err
}
