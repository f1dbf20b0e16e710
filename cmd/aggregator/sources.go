package main

import (
	"time"

	"go.uber.org/zap"

	"github.com/user/price-aggregator/internal/browser"
	"github.com/user/price-aggregator/internal/config"
	"github.com/user/price-aggregator/internal/crawler"
	"github.com/user/price-aggregator/internal/domain"
	"github.com/user/price-aggregator/internal/monitoring"
	"github.com/user/price-aggregator/internal/repository"
)

// sourceDef bundles everything site-specific for one marketplace. Selectors
// and URL templates live here as configuration; the crawl loop never sees
// them.
type sourceDef struct {
	source    domain.Source
	templates crawler.URLTemplates
	selectors crawler.SelectorSet
}

var sourceDefs = []sourceDef{
	{
		source: domain.Source{
			ID:              "shopee",
			Name:            "Shopee",
			BaseURL:         "https://shopee.co.id",
			RequiresBrowser: true,
			Active:          true,
		},
		templates: crawler.URLTemplates{
			Category: "https://shopee.co.id/category/{category}?page={page}",
			Keyword:  "https://shopee.co.id/search?keyword={q}&page={page}",
		},
		selectors: crawler.SelectorSet{
			Item:           "div[data-sqe=item]",
			Name:           "div[data-sqe=name]",
			Price:          "div[data-sqe=name] + div span:last-child",
			URL:            "a",
			ExternalIDAttr: "data-itemid",
			Image:          "img",
			Rating:         "div.shopee-rating-stars__stars",
			SoldCount:      "div.r6HknA",
		},
	},
	{
		source: domain.Source{
			ID:              "tokopedia",
			Name:            "Tokopedia",
			BaseURL:         "https://www.tokopedia.com",
			RequiresBrowser: true,
			Active:          true,
		},
		templates: crawler.URLTemplates{
			Category: "https://www.tokopedia.com/p/{category}?page={page}",
			Keyword:  "https://www.tokopedia.com/search?q={q}&page={page}",
		},
		selectors: crawler.SelectorSet{
			Item:        "div[data-testid=divProductWrapper]",
			Name:        "div[data-testid=spnSRPProdName]",
			Price:       "div[data-testid=spnSRPProdPrice]",
			URL:         "a",
			Image:       "img[data-testid=imgSRPProdMain]",
			Rating:      "span[data-testid=spnSRPProdRating]",
			SoldCount:   "span[data-testid=spnSRPProdSold]",
			Category:    "div[data-testid=spnSRPProdTabShopLoc]",
			Unavailable: "div[data-testid=divSRPProdEmptyStock]",
		},
	},
	{
		source: domain.Source{
			ID:      "bukalapak",
			Name:    "Bukalapak",
			BaseURL: "https://www.bukalapak.com",
			Active:  true,
		},
		templates: crawler.URLTemplates{
			Category: "https://www.bukalapak.com/c/{category}?page={page}",
			Keyword:  "https://www.bukalapak.com/products?search%5Bkeywords%5D={q}&page={page}",
		},
		selectors: crawler.SelectorSet{
			Item:        "div.bl-product-card",
			Name:        "p.bl-product-card__description-name",
			Price:       "p.bl-product-card__description-price",
			URL:         "a.bl-product-card__description-name-link",
			Image:       "img.bl-product-card__thumbnail-img",
			Rating:      "span.bl-product-card__description-rating-text",
			ReviewCount: "span.bl-product-card__description-rating-count",
			SoldCount:   "span.bl-product-card__description-sold-count",
		},
	},
}

const httpUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"

// buildCrawlers wires one SourceCrawler per marketplace. Sources that need
// rendering share the browser session pool; the rest use a throttled HTTP
// client each.
func buildCrawlers(
	cfg *config.Config,
	pool *browser.Pool,
	listings repository.RawListingStore,
	catalog repository.CatalogStore,
	metrics *monitoring.Metrics,
	logger *zap.Logger,
) map[string]crawler.Crawler {
	crawlCfg := crawler.Config{
		FlushThreshold:  cfg.FlushThreshold,
		JitterMin:       time.Duration(cfg.JitterMinMs) * time.Millisecond,
		JitterMax:       time.Duration(cfg.JitterMaxMs) * time.Millisecond,
		BlockCooldown:   time.Duration(cfg.BlockCooldownSec) * time.Second,
		MaxPagesDefault: cfg.MaxPagesDefault,
	}

	crawlers := make(map[string]crawler.Crawler, len(sourceDefs))
	for _, def := range sourceDefs {
		adapter := crawler.NewSelectorAdapter(def.source, def.templates, def.selectors)

		var fetcher crawler.PageFetcher
		if def.source.RequiresBrowser {
			fetcher = crawler.NewBrowserFetcher(pool)
		} else {
			fetcher = crawler.NewHTTPFetcher(httpUserAgent, cfg.PageTimeout(), 2*time.Second)
		}

		crawlers[def.source.ID] = crawler.NewSourceCrawler(
			adapter, fetcher, listings, catalog, crawlCfg, logger, metrics)
	}
	return crawlers
}
