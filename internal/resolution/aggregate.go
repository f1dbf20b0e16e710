package resolution

import (
	"context"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/gosimple/slug"

	"github.com/user/price-aggregator/internal/domain"
)

func sourcePairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "|" + b
}

type pairSignal struct {
	score  float64
	method domain.MatchMethod
}

// bestPairSignals picks, per listing, the strongest pair that pulled it
// into the cluster; that pair's score and method become the listing's
// mapping confidence.
func bestPairSignals(pairs []scoredPair) map[int64]pairSignal {
	best := make(map[int64]pairSignal)
	for _, p := range pairs {
		for _, id := range [2]int64{p.aID, p.bID} {
			if cur, ok := best[id]; !ok || p.score > cur.score {
				best[id] = pairSignal{score: p.score, method: p.method}
			}
		}
	}
	return best
}

// attachableCanonical returns the canonical product an already-resolved
// cluster member maps to, choosing the lowest-id member for determinism.
// Multiple distinct canonicals in one cluster are not merged incrementally;
// the first one wins and the rest stay untouched.
func (e *Engine) attachableCanonical(ctx context.Context, members []domain.RawListing, pending map[int64]bool) (*domain.CanonicalProduct, error) {
	for _, m := range members { // members arrive sorted by id
		if pending[m.ID] {
			continue
		}
		c, err := e.canonical.CanonicalByListing(ctx, m.ID)
		if err != nil {
			return nil, err
		}
		if c != nil {
			return c, nil
		}
	}
	return nil, nil
}

func (e *Engine) insertPairRows(ctx context.Context, jobID string, canonicalID int64, pairs []scoredPair) error {
	if len(pairs) == 0 {
		return nil
	}
	rows := make([]domain.MatchingPair, len(pairs))
	for i, p := range pairs {
		rows[i] = domain.MatchingPair{
			ListingA:    p.aID,
			ListingB:    p.bID,
			SourceA:     p.aSrc,
			SourceB:     p.bSrc,
			Score:       p.score,
			Method:      p.method,
			CanonicalID: canonicalID,
			JobID:       jobID,
		}
	}
	return e.canonical.InsertMatchingPairs(ctx, rows)
}

func mergeListings(existing, incoming []domain.RawListing) []domain.RawListing {
	seen := make(map[int64]struct{}, len(existing)+len(incoming))
	out := make([]domain.RawListing, 0, len(existing)+len(incoming))
	for _, l := range existing {
		if _, dup := seen[l.ID]; dup {
			continue
		}
		seen[l.ID] = struct{}{}
		out = append(out, l)
	}
	for _, l := range incoming {
		if _, dup := seen[l.ID]; dup {
			continue
		}
		seen[l.ID] = struct{}{}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// aggregate recomputes a canonical product's representative fields from
// its member listings. Deterministic: the representative name is the most
// frequent normalized name, ties broken by longer raw name then lowest id.
func aggregate(c *domain.CanonicalProduct, members []domain.RawListing) {
	rep := representative(members)
	c.Name = rep.Name
	c.NormalizedName = rep.NormalizedName
	c.Slug = slug.Make(rep.Name) + "-" + strconv.FormatInt(members[0].ID, 10)

	minPrice, maxPrice := math.MaxFloat64, 0.0
	ratingWeight, ratingSum := 0.0, 0.0
	totalReviews, totalSold := 0, 0
	sources := make(map[string]struct{})

	for _, m := range members {
		if m.Price > 0 {
			if m.Price < minPrice {
				minPrice = m.Price
			}
			if m.Price > maxPrice {
				maxPrice = m.Price
			}
		}
		if m.Rating > 0 {
			w := float64(m.ReviewCount)
			if w == 0 {
				w = 1
			}
			ratingSum += m.Rating * w
			ratingWeight += w
		}
		totalReviews += m.ReviewCount
		totalSold += m.SoldCount
		sources[m.SourceID] = struct{}{}
	}
	if minPrice == math.MaxFloat64 {
		minPrice = 0
	}
	c.MinPrice = minPrice
	c.MaxPrice = maxPrice
	if ratingWeight > 0 {
		c.AvgRating = ratingSum / ratingWeight
	}
	c.TotalReviews = totalReviews
	c.TotalSold = totalSold
	c.SourceCount = len(sources)
	c.QualityScore = qualityScore(c.SourceCount, c.AvgRating, totalReviews)
	c.UpdatedAt = time.Now()
}

func representative(members []domain.RawListing) domain.RawListing {
	freq := make(map[string]int)
	for _, m := range members {
		freq[m.NormalizedName]++
	}
	rep := members[0]
	for _, m := range members[1:] {
		switch {
		case freq[m.NormalizedName] > freq[rep.NormalizedName]:
			rep = m
		case freq[m.NormalizedName] == freq[rep.NormalizedName] && len(m.Name) > len(rep.Name):
			rep = m
		}
	}
	return rep
}

// qualityScore ranks canonical products for default search ordering:
// source coverage first, then rating, then review volume on a log scale.
func qualityScore(sourceCount int, avgRating float64, totalReviews int) float64 {
	coverage := math.Min(float64(sourceCount)/5.0, 1)
	rating := avgRating / 5.0
	volume := math.Min(math.Log10(float64(totalReviews)+1)/4.0, 1)
	return 0.4*coverage + 0.4*rating + 0.2*volume
}
