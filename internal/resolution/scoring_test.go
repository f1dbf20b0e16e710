package resolution

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/user/price-aggregator/internal/domain"
)

func named(name string) domain.RawListing {
	l := domain.RawListing{Name: name}
	l.Fingerprint()
	return l
}

type stubSemantic struct {
	score float64
	err   error
}

func (s stubSemantic) Score(_, _ domain.RawListing) (float64, error) {
	return s.score, s.err
}

func TestScorePairExactHash(t *testing.T) {
	a := named("Logitech MX Master 3S")
	b := named("logitech mx-master 3s")

	score, method := scorePair(a, b, nil)
	assert.Equal(t, 1.0, score)
	assert.Equal(t, domain.MatchExact, method)
}

func TestScorePairFuzzy(t *testing.T) {
	a := named("iPhone 15 Pro Max 256GB")
	b := named("iPhone 15 Pro Max 256 GB")

	score, method := scorePair(a, b, nil)
	assert.Equal(t, domain.MatchFuzzy, method)
	assert.Greater(t, score, 0.75)
	assert.Less(t, score, 1.0)

	// Symmetric.
	rev, _ := scorePair(b, a, nil)
	assert.InDelta(t, score, rev, 1e-9)
}

func TestScorePairDissimilar(t *testing.T) {
	a := named("iPhone 15 Pro Max")
	b := named("Rice Cooker 1.8L Deluxe")

	score, _ := scorePair(a, b, nil)
	assert.Less(t, score, 0.5)
}

func TestScorePairSemanticBlend(t *testing.T) {
	a := named("iPhone 15 Pro Max 256GB")
	b := named("iPhone 15 Pro Max 256 GB")

	fuzzyOnly, _ := scorePair(a, b, nil)
	blended, method := scorePair(a, b, stubSemantic{score: 1.0})

	assert.Equal(t, domain.MatchHybrid, method)
	assert.Greater(t, blended, fuzzyOnly)
}

func TestScorePairSemanticFailureFallsBack(t *testing.T) {
	a := named("iPhone 15 Pro Max 256GB")
	b := named("iPhone 15 Pro Max 256 GB")

	fuzzyOnly, _ := scorePair(a, b, nil)
	score, method := scorePair(a, b, stubSemantic{err: errors.New("model down")})

	assert.Equal(t, domain.MatchFuzzy, method)
	assert.Equal(t, fuzzyOnly, score)
}

func TestLevenshteinRatio(t *testing.T) {
	assert.Equal(t, 1.0, levenshteinRatio("abc", "abc"))
	assert.Equal(t, 1.0, levenshteinRatio("", ""))
	assert.Equal(t, 0.0, levenshteinRatio("abc", ""))
	assert.InDelta(t, 0.75, levenshteinRatio("abcd", "abce"), 1e-9)
}

func TestTokenJaccard(t *testing.T) {
	assert.Equal(t, 1.0, tokenJaccard("a b c", "c b a"))
	assert.Equal(t, 0.0, tokenJaccard("a b", "c d"))
	assert.InDelta(t, 0.4, tokenJaccard("a b c", "a b d e"), 1e-9)
	assert.Equal(t, 0.0, tokenJaccard("", "a"))
	// Duplicate tokens count once.
	assert.Equal(t, 1.0, tokenJaccard("a a b", "a b b"))
}

func TestBlockKeysShareBucketForSimilarNames(t *testing.T) {
	a := named("iPhone 15 Pro Max 256GB")
	a.CategoryRaw = "Handphone"
	a.Price = 28000000
	b := named("iPhone 15 Pro Max 256 GB")
	b.CategoryRaw = "Handphone"
	b.Price = 27500000

	shared := false
	for _, ka := range blockKeys(a) {
		for _, kb := range blockKeys(b) {
			if ka == kb {
				shared = true
			}
		}
	}
	assert.True(t, shared)
}

func TestPriceBand(t *testing.T) {
	assert.Equal(t, -1, priceBand(0))
	assert.Equal(t, -1, priceBand(-5))
	// An order of magnitude apart never lands in the same band.
	assert.NotEqual(t, priceBand(100000), priceBand(1000000))
	// Close prices share one.
	assert.Equal(t, priceBand(27500000), priceBand(28000000))
}

func TestBuildBlocksDropsOversizedBuckets(t *testing.T) {
	listings := make([]domain.RawListing, 0, maxBucketSize+10)
	for i := 0; i < maxBucketSize+10; i++ {
		l := named("Generic Phone Case")
		l.CategoryRaw = "aksesoris"
		l.Price = 50000
		l.ID = int64(i + 1)
		// Distinct hashes so only the shared prefix/band buckets grow.
		l.NameHash = uint64(i + 1)
		listings = append(listings, l)
	}
	buckets := buildBlocks(listings)
	for key, members := range buckets {
		assert.LessOrEqual(t, len(members), maxBucketSize, "bucket %s", key)
		assert.GreaterOrEqual(t, len(members), 2, "bucket %s", key)
	}
}
