package resolution

import (
	"fmt"
	"math"
	"strings"

	"github.com/user/price-aggregator/internal/domain"
)

// maxBucketSize caps pathological buckets (a generic first token shared by
// thousands of listings) so scoring stays well below O(n²).
const maxBucketSize = 200

// blockKeys returns the cheap signals a listing is bucketed under. Two
// listings are compared only when they share at least one key:
// the exact name hash, a leading-token prefix + category, or a leading
// token + coarse price band.
func blockKeys(l domain.RawListing) []string {
	keys := []string{fmt.Sprintf("h:%d", l.NameHash)}

	tokens := strings.Fields(l.NormalizedName)
	if len(tokens) == 0 {
		return keys
	}
	prefix := tokens[0]
	if len(tokens) > 1 {
		prefix += " " + tokens[1]
	}
	keys = append(keys,
		fmt.Sprintf("p:%s:%s", prefix, strings.ToLower(l.CategoryRaw)),
		fmt.Sprintf("b:%s:%d", tokens[0], priceBand(l.Price)),
	)
	return keys
}

// priceBand buckets prices into half-decades on a log scale, so listings
// an order of magnitude apart are never compared.
func priceBand(price float64) int {
	if price <= 0 {
		return -1
	}
	return int(math.Floor(math.Log10(price) * 2))
}

// buildBlocks partitions listings into candidate buckets. Oversized
// buckets are dropped; their members still meet through other keys.
func buildBlocks(listings []domain.RawListing) map[string][]int {
	buckets := make(map[string][]int)
	for i, l := range listings {
		for _, key := range blockKeys(l) {
			buckets[key] = append(buckets[key], i)
		}
	}
	for key, members := range buckets {
		if len(members) < 2 || len(members) > maxBucketSize {
			delete(buckets, key)
		}
	}
	return buckets
}
