package resolution

import (
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/user/price-aggregator/internal/domain"
)

// SemanticScorer is an optional third signal, typically embedding-based
// similarity over product names. The engine works without one.
type SemanticScorer interface {
	Score(a, b domain.RawListing) (float64, error)
}

// Signal weights. Edit distance dominates because marketplace names differ
// mostly in spacing and suffixes; token overlap catches re-ordered names.
// The semantic signal, when configured, is blended in rather than trusted
// alone.
const (
	levenshteinWeight = 0.6
	jaccardWeight     = 0.4
	semanticBlend     = 0.35
)

// scorePair computes a [0,1] match score for two listings and tags the
// method that produced it. An exact normalized-name hash match
// short-circuits to 1.0.
func scorePair(a, b domain.RawListing, sem SemanticScorer) (float64, domain.MatchMethod) {
	if a.NameHash != 0 && a.NameHash == b.NameHash {
		return 1.0, domain.MatchExact
	}

	fuzzy := levenshteinWeight*levenshteinRatio(a.NormalizedName, b.NormalizedName) +
		jaccardWeight*tokenJaccard(a.NormalizedName, b.NormalizedName)

	if sem == nil {
		return fuzzy, domain.MatchFuzzy
	}

	s, err := sem.Score(a, b)
	if err != nil {
		// Semantic scoring is best-effort; fall back to the fuzzy signal.
		return fuzzy, domain.MatchFuzzy
	}
	combined := (1-semanticBlend)*fuzzy + semanticBlend*s
	if fuzzy > 0 {
		return combined, domain.MatchHybrid
	}
	return combined, domain.MatchSemantic
}

// levenshteinRatio maps edit distance to [0,1], 1 meaning identical.
func levenshteinRatio(a, b string) float64 {
	if a == "" && b == "" {
		return 1
	}
	maxLen := len([]rune(a))
	if l := len([]rune(b)); l > maxLen {
		maxLen = l
	}
	if maxLen == 0 {
		return 1
	}
	d := levenshtein.ComputeDistance(a, b)
	return 1 - float64(d)/float64(maxLen)
}

// tokenJaccard is set overlap over whitespace tokens.
func tokenJaccard(a, b string) float64 {
	sa := tokenSet(a)
	sb := tokenSet(b)
	if len(sa) == 0 || len(sb) == 0 {
		return 0
	}
	inter := 0
	for t := range sb {
		if _, ok := sa[t]; ok {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	return float64(inter) / float64(union)
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, t := range strings.Fields(s) {
		set[t] = struct{}{}
	}
	return set
}
