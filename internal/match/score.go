package match

import (
	"fmt"
	"math"
	"strings"

	"piata/matcher-service/internal/model"
)

// Policy names one of the two match-scoring strategies. A single run applies
// one policy across every agent it processes; the choice comes from config.
type Policy string

const (
	// PolicyHybrid is the default: a deterministic weighted score with no
	// external call. Matches are recorded at any score; only scores at or
	// above 80 qualify for notification.
	PolicyHybrid Policy = "hybrid"

	// PolicyAI uses the semantic scorer output directly. A match is recorded
	// (and qualifies for notification) only at 70 or above.
	PolicyAI Policy = "ai"
)

// ParsePolicy validates a configured policy name.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyHybrid, PolicyAI:
		return Policy(s), nil
	}
	return "", fmt.Errorf("unknown scoring policy %q (expected %q or %q)", s, PolicyHybrid, PolicyAI)
}

// RecordThreshold is the minimum score at which a match row is written.
func (p Policy) RecordThreshold() int {
	if p == PolicyAI {
		return 70
	}
	return 0
}

// NotifyThreshold is the minimum score at which a match enters a digest.
func (p Policy) NotifyThreshold() int {
	if p == PolicyAI {
		return 70
	}
	return 80
}

const (
	hybridBase         = 50
	hybridKeywordBonus = 15
	hybridPriceBonus   = 20.0
)

// HybridScore computes the deterministic weighted score for a listing that
// already passed the agent's filters: base 50, +15 for each keyword literally
// present in the title, plus up to 20 for how close the price sits to the
// midpoint of [minPrice, maxPrice] (linear falloff, 0 at the range edges).
// The result is clamped to [0, 100].
func HybridScore(f model.AgentFilters, l model.Listing) int {
	score := float64(hybridBase)

	titleLower := strings.ToLower(l.Title)
	for _, kw := range f.Keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(titleLower, strings.ToLower(kw)) {
			score += hybridKeywordBonus
		}
	}

	if f.MinPrice != nil && f.MaxPrice != nil && *f.MaxPrice > *f.MinPrice {
		half := (*f.MaxPrice - *f.MinPrice) / 2
		mid := *f.MinPrice + half
		diff := math.Abs(l.Price - mid)
		if bonus := hybridPriceBonus * (1 - diff/half); bonus > 0 {
			score += bonus
		}
	}

	return Clamp(int(math.Round(score)))
}

// Clamp bounds a score to [0, 100].
func Clamp(n int) int {
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}
