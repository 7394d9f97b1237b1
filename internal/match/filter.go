// Package match implements the deterministic half of the matching pipeline:
// the pre-filter applied before any external call, and the scoring policies.
package match

import (
	"strings"

	"piata/matcher-service/internal/model"
)

// PassesFilters reports whether a listing satisfies an agent's structured
// filters. All criteria are optional and AND-combined; the keyword list
// itself uses OR semantics. An agent with no filters passes every listing
// and relies entirely on semantic scoring downstream.
//
// Pure and deterministic — no network, no clock.
func PassesFilters(f model.AgentFilters, l model.Listing) bool {
	if f.MinPrice != nil && l.Price < *f.MinPrice {
		return false
	}
	if f.MaxPrice != nil && l.Price > *f.MaxPrice {
		return false
	}

	if f.Location != "" {
		if !strings.Contains(strings.ToLower(l.Location), strings.ToLower(f.Location)) {
			return false
		}
	}

	if f.CategoryID != nil && l.CategoryID != *f.CategoryID {
		return false
	}

	if len(f.Keywords) > 0 && !containsAnyKeyword(l.Title, l.Description, f.Keywords) {
		return false
	}

	return true
}

// containsAnyKeyword returns true if any keyword appears (case-insensitive)
// in the combined title + description text. Empty keywords impose no
// constraint, so a list with no non-empty entries passes everything.
func containsAnyKeyword(title, description string, keywords []string) bool {
	combined := strings.ToLower(title + " " + description)
	constrained := false
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		constrained = true
		if strings.Contains(combined, strings.ToLower(kw)) {
			return true
		}
	}
	return !constrained
}
