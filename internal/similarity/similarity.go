// Package similarity provides fuzzy string comparison for payee matching.
package similarity

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// Normalize upper-cases and trims s for comparison.
func Normalize(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// Ratio returns the sequence-matcher similarity of a and b in [0, 1],
// computed character by character as 2*M/T.
func Ratio(a, b string) float64 {
	if a == "" && b == "" {
		return 1.0
	}
	m := difflib.NewMatcher(strings.Split(a, ""), strings.Split(b, ""))
	return m.Ratio()
}

type pair struct {
	a, b string
}

// Cache memoizes Ratio on normalized string pairs.
// It is unbounded and not safe for concurrent use.
type Cache struct {
	scores map[pair]float64
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{scores: make(map[pair]float64)}
}

// Ratio returns the similarity of the normalized forms of a and b.
func (c *Cache) Ratio(a, b string) float64 {
	key := pair{Normalize(a), Normalize(b)}
	if score, ok := c.scores[key]; ok {
		return score
	}
	score := Ratio(key.a, key.b)
	c.scores[key] = score
	return score
}

// Len returns the number of cached pairs.
func (c *Cache) Len() int {
	return len(c.scores)
}
