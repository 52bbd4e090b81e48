package retrieval

import (
	"strconv"
	"strings"

	"github.com/kalambet/gamerec/internal/storage"
)

// Criteria narrows an ANN result set. Zero-valued fields do not constrain.
// Date constraints only apply to games whose release date is known.
type Criteria struct {
	YearRange       *[2]int // inclusive
	ExactYear       *int
	PriceLimit      *float64
	ReviewSentiment string
	Developer       string
	Publisher       string
}

// IsZero reports whether the criteria constrain nothing.
func (c Criteria) IsZero() bool {
	return c.YearRange == nil && c.ExactYear == nil && c.PriceLimit == nil &&
		c.ReviewSentiment == "" && c.Developer == "" && c.Publisher == ""
}

// Match reports whether g satisfies every set criterion. A game whose price
// cannot be parsed never satisfies a price limit.
func (c Criteria) Match(g storage.Game) bool {
	if g.ReleaseDate != nil {
		year := g.ReleaseDate.Year()
		if c.YearRange != nil && (year < c.YearRange[0] || year > c.YearRange[1]) {
			return false
		}
		if c.ExactYear != nil && year != *c.ExactYear {
			return false
		}
	}
	if c.PriceLimit != nil {
		price, ok := ParsePrice(g.Price)
		if !ok || price > *c.PriceLimit {
			return false
		}
	}
	if !containsFold(g.AllReviews, c.ReviewSentiment) {
		return false
	}
	if !containsFold(g.Developer, c.Developer) {
		return false
	}
	return containsFold(g.Publisher, c.Publisher)
}

// PostFilter keeps the candidates matching c, in order, and returns the
// first k of them. When nothing matches it returns the first k unfiltered
// candidates instead and reports fellBack.
func PostFilter(candidates []ScoredGame, c Criteria, k int) (out []ScoredGame, fellBack bool) {
	var filtered []ScoredGame
	for _, g := range candidates {
		if c.Match(g.Game) {
			filtered = append(filtered, g)
		}
	}
	if len(filtered) > 0 {
		return head(filtered, k), false
	}
	return head(candidates, k), len(candidates) > 0
}

// ParsePrice reads a catalog price such as "$19.99" or "1,299.00".
func ParsePrice(raw string) (float64, bool) {
	s := strings.NewReplacer("$", "", ",", "").Replace(raw)
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func containsFold(haystack, needle string) bool {
	if needle == "" {
		return true
	}
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func head(games []ScoredGame, k int) []ScoredGame {
	if len(games) > k {
		return games[:k]
	}
	return games
}
