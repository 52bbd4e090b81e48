package intent

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/kalambet/gamerec/internal/retrieval"
)

var (
	yearPattern  = regexp.MustCompile(`\b(19|20)\d{2}\b`)
	pricePattern = regexp.MustCompile(`\$?\d+(?:\.\d{1,2})?`)
)

// Sentiments in match priority order.
var Sentiments = []string{"Positive", "Mixed", "Negative"}

// Metadata holds the filter hints read directly from query text.
type Metadata struct {
	Year   *int
	Price  *float64
	Review string
}

// ExtractMetadata pulls a release year, a price ceiling and a review
// sentiment out of free text. Each field takes its first match and is
// independent of the others, so a bare "2020" fills both Year and Price.
func ExtractMetadata(text string) Metadata {
	var m Metadata

	if s := yearPattern.FindString(text); s != "" {
		if y, err := strconv.Atoi(s); err == nil {
			m.Year = &y
		}
	}

	if s := pricePattern.FindString(text); s != "" {
		if p, err := strconv.ParseFloat(strings.TrimPrefix(s, "$"), 64); err == nil {
			m.Price = &p
		}
	}

	lower := strings.ToLower(text)
	for _, s := range Sentiments {
		if strings.Contains(lower, strings.ToLower(s)) {
			m.Review = s
			break
		}
	}
	return m
}

// Criteria converts the hints into post-filter criteria (exact year).
func (m Metadata) Criteria() retrieval.Criteria {
	return retrieval.Criteria{
		ExactYear:       m.Year,
		PriceLimit:      m.Price,
		ReviewSentiment: m.Review,
	}
}
