package assembler

import "strings"

// Ranker scores a candidate document against the query text. It is an
// explicit extension point: the default lexical ranker stands in for
// semantic relevance and can be swapped without touching assembly.
type Ranker interface {
	Score(query string, doc *Document) float64
}

// KeywordRanker scores by lexical substring matching:
// base weight, +0.3 for a whole-query match, +0.1 per distinct query term
// (longer than 2 characters) found, capped at 1.0.
type KeywordRanker struct{}

const (
	wholeQueryBonus = 0.3
	perTermBonus    = 0.1
	maxScore        = 1.0
	minTermLength   = 3
)

// Score implements Ranker.
func (KeywordRanker) Score(query string, doc *Document) float64 {
	score := doc.BaseWeight
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return clamp(score)
	}

	text := strings.ToLower(doc.Source + " " + doc.Text)
	if strings.Contains(text, q) {
		score += wholeQueryBonus
	}

	seen := make(map[string]bool)
	for _, term := range strings.Fields(q) {
		if len(term) < minTermLength || seen[term] {
			continue
		}
		seen[term] = true
		if strings.Contains(text, term) {
			score += perTermBonus
		}
	}
	return clamp(score)
}

func clamp(score float64) float64 {
	if score > maxScore {
		return maxScore
	}
	return score
}
