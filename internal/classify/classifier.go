// Package classify derives a search strategy and complexity class from
// the query text alone. Classification is a pure function: no state, no
// I/O, identical output for identical input.
package classify

import (
	"regexp"
	"strings"
)

// Strategy selects how a query is executed against the store.
type Strategy string

const (
	StrategyDense  Strategy = "dense"
	StrategySparse Strategy = "sparse"
	StrategyHybrid Strategy = "hybrid"
)

// Complexity buckets a query by how much reranking effort it deserves.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

// Features are the signals extracted from the query text.
type Features struct {
	Length       int  `json:"length"`
	WordCount    int  `json:"word_count"`
	HasQuotes    bool `json:"has_quotes"`
	HasOperators bool `json:"has_operators"`
	HasCode      bool `json:"has_code"`
	IsQuestion   bool `json:"is_question"`
	HasAgentic   bool `json:"has_agentic"`
}

// Classification is the full classifier output.
type Classification struct {
	Strategy   Strategy   `json:"strategy"`
	Alpha      float64    `json:"alpha"`
	Complexity Complexity `json:"complexity"`
	Features   Features   `json:"features"`
	Score      int        `json:"score"`
}

var (
	// "exact phrase" or 'exact phrase'
	quotePattern = regexp.MustCompile(`"[^"]+"|'[^']+'`)

	// identifier.identifier or identifier(args)
	codePattern = regexp.MustCompile(`\b[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*|\([^)]*\))`)

	questionWords = map[string]bool{
		"what": true, "how": true, "why": true, "when": true,
		"where": true, "who": true, "which": true, "can": true,
		"does": true, "is": true, "are": true,
	}

	agenticVerbs = map[string]bool{
		"create": true, "build": true, "implement": true, "write": true,
		"fix": true, "debug": true, "refactor": true, "deploy": true,
		"configure": true, "install": true, "migrate": true, "optimize": true,
	}
)

// DefaultComplexThreshold is the complexity score at which a query
// counts as complex.
const DefaultComplexThreshold = 5

// Classify extracts features from the query text and picks strategy,
// dense weight, and complexity.
//
// Strategy rules, first match wins:
//   - quoted substring: sparse with alpha 0.1 (lexical match dominates)
//   - code syntax: hybrid with alpha 0.3
//   - default: hybrid with alpha 0.7
func Classify(text string) Classification {
	return ClassifyAt(text, DefaultComplexThreshold)
}

// ClassifyAt classifies with a configurable complex threshold. A
// threshold below 1 falls back to the default.
func ClassifyAt(text string, complexAt int) Classification {
	features := extractFeatures(text)
	score := complexityScore(features)

	c := Classification{
		Features:   features,
		Score:      score,
		Complexity: complexityClass(score, complexAt),
	}

	switch {
	case features.HasQuotes:
		c.Strategy = StrategySparse
		c.Alpha = 0.1
	case features.HasCode:
		c.Strategy = StrategyHybrid
		c.Alpha = 0.3
	default:
		c.Strategy = StrategyHybrid
		c.Alpha = 0.7
	}

	return c
}

func extractFeatures(text string) Features {
	words := strings.Fields(text)
	lower := strings.ToLower(text)

	f := Features{
		Length:    len(text),
		WordCount: len(words),
		HasQuotes: quotePattern.MatchString(text),
		HasCode:   codePattern.MatchString(text),
	}

	for _, w := range words {
		switch w {
		case "AND", "OR", "NOT":
			f.HasOperators = true
		}
	}

	if strings.HasSuffix(strings.TrimSpace(text), "?") {
		f.IsQuestion = true
	} else if len(words) > 0 && questionWords[strings.ToLower(words[0])] {
		f.IsQuestion = true
	}

	for verb := range agenticVerbs {
		if strings.Contains(lower, verb) {
			f.HasAgentic = true
			break
		}
	}

	return f
}

func complexityScore(f Features) int {
	score := 0

	switch {
	case f.Length > 100:
		score += 3
	case f.Length > 50:
		score += 2
	case f.Length > 25:
		score += 1
	}

	switch {
	case f.WordCount > 12:
		score += 2
	case f.WordCount > 8:
		score += 1
	}

	if f.HasQuotes {
		score++
	}
	if f.HasOperators {
		score += 2
	}
	if f.HasCode {
		score += 3
	}
	if f.IsQuestion {
		score++
	}
	if f.HasAgentic {
		score += 2
	}

	return score
}

func complexityClass(score, complexAt int) Complexity {
	if complexAt < 1 {
		complexAt = DefaultComplexThreshold
	}
	switch {
	case score >= complexAt:
		return ComplexityComplex
	case score >= 2:
		return ComplexityModerate
	default:
		return ComplexitySimple
	}
}
