// Package abuse scores signups for bot and spam likelihood.
package abuse

import (
	"strings"
	"unicode"
)

// Scorer rates how natural an email local part looks.
// Scores are in [0, 1]; low scores look machine generated.
type Scorer interface {
	Score(localPart string) float64
}

// ScorerFunc adapts a plain function to the Scorer interface.
type ScorerFunc func(localPart string) float64

// Score calls f.
func (f ScorerFunc) Score(localPart string) float64 {
	return f(localPart)
}

// minScoredLength is the shortest local part the default scorer judges.
// Shorter strings carry too little signal and always score 1.
const minScoredLength = 6

// minDistinctLength is the shortest local part checked for a near-uniform
// character distribution. Below it, ordinary names like "jdoe1985" rarely
// repeat a character either.
const minDistinctLength = 10

// maxClassSwitches is the most letter/digit alternations a natural local part
// shows. "jdoe1985" switches once, "x7k2q9zm" six times.
const maxClassSwitches = 2

// NaturalnessScorer is the default Scorer. It starts at 1 and subtracts a
// penalty for each trait common in generated addresses: digit-heavy strings,
// skewed vowel ratios, long consonant runs, letters and digits interleaved
// several times, and a near-uniform character distribution.
type NaturalnessScorer struct{}

// Score implements Scorer.
func (NaturalnessScorer) Score(localPart string) float64 {
	s := strings.ToLower(localPart)
	if i := strings.IndexByte(s, '+'); i >= 0 {
		s = s[:i]
	}
	if len(s) < minScoredLength {
		return 1
	}

	const (
		classNone = iota
		classLetter
		classDigit
	)

	var letters, digits, vowels, run, longestRun, switches int
	prev := classNone
	for _, r := range s {
		class := classNone
		switch {
		case unicode.IsDigit(r):
			class = classDigit
			digits++
			run = 0
		case r >= 'a' && r <= 'z':
			class = classLetter
			letters++
			if strings.ContainsRune("aeiouy", r) {
				vowels++
				run = 0
			} else {
				run++
				longestRun = max(longestRun, run)
			}
		default:
			// Separators break consonant runs and class alternation.
			run = 0
		}
		if class != classNone && prev != classNone && class != prev {
			switches++
		}
		prev = class
	}

	score := 1.0

	if float64(digits)/float64(len(s)) > 0.4 {
		score -= 0.4
	}

	if letters > 0 {
		ratio := float64(vowels) / float64(letters)
		if ratio < 0.2 || ratio > 0.7 {
			score -= 0.3
		}
	}

	if longestRun >= 5 {
		score -= 0.3
	}

	if switches > maxClassSwitches {
		score -= 0.3
	}

	if len(s) >= minDistinctLength && distinctRatio(s) > 0.8 {
		score -= 0.2
	}

	return clamp(score, 0, 1)
}

// distinctRatio is the share of distinct runes in s. Random strings over a
// large alphabet rarely repeat characters.
func distinctRatio(s string) float64 {
	seen := make(map[rune]struct{}, len(s))
	n := 0
	for _, r := range s {
		seen[r] = struct{}{}
		n++
	}
	return float64(len(seen)) / float64(n)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
