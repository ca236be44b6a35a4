// Package matcher implements the trigger matching engine. Matching is a
// pure function over a comment text and a resolved trigger configuration:
// same inputs always produce the same answer.
package matcher

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/htheomoller/calmer-sub000/internal/domain"
)

// Config is the matching-relevant slice of a resolved automation config.
type Config struct {
	Mode          domain.TriggerMode
	Triggers      []string
	TypoTolerance bool
}

// Match reports whether the comment text satisfies the trigger
// configuration. An empty trigger list or an empty comment never matches.
func Match(comment string, cfg Config) bool {
	tokens := Tokenize(comment)
	if len(tokens) == 0 {
		return false
	}

	triggers := normalizeTriggers(cfg.Triggers)
	if len(triggers) == 0 {
		return false
	}

	switch cfg.Mode {
	case domain.ModeExactPhrase:
		for _, trig := range triggers {
			if matchPhrase(tokens, trig, cfg.TypoTolerance) {
				return true
			}
		}
		return false
	case domain.ModeAnyKeywords:
		for _, trig := range triggers {
			for _, want := range trig {
				if containsToken(tokens, want, cfg.TypoTolerance) {
					return true
				}
			}
		}
		return false
	case domain.ModeAllWords:
		for _, trig := range triggers {
			for _, want := range trig {
				if !containsToken(tokens, want, cfg.TypoTolerance) {
					return false
				}
			}
		}
		return true
	default:
		return false
	}
}

// Tokenize lowercases, NFKC-normalizes and splits text into tokens on any
// run of non-letter, non-digit runes.
func Tokenize(text string) []string {
	normalized := strings.ToLower(norm.NFKC.String(text))
	return strings.FieldsFunc(normalized, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// normalizeTriggers tokenizes each trigger entry, dropping entries that
// normalize to nothing. Entries are normalized at comparison time, not at
// storage time, so stored casing is irrelevant.
func normalizeTriggers(triggers []string) [][]string {
	out := make([][]string, 0, len(triggers))
	for _, t := range triggers {
		tokens := Tokenize(t)
		if len(tokens) > 0 {
			out = append(out, tokens)
		}
	}
	return out
}

// matchPhrase reports whether the trigger token sequence appears in the
// comment as a contiguous whole-word run. With typo tolerance the phrase
// may instead be within edit distance 1 of some contiguous token run; a
// single edit can also merge or split a word, so run lengths one off the
// trigger length are considered too.
func matchPhrase(tokens, trigger []string, typo bool) bool {
	n := len(trigger)
	for start := 0; start < len(tokens); start++ {
		if start+n <= len(tokens) && equalRun(tokens[start:start+n], trigger) {
			return true
		}
	}
	if !typo {
		return false
	}

	phrase := strings.Join(trigger, " ")
	for _, runLen := range []int{n - 1, n, n + 1} {
		if runLen < 1 {
			continue
		}
		for start := 0; start+runLen <= len(tokens); start++ {
			run := strings.Join(tokens[start:start+runLen], " ")
			if WithinDistanceOne(run, phrase) {
				return true
			}
		}
	}
	return false
}

func equalRun(run, trigger []string) bool {
	for i := range trigger {
		if run[i] != trigger[i] {
			return false
		}
	}
	return true
}

// containsToken reports whether want appears among the tokens, exactly or
// within edit distance 1 when typo tolerance is enabled.
func containsToken(tokens []string, want string, typo bool) bool {
	for _, tok := range tokens {
		if tok == want {
			return true
		}
		if typo && WithinDistanceOne(tok, want) {
			return true
		}
	}
	return false
}

// WithinDistanceOne reports whether the Levenshtein distance between a and
// b is at most 1.
func WithinDistanceOne(a, b string) bool {
	if a == b {
		return true
	}
	ra, rb := []rune(a), []rune(b)
	if abs(len(ra)-len(rb)) > 1 {
		return false
	}
	return Levenshtein(ra, rb) <= 1
}

// Levenshtein computes the standard single-character insert/delete/
// substitute edit distance between two rune slices.
func Levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := 0; j <= len(b); j++ {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, min(curr[j-1]+1, prev[j-1]+cost))
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
