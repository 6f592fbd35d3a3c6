// Package moderation screens user-supplied text before it reaches another
// participant. Chat lines are checked against a keyword/phrase blocklist
// (with leetspeak folding) and a set of spam heuristics; onboarding tags go
// through the same blocklist and the contact checks.
package moderation

import (
	"strings"
	"unicode"
)

// Reasons reported in FilterResult.Reason.
const (
	ReasonBlockedKeyword = "blocked_keyword"
	ReasonSpamPattern    = "spam_pattern"
)

// defaultTerms is the built-in blocklist. Multi-word entries are matched as
// whole-word phrases.
var defaultTerms = []string{
	// harassment
	"kill yourself", "kys", "go die", "end yourself", "nobody wants you",
	// sexual / exploitation
	"send nudes", "child porn", "cp trade", "nudes pls",
	// hate
	"heil hitler", "white power", "gas the",
	// threats
	"bomb threat", "i will find you", "i know where you live",
	// scams
	"free bitcoin", "crypto giveaway", "cashapp me", "wire me money",
}

var leetMap = map[rune]rune{
	'0': 'o',
	'1': 'i',
	'3': 'e',
	'4': 'a',
	'5': 's',
	'7': 't',
	'@': 'a',
	'$': 's',
	'!': 'i',
}

// FilterResult is the outcome of screening one piece of text.
type FilterResult struct {
	Blocked bool   `json:"blocked"`
	Reason  string `json:"reason,omitempty"`
	Term    string `json:"term,omitempty"`
}

// Filter is an immutable blocklist plus spam checks. Safe for concurrent use.
type Filter struct {
	words   map[string]struct{}
	phrases []string
}

// NewFilter returns a Filter loaded with the built-in blocklist.
func NewFilter() *Filter {
	return NewFilterWithTerms(defaultTerms)
}

// NewFilterWithTerms returns a Filter for terms. Terms are lowercased; empty
// entries are ignored.
func NewFilterWithTerms(terms []string) *Filter {
	f := &Filter{words: make(map[string]struct{})}
	for _, t := range terms {
		tokens := tokenizePlain(t)
		switch len(tokens) {
		case 0:
		case 1:
			f.words[tokens[0]] = struct{}{}
		default:
			f.phrases = append(f.phrases, strings.Join(tokens, " "))
		}
	}
	return f
}

// Check screens a chat line. Blocklist hits take priority over spam patterns.
func (f *Filter) Check(text string) FilterResult {
	if r := f.checkTerms(text); r.Blocked {
		return r
	}
	return screen(text, onChat)
}

// CheckTag screens one profile tag: the blocklist plus the contact checks
// (links, phone numbers, social handles). Flood heuristics do not apply.
func (f *Filter) CheckTag(tag string) FilterResult {
	if r := f.checkTerms(tag); r.Blocked {
		return r
	}
	return screen(tag, onTags)
}

// CheckTags returns the tags that pass CheckTag, preserving order.
func (f *Filter) CheckTags(tags []string) []string {
	clean := make([]string, 0, len(tags))
	for _, t := range tags {
		if !f.CheckTag(t).Blocked {
			clean = append(clean, t)
		}
	}
	return clean
}

// checkTerms matches text against the blocklist only.
func (f *Filter) checkTerms(text string) FilterResult {
	if strings.TrimSpace(text) == "" {
		return FilterResult{}
	}

	plain := tokenizePlain(text)
	leet := tokenizeLeet(text)
	for i, tok := range leet {
		leet[i] = normalizeLeet(tok)
	}

	for _, tokens := range [][]string{plain, leet} {
		for _, tok := range tokens {
			if _, ok := f.words[tok]; ok {
				return FilterResult{Blocked: true, Reason: ReasonBlockedKeyword, Term: tok}
			}
		}
	}

	if len(f.phrases) > 0 {
		joined := []string{" " + strings.Join(plain, " ") + " ", " " + strings.Join(leet, " ") + " "}
		for _, p := range f.phrases {
			needle := " " + p + " "
			for _, hay := range joined {
				if strings.Contains(hay, needle) {
					return FilterResult{Blocked: true, Reason: ReasonBlockedKeyword, Term: p}
				}
			}
		}
	}

	return FilterResult{}
}

// normalizeLeet folds common character substitutions back to letters.
func normalizeLeet(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if m, ok := leetMap[r]; ok {
			r = m
		}
		b.WriteRune(r)
	}
	return b.String()
}

// tokenizePlain lowercases s and splits it on anything that is not a letter
// or digit.
func tokenizePlain(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// tokenizeLeet splits s on whitespace, keeping substitution characters and
// trimming ordinary punctuation from the edges.
func tokenizeLeet(s string) []string {
	fields := strings.Fields(strings.ToLower(s))
	out := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, `,.;:?"'()[]{}`)
		if f != "" {
			out = append(out, f)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
