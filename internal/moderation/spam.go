package moderation

import (
	"regexp"
	"strings"
)

// surface says where a contact or spam check applies.
type surface uint8

const (
	onChat surface = 1 << iota
	onTags
)

// Radar profiles are anonymous and chats are meant to stay in the room, so
// anything that moves contact off the platform is screened everywhere a
// stranger can read it.
var (
	// Bare domains need a trailing "/" so "v2.0" or "3.14" pass.
	urlPattern = regexp.MustCompile(`(?i)(https?://\S+|www\.\S+|\S+\.(com|net|org|io|co|xyz|info|biz|ru|cn|tk|ml|ga|cf)/\S*)`)

	// +1-555-123-4567, (555) 123-4567, 555.123.4567. Bounded by whitespace
	// so short numbers and digits inside words pass.
	phonePattern = regexp.MustCompile(`(?:^|\s)(\+?\d{1,3}[-.\s]?)?\(?\d{2,4}\)?[-.\s]?\d{3,4}[-.\s]?\d{3,4}(?:\s|$)`)

	// "@someone" at a word start, or "ig: someone" style labels.
	handlePattern = regexp.MustCompile(`(?i)((?:^|\s)@[a-z0-9_.]{3,}|\b(?:insta(?:gram)?|ig|snap(?:chat)?|telegram|tg|whatsapp|discord)\s*[:=]\s*@?[a-z0-9_.]{3,})`)
)

type contentCheck struct {
	term    string
	reason  string
	surface surface
	match   func(string) bool
}

// contentChecks run in order and the first match wins.
var contentChecks = []contentCheck{
	{term: "url", reason: "links are not allowed", surface: onChat | onTags, match: urlPattern.MatchString},
	{term: "phone", reason: "sharing phone numbers is not allowed", surface: onChat | onTags, match: phonePattern.MatchString},
	{term: "handle", reason: "sharing social handles is not allowed", surface: onChat | onTags, match: handlePattern.MatchString},
	{term: "char_flood", reason: "too many repeated characters", surface: onChat, match: func(text string) bool {
		return repeatsInARow([]rune(text), 5, func(r rune) rune { return r })
	}},
	{term: "word_flood", reason: "too many repeated words", surface: onChat, match: func(text string) bool {
		return repeatsInARow(strings.Fields(text), 3, strings.ToLower)
	}},
}

// repeatsInARow reports whether n consecutive items share the same key.
func repeatsInARow[T any, K comparable](items []T, n int, key func(T) K) bool {
	if len(items) < n {
		return false
	}
	run := 0
	var prev K
	for i, it := range items {
		k := key(it)
		if i > 0 && k == prev {
			run++
		} else {
			run = 1
			prev = k
		}
		if run >= n {
			return true
		}
	}
	return false
}

// screen returns a spam result for the first check on s that matches text.
func screen(text string, s surface) FilterResult {
	for _, c := range contentChecks {
		if c.surface&s != 0 && c.match(text) {
			return FilterResult{Blocked: true, Reason: ReasonSpamPattern, Term: c.term}
		}
	}
	return FilterResult{}
}

// Describe returns a user-facing explanation for a blocked result.
func Describe(r FilterResult) string {
	switch {
	case !r.Blocked:
		return ""
	case r.Reason == ReasonBlockedKeyword:
		return "message contains a blocked term"
	}
	for _, c := range contentChecks {
		if c.term == r.Term {
			return c.reason
		}
	}
	return "message rejected"
}
