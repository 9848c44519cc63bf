// Package matcher decides whether an OR-group of phrases hits a normalized
// text, honoring exclusions, optional stemming, optional ordering, and a
// configurable proximity window (spec.md §4.2). Like normalizer, it is a
// pure function: no I/O, safe for concurrent use, called inline by the
// Match Engine for every (content, tenant, keyword) triple.
//
// The word-boundary/case-insensitive substring check in the teacher's
// internal/domain/filters.ContainsSmart inspired the shape of equal() below,
// but a proximity matcher needs actual token positions rather than a single
// regexp test, so the scanning algorithm is new.
package matcher

import "reddalert/internal/domain/normalizer"

// Keyword is the subset of a tenant's Keyword row the matcher needs.
type Keyword struct {
	Phrases         []string
	Exclusions      []string
	ProximityWindow int
	RequireOrder    bool
	UseStemming     bool
}

// Hit describes a keyword's best match against a token stream.
type Hit struct {
	Phrase      string
	SpanStart   int
	SpanEnd     int
	Score       float64
	AlsoMatched []string
}

// stemSuffixes is checked longest-match-first; a suffix only strips if the
// remaining stem is at least 3 bytes (3 letters for ASCII words), so short words like "is" or "as"
// never get mangled into an empty or near-empty stem.
var stemSuffixes = []string{"ment", "tion", "ing", "est", "er", "ed", "es", "ly", "s"}

// phraseHit is a phrase's best span against the content tokens.
type phraseHit struct {
	phrase string
	start  int
	end    int
}

// Match runs the full keyword contract against tokens: every phrase in the
// OR-group is tried (in order, so the first hit is primary and the rest
// populate AlsoMatched), then every exclusion is checked across the whole
// token stream. Returns (Hit{}, false) if nothing hits, any exclusion hits,
// the phrase list is empty, or tokens is empty.
func Match(tokens []string, kw Keyword) (Hit, bool) {
	if len(kw.Phrases) == 0 || len(tokens) == 0 {
		return Hit{}, false
	}

	equal := equalityFor(kw.UseStemming)

	var primary *phraseHit
	var alsoMatched []string

	for _, phrase := range kw.Phrases {
		phraseTokens := normalizer.TokenizePhrase(phrase)
		if len(phraseTokens) == 0 {
			continue
		}
		span, ok := bestSpan(tokens, phraseTokens, kw.ProximityWindow, kw.RequireOrder, equal)
		if !ok {
			continue
		}
		if primary == nil {
			primary = &phraseHit{phrase: phrase, start: span.min, end: span.max}
		} else {
			alsoMatched = append(alsoMatched, phrase)
		}
	}

	if primary == nil {
		return Hit{}, false
	}

	for _, exclusion := range kw.Exclusions {
		exclTokens := normalizer.TokenizePhrase(exclusion)
		if len(exclTokens) == 0 {
			continue
		}
		// Exclusion scope is "anywhere in the normalized text" (spec.md §9):
		// scanned across the full token stream, not bounded by the keyword's
		// proximity window — pass len(tokens) so bestSpan's window check
		// never rejects a real hit just because it's spread further apart
		// than ProximityWindow allows for the primary phrase.
		if _, hit := bestSpan(tokens, exclTokens, len(tokens), false, equal); hit {
			return Hit{}, false
		}
	}

	phraseTokenCount := len(normalizer.TokenizePhrase(primary.phrase))
	return Hit{
		Phrase:      primary.phrase,
		SpanStart:   primary.start,
		SpanEnd:     primary.end,
		Score:       score(primary.start, primary.end, phraseTokenCount, kw.ProximityWindow),
		AlsoMatched: alsoMatched,
	}, true
}

// equalityFor returns the token-equality relation the matcher should use:
// exact string equality, or equality after a deterministic suffix stem.
func equalityFor(useStemming bool) func(a, b string) bool {
	if !useStemming {
		return func(a, b string) bool { return a == b }
	}
	return func(a, b string) bool { return stem(a) == stem(b) }
}

// stem strips the longest suffix from stemSuffixes whose removal leaves a
// stem of at least 3 bytes; otherwise it returns the word unchanged.
func stem(word string) string {
	longest := ""
	for _, suf := range stemSuffixes {
		if len(suf) <= len(longest) {
			continue
		}
		if len(word)-len(suf) >= 3 && hasSuffix(word, suf) {
			longest = suf
		}
	}
	if longest == "" {
		return word
	}
	return word[:len(word)-len(longest)]
}

func hasSuffix(word, suf string) bool {
	if len(word) < len(suf) {
		return false
	}
	return word[len(word)-len(suf):] == suf
}

// score implements spec.md §4.2's proximity score: a tight hit (span equal
// to the phrase's own token count) scores 1.0; a hit spanning the full
// window scores ~0. Clamped to [0,1].
func score(minPos, maxPos, phraseTokenCount, window int) float64 {
	span := maxPos - minPos + 1
	denom := window - phraseTokenCount + 1
	if denom < 1 {
		denom = 1
	}
	raw := 1 - float64(span-phraseTokenCount)/float64(denom)
	if raw < 0 {
		return 0
	}
	if raw > 1 {
		return 1
	}
	return raw
}
