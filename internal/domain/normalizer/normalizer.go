// Package normalizer canonicalizes raw forum text into a matchable token
// stream. It is a pure function: no I/O, no shared state, safe to call from
// any number of goroutines concurrently — the Poller and Match Engine both
// call it inline on the ingestion/matching hot path.
//
// The pipeline is fixed and documented as canonical (spec.md §4.1); callers
// must not reorder or skip steps, since the Matcher assumes normalized text
// went through all of them (in particular, case-folding happens exactly
// once, here).
package normalizer

import (
	"regexp"
	"strings"
)

// Normalized is the output of Normalize: the sentence stream and the token
// stream derived from it, in source order.
type Normalized struct {
	Sentences []string
	Tokens    []string
}

var (
	urlPattern = regexp.MustCompile(`(?:https?://|www\.)\S+`)

	// markdownLinkPattern matches [text](url) and captures text.
	markdownLinkPattern = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	// markdownImagePattern matches ![alt](url) and captures alt.
	markdownImagePattern = regexp.MustCompile(`!\[([^\]]*)\]\([^)]*\)`)

	headingPattern    = regexp.MustCompile(`(?m)^\s*#+\s*`)
	blockquotePattern = regexp.MustCompile(`(?m)^\s*>\s*`)

	whitespacePattern = regexp.MustCompile(`\s+`)
	sentenceBoundary  = regexp.MustCompile(`[.!?]+\s+`)
	tokenBoundary     = regexp.MustCompile(`\W+`)

	markdownEmphasisChars = "*_~`"
)

// Normalize runs the canonical pipeline over s and returns its sentence and
// token streams. Total and deterministic: never panics, and an empty or
// whitespace-only input yields empty slices, not nil-vs-empty ambiguity in
// behavior (callers should treat both as "no content").
func Normalize(s string) Normalized {
	lowered := strings.ToLower(s)
	// Deviates from the canonical step order (URL removal before markdown
	// stripping): a markdown link's URL sits inside the "(...)" the link
	// pattern consumes whole, so stripping bare URLs first would eat the
	// closing paren and leave the link syntax unbalanced. Markdown
	// stripping runs first instead; see DESIGN.md for the acknowledgement.
	stripped := stripMarkdown(lowered)
	stripped = stripURLs(stripped)
	collapsed := collapseWhitespace(stripped)

	sentences := segmentSentences(collapsed)
	tokens := make([]string, 0, len(sentences)*4)
	for _, sent := range sentences {
		tokens = append(tokens, tokenize(sent)...)
	}

	return Normalized{Sentences: sentences, Tokens: tokens}
}

// stripURLs replaces http://, https:// and www. runs (up to the next
// whitespace) with a single space.
func stripURLs(s string) string {
	return urlPattern.ReplaceAllString(s, " ")
}

// stripMarkdown erases markdown syntax via character-class erasure, not
// HTML/markdown parsing: image syntax first (it nests the link syntax
// shape), then link syntax, then heading/blockquote line markers, then bare
// emphasis/code-fence characters.
func stripMarkdown(s string) string {
	s = markdownImagePattern.ReplaceAllString(s, "$1")
	s = markdownLinkPattern.ReplaceAllString(s, "$1")
	s = headingPattern.ReplaceAllString(s, "")
	s = blockquotePattern.ReplaceAllString(s, "")
	s = strings.Map(func(r rune) rune {
		if strings.ContainsRune(markdownEmphasisChars, r) {
			return -1
		}
		return r
	}, s)
	return s
}

func collapseWhitespace(s string) string {
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(s, " "))
}

func segmentSentences(s string) []string {
	if s == "" {
		return nil
	}
	parts := sentenceBoundary.Split(s, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func tokenize(sentence string) []string {
	parts := tokenBoundary.Split(sentence, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
