package normalizer

import "strings"

// TokenizePhrase applies the same case-folding and tokenization rule
// Normalize uses internally to a short phrase (a keyword phrase or an
// exclusion string), skipping the URL/markdown stripping steps that only
// make sense for a whole body of text. The Matcher relies on this so a
// keyword's phrase tokens compare equal to the already-normalized content
// tokens they are matched against.
func TokenizePhrase(s string) []string {
	return tokenize(collapseWhitespace(strings.ToLower(s)))
}
