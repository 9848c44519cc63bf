package normalizer_test

import (
	"reflect"
	"testing"

	"reddalert/internal/domain/normalizer"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want normalizer.Normalized
	}{
		{
			name: "lowercaseAndTokenize",
			in:   "I recommend arbitrage betting strategies for new sportsbooks.",
			want: normalizer.Normalized{
				Sentences: []string{"i recommend arbitrage betting strategies for new sportsbooks."},
				Tokens:    []string{"i", "recommend", "arbitrage", "betting", "strategies", "for", "new", "sportsbooks"},
			},
		},
		{
			name: "stripsURLsAndMarkdown",
			in:   "Check [this link](https://example.com/x) and www.foo.com/bar *now*!",
			want: normalizer.Normalized{
				Sentences: []string{"check this link and now!"},
				Tokens:    []string{"check", "this", "link", "and", "now"},
			},
		},
		{
			name: "stripsHeadingAndBlockquote",
			in:   "# Big News\n> quoted text here",
			want: normalizer.Normalized{
				Sentences: []string{"big news quoted text here"},
				Tokens:    []string{"big", "news", "quoted", "text", "here"},
			},
		},
		{
			name: "splitsSentencesOnPunctuation",
			in:   "First thought. Second thought! Third one?",
			want: normalizer.Normalized{
				// The split regex consumes trailing punctuation+space as the
				// delimiter itself, so only a sentence at the very end (with
				// nothing after its punctuation) keeps it.
				Sentences: []string{"first thought", "second thought", "third one?"},
				Tokens:    []string{"first", "thought", "second", "thought", "third", "one"},
			},
		},
		{
			name: "emptyInput",
			in:   "",
			want: normalizer.Normalized{Sentences: nil, Tokens: []string{}},
		},
		{
			name: "whitespaceOnly",
			in:   "   \n\t  ",
			want: normalizer.Normalized{Sentences: nil, Tokens: []string{}},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := normalizer.Normalize(tc.in)
			if !reflect.DeepEqual(got.Sentences, tc.want.Sentences) {
				t.Fatalf("Sentences = %#v, want %#v", got.Sentences, tc.want.Sentences)
			}
			if !reflect.DeepEqual(got.Tokens, tc.want.Tokens) {
				t.Fatalf("Tokens = %#v, want %#v", got.Tokens, tc.want.Tokens)
			}
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"I recommend [arbitrage](https://x.com) betting!",
		"# Heading\n> quote\nwww.site.com trailing text.",
		"",
		"ALL CAPS SHOUTING with *emphasis* and `code`.",
	}

	for _, in := range inputs {
		first := normalizer.Normalize(in)
		again := normalizer.Normalize(joinSentences(first.Sentences))
		if !reflect.DeepEqual(first.Tokens, again.Tokens) {
			t.Fatalf("normalize not idempotent for %q: first=%#v again=%#v", in, first.Tokens, again.Tokens)
		}
	}
}

func joinSentences(sentences []string) string {
	out := ""
	for i, s := range sentences {
		if i > 0 {
			out += " "
		}
		out += s
	}
	return out
}

func TestNormalizeTotal(t *testing.T) {
	t.Parallel()

	// Normalize must never panic, regardless of input shape.
	inputs := []string{"", " ", "***", "[](", "![]()", "####", strRepeat("a.", 500)}
	for _, in := range inputs {
		_ = normalizer.Normalize(in)
	}
}

func strRepeat(s string, n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += s
	}
	return out
}
