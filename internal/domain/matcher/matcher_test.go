package matcher_test

import (
	"reflect"
	"testing"

	"reddalert/internal/domain/matcher"
	"reddalert/internal/domain/normalizer"
)

func tokensOf(t *testing.T, text string) []string {
	t.Helper()
	return normalizer.Normalize(text).Tokens
}

func TestMatchExactPhrase(t *testing.T) {
	t.Parallel()

	tokens := tokensOf(t, "I recommend arbitrage betting strategies for new sportsbooks.")
	kw := matcher.Keyword{
		Phrases:         []string{"arbitrage betting"},
		ProximityWindow: 5,
	}

	hit, ok := matcher.Match(tokens, kw)
	if !ok {
		t.Fatalf("expected a hit")
	}
	if hit.Phrase != "arbitrage betting" {
		t.Fatalf("Phrase = %q, want %q", hit.Phrase, "arbitrage betting")
	}
	if hit.Score != 1.0 {
		t.Fatalf("Score = %v, want 1.0", hit.Score)
	}
}

func TestMatchProximityWindow(t *testing.T) {
	t.Parallel()

	// "arbitrage" ... three filler tokens ... "betting": positions 0 and 4,
	// a span of 5 tokens.
	tokens := tokensOf(t, "arbitrage is a fun betting angle")

	cases := []struct {
		name         string
		window       int
		requireOrder bool
		wantHit      bool
	}{
		{name: "wideEnoughWindow", window: 5, requireOrder: false, wantHit: true},
		{name: "tooNarrowWindow", window: 3, requireOrder: false, wantHit: false},
		{name: "orderedAndSatisfied", window: 5, requireOrder: true, wantHit: true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			kw := matcher.Keyword{
				Phrases:         []string{"arbitrage betting"},
				ProximityWindow: tc.window,
				RequireOrder:    tc.requireOrder,
			}
			_, ok := matcher.Match(tokens, kw)
			if ok != tc.wantHit {
				t.Fatalf("Match() ok = %v, want %v", ok, tc.wantHit)
			}
		})
	}
}

func TestMatchRequireOrderRejectsReversed(t *testing.T) {
	t.Parallel()

	tokens := tokensOf(t, "betting on arbitrage today")
	kw := matcher.Keyword{
		Phrases:         []string{"arbitrage betting"},
		ProximityWindow: 10,
		RequireOrder:    true,
	}
	if _, ok := matcher.Match(tokens, kw); ok {
		t.Fatalf("expected no hit: phrase tokens appear out of order")
	}

	kwUnordered := kw
	kwUnordered.RequireOrder = false
	if _, ok := matcher.Match(tokens, kwUnordered); !ok {
		t.Fatalf("expected a hit once order is not required")
	}
}

func TestMatchExclusionRejects(t *testing.T) {
	t.Parallel()

	tokens := tokensOf(t, "arbitrage betting is not legal in this state")
	kw := matcher.Keyword{
		Phrases:         []string{"arbitrage betting"},
		Exclusions:      []string{"not legal"},
		ProximityWindow: 5,
	}

	if _, ok := matcher.Match(tokens, kw); ok {
		t.Fatalf("expected exclusion to suppress the match")
	}
}

func TestMatchExclusionRejectsBeyondProximityWindow(t *testing.T) {
	t.Parallel()

	// "not" and "legal" sit 8 tokens apart, further than ProximityWindow (5)
	// allows for the primary phrase — but exclusion scope is the whole
	// normalized text, not bounded by the keyword's own proximity window.
	tokens := tokensOf(t, "arbitrage betting is not at all clear whether this stays legal")
	kw := matcher.Keyword{
		Phrases:         []string{"arbitrage betting"},
		Exclusions:      []string{"not legal"},
		ProximityWindow: 5,
	}

	if _, ok := matcher.Match(tokens, kw); ok {
		t.Fatalf("expected exclusion to suppress the match even though its tokens exceed ProximityWindow")
	}
}

func TestMatchStemmingToggle(t *testing.T) {
	t.Parallel()

	// "sportsbooks" only equals phrase token "sportsbook" once both are
	// reduced by the plural-"s" stem rule.
	tokens := tokensOf(t, "the sportsbooks offer arbitrage odds")
	kw := matcher.Keyword{
		Phrases:         []string{"sportsbook odds"},
		ProximityWindow: 5,
	}

	if _, ok := matcher.Match(tokens, kw); ok {
		t.Fatalf("expected no hit without stemming")
	}

	kw.UseStemming = true
	if _, ok := matcher.Match(tokens, kw); !ok {
		t.Fatalf("expected a hit once stemming is enabled")
	}
}

func TestMatchORGroupAlsoMatched(t *testing.T) {
	t.Parallel()

	tokens := tokensOf(t, "the arbitrage betting thread also covers matched betting tips")
	kw := matcher.Keyword{
		Phrases:         []string{"arbitrage betting", "matched betting"},
		ProximityWindow: 5,
	}

	hit, ok := matcher.Match(tokens, kw)
	if !ok {
		t.Fatalf("expected a hit")
	}
	if hit.Phrase != "arbitrage betting" {
		t.Fatalf("Phrase = %q, want primary phrase %q", hit.Phrase, "arbitrage betting")
	}
	want := []string{"matched betting"}
	if !reflect.DeepEqual(hit.AlsoMatched, want) {
		t.Fatalf("AlsoMatched = %#v, want %#v", hit.AlsoMatched, want)
	}
}

func TestMatchEmptyInputs(t *testing.T) {
	t.Parallel()

	if _, ok := matcher.Match(nil, matcher.Keyword{Phrases: []string{"anything"}, ProximityWindow: 5}); ok {
		t.Fatalf("expected no hit against empty tokens")
	}
	tokens := tokensOf(t, "some content here")
	if _, ok := matcher.Match(tokens, matcher.Keyword{ProximityWindow: 5}); ok {
		t.Fatalf("expected no hit with an empty phrase list")
	}
}

func TestMatchDeterministic(t *testing.T) {
	t.Parallel()

	tokens := tokensOf(t, "arbitrage is a fun betting angle for new players")
	kw := matcher.Keyword{
		Phrases:         []string{"arbitrage betting"},
		ProximityWindow: 6,
	}

	first, firstOK := matcher.Match(tokens, kw)
	for i := 0; i < 10; i++ {
		got, ok := matcher.Match(tokens, kw)
		if ok != firstOK || !reflect.DeepEqual(got, first) {
			t.Fatalf("Match not deterministic: run %d = %#v, %v; want %#v, %v", i, got, ok, first, firstOK)
		}
	}
}

func TestMatchProximityMonotonic(t *testing.T) {
	t.Parallel()

	// A hit at a narrow window must still hit at any wider window.
	tokens := tokensOf(t, "arbitrage is a fun betting angle")
	kw := matcher.Keyword{Phrases: []string{"arbitrage betting"}, ProximityWindow: 5}

	_, hitAtFive := matcher.Match(tokens, kw)
	if !hitAtFive {
		t.Fatalf("setup: expected a hit at window 5")
	}

	for _, w := range []int{6, 10, 20} {
		wider := kw
		wider.ProximityWindow = w
		if _, ok := matcher.Match(tokens, wider); !ok {
			t.Fatalf("expected hit to persist at wider window %d", w)
		}
	}
}
