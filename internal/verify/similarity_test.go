package verify

import (
	"strings"
	"testing"
)

func TestScore_ExactSubstring(t *testing.T) {
	m := Score("misled the House", "The Minister misled the House")
	if !m.Exact {
		t.Error("expected exact match")
	}
	if m.Score != 1.0 {
		t.Errorf("expected similarity 1.0, got %f", m.Score)
	}
}

func TestScore_CaseAndWhitespaceInsensitive(t *testing.T) {
	m := Score("Misled  The House", "the minister misled the\n house yesterday")
	if !m.Exact {
		t.Errorf("expected exact match after normalization, got score %f", m.Score)
	}
}

func TestScore_NearMiss(t *testing.T) {
	// One dropped word: should score high but not exact.
	m := Score("the minister misled house", "the minister misled the house")
	if m.Exact {
		t.Error("expected fuzzy match, not exact")
	}
	if m.Score < 0.85 {
		t.Errorf("expected high similarity for near-identical quote, got %f", m.Score)
	}
}

func TestScore_Fabrication(t *testing.T) {
	// Spec scenario: invented wording scores well below 0.90.
	m := Score("completely deceived Parliament", "The Minister misled the House")
	if m.Score >= 0.90 {
		t.Errorf("fabricated quote should fail verification, got %f", m.Score)
	}
}

func TestScore_LongSourceDoesNotDilute(t *testing.T) {
	source := "Order. The honourable member will resume their seat. " +
		"I remind the House that interjections are disorderly. " +
		"The Minister misled the House on the matter of the contract. " +
		"Further debate is adjourned until the next sitting day."
	m := Score("the minister misled the house on the matter", source)
	if m.Score < 0.95 {
		t.Errorf("quote present in a long source should score near 1.0, got %f", m.Score)
	}
}

func TestScore_CanonicalAlignsToWordBoundaries(t *testing.T) {
	source := "I remind the House that the Minister misled the House " +
		"on the matter of the contract figures tabled last sitting"
	m := Score("minister mislead the house on the mater", source)
	if m.Exact {
		t.Fatal("expected a fuzzy match")
	}
	if m.Canonical == "" {
		t.Fatal("expected a canonical span")
	}
	// The canonical quote must be whole words of the source, never a raw
	// window cut mid-word.
	padded := " " + normalize(source) + " "
	if !strings.Contains(padded, " "+m.Canonical+" ") {
		t.Errorf("canonical span cuts a word: %q", m.Canonical)
	}
}

func TestScore_Empty(t *testing.T) {
	if m := Score("", "anything"); m.Score != 0 {
		t.Errorf("empty quote should score 0, got %f", m.Score)
	}
	if m := Score("anything", ""); m.Score != 0 {
		t.Errorf("empty source should score 0, got %f", m.Score)
	}
}

func TestRatio_Identical(t *testing.T) {
	if r := ratio([]rune("abcdef"), []rune("abcdef")); r != 1.0 {
		t.Errorf("expected 1.0, got %f", r)
	}
}

func TestRatio_Disjoint(t *testing.T) {
	if r := ratio([]rune("aaaa"), []rune("bbbb")); r != 0.0 {
		t.Errorf("expected 0.0, got %f", r)
	}
}

func TestLongestCommonSubstring(t *testing.T) {
	ai, bi, size := longestCommonSubstring([]rune("xxhellozz"), []rune("yyhelloww"))
	if size != 5 {
		t.Fatalf("expected length 5, got %d", size)
	}
	if ai != 2 || bi != 2 {
		t.Errorf("expected offsets (2,2), got (%d,%d)", ai, bi)
	}
}
