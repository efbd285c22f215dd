package verify

import "strings"

// The fuzzy matcher uses the Ratcliff/Obershelp sequence ratio:
// 2*M / (len(a)+len(b)), where M is the total length of matched characters
// found by recursively taking the longest common substring. The quote is
// scored against a sliding window of the source rather than the whole
// source, so a short quote is never diluted by document length.

// normalize lowercases and collapses runs of whitespace so that line breaks
// and spacing differences in transcripts do not defeat matching.
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// ratio computes the Ratcliff/Obershelp similarity of two rune slices.
func ratio(a, b []rune) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}
	matched := matchLen(a, b)
	return 2.0 * float64(matched) / float64(len(a)+len(b))
}

// matchLen returns the total matched length: the longest common substring,
// plus recursive matches in the unmatched regions on either side.
func matchLen(a, b []rune) int {
	ai, bi, size := longestCommonSubstring(a, b)
	if size == 0 {
		return 0
	}
	total := size
	total += matchLen(a[:ai], b[:bi])
	total += matchLen(a[ai+size:], b[bi+size:])
	return total
}

// longestCommonSubstring finds the longest run of identical runes, returning
// its start in a, start in b, and length. Classic dynamic-programming scan
// with a single rolling row.
func longestCommonSubstring(a, b []rune) (int, int, int) {
	var bestA, bestB, bestLen int
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
				if curr[j] > bestLen {
					bestLen = curr[j]
					bestA = i - bestLen
					bestB = j - bestLen
				}
			} else {
				curr[j] = 0
			}
		}
		prev, curr = curr, prev
	}
	return bestA, bestB, bestLen
}

// bestWindow slides a quote-sized window across the source and returns the
// highest ratio along with the matched source span. A coarse pass steps by a
// quarter of the window, then the neighborhood of the best coarse hit is
// rescanned at step 1.
func bestWindow(quote, source []rune) (float64, int, int) {
	w := len(quote)
	if w == 0 {
		return 0, 0, 0
	}
	if len(source) <= w {
		return ratio(quote, source), 0, len(source)
	}

	step := w / 4
	if step < 1 {
		step = 1
	}

	bestScore := -1.0
	bestStart := 0
	for start := 0; start+w <= len(source); start += step {
		if s := ratio(quote, source[start:start+w]); s > bestScore {
			bestScore = s
			bestStart = start
		}
	}
	// Cover the tail window the coarse stride may have skipped.
	if s := ratio(quote, source[len(source)-w:]); s > bestScore {
		bestScore = s
		bestStart = len(source) - w
	}

	// Fine pass around the coarse winner.
	lo := bestStart - step
	if lo < 0 {
		lo = 0
	}
	hi := bestStart + step
	if hi+w > len(source) {
		hi = len(source) - w
	}
	for start := lo; start <= hi; start++ {
		if s := ratio(quote, source[start:start+w]); s > bestScore {
			bestScore = s
			bestStart = start
		}
	}
	return bestScore, bestStart, bestStart + w
}

// expandToWords widens a span to whole words of the normalized source:
// leading and trailing spaces inside the span are shed, then the start moves
// back and the end moves forward to the nearest word boundaries. A raw
// window can start or end mid-word; the canonical quote must not.
func expandToWords(source []rune, start, end int) (int, int) {
	for start < end && source[start] == ' ' {
		start++
	}
	for end > start && source[end-1] == ' ' {
		end--
	}
	for start > 0 && source[start-1] != ' ' {
		start--
	}
	for end < len(source) && source[end] != ' ' {
		end++
	}
	return start, end
}

// Match is the outcome of scoring a quote against a source text.
type Match struct {
	Score     float64 // Best similarity in [0,1]
	Canonical string  // Matched source span, normalized form
	Exact     bool
}

// Score matches a claimed quote against source text. Exact substring wins
// with similarity 1.0; otherwise the best quote-sized window of the source
// is scored.
func Score(quote, source string) Match {
	nq := normalize(quote)
	ns := normalize(source)
	if nq == "" || ns == "" {
		return Match{Score: 0}
	}
	if strings.Contains(ns, nq) {
		return Match{Score: 1.0, Canonical: nq, Exact: true}
	}
	rs := []rune(ns)
	score, start, end := bestWindow([]rune(nq), rs)
	start, end = expandToWords(rs, start, end)
	return Match{Score: score, Canonical: string(rs[start:end])}
}
