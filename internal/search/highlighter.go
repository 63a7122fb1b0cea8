package search

import (
	"sort"
	"strings"
	"unicode/utf8"
)

// Fragments returns up to maxFragments snippets of text centered on query
// term occurrences. Fragments are bounded by fragmentSize bytes so callers
// never receive the entire field. Matching is case-insensitive.
func Fragments(text string, terms []string, fragmentSize, maxFragments int) []string {
	if text == "" || len(terms) == 0 || fragmentSize <= 0 || maxFragments <= 0 {
		return nil
	}
	lower := strings.ToLower(text)

	var positions []int
	for _, term := range terms {
		if term == "" {
			continue
		}
		offset := 0
		for {
			i := strings.Index(lower[offset:], term)
			if i < 0 {
				break
			}
			positions = append(positions, offset+i)
			offset += i + len(term)
		}
	}
	if len(positions) == 0 {
		return nil
	}
	sort.Ints(positions)

	var fragments []string
	lastEnd := -1
	for _, pos := range positions {
		if len(fragments) >= maxFragments {
			break
		}
		if pos < lastEnd {
			continue // already covered by the previous fragment
		}
		start := pos - fragmentSize/2
		if start < 0 {
			start = 0
		}
		end := start + fragmentSize
		if end > len(text) {
			end = len(text)
			if start > end-fragmentSize && end-fragmentSize >= 0 {
				start = end - fragmentSize
			}
		}
		start = snapRuneStart(text, start)
		end = snapRuneStart(text, end)

		snippet := strings.TrimSpace(text[start:end])
		if snippet == "" {
			continue
		}
		if start > 0 {
			snippet = "..." + snippet
		}
		if end < len(text) {
			snippet = snippet + "..."
		}
		fragments = append(fragments, snippet)
		lastEnd = end
	}
	return fragments
}

// snapRuneStart moves i forward to the next rune boundary so byte slicing
// never splits a multibyte character.
func snapRuneStart(s string, i int) int {
	for i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	return i
}
