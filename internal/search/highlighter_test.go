package search

import (
	"strings"
	"testing"
)

func TestFragmentsCentersMatch(t *testing.T) {
	text := strings.Repeat("x", 100) + " budget " + strings.Repeat("y", 100)
	frags := Fragments(text, []string{"budget"}, 40, 3)
	if len(frags) != 1 {
		t.Fatalf("got %d fragments, want 1", len(frags))
	}
	if !strings.Contains(frags[0], "budget") {
		t.Errorf("fragment does not contain the match: %q", frags[0])
	}
	if !strings.HasPrefix(frags[0], "...") || !strings.HasSuffix(frags[0], "...") {
		t.Errorf("interior fragment missing ellipses: %q", frags[0])
	}
}

func TestFragmentsBounded(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 20; i++ {
		b.WriteString("some filler text with the word budget in every sentence. ")
	}
	frags := Fragments(b.String(), []string{"budget"}, 50, 3)
	if len(frags) > 3 {
		t.Errorf("got %d fragments, max is 3", len(frags))
	}
	for _, f := range frags {
		if len(f) > 50+6 {
			t.Errorf("fragment too long: %d bytes", len(f))
		}
	}
}

func TestFragmentsCaseInsensitive(t *testing.T) {
	frags := Fragments("The BUDGET meeting", []string{"budget"}, 40, 3)
	if len(frags) != 1 {
		t.Fatalf("case-insensitive match failed: %v", frags)
	}
}

func TestFragmentsNoMatch(t *testing.T) {
	if frags := Fragments("nothing relevant here", []string{"budget"}, 40, 3); frags != nil {
		t.Errorf("got %v, want nil", frags)
	}
	if frags := Fragments("", []string{"budget"}, 40, 3); frags != nil {
		t.Errorf("empty text: got %v, want nil", frags)
	}
	if frags := Fragments("text", nil, 40, 3); frags != nil {
		t.Errorf("no terms: got %v, want nil", frags)
	}
}

func TestFragmentsMultibyteSafe(t *testing.T) {
	text := strings.Repeat("é", 50) + " budget " + strings.Repeat("ü", 50)
	frags := Fragments(text, []string{"budget"}, 30, 1)
	if len(frags) != 1 {
		t.Fatalf("got %d fragments", len(frags))
	}
	for _, r := range frags[0] {
		if r == '�' {
			t.Fatalf("fragment split a multibyte rune: %q", frags[0])
		}
	}
}
