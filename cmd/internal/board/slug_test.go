package board

import (
	"strings"
	"testing"
)

func TestNewProjectSlug(t *testing.T) {
	seen := make(map[string]bool)
	for range 100 {
		s, err := NewProjectSlug()
		if err != nil {
			t.Fatalf("NewProjectSlug: %v", err)
		}
		if !strings.HasPrefix(s, ProjectSlugPrefix) {
			t.Fatalf("missing prefix: %q", s)
		}
		body := strings.TrimPrefix(s, ProjectSlugPrefix)
		if len(body) != slugLength {
			t.Fatalf("slug body length = %d", len(body))
		}
		for _, r := range body {
			if !strings.ContainsRune(slugAlphabet, r) {
				t.Fatalf("unexpected rune %q in %q", r, s)
			}
		}
		if seen[s] {
			t.Fatalf("duplicate slug %q", s)
		}
		seen[s] = true
	}
}
