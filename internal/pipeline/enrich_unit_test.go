package pipeline

import (
	"strings"
	"testing"
)

func TestSummarize_ShortTextUnchanged(t *testing.T) {
	if got := summarize("  a short document  "); got != "a short document" {
		t.Errorf("unexpected summary %q", got)
	}
}

func TestSummarize_CutsAtWordBoundary(t *testing.T) {
	long := strings.Repeat("sevenchr ", 60) // well over the budget

	got := summarize(long)

	if len(got) > summaryMaxChars+len("…") {
		t.Errorf("summary too long: %d bytes", len(got))
	}

	if !strings.HasSuffix(got, "…") {
		t.Errorf("truncated summary should end with ellipsis, got %q", got)
	}

	// Never cut mid-word.
	body := strings.TrimSuffix(got, "…")
	for _, word := range strings.Fields(body) {
		if word != "sevenchr" {
			t.Errorf("word was split: %q", word)
		}
	}
}

func TestKeywordsFrom_FrequencyThenLexical(t *testing.T) {
	text := "storage storage storage pipeline pipeline archive bucket bucket pipeline"

	got := keywordsFrom(text)

	want := []string{"pipeline", "storage", "archive", "bucket"}
	if len(got) < 4 {
		t.Fatalf("expected at least 4 keywords, got %v", got)
	}

	// pipeline and storage both appear 3 times, lexical tiebreak puts
	// pipeline first; bucket (2) precedes archive (1).
	if got[0] != want[0] || got[1] != want[1] {
		t.Errorf("top keywords wrong: got %v", got[:2])
	}

	if got[2] != "bucket" || got[3] != "archive" {
		t.Errorf("tail keywords wrong: got %v", got[2:4])
	}
}

func TestKeywordsFrom_FiltersShortAndStopwords(t *testing.T) {
	got := keywordsFrom("the cat and the dog have been with them from here")

	for _, word := range got {
		if len(word) < 4 {
			t.Errorf("short word leaked: %q", word)
		}

		if stopwords[word] {
			t.Errorf("stopword leaked: %q", word)
		}
	}
}

func TestKeywordsFrom_CapsAtLimit(t *testing.T) {
	var sb strings.Builder
	for _, w := range []string{
		"alpha", "bravo", "charlie", "delta", "echo",
		"foxtrot", "golf", "hotel", "india", "juliet",
	} {
		sb.WriteString(w + "word ")
	}

	if got := keywordsFrom(sb.String()); len(got) > keywordCount {
		t.Errorf("expected at most %d keywords, got %d", keywordCount, len(got))
	}
}
