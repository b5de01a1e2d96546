package condense

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSummarize_Empty(t *testing.T) {
	if got := Summarize("  \n ", DefaultOptions()); got != "" {
		t.Errorf("expected empty, got %q", got)
	}
}

func TestSummarize_ShortUnchanged(t *testing.T) {
	text := "## Conclusion\nPlant in early May."
	if got := Summarize(text, DefaultOptions()); got != text {
		t.Errorf("expected %q, got %q", text, got)
	}
}

func TestSummarize_KeepsSectionLeads(t *testing.T) {
	body := strings.Repeat("Detail sentence for the section. ", 10)
	text := "## Crop Suitability\nSuitable for tobacco.\n" + body +
		"\n\n## Sowing Period\nSow from 10 to 20 April.\n" + body +
		"\n\n## Conclusion\nProceed with standard management.\n" + body

	got := Summarize(text, Options{Budget: 200})
	if utf8.RuneCountInString(got) > 200 {
		t.Fatalf("summary exceeds budget: %d runes", utf8.RuneCountInString(got))
	}
	for _, want := range []string{"## Crop Suitability", "Suitable for tobacco.", "## Sowing Period"} {
		if !strings.Contains(got, want) {
			t.Errorf("summary missing %q: %q", want, got)
		}
	}
	if strings.Contains(got, "Detail sentence") {
		t.Errorf("summary should drop section bodies: %q", got)
	}
}

func TestSummarize_BoldHeadings(t *testing.T) {
	text := "**Risks:**\nHeavy rain on day 3.\n" + strings.Repeat("x", 300)
	got := Summarize(text, Options{Budget: 100})
	if got != "**Risks:**\nHeavy rain on day 3." {
		t.Errorf("unexpected summary %q", got)
	}
}

func TestSummarize_SingleOversizedLine(t *testing.T) {
	text := strings.Repeat("稻", 500)
	got := Summarize(text, Options{Budget: 120})
	if n := utf8.RuneCountInString(got); n != 120 {
		t.Errorf("expected 120 runes, got %d", n)
	}
	if !utf8.ValidString(got) {
		t.Error("summary is not valid utf-8")
	}
}
