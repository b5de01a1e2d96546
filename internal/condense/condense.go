// Package condense reduces raw model output to the summary kept in stage
// memory.
package condense

import (
	"strings"
	"unicode/utf8"
)

const DefaultBudget = 2000

// Options configures condensing.
type Options struct {
	// Budget is the maximum summary length in runes.
	Budget int
}

// DefaultOptions returns default condensing options.
func DefaultOptions() Options {
	return Options{Budget: DefaultBudget}
}

// Summarize returns text unchanged when it fits the budget. Longer output is
// split on markdown section boundaries and each section is reduced to its
// lead (heading plus first line), accumulated in order until the budget is
// reached. The result never exceeds the budget.
func Summarize(text string, opts Options) string {
	if opts.Budget <= 0 {
		opts = DefaultOptions()
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	if utf8.RuneCountInString(text) <= opts.Budget {
		return text
	}

	var out []string
	used := 0
	for _, b := range splitBlocks(text) {
		l := lead(b)
		n := utf8.RuneCountInString(l)
		if len(out) > 0 {
			n++ // newline separator
		}
		if used+n > opts.Budget {
			break
		}
		out = append(out, l)
		used += n
	}
	if len(out) == 0 {
		return clip(text, opts.Budget)
	}
	return strings.Join(out, "\n")
}

// splitBlocks splits text on heading lines and blank lines.
func splitBlocks(text string) []string {
	var blocks []string
	var current []string

	flush := func() {
		t := strings.TrimSpace(strings.Join(current, "\n"))
		if t != "" {
			blocks = append(blocks, t)
		}
		current = nil
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			flush()
			continue
		}
		if isHeading(trimmed) {
			flush()
		}
		current = append(current, line)
	}
	flush()
	return blocks
}

// lead keeps the heading and first content line of a block, or just the
// first line when the block has no heading.
func lead(block string) string {
	lines := strings.Split(block, "\n")
	first := strings.TrimSpace(lines[0])
	if isHeading(first) && len(lines) > 1 {
		return first + "\n" + strings.TrimSpace(lines[1])
	}
	return first
}

func isHeading(line string) bool {
	if strings.HasPrefix(line, "#") {
		return true
	}
	// **Bold** lines act as headings in model output.
	return strings.HasPrefix(line, "**") && strings.HasSuffix(strings.TrimRight(line, ":："), "**") && len(line) > 4
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
