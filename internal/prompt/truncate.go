package prompt

// Marker separates head and tail of a truncated value.
const Marker = " [...truncated...] "

// MinBudget is the smallest usable field budget.
const MinBudget = 64

// DefaultFieldBudget is the per-field rune budget when none is configured.
const DefaultFieldBudget = 1200

// Truncate limits s to budget runes. Longer values keep head and tail
// around Marker so the result is exactly budget runes long; the head takes
// the extra rune when the kept length is odd. Values within budget are
// returned unchanged.
func Truncate(s string, budget int) (string, bool) {
	if budget <= 0 {
		return s, false
	}
	runes := []rune(s)
	if len(runes) <= budget {
		return s, false
	}
	marker := []rune(Marker)
	if budget <= len(marker) {
		return string(runes[:budget]), true
	}
	keep := budget - len(marker)
	head := (keep + 1) / 2
	tail := keep / 2
	return string(runes[:head]) + Marker + string(runes[len(runes)-tail:]), true
}
