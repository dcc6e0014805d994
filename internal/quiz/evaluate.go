package quiz

import "strings"

// Evaluate reports whether submitted matches canonical under the rule of kind.
//
// Cloze answers also count when the canonical answer contains the submission
// (a partial phrase). The reverse does not count. Unknown kinds never match.
func Evaluate(kind Kind, submitted, canonical string) bool {
	s := fold(submitted)
	c := fold(canonical)
	switch kind {
	case KindTrueFalse:
		return s == c
	case KindCloze:
		if s == "" {
			return c == ""
		}
		return s == c || strings.Contains(c, s)
	default:
		return false
	}
}

func fold(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}
