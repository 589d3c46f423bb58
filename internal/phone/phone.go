// Package phone normalizes phone-number-shaped addresses from webhooks.
package phone

import "strings"

// LocalRule is a deployment-specific prefix substitution, e.g. "+62" -> "0".
// It is a heuristic for provider formatting quirks, not E.164 normalization.
type LocalRule struct {
	From string
	To   string
}

// DefaultLocalRule maps the Indonesian country code to the trunk prefix.
var DefaultLocalRule = LocalRule{From: "+62", To: "0"}

func (r LocalRule) Enabled() bool { return r.From != "" }

// Apply rewrites a leading From into To. ok is false when the prefix does not match.
func (r LocalRule) Apply(canonical string) (string, bool) {
	if !r.Enabled() || !strings.HasPrefix(canonical, r.From) {
		return "", false
	}
	return r.To + strings.TrimPrefix(canonical, r.From), true
}

// Canonical trims separators and ensures a leading '+'.
func Canonical(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '.':
			return -1
		}
		return r
	}, s)
	if s == "" {
		return ""
	}
	if !strings.HasPrefix(s, "+") {
		s = "+" + s
	}
	return s
}

// Candidates returns the lookup keys for a sender in match order: canonical,
// raw (trimmed), then the local-prefix variant. Duplicates are removed.
func Candidates(raw string, rule LocalRule) []string {
	out := make([]string, 0, 3)
	add := func(s string) {
		if s == "" {
			return
		}
		for _, v := range out {
			if v == s {
				return
			}
		}
		out = append(out, s)
	}
	canonical := Canonical(raw)
	add(canonical)
	add(strings.TrimSpace(raw))
	if local, ok := rule.Apply(canonical); ok {
		add(local)
	}
	return out
}

// StripPlus removes a leading '+' for providers that expect bare digits.
func StripPlus(s string) string {
	return strings.TrimPrefix(strings.TrimSpace(s), "+")
}
