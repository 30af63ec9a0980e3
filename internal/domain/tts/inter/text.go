package inter

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

type Overflow string

const (
	OverflowTruncate Overflow = "truncate"
	OverflowReject   Overflow = "reject"
)

// TextPolicy bounds the text a provider accepts. MaxChars counts runes;
// zero means unlimited.
type TextPolicy struct {
	MaxChars int
	Overflow Overflow
}

// Apply returns the text to send. Over-limit text is cut to MaxChars runes
// with trailing whitespace trimmed, or rejected with KindRejected before
// any network call. The outcome depends only on text and the policy.
func (p TextPolicy) Apply(provider, text string) (string, error) {
	if p.MaxChars <= 0 || utf8.RuneCountInString(text) <= p.MaxChars {
		return text, nil
	}
	if p.Overflow == OverflowReject {
		return "", NewError(provider, KindRejected,
			fmt.Sprintf("text is %d characters, limit is %d", utf8.RuneCountInString(text), p.MaxChars), nil)
	}

	n := 0
	for i := range text {
		if n == p.MaxChars {
			return strings.TrimRightFunc(text[:i], unicode.IsSpace), nil
		}
		n++
	}
	return text, nil
}

// ParseOverflow maps config strings onto Overflow, defaulting to truncate.
func ParseOverflow(s string) Overflow {
	if strings.EqualFold(strings.TrimSpace(s), string(OverflowReject)) {
		return OverflowReject
	}
	return OverflowTruncate
}
