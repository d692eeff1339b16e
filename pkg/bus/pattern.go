package bus

import (
	"regexp"
	"strings"
)

// isPattern reports whether p contains wildcard metacharacters. Plain names
// go through the exact-match registry instead of regexp matching.
func isPattern(p string) bool {
	return strings.ContainsAny(p, "*?")
}

// compilePattern translates a subscription pattern into an anchored regexp.
// "*" matches any run of characters (including none), "?" matches exactly
// one; everything else is literal. The pattern must cover the whole event
// name, so "container:*" matches "container:state:changed" but not
// "xcontainer:state:changed".
func compilePattern(p string) *regexp.Regexp {
	var sb strings.Builder

	sb.WriteString("^")

	for _, r := range p {
		switch r {
		case '*':
			sb.WriteString(".*")
		case '?':
			sb.WriteString(".")
		default:
			sb.WriteString(regexp.QuoteMeta(string(r)))
		}
	}

	sb.WriteString("$")

	return regexp.MustCompile(sb.String())
}
