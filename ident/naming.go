package ident

import "strings"

// MaxNameLength bounds the length of a fully qualified topic or service
// name, per spec.md's "bounded length" validation rule.
const MaxNameLength = 256

// reservedChars are characters a raw topic or a partition/namespace may
// never contain, beyond printable-ASCII-and-no-whitespace.
const reservedChars = "@"

// FullyQualify combines a partition, a namespace and a user-supplied raw
// topic into "<partition>@<namespace>/<raw>", collapsing repeated slashes
// and validating the result against the character whitelist and the
// maximum length. It returns ok=false on any rejection (empty raw name,
// disallowed characters, name too long) instead of an error, matching
// spec.md §4.1's "returns none on any rejection".
func FullyQualify(partition, namespace, raw string) (name string, ok bool) {
	if raw == "" {
		return "", false
	}
	if !validSegment(partition) || !validSegment(namespace) || !validRaw(raw) {
		return "", false
	}

	var b strings.Builder
	if partition != "" {
		b.WriteString(partition)
		b.WriteByte('@')
	} else {
		b.WriteByte('@')
	}
	b.WriteString(namespace)
	b.WriteByte('/')
	b.WriteString(raw)

	name = collapseSlashes(b.String())
	if name == "" || len(name) > MaxNameLength {
		return "", false
	}
	if !validFinal(name) {
		return "", false
	}
	return name, true
}

// collapseSlashes replaces any run of '/' with a single '/'.
func collapseSlashes(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevSlash := false
	for _, r := range s {
		if r == '/' {
			if prevSlash {
				continue
			}
			prevSlash = true
		} else {
			prevSlash = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// validSegment validates a partition or namespace component: printable
// ASCII, no whitespace, no '@', may be empty.
func validSegment(s string) bool {
	for _, r := range s {
		if !printableNoWhitespace(r) || strings.ContainsRune(reservedChars, r) {
			return false
		}
	}
	return true
}

// validRaw validates a user-supplied raw topic: non-empty, printable
// ASCII, no whitespace, no '@'.
func validRaw(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !printableNoWhitespace(r) || strings.ContainsRune(reservedChars, r) {
			return false
		}
	}
	return true
}

// validFinal re-checks the fully collapsed name; it may legitimately
// contain '@' and '/' (the separators FullyQualify itself inserted) but
// nothing else outside the printable-ASCII-no-whitespace whitelist.
func validFinal(s string) bool {
	for _, r := range s {
		if !printableNoWhitespace(r) {
			return false
		}
	}
	return true
}

func printableNoWhitespace(r rune) bool {
	return r > 0x20 && r < 0x7f
}

// StripPartition removes a "<partition>@" prefix from a fully qualified
// name, returning the namespace/raw portion. Used by the reception loop
// to hand subscribers a partition-stripped topic in MessageInfo, per
// spec.md §4.5.
func StripPartition(fullyQualified string) string {
	if idx := strings.IndexByte(fullyQualified, '@'); idx >= 0 {
		return fullyQualified[idx+1:]
	}
	return fullyQualified
}
