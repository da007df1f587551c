package ir

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeCode trims surrounding whitespace and applies Unicode NFC so that
// codes compare byte-for-byte against LMS idnumbers.
func NormalizeCode(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// Normalize returns a copy of f with both codes normalized.
func Normalize(f Fact) Fact {
	f.CourseCode = NormalizeCode(f.CourseCode)
	f.UserCode = NormalizeCode(f.UserCode)
	return f
}
