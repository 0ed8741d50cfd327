package script

import (
	"regexp"
	"strings"
)

// RawMarker at the start of a setup body selects raw mode.
const RawMarker = "//@rawcsharpscript"

var (
	includePattern   = regexp.MustCompile(`^//@using ([^ ]+);$`)
	referencePattern = regexp.MustCompile(`^//@reference ([^ \n]+)$`)
)

// ExtractDirectives returns the //@using and //@reference lines of a setup
// body in source order. Lines are matched whole; anything not matching a
// pattern exactly (leading whitespace, missing semicolon, embedded spaces)
// is ignored. CRLF line endings are accepted.
func ExtractDirectives(setup string) []Directive {
	var out []Directive
	for i, line := range strings.Split(normalizeNewlines(setup), "\n") {
		if m := includePattern.FindStringSubmatch(line); m != nil {
			out = append(out, Directive{Kind: Include, Value: m[1], Line: i + 1})
			continue
		}
		if m := referencePattern.FindStringSubmatch(line); m != nil {
			out = append(out, Directive{Kind: Reference, Value: m[1], Line: i + 1})
		}
	}
	return out
}

// IsRaw reports whether setup selects raw mode.
func IsRaw(setup string) bool {
	return strings.HasPrefix(setup, RawMarker)
}

func normalizeNewlines(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}
