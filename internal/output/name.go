package output

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// maxNameBytes leaves room under the 255-byte NAME_MAX for the staging
// prefix and suffix, a collision suffix and the temp file pattern.
const (
	maxNameBytes   = 200
	maxAuthorBytes = 60
)

// Sanitize turns a title into a portable file name: NFC normalized,
// reserved and control characters replaced, trimmed and capped.
func Sanitize(name string) string {
	name = norm.NFC.String(name)
	name = strings.Map(func(r rune) rune {
		if strings.ContainsRune(`/\:*?"<>|`, r) || unicode.IsControl(r) {
			return '_'
		}
		return r
	}, name)
	name = strings.Trim(name, " .")

	if len(name) > maxNameBytes {
		name = strings.Trim(truncateBytes(name, maxNameBytes), " .")
	}
	if name == "" {
		return "untitled"
	}
	return name
}

// truncateBytes cuts s to at most n bytes on a rune boundary.
func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 0 {
		return ""
	}
	cut := 0
	for i := range s {
		if i > n {
			break
		}
		cut = i
	}
	return s[:cut]
}
