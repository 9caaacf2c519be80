// Package sanitize cleans user-controlled strings before they reach a
// terminal or a file name.
package sanitize

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	FileSlugMaxLength = 64
	defaultFileSlug   = "profile"
)

// FileSlug normalizes value to a filesystem-safe slug, e.g. for export file
// names derived from a profile name.
func FileSlug(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	var b strings.Builder
	b.Grow(len(value))
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		case r == ' ' || r == '.' || r == '/':
			b.WriteRune('-')
		}
	}
	res := strings.Trim(b.String(), "-_")
	if res == "" {
		return defaultFileSlug
	}
	if len(res) > FileSlugMaxLength {
		return strings.TrimRight(res[:FileSlugMaxLength], "-_")
	}
	return res
}

// StripControlChars removes ANSI escape sequences and non-printable control
// characters (except tab) from s. Profile names and hosts come from the
// database or an imported file and are printed verbatim otherwise.
func StripControlChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	i := 0
	for i < len(s) {
		// CSI: ESC [ ... final byte (0x40-0x7E). The scan is capped so an
		// unterminated sequence cannot swallow the rest of the string.
		if i+1 < len(s) && s[i] == '\x1b' && s[i+1] == '[' {
			j := i + 2
			maxJ := j + 64
			if maxJ > len(s) {
				maxJ = len(s)
			}
			for j < maxJ && (s[j] < 0x40 || s[j] > 0x7E) {
				j++
			}
			if j < len(s) && s[j] >= 0x40 && s[j] <= 0x7E {
				j++
			}
			i = j
			continue
		}
		// OSC: ESC ] ... BEL or ESC \.
		if i+1 < len(s) && s[i] == '\x1b' && s[i+1] == ']' {
			j := i + 2
			for j < len(s) {
				if s[j] == '\x07' {
					j++
					break
				}
				if j+1 < len(s) && s[j] == '\x1b' && s[j+1] == '\\' {
					j += 2
					break
				}
				j++
			}
			i = j
			continue
		}
		if s[i] == '\x1b' {
			i += 2
			if i > len(s) {
				i = len(s)
			}
			continue
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == '\t' || (r >= ' ' && !unicode.IsControl(r)) {
			b.WriteString(s[i : i+size])
		}
		i += size
	}
	return b.String()
}

// TrimToRunes trims surrounding whitespace and limits the result to
// maxRunes, marking a cut with an ellipsis.
func TrimToRunes(value string, maxRunes int) string {
	value = strings.TrimSpace(value)
	if value == "" || maxRunes <= 0 {
		return ""
	}
	if utf8.RuneCountInString(value) <= maxRunes {
		return value
	}
	runes := []rune(value)
	if maxRunes == 1 {
		return "…"
	}
	return string(runes[:maxRunes-1]) + "…"
}

// Display prepares a stored string for a table cell.
func Display(value string, maxRunes int) string {
	return TrimToRunes(StripControlChars(value), maxRunes)
}
