package logline

import (
	"strings"
	"unicode"

	"github.com/charmbracelet/x/ansi"
)

// Sanitize removes terminal control sequences and non-printable characters
// from a raw output line and trims surrounding whitespace.
func Sanitize(line string) string {
	line = ansi.Strip(line)
	if strings.IndexFunc(line, notPrintable) >= 0 {
		line = strings.Map(func(r rune) rune {
			if r == '\t' {
				return ' '
			}
			if notPrintable(r) {
				return -1
			}
			return r
		}, line)
	}
	return strings.TrimSpace(line)
}

func notPrintable(r rune) bool {
	return r == unicode.ReplacementChar || !unicode.IsPrint(r)
}

// InferSeverity classifies free-form lines by substring, ERROR before WARN.
func InferSeverity(line string) Severity {
	upper := strings.ToUpper(line)
	switch {
	case strings.Contains(upper, "ERROR"):
		return SeverityError
	case strings.Contains(upper, "WARN"):
		return SeverityWarning
	default:
		return SeverityInfo
	}
}
