package entity

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxTickLength is the rune limit applied to chart axis labels.
const MaxTickLength = 100

var bracketGroup = regexp.MustCompile(`\[(.*?)\]`)

// DistributionLabel formats a distribution bucket label as "[Kind] name".
func DistributionLabel(kind Kind, name string) string {
	return "[" + string(kind) + "] " + name
}

// TickLabel strips every bracketed group from label and truncates the rest to
// MaxTickLength runes.
func TickLabel(label string) string {
	return Truncate(strings.TrimSpace(bracketGroup.ReplaceAllString(label, "")), MaxTickLength)
}

// Truncate shortens s to limit runes, appending "..." when it cut anything.
func Truncate(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + "..."
}
