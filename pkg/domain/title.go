package domain

import (
	"regexp"
	"strings"
)

const (
	untitled      = "Untitled paste"
	maxTitleChars = 50
)

var (
	headingMarks = regexp.MustCompile(`(?m)^#+\s*`)
	inlineMarks  = regexp.MustCompile("[*_~`>\\-]")
	linkMarks    = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)
)

// DeriveTitle picks a display title: the explicit title when set,
// otherwise the first meaningful line of the content with Markdown
// syntax stripped. Callers must pass empty content for protected
// pastes so nothing leaks through the title.
func DeriveTitle(title *string, content string) string {
	if title != nil {
		if t := strings.TrimSpace(*title); t != "" {
			return t
		}
	}
	if content == "" {
		return untitled
	}
	cleaned := headingMarks.ReplaceAllString(content, "")
	cleaned = linkMarks.ReplaceAllString(cleaned, "$1")
	cleaned = inlineMarks.ReplaceAllString(cleaned, "")
	for _, line := range strings.Split(cleaned, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if len(line) > maxTitleChars {
			return line[:maxTitleChars] + "..."
		}
		return line
	}
	return untitled
}
