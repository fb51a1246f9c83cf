package extract

import (
	"regexp"
	"strings"
)

var (
	reManyNewlines = regexp.MustCompile(`\n{3,}`)
	reRuleLine     = regexp.MustCompile(`(?m)^[\-=_]{3,}$`)
	reHorizontalWS = regexp.MustCompile(`[ \t]+`)
)

// Clean normalises extracted text. Paragraph breaks survive as a single
// blank line.
func Clean(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = reManyNewlines.ReplaceAllString(text, "\n\n")
	text = reRuleLine.ReplaceAllString(text, "")
	text = reHorizontalWS.ReplaceAllString(text, " ")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	text = strings.Join(lines, "\n")

	// Removing rule lines and whitespace-only lines can open new gaps
	text = reManyNewlines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
