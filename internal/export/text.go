package export

import (
	"strings"

	"scriptforge/internal/script"
)

// textIndent mirrors the original PDF exporter's CSS classes with fixed
// left margins instead: industry-standard screenplay format uses indentation
// (not font changes) to distinguish element kinds on the page.
var textIndent = map[string]int{
	"scene_heading": 0,
	"action":        0,
	"character":     22,
	"dialogue":      10,
	"parenthetical": 16,
	"transition":    56,
	"shot":          0,
	"general":       0,
	"summary":       0,
}

const lineWidth = 60

// GenerateText renders blocks as a plain-text screenplay layout: the
// Go-native substitute for the original's headless-browser PDF render,
// since no PDF or browser-automation library is available here. Output is
// line-wrapped at lineWidth columns and indented per element kind; it is
// one continuous text with no page breaks or page numbers.
func GenerateText(title string, blocks []script.Block) []byte {
	var b strings.Builder
	b.WriteString(strings.ToUpper(title))
	b.WriteString("\n\n")
	for _, block := range blocks {
		text := sanitizeFDXText(block.Text)
		if text == "" {
			continue
		}
		indent := textIndent[block.Type]
		if block.Type == "character" {
			text = strings.ToUpper(text)
		}
		for _, line := range wrapText(text, lineWidth-indent) {
			b.WriteString(strings.Repeat(" ", indent))
			b.WriteString(line)
			b.WriteString("\n")
		}
		if block.Type == "scene_heading" || block.Type == "dialogue" || block.Type == "action" {
			b.WriteString("\n")
		}
	}
	return []byte(b.String())
}

func wrapText(s string, width int) []string {
	if width <= 0 {
		width = 1
	}
	words := strings.Fields(s)
	if len(words) == 0 {
		return nil
	}
	var lines []string
	cur := words[0]
	for _, w := range words[1:] {
		if len(cur)+1+len(w) > width {
			lines = append(lines, cur)
			cur = w
			continue
		}
		cur += " " + w
	}
	lines = append(lines, cur)
	return lines
}
