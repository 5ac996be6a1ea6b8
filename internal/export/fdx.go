// Package export renders a Script's blocks into interchange formats used
// outside the editor: Final Draft's FDX XML and a plain-text screenplay
// layout without page breaks. Both are pure functions over script.Block slices, with
// no dependency on C2 storage.
package export

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"

	"scriptforge/internal/script"
)

// fdxTypeMapping mirrors the original exporter's TYPE_MAPPING: the block
// type names this system uses, translated to FDX's Paragraph Type values.
var fdxTypeMapping = map[string]string{
	"scene_heading": "Scene Heading",
	"action":        "Action",
	"character":     "Character",
	"dialogue":      "Dialogue",
	"parenthetical": "Parenthetical",
	"transition":    "Transition",
	"shot":          "Shot",
	"cast_list":     "Cast List",
	"general":       "General",
	"summary":       "General",
	"new_act":       "Act Break",
	"end_of_act":    "End of Act",
}

type fdxDocument struct {
	XMLName   xml.Name `xml:"FinalDraft"`
	DocType   string   `xml:"DocumentType,attr"`
	Template  string   `xml:"Template,attr"`
	Version   string   `xml:"Version,attr"`
	Content   fdxContent `xml:"Content"`
}

type fdxContent struct {
	Paragraphs []fdxParagraph `xml:"Paragraph"`
}

type fdxParagraph struct {
	Type string  `xml:"Type,attr"`
	Text fdxText `xml:"Text"`
}

type fdxText struct {
	Value string `xml:",chardata"`
}

// sanitizeFDXText collapses the whitespace noise a block's raw text can
// carry (hard line breaks from the editor, repeated spaces) into the single
// run FDX paragraphs expect.
func sanitizeFDXText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}

// GenerateFDX renders blocks as a Final Draft 12 compatible FDX document.
// Blocks with no mapped paragraph type fall back to "Action", and blocks
// with empty text are dropped, matching the original exporter's behavior.
func GenerateFDX(title string, blocks []script.Block) ([]byte, error) {
	doc := fdxDocument{
		DocType:  "Script",
		Template: "No",
		Version:  "1",
	}
	for _, b := range blocks {
		text := sanitizeFDXText(b.Text)
		if text == "" {
			continue
		}
		pType, ok := fdxTypeMapping[b.Type]
		if !ok {
			pType = "Action"
		}
		doc.Content.Paragraphs = append(doc.Content.Paragraphs, fdxParagraph{
			Type: pType,
			Text: fdxText{Value: text},
		})
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	buf.WriteString(fmt.Sprintf("<!-- generated by scriptforge for %q -->\n", title))
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("export: encode fdx: %w", err)
	}
	return buf.Bytes(), nil
}
