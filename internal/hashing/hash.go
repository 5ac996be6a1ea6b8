// Package hashing computes the content fingerprint the staleness tracker
// (C3) and artifact store (C2) use to detect whether a scene actually
// changed, normalizing away whitespace/case noise the way
// rag/ingest.Preprocess normalizes documents before fingerprinting them.
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"scriptforge/internal/script"
)

// Normalize strips per-line whitespace, drops empty lines, and lowercases,
// so two scenes differing only in whitespace, blank lines, or case
// normalize to the same text.
func Normalize(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		out = append(out, strings.ToLower(trimmed))
	}
	return strings.Join(out, "\n")
}

// Hash returns the 64-hex SHA-256 digest of the normalized UTF-8 bytes of
// text.
func Hash(text string) string {
	sum := sha256.Sum256([]byte(Normalize(text)))
	return hex.EncodeToString(sum[:])
}

// SceneText concatenates the text field of each of a scene's blocks with
// newline separators. If blocks are absent it falls back to RawText, and
// if that is empty too, to Heading — so a scene with no body content
// still hashes to something derived from what it does have.
func SceneText(sc script.Scene) string {
	if len(sc.Blocks) > 0 {
		parts := make([]string, 0, len(sc.Blocks))
		collectBlockText(sc.Blocks, &parts)
		if len(parts) > 0 {
			return strings.Join(parts, "\n")
		}
	}
	if sc.RawText != "" {
		return sc.RawText
	}
	return sc.Heading
}

func collectBlockText(blocks []script.Block, out *[]string) {
	for _, b := range blocks {
		if b.Text != "" {
			*out = append(*out, b.Text)
		}
		if len(b.Children) > 0 {
			collectBlockText(b.Children, out)
		}
	}
}

// HashScene is the convenience composition SceneText -> Hash, the value
// C3.CheckSceneStaleness compares against the persisted hash.
func HashScene(sc script.Scene) string {
	return Hash(SceneText(sc))
}
