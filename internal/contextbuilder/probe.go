package contextbuilder

import (
	"context"
	"fmt"
	"strings"

	"scriptforge/internal/retrieval"
)

// relevanceThreshold is the score a vector-search hit must clear to
// count as "relevant" for probe purposes; stricter than
// retrieval.GeneralScoreThreshold (0.5 against 0.3), so only a clearly
// related hit counts as evidence that a question concerns the script.
const relevanceThreshold = 0.5

// RelevanceProbe answers "does this question relate to the script at
// all", for the case where intent classification lands on a tie or a
// weak signal and the caller wants a cheap second opinion before paying
// for a full tool-loop iteration.
type RelevanceProbe struct {
	retriever *retrieval.Retriever
}

func NewRelevanceProbe(retriever *retrieval.Retriever) *RelevanceProbe {
	return &RelevanceProbe{retriever: retriever}
}

// ProbeResult is one probe_relevance outcome.
type ProbeResult struct {
	Relevant bool
	Matches  []retrieval.SceneHit
}

// Probe runs a bounded vector search and reports whether any hit clears
// relevanceThreshold. A search error is treated as relevant — the safer
// default, since the caller falls back to running the tool loop rather
// than silently dropping a possibly-relevant question.
func (p *RelevanceProbe) Probe(ctx context.Context, scriptID, query string, limit int) ProbeResult {
	if limit <= 0 {
		limit = 3
	}
	hits, err := p.retriever.VectorSearch(ctx, scriptID, query, limit, 0)
	if err != nil {
		return ProbeResult{Relevant: true}
	}

	var matches []retrieval.SceneHit
	for _, h := range hits {
		if h.Score >= relevanceThreshold {
			matches = append(matches, h)
		}
	}
	return ProbeResult{Relevant: len(matches) > 0, Matches: matches}
}

// QuickContext renders a one-line context hint from the probe's top two
// matches, or "" if nothing cleared the threshold.
func (p *RelevanceProbe) QuickContext(ctx context.Context, scriptID, query string) string {
	result := p.Probe(ctx, scriptID, query, 3)
	if !result.Relevant || len(result.Matches) == 0 {
		return ""
	}

	n := len(result.Matches)
	if n > 2 {
		n = 2
	}
	parts := make([]string, 0, n)
	for _, hit := range result.Matches[:n] {
		parts = append(parts, fmt.Sprintf("Scene %d: %s", hit.Scene.Position, hit.Scene.Heading))
	}
	return "Relevant script context: " + strings.Join(parts, "; ")
}
