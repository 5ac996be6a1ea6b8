// Package retrieval implements C7: turning a script_id/query/intent/hints
// tuple into the evidence a chat turn needs, by combining vector search
// over scene embeddings with the outline and character-sheet stores.
// Query normalization follows the shape of manifold's
// rag/retrieve.BuildQueryPlan: trim, collapse whitespace, then hand off
// to the embedding/vector backend rather than re-deriving ad hoc rules
// per call site.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"scriptforge/internal/llmclient"
	"scriptforge/internal/script"
)

// Thresholds from §4.7: a probe call (intent classification, disambiguation)
// uses a tighter bar than a general retrieval call.
const (
	ProbeScoreThreshold   = 0.5
	GeneralScoreThreshold = 0.3
)

// Intent is the coarse classification of a chat message (§ GLOSSARY).
type Intent string

const (
	IntentLocalEdit      Intent = "local_edit"
	IntentSceneFeedback  Intent = "scene_feedback"
	IntentGlobalQuestion Intent = "global_question"
	IntentBrainstorm     Intent = "brainstorm"
)

// Hints are caller-supplied disambiguation signals.
type Hints struct {
	ScenePosition *int
	CharacterName string
}

// SceneHit is one VectorSearch result.
type SceneHit struct {
	Scene   script.Scene
	Summary string
	Score   float64
}

// Result is what RetrieveForIntent returns: a dispatch-specific bundle of
// scenes, summaries, outline text, and character sheets, ready for C8's
// EvidenceBuilder/PromptAssembler.
type Result struct {
	Intent          Intent
	Scenes          []SceneHit
	ActiveThread    string
	Outline         string
	OutlineStale    bool
	CharacterSheets []script.CharacterSheet
}

// Retriever wraps the store and the LLM client C7 uses to embed queries.
type Retriever struct {
	store script.Store
	llm   *llmclient.Client
}

func New(store script.Store, llm *llmclient.Client) *Retriever {
	return &Retriever{store: store, llm: llm}
}

func normalizeQuery(q string) string {
	fields := strings.Fields(strings.TrimSpace(q))
	return strings.Join(fields, " ")
}

// VectorSearch embeds query, searches scene embeddings for scriptID, and
// returns the top-k hits scoring at or above threshold, each paired with
// its scene and summary.
func (r *Retriever) VectorSearch(ctx context.Context, scriptID, query string, k int, threshold float64) ([]SceneHit, error) {
	vectors, err := r.llm.Embed(ctx, scriptID, []string{normalizeQuery(query)})
	if err != nil {
		return nil, fmt.Errorf("retrieval: embed query: %w", err)
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("retrieval: embed query: no vector returned")
	}

	hits, err := r.store.SearchSceneEmbeddings(ctx, scriptID, vectors[0], k)
	if err != nil {
		return nil, fmt.Errorf("retrieval: search embeddings: %w", err)
	}

	out := make([]SceneHit, 0, len(hits))
	for _, h := range hits {
		if h.Score < threshold {
			continue
		}
		sc, err := r.store.GetScene(ctx, h.SceneID)
		if err != nil {
			continue
		}
		summary, err := r.store.GetSceneSummary(ctx, h.SceneID)
		text := ""
		if err == nil {
			text = summary.Text
		}
		out = append(out, SceneHit{Scene: sc, Summary: text, Score: h.Score})
	}
	return out, nil
}

// RetrieveForIntent dispatches to the per-intent retrieval shape of §4.7.
func (r *Retriever) RetrieveForIntent(ctx context.Context, intent Intent, scriptID, query string, hints Hints) (Result, error) {
	switch intent {
	case IntentLocalEdit:
		return r.retrieveLocalEdit(ctx, scriptID, hints)
	case IntentSceneFeedback:
		return r.retrieveSceneFeedback(ctx, scriptID, query, hints)
	case IntentGlobalQuestion:
		return r.retrieveGlobalQuestion(ctx, scriptID, query)
	case IntentBrainstorm:
		return r.retrieveBrainstorm(ctx, scriptID, query)
	default:
		return Result{}, fmt.Errorf("retrieval: unknown intent %q", intent)
	}
}

// retrieveLocalEdit returns the hinted scene and its position-adjacent
// neighbors; it does not fill Result.ActiveThread, which stays empty.
// Without a scene hint there is nothing to localize to.
func (r *Retriever) retrieveLocalEdit(ctx context.Context, scriptID string, hints Hints) (Result, error) {
	res := Result{Intent: IntentLocalEdit}
	if hints.ScenePosition == nil {
		return res, nil
	}
	scenes, err := r.store.ListScenesByScript(ctx, scriptID)
	if err != nil {
		return res, fmt.Errorf("retrieval: local edit: list scenes: %w", err)
	}
	sort.Slice(scenes, func(i, j int) bool { return scenes[i].Position < scenes[j].Position })

	target := *hints.ScenePosition
	for i, sc := range scenes {
		if sc.Position != target {
			continue
		}
		lo, hi := i-1, i+1
		if lo < 0 {
			lo = 0
		}
		if hi >= len(scenes) {
			hi = len(scenes) - 1
		}
		for _, neighbor := range scenes[lo : hi+1] {
			summary, _ := r.store.GetSceneSummary(ctx, neighbor.ID)
			res.Scenes = append(res.Scenes, SceneHit{Scene: neighbor, Summary: summary.Text})
		}
		break
	}
	return res, nil
}

// retrieveSceneFeedback returns the hinted scene, its 3 nearest
// embedding neighbors, and the character sheets of everyone in it.
func (r *Retriever) retrieveSceneFeedback(ctx context.Context, scriptID, query string, hints Hints) (Result, error) {
	res := Result{Intent: IntentSceneFeedback}
	if hints.ScenePosition == nil {
		return res, nil
	}
	scenes, err := r.store.ListScenesByScript(ctx, scriptID)
	if err != nil {
		return res, fmt.Errorf("retrieval: scene feedback: list scenes: %w", err)
	}

	var hinted *script.Scene
	for i := range scenes {
		if scenes[i].Position == *hints.ScenePosition {
			hinted = &scenes[i]
			break
		}
	}
	if hinted == nil {
		return res, nil
	}
	summary, _ := r.store.GetSceneSummary(ctx, hinted.ID)
	res.Scenes = append(res.Scenes, SceneHit{Scene: *hinted, Summary: summary.Text, Score: 1.0})

	neighbors, err := r.VectorSearch(ctx, scriptID, query, 4, GeneralScoreThreshold)
	if err == nil {
		for _, n := range neighbors {
			if n.Scene.ID == hinted.ID {
				continue
			}
			res.Scenes = append(res.Scenes, n)
			if len(res.Scenes) >= 4 {
				break
			}
		}
	}

	for _, name := range hinted.Characters {
		sheet, err := r.store.GetCharacterSheet(ctx, scriptID, name)
		if err == nil {
			res.CharacterSheets = append(res.CharacterSheets, sheet)
		}
	}
	return res, nil
}

// retrieveGlobalQuestion returns the stored outline as-is with its stale
// flag in OutlineStale (the outline is never regenerated here, stale or
// not), the top-8 vector hits over scene summaries, and every character
// sheet.
func (r *Retriever) retrieveGlobalQuestion(ctx context.Context, scriptID, query string) (Result, error) {
	res := Result{Intent: IntentGlobalQuestion}

	outline, err := r.store.GetOutline(ctx, scriptID)
	if err == nil {
		res.Outline = outline.Text
		res.OutlineStale = outline.IsStale
	}

	hits, err := r.VectorSearch(ctx, scriptID, query, 8, GeneralScoreThreshold)
	if err != nil {
		return res, fmt.Errorf("retrieval: global question: vector search: %w", err)
	}
	res.Scenes = hits

	sheets, err := r.store.ListCharacterSheets(ctx, scriptID)
	if err != nil {
		return res, fmt.Errorf("retrieval: global question: list character sheets: %w", err)
	}
	res.CharacterSheets = sheets
	return res, nil
}

// retrieveBrainstorm returns the outline and 5 vector hits; no full
// scene text is surfaced, per §4.7.
func (r *Retriever) retrieveBrainstorm(ctx context.Context, scriptID, query string) (Result, error) {
	res := Result{Intent: IntentBrainstorm}

	outline, err := r.store.GetOutline(ctx, scriptID)
	if err == nil {
		res.Outline = outline.Text
		res.OutlineStale = outline.IsStale
	}

	hits, err := r.VectorSearch(ctx, scriptID, query, 5, GeneralScoreThreshold)
	if err != nil {
		return res, fmt.Errorf("retrieval: brainstorm: vector search: %w", err)
	}
	for i := range hits {
		hits[i].Scene.RawText = ""
		hits[i].Scene.Blocks = nil
	}
	res.Scenes = hits
	return res, nil
}
