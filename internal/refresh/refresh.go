// Package refresh implements C5: the handlers that regenerate a single
// artifact kind and the orchestrator that fans them out across a script,
// bounded by the concurrency limits of §4.5. Each handler opens no
// transaction of its own beyond what the store methods it calls already
// provide; it is the caller's job (the worker loop in cmd/worker) to wrap
// a handler invocation in the job-queue lifecycle (dequeue/complete/fail).
package refresh

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"scriptforge/internal/config"
	"scriptforge/internal/llm"
	"scriptforge/internal/llmclient"
	"scriptforge/internal/observability"
	"scriptforge/internal/script"
	"scriptforge/internal/staleness"
	"scriptforge/internal/statemachine"
)

// Concurrency bounds from §4.5.
const (
	maxConcurrentSummaries  = 8
	maxConcurrentCharacters = 4
	maxEmbeddingBatch       = 96
)

// Handlers bundles the store, staleness tracker, and LLM client every
// refresh handler needs. It is constructed once per process and is safe
// for concurrent use.
type Handlers struct {
	store      script.Store
	stale      *staleness.Tracker
	llm        *llmclient.Client
	llmModel   string
	haikuModel string
	thresholds config.Thresholds
}

func New(store script.Store, stale *staleness.Tracker, client *llmclient.Client, model, haikuModel string, thresholds config.Thresholds) *Handlers {
	return &Handlers{store: store, stale: stale, llm: client, llmModel: model, haikuModel: haikuModel, thresholds: thresholds}
}

// RefreshSceneSummary loads the scene, prompts C6 for a fresh summary,
// bumps the SceneSummary version, and upserts a regenerated embedding.
// This is the standalone single-scene entry point a post-edit job-queue
// job invokes; AnalyzeScriptPartial/Full instead call generateSceneSummary
// directly and batch the embedding calls across the whole script.
func (h *Handlers) RefreshSceneSummary(ctx context.Context, sceneID string) error {
	sc, err := h.store.GetScene(ctx, sceneID)
	if err != nil {
		return fmt.Errorf("refresh scene summary: load scene: %w", err)
	}
	summary, err := h.generateSceneSummary(ctx, sc)
	if err != nil {
		return err
	}

	vectors, err := h.llm.Embed(ctx, sc.ScriptID, []string{summary.Text})
	if err != nil {
		return fmt.Errorf("refresh scene summary: embed: %w", err)
	}
	if len(vectors) > 0 {
		if err := h.store.UpsertSceneEmbedding(ctx, script.SceneEmbedding{SceneID: sc.ID, Vector: vectors[0]}); err != nil {
			return fmt.Errorf("refresh scene summary: upsert embedding: %w", err)
		}
	}
	return nil
}

// generateSceneSummary prompts C6 and persists the SceneSummary row but
// does not touch the embedding, so batch callers can embed many scenes'
// summaries in one request.
func (h *Handlers) generateSceneSummary(ctx context.Context, sc script.Scene) (script.SceneSummary, error) {
	msg, _, err := h.llm.Complete(ctx, sc.ScriptID, summaryPrompt(sc), nil, h.llmModel)
	if err != nil {
		return script.SceneSummary{}, fmt.Errorf("refresh scene summary: complete: %w", err)
	}

	summary := script.SceneSummary{
		SceneID:       sc.ID,
		ScriptID:      sc.ScriptID,
		Text:          strings.TrimSpace(msg.Content),
		TokenEstimate: estimateTokens(msg.Content),
	}
	if _, err := h.store.UpsertSceneSummary(ctx, summary); err != nil {
		return script.SceneSummary{}, fmt.Errorf("refresh scene summary: upsert: %w", err)
	}
	return summary, nil
}

// RefreshCharacterSheet loads every scene linked to (scriptID, name) with
// its summary, prompts C6, upserts the sheet, and resets staleness.
func (h *Handlers) RefreshCharacterSheet(ctx context.Context, scriptID, name string) error {
	scenes, err := h.store.ListScenesByCharacter(ctx, scriptID, name)
	if err != nil {
		return fmt.Errorf("refresh character sheet: list scenes: %w", err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Character: %s\n\n", name)
	for _, sc := range scenes {
		summary, err := h.store.GetSceneSummary(ctx, sc.ID)
		if err != nil {
			continue
		}
		fmt.Fprintf(&sb, "Scene %d (%s): %s\n\n", sc.Position, sc.Heading, summary.Text)
	}

	msg, _, err := h.llm.Complete(ctx, scriptID, characterSheetPrompt(sb.String()), nil, h.llmModel)
	if err != nil {
		return fmt.Errorf("refresh character sheet: complete: %w", err)
	}

	sheet := script.CharacterSheet{
		ScriptID:      scriptID,
		Name:          name,
		Text:          strings.TrimSpace(msg.Content),
		TokenEstimate: estimateTokens(msg.Content),
	}
	if _, err := h.store.UpsertCharacterSheet(ctx, sheet); err != nil {
		return fmt.Errorf("refresh character sheet: upsert: %w", err)
	}
	return h.stale.ResetCharacter(ctx, scriptID, name)
}

// RefreshOutline loads every scene's summary in position order, prompts
// C6, upserts the outline, and resets staleness.
func (h *Handlers) RefreshOutline(ctx context.Context, scriptID string) error {
	scenes, err := h.store.ListScenesByScript(ctx, scriptID)
	if err != nil {
		return fmt.Errorf("refresh outline: list scenes: %w", err)
	}
	sort.Slice(scenes, func(i, j int) bool { return scenes[i].Position < scenes[j].Position })

	var sb strings.Builder
	for _, sc := range scenes {
		summary, err := h.store.GetSceneSummary(ctx, sc.ID)
		if err != nil {
			continue
		}
		fmt.Fprintf(&sb, "Scene %d (%s): %s\n\n", sc.Position, sc.Heading, summary.Text)
	}

	msg, _, err := h.llm.Complete(ctx, scriptID, outlinePrompt(sb.String()), nil, h.llmModel)
	if err != nil {
		return fmt.Errorf("refresh outline: complete: %w", err)
	}

	outline := script.ScriptOutline{
		ScriptID:      scriptID,
		Text:          strings.TrimSpace(msg.Content),
		TokenEstimate: estimateTokens(msg.Content),
	}
	if _, err := h.store.UpsertOutline(ctx, outline); err != nil {
		return fmt.Errorf("refresh outline: upsert: %w", err)
	}
	return h.stale.ResetOutline(ctx, scriptID)
}

// AnalyzeScriptPartial refreshes only scenes with a null or stale hash,
// then the outline and character sheets, then advances script state.
func (h *Handlers) AnalyzeScriptPartial(ctx context.Context, scriptID string) error {
	return h.analyzeScript(ctx, scriptID, false)
}

// AnalyzeScriptFull forces every scene's summary to regenerate regardless
// of hash staleness, otherwise following the same order as
// AnalyzeScriptPartial.
func (h *Handlers) AnalyzeScriptFull(ctx context.Context, scriptID string) error {
	return h.analyzeScript(ctx, scriptID, true)
}

// analyzeScript runs scene summaries first, bounded by a semaphore of
// maxConcurrentSummaries, then the outline and every distinct character's
// sheet concurrently, bounded by maxConcurrentCharacters. A failure in an
// individual scene summary is logged and skipped; a failure in the
// orchestrator itself (listing scenes, listing characters) is fatal.
func (h *Handlers) analyzeScript(ctx context.Context, scriptID string, force bool) error {
	scenes, err := h.store.ListScenesByScript(ctx, scriptID)
	if err != nil {
		return fmt.Errorf("analyze script: list scenes: %w", err)
	}

	var toRefresh []script.Scene
	for _, sc := range scenes {
		if force {
			toRefresh = append(toRefresh, sc)
			continue
		}
		stale, err := h.stale.CheckSceneStaleness(ctx, sc)
		if err != nil {
			return fmt.Errorf("analyze script: check staleness: %w", err)
		}
		if sc.Hash == "" || stale {
			toRefresh = append(toRefresh, sc)
		}
	}

	var mu sync.Mutex
	var summaries []script.SceneSummary

	sem := make(chan struct{}, maxConcurrentSummaries)
	g, gctx := errgroup.WithContext(ctx)
	for _, sc := range toRefresh {
		sc := sc
		g.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()
			summary, err := h.generateSceneSummary(gctx, sc)
			if err != nil {
				observability.LoggerWithTrace(gctx).Warn().Err(err).Str("scene_id", sc.ID).Msg("refresh_scene_summary_failed")
				return nil
			}
			mu.Lock()
			summaries = append(summaries, summary)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("analyze script: scene summary batch: %w", err)
	}

	if err := h.batchEmbed(ctx, scriptID, summaries); err != nil {
		return fmt.Errorf("analyze script: batch embed: %w", err)
	}

	characters, err := h.distinctCharacters(ctx, scriptID)
	if err != nil {
		return fmt.Errorf("analyze script: list characters: %w", err)
	}

	post, postCtx := errgroup.WithContext(ctx)
	post.Go(func() error {
		return h.RefreshOutline(postCtx, scriptID)
	})
	charSem := make(chan struct{}, maxConcurrentCharacters)
	for _, name := range characters {
		name := name
		post.Go(func() error {
			charSem <- struct{}{}
			defer func() { <-charSem }()
			return h.RefreshCharacterSheet(postCtx, scriptID, name)
		})
	}
	if err := post.Wait(); err != nil {
		return fmt.Errorf("analyze script: outline/character batch: %w", err)
	}

	return h.ScriptStateAdvance(ctx, scriptID)
}

// batchEmbed embeds every summary's text in groups of up to
// maxEmbeddingBatch texts per request to C6, per §4.5.
func (h *Handlers) batchEmbed(ctx context.Context, scriptID string, summaries []script.SceneSummary) error {
	for start := 0; start < len(summaries); start += maxEmbeddingBatch {
		end := start + maxEmbeddingBatch
		if end > len(summaries) {
			end = len(summaries)
		}
		batch := summaries[start:end]
		texts := make([]string, len(batch))
		for i, s := range batch {
			texts[i] = s.Text
		}
		vectors, err := h.llm.Embed(ctx, scriptID, texts)
		if err != nil {
			return err
		}
		for i, s := range batch {
			if i >= len(vectors) {
				break
			}
			if err := h.store.UpsertSceneEmbedding(ctx, script.SceneEmbedding{SceneID: s.SceneID, Vector: vectors[i]}); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *Handlers) distinctCharacters(ctx context.Context, scriptID string) ([]string, error) {
	scenes, err := h.store.ListScenesByScript(ctx, scriptID)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var out []string
	for _, sc := range scenes {
		for _, c := range sc.Characters {
			if !seen[c] {
				seen[c] = true
				out = append(out, c)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

// ScriptStateAdvance inspects scene and page counts and advances the
// script's analysis state per C11's thresholds, stamping
// LastStateTransition when it moves.
func (h *Handlers) ScriptStateAdvance(ctx context.Context, scriptID string) error {
	sc, err := h.store.GetScript(ctx, scriptID)
	if err != nil {
		return fmt.Errorf("script state advance: load script: %w", err)
	}
	scenes, err := h.store.ListScenesByScript(ctx, scriptID)
	if err != nil {
		return fmt.Errorf("script state advance: list scenes: %w", err)
	}

	totalWords := 0
	for _, s := range scenes {
		totalWords += len(strings.Fields(s.RawText))
	}
	pageCount := statemachine.EstimatePageCount(totalWords)

	next := statemachine.Next(sc.State, len(scenes), pageCount, h.thresholds)
	if next == sc.State {
		return nil
	}
	return h.store.UpdateScriptState(ctx, scriptID, next, time.Now().UTC())
}

func estimateTokens(text string) int {
	// Rough estimate matching the teacher's token-estimate heuristic
	// elsewhere in this codebase: ~4 characters per token.
	return (len(text) + 3) / 4
}

func summaryPrompt(sc script.Scene) []llm.Message {
	text := sc.RawText
	if text == "" {
		for _, b := range sc.Blocks {
			text += b.Text + "\n"
		}
	}
	return []llm.Message{
		{Role: "system", Content: "You summarize a single screenplay scene in 2-3 sentences, focusing on plot-relevant action and character intent."},
		{Role: "user", Content: fmt.Sprintf("Scene %d (%s):\n\n%s", sc.Position, sc.Heading, text)},
	}
}

func characterSheetPrompt(sceneDigest string) []llm.Message {
	return []llm.Message{
		{Role: "system", Content: "You maintain a concise character sheet: motivations, relationships, and arc progression, based on the scenes the character appears in."},
		{Role: "user", Content: sceneDigest},
	}
}

func outlinePrompt(sceneDigest string) []llm.Message {
	return []llm.Message{
		{Role: "system", Content: "You maintain a running scene-by-scene outline of a screenplay in progress."},
		{Role: "user", Content: sceneDigest},
	}
}
