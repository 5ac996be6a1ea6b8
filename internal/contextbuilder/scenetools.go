package contextbuilder

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"scriptforge/internal/retrieval"
	"scriptforge/internal/script"
)

// sceneMarker renders a scene into the batch-result marker format
// EvidenceBuilder splits on (§4.8): "--- SCENE N (index, heading) ---".
func sceneMarker(sc script.Scene) string {
	return fmt.Sprintf("--- SCENE %d (%d, %s) ---", sc.Position, sc.Position, sc.Heading)
}

func sceneBody(sc script.Scene) string {
	if sc.RawText != "" {
		return sc.RawText
	}
	var sb strings.Builder
	for _, b := range sc.Blocks {
		sb.WriteString(b.Text)
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// getSceneTool fetches a single scene by its 1-indexed script position.
type getSceneTool struct {
	store     script.Store
	scriptID  string
}

func newGetSceneTool(store script.Store, scriptID string) *getSceneTool {
	return &getSceneTool{store: store, scriptID: scriptID}
}

func (t *getSceneTool) Name() string { return "get_scene" }

func (t *getSceneTool) JSONSchema() map[string]any {
	return map[string]any{
		"name":        t.Name(),
		"description": "Fetch the full text of one scene by its scene number (position).",
		"parameters": map[string]any{
			"type":     "object",
			"required": []string{"scene_number"},
			"properties": map[string]any{
				"scene_number": map[string]any{"type": "integer", "description": "1-indexed scene position"},
			},
		},
	}
}

func (t *getSceneTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		SceneNumber int `json:"scene_number"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	scenes, err := t.store.ListScenesByScript(ctx, t.scriptID)
	if err != nil {
		return nil, err
	}
	for _, sc := range scenes {
		if sc.Position != args.SceneNumber {
			continue
		}
		return fmt.Sprintf("%s\n%s", sceneMarker(sc), sceneBody(sc)), nil
	}
	return fmt.Sprintf("Error: no scene at position %d", args.SceneNumber), nil
}

// getScenesTool fetches a contiguous range of scenes in one batch result.
type getScenesTool struct {
	store    script.Store
	scriptID string
}

func newGetScenesTool(store script.Store, scriptID string) *getScenesTool {
	return &getScenesTool{store: store, scriptID: scriptID}
}

func (t *getScenesTool) Name() string { return "get_scenes" }

func (t *getScenesTool) JSONSchema() map[string]any {
	return map[string]any{
		"name":        t.Name(),
		"description": "Fetch a contiguous range of scenes by scene number, inclusive.",
		"parameters": map[string]any{
			"type":     "object",
			"required": []string{"from", "to"},
			"properties": map[string]any{
				"from": map[string]any{"type": "integer"},
				"to":   map[string]any{"type": "integer"},
			},
		},
	}
}

func (t *getScenesTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		From int `json:"from"`
		To   int `json:"to"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	scenes, err := t.store.ListScenesByScript(ctx, t.scriptID)
	if err != nil {
		return nil, err
	}
	sort.Slice(scenes, func(i, j int) bool { return scenes[i].Position < scenes[j].Position })

	var parts []string
	for _, sc := range scenes {
		if sc.Position < args.From || sc.Position > args.To {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s\n%s", sceneMarker(sc), sceneBody(sc)))
	}
	if len(parts) == 0 {
		return fmt.Sprintf("Error: no scenes in range %d-%d", args.From, args.To), nil
	}
	return strings.Join(parts, "\n"), nil
}

// searchScenesTool runs a vector search over scene summaries via C7.
type searchScenesTool struct {
	retriever *retrieval.Retriever
	scriptID  string
}

func newSearchScenesTool(r *retrieval.Retriever, scriptID string) *searchScenesTool {
	return &searchScenesTool{retriever: r, scriptID: scriptID}
}

func (t *searchScenesTool) Name() string { return "search_scenes" }

func (t *searchScenesTool) JSONSchema() map[string]any {
	return map[string]any{
		"name":        t.Name(),
		"description": "Semantically search scene summaries for a query and return the best-matching scenes.",
		"parameters": map[string]any{
			"type":     "object",
			"required": []string{"query"},
			"properties": map[string]any{
				"query": map[string]any{"type": "string"},
				"k":     map[string]any{"type": "integer", "description": "max results, default 5"},
			},
		},
	}
}

func (t *searchScenesTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		Query string `json:"query"`
		K     int    `json:"k"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	if args.K <= 0 {
		args.K = 5
	}
	hits, err := t.retriever.VectorSearch(ctx, t.scriptID, args.Query, args.K, retrieval.GeneralScoreThreshold)
	if err != nil {
		return fmt.Sprintf("Error: %s", err), nil
	}
	if len(hits) == 0 {
		return "Error: no matching scenes", nil
	}
	var parts []string
	for _, h := range hits {
		parts = append(parts, fmt.Sprintf("%s\n%s", sceneMarker(h.Scene), h.Summary))
	}
	return strings.Join(parts, "\n"), nil
}

// getCharacterSheetTool fetches one character's derived sheet.
type getCharacterSheetTool struct {
	store    script.Store
	scriptID string
}

func newGetCharacterSheetTool(store script.Store, scriptID string) *getCharacterSheetTool {
	return &getCharacterSheetTool{store: store, scriptID: scriptID}
}

func (t *getCharacterSheetTool) Name() string { return "get_character_sheet" }

func (t *getCharacterSheetTool) JSONSchema() map[string]any {
	return map[string]any{
		"name":        t.Name(),
		"description": "Fetch the derived character sheet for a named character.",
		"parameters": map[string]any{
			"type":     "object",
			"required": []string{"name"},
			"properties": map[string]any{
				"name": map[string]any{"type": "string"},
			},
		},
	}
}

func (t *getCharacterSheetTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	sheet, err := t.store.GetCharacterSheet(ctx, t.scriptID, strings.ToUpper(args.Name))
	if err != nil {
		return fmt.Sprintf("Error: no character sheet for %s", args.Name), nil
	}
	return sheet.Text, nil
}

// getOutlineTool fetches the global outline.
type getOutlineTool struct {
	store    script.Store
	scriptID string
}

func newGetOutlineTool(store script.Store, scriptID string) *getOutlineTool {
	return &getOutlineTool{store: store, scriptID: scriptID}
}

func (t *getOutlineTool) Name() string { return "get_outline" }

func (t *getOutlineTool) JSONSchema() map[string]any {
	return map[string]any{
		"name":        t.Name(),
		"description": "Fetch the global story outline.",
		"parameters": map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	}
}

func (t *getOutlineTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	outline, err := t.store.GetOutline(ctx, t.scriptID)
	if err != nil {
		return "Error: outline not available", nil
	}
	return outline.Text, nil
}

// analyzePacingTool derives a coarse pacing signal from scene lengths:
// page-count-equivalent per scene (word count / wordsPerPage) and flags
// runs of 3+ consecutive scenes longer than 1.5x or shorter than 0.5x the
// script's mean; a longer run is reported by its first three scenes.
type analyzePacingTool struct {
	store    script.Store
	scriptID string
}

func newAnalyzePacingTool(store script.Store, scriptID string) *analyzePacingTool {
	return &analyzePacingTool{store: store, scriptID: scriptID}
}

func (t *analyzePacingTool) Name() string { return "analyze_pacing" }

func (t *analyzePacingTool) JSONSchema() map[string]any {
	return map[string]any{
		"name":        t.Name(),
		"description": "Analyze scene-length pacing across the script and flag runs of unusually long or short scenes.",
		"parameters": map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	}
}

const wordsPerPage = 220

func (t *analyzePacingTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	scenes, err := t.store.ListScenesByScript(ctx, t.scriptID)
	if err != nil {
		return nil, err
	}
	if len(scenes) == 0 {
		return "Error: no scenes to analyze", nil
	}
	sort.Slice(scenes, func(i, j int) bool { return scenes[i].Position < scenes[j].Position })

	pages := make([]float64, len(scenes))
	var total float64
	for i, sc := range scenes {
		words := len(strings.Fields(sceneBody(sc)))
		pages[i] = float64(words) / wordsPerPage
		total += pages[i]
	}
	mean := total / float64(len(scenes))

	var long, short []string
	runLong, runShort := 0, 0
	for i, sc := range scenes {
		switch {
		case pages[i] > mean*1.5:
			runLong++
			runShort = 0
		case pages[i] < mean*0.5:
			runShort++
			runLong = 0
		default:
			runLong, runShort = 0, 0
		}
		if runLong == 3 {
			long = append(long, fmt.Sprintf("scenes %d-%d", scenes[i-2].Position, sc.Position))
		}
		if runShort == 3 {
			short = append(short, fmt.Sprintf("scenes %d-%d", scenes[i-2].Position, sc.Position))
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Average scene length: %.1f pages across %d scenes.\n", mean, len(scenes))
	if len(long) > 0 {
		fmt.Fprintf(&sb, "Long-scene runs: %s.\n", strings.Join(long, "; "))
	}
	if len(short) > 0 {
		fmt.Fprintf(&sb, "Short-scene runs: %s.\n", strings.Join(short, "; "))
	}
	if len(long) == 0 && len(short) == 0 {
		sb.WriteString("No sustained pacing outliers detected.\n")
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}
