package contextbuilder

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

const (
	maxItemBytes      = 4 * 1024
	defaultMaxItems   = 5
	truncationMarker  = "[truncated]"
	errorResultPrefix = "Error:"
)

var sceneMarkerRE = regexp.MustCompile(`---\s*SCENE\s+(\d+)\s*\(([^,)]*),\s*([^)]*)\)\s*---`)

// ToolResult is one raw tool invocation outcome fed into EvidenceBuilder.
type ToolResult struct {
	Tool    string
	Input   string
	Content string
}

// EvidenceItem is one scored, possibly-truncated unit of evidence.
type EvidenceItem struct {
	Tool         string
	SceneNumbers []int
	Content      string
	CharCount    int
	Score        float64
	Truncated    bool
}

// Evidence is the structured bundle EvidenceBuilder.Build emits.
type Evidence struct {
	Question          string
	Items             []EvidenceItem
	Truncated         bool
	OriginalItemCount int
}

// EvidenceBuilder turns raw tool-call results into a ranked, budget-capped
// evidence bundle for PromptAssembler (§4.8).
type EvidenceBuilder struct {
	MaxItems int
}

func NewEvidenceBuilder() *EvidenceBuilder {
	return &EvidenceBuilder{MaxItems: defaultMaxItems}
}

// Build implements the pipeline in order: drop empty/error results, split
// batch results on scene markers, score, sort descending, truncate each
// item's content, keep at most MaxItems.
func (b *EvidenceBuilder) Build(question string, results []ToolResult) Evidence {
	maxItems := b.MaxItems
	if maxItems <= 0 {
		maxItems = defaultMaxItems
	}

	queryTokens := tokenize(question)
	queryScenes := extractSceneNumbersFromQuery(question)

	var items []EvidenceItem
	for _, r := range results {
		content := strings.TrimSpace(r.Content)
		if content == "" || strings.HasPrefix(content, errorResultPrefix) {
			continue
		}
		for _, split := range splitBatchResult(r.Tool, content) {
			split.Score = scoreItem(split, queryTokens, queryScenes)
			items = append(items, split)
		}
	}

	sort.SliceStable(items, func(i, j int) bool { return items[i].Score > items[j].Score })

	originalCount := len(items)
	truncated := originalCount > maxItems
	if truncated {
		items = items[:maxItems]
	}

	for i := range items {
		items[i].CharCount = len(items[i].Content)
		if len(items[i].Content) > maxItemBytes {
			items[i].Content = items[i].Content[:maxItemBytes] + " " + truncationMarker
			items[i].CharCount = len(items[i].Content)
		}
	}

	return Evidence{
		Question:          question,
		Items:             items,
		Truncated:         truncated,
		OriginalItemCount: originalCount,
	}
}

// Render produces the prompt-facing text form of e.
func (e Evidence) Render() string {
	var sb strings.Builder
	for i, item := range e.Items {
		scenes := make([]string, len(item.SceneNumbers))
		for j, n := range item.SceneNumbers {
			scenes[j] = strconv.Itoa(n)
		}
		sb.WriteString(fmt.Sprintf("[%d] From %s (Scenes: %s): %s\n", i+1, item.Tool, strings.Join(scenes, ", "), item.Content))
	}
	if e.Truncated {
		omitted := e.OriginalItemCount - len(e.Items)
		sb.WriteString(fmt.Sprintf("%d lower-relevance results omitted\n", omitted))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// splitBatchResult breaks a multi-scene tool result on its `--- SCENE N
// (index, heading) ---` markers into one item per scene. A result with no
// markers becomes a single item carrying no scene numbers.
func splitBatchResult(tool, content string) []EvidenceItem {
	locs := sceneMarkerRE.FindAllStringSubmatchIndex(content, -1)
	if len(locs) == 0 {
		return []EvidenceItem{{Tool: tool, Content: content}}
	}

	var items []EvidenceItem
	for i, loc := range locs {
		numStr := content[loc[2]:loc[3]]
		bodyStart := loc[1]
		bodyEnd := len(content)
		if i+1 < len(locs) {
			bodyEnd = locs[i+1][0]
		}
		body := strings.TrimSpace(content[bodyStart:bodyEnd])
		num, err := strconv.Atoi(numStr)
		var nums []int
		if err == nil {
			nums = []int{num}
		}
		items = append(items, EvidenceItem{Tool: tool, SceneNumbers: nums, Content: body})
	}
	return items
}

// scoreItem is the fraction of query tokens present in the item's content,
// plus a bonus when the item carries a scene number the query mentioned
// explicitly.
func scoreItem(item EvidenceItem, queryTokens map[string]bool, queryScenes map[int]bool) float64 {
	if len(queryTokens) == 0 {
		return 0
	}
	lower := strings.ToLower(item.Content)
	matched := 0
	for tok := range queryTokens {
		if strings.Contains(lower, tok) {
			matched++
		}
	}
	score := float64(matched) / float64(len(queryTokens))

	for _, n := range item.SceneNumbers {
		if queryScenes[n] {
			score += 0.25
			break
		}
	}
	return score
}

func tokenize(text string) map[string]bool {
	out := map[string]bool{}
	for _, f := range strings.Fields(strings.ToLower(text)) {
		trimmed := strings.Trim(f, ".,!?;:\"'")
		if len(trimmed) < 3 {
			continue
		}
		out[trimmed] = true
	}
	return out
}

func extractSceneNumbersFromQuery(text string) map[int]bool {
	out := map[int]bool{}
	for n := range extractSceneNumbers(text) {
		out[n] = true
	}
	return out
}
