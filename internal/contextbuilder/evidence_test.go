package contextbuilder_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scriptforge/internal/contextbuilder"
)

func TestEvidenceBuilder_DropsEmptyAndErrorResults(t *testing.T) {
	t.Parallel()
	b := contextbuilder.NewEvidenceBuilder()
	ev := b.Build("what happens to jane", []contextbuilder.ToolResult{
		{Tool: "get_scene", Content: ""},
		{Tool: "get_scene", Content: "Error: scene not found"},
		{Tool: "get_scene", Content: "Jane confronts her rival in the kitchen."},
	})
	require.Len(t, ev.Items, 1)
	assert.Contains(t, ev.Items[0].Content, "Jane")
}

func TestEvidenceBuilder_SplitsBatchResultsOnSceneMarkers(t *testing.T) {
	t.Parallel()
	b := contextbuilder.NewEvidenceBuilder()
	content := strings.Join([]string{
		"--- SCENE 1 (1, INT. KITCHEN) ---",
		"Jane makes coffee.",
		"--- SCENE 2 (2, EXT. STREET) ---",
		"Jane walks to work.",
	}, "\n")
	ev := b.Build("jane", []contextbuilder.ToolResult{{Tool: "get_scenes", Content: content}})
	require.Len(t, ev.Items, 2)
	assert.Equal(t, []int{1}, ev.Items[0].SceneNumbers)
	assert.Equal(t, []int{2}, ev.Items[1].SceneNumbers)
}

func TestEvidenceBuilder_ScoresBySceneNumberAndTokenOverlap(t *testing.T) {
	t.Parallel()
	b := contextbuilder.NewEvidenceBuilder()
	content := strings.Join([]string{
		"--- SCENE 1 (1, INT. KITCHEN) ---",
		"A quiet morning with no relevant words.",
		"--- SCENE 7 (7, EXT. STREET) ---",
		"Jane confronts her rival about the stolen script pages.",
	}, "\n")
	ev := b.Build("what happens with jane and the stolen script pages in scene 7", []contextbuilder.ToolResult{
		{Tool: "get_scenes", Content: content},
	})
	require.Len(t, ev.Items, 2)
	assert.Equal(t, []int{7}, ev.Items[0].SceneNumbers)
}

func TestEvidenceBuilder_CapsAtMaxItemsAndMarksTruncated(t *testing.T) {
	t.Parallel()
	b := &contextbuilder.EvidenceBuilder{MaxItems: 2}
	results := []contextbuilder.ToolResult{
		{Tool: "search_scenes", Content: "alpha result about jane"},
		{Tool: "search_scenes", Content: "beta result about jane"},
		{Tool: "search_scenes", Content: "gamma result about jane"},
	}
	ev := b.Build("jane", results)
	require.Len(t, ev.Items, 2)
	assert.True(t, ev.Truncated)
	assert.Equal(t, 3, ev.OriginalItemCount)

	rendered := ev.Render()
	assert.Contains(t, rendered, "1 lower-relevance results omitted")
}

func TestEvidenceBuilder_TruncatesLargeContent(t *testing.T) {
	t.Parallel()
	b := contextbuilder.NewEvidenceBuilder()
	big := strings.Repeat("jane ", 2000)
	ev := b.Build("jane", []contextbuilder.ToolResult{{Tool: "get_scene", Content: big}})
	require.Len(t, ev.Items, 1)
	assert.Contains(t, ev.Items[0].Content, "[truncated]")
}

func TestEvidenceRender_FormatsItemsWithSceneNumbers(t *testing.T) {
	t.Parallel()
	b := contextbuilder.NewEvidenceBuilder()
	content := "--- SCENE 3 (3, INT. OFFICE) ---\nJane signs the contract."
	ev := b.Build("jane contract", []contextbuilder.ToolResult{{Tool: "get_scene", Content: content}})
	rendered := ev.Render()
	assert.Contains(t, rendered, "[1] From get_scene (Scenes: 3): Jane signs the contract.")
}
