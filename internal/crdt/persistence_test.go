package crdt_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scriptforge/internal/crdt"
	"scriptforge/internal/script"
	"scriptforge/internal/script/memory"
)

func TestStoreUpdateAndLoad_AppliesInCreationOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memory.New()
	scr, err := store.CreateScript(ctx, script.Script{Title: "Pilot"})
	require.NoError(t, err)

	mgr := crdt.NewManager(store)
	require.NoError(t, mgr.StoreUpdate(ctx, crdt.ParentScript, scr.ID, crdt.EncodeInsert(0, crdt.Element{Type: "scene_heading", Text: "INT. KITCHEN"}), "user1"))
	require.NoError(t, mgr.StoreUpdate(ctx, crdt.ParentScript, scr.ID, crdt.EncodeInsert(1, crdt.Element{Type: "action", Text: "Jane enters."}), "user1"))

	doc := crdt.NewDoc()
	applied, compacted, err := mgr.LoadAndCompactIfNeeded(ctx, crdt.ParentScript, scr.ID, doc, 100)
	require.NoError(t, err)
	assert.Equal(t, 2, applied)
	assert.False(t, compacted)
	require.Len(t, doc.Content, 2)
	assert.Equal(t, "INT. KITCHEN", doc.Content[0].Text)
	assert.Equal(t, "Jane enters.", doc.Content[1].Text)
}

func TestLoadAndCompactIfNeeded_CompactsOverThreshold(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memory.New()
	scr, err := store.CreateScript(ctx, script.Script{Title: "Pilot"})
	require.NoError(t, err)

	mgr := crdt.NewManager(store)
	for i := 0; i < 150; i++ {
		require.NoError(t, mgr.StoreUpdate(ctx, crdt.ParentScript, scr.ID, crdt.EncodeInsert(i, crdt.Element{Type: "action", Text: "line"}), ""))
	}

	doc := crdt.NewDoc()
	applied, compacted, err := mgr.LoadAndCompactIfNeeded(ctx, crdt.ParentScript, scr.ID, doc, 100)
	require.NoError(t, err)
	assert.Equal(t, 150, applied)
	assert.True(t, compacted)
	assert.Len(t, doc.Content, 150)

	rows, err := store.ListScriptCRDTUpdates(ctx, scr.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	// Reloading from the compacted single row reproduces the same state.
	doc2 := crdt.NewDoc()
	applied2, compacted2, err := mgr.LoadAndCompactIfNeeded(ctx, crdt.ParentScript, scr.ID, doc2, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, applied2)
	assert.False(t, compacted2)
	assert.Equal(t, doc.Content, doc2.Content)
}

func TestPopulateFromBlocksThenDeriveSnapshot_RoundTrips(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memory.New()
	scr, err := store.CreateScript(ctx, script.Script{Title: "Pilot"})
	require.NoError(t, err)

	blocks := []script.Block{
		{Type: "scene_heading", Text: "INT. KITCHEN - DAY"},
		{Type: "action", Text: "Jane pours coffee."},
		{Type: "character", Text: "JANE"},
		{Type: "dialogue", Text: "Where is everyone?", Meta: map[string]any{"character": "JANE"}},
	}

	doc := crdt.NewDoc()
	update := crdt.PopulateFromBlocks(doc, blocks)

	mgr := crdt.NewManager(store)
	require.NoError(t, mgr.StoreUpdate(ctx, crdt.ParentScene, "scene-1", update, "import"))

	loaded := crdt.NewDoc()
	applied, _, err := mgr.LoadAndCompactIfNeeded(ctx, crdt.ParentScene, "scene-1", loaded, crdt.DefaultCompactionThreshold)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)

	derived, err := mgr.DeriveSnapshot(ctx, "scene-1", loaded, script.SnapshotImport, applied)
	require.NoError(t, err)
	assert.Equal(t, blocks, derived)
}

func TestDoc_InsertThenDeleteRange(t *testing.T) {
	t.Parallel()
	doc := crdt.NewDoc()
	require.NoError(t, doc.Apply(crdt.EncodeInsert(0, crdt.Element{Type: "action", Text: "a"})))
	require.NoError(t, doc.Apply(crdt.EncodeInsert(1, crdt.Element{Type: "action", Text: "b"})))
	require.NoError(t, doc.Apply(crdt.EncodeInsert(2, crdt.Element{Type: "action", Text: "c"})))
	require.Len(t, doc.Content, 3)

	require.NoError(t, doc.Apply(crdt.EncodeDelete(1, 1)))
	require.Len(t, doc.Content, 2)
	assert.Equal(t, "a", doc.Content[0].Text)
	assert.Equal(t, "c", doc.Content[1].Text)
}
