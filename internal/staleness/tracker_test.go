package staleness_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scriptforge/internal/config"
	"scriptforge/internal/script"
	"scriptforge/internal/script/memory"
	"scriptforge/internal/staleness"
)

func thresholds() config.Thresholds {
	return config.Thresholds{OutlineStale: 5, CharacterStale: 3}
}

func TestOnSceneChanged_MarksOutlineStaleAtThreshold(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memory.New()
	tr := staleness.New(store, thresholds())

	sc := script.Scene{ID: "sc_1", ScriptID: "scr_1"}
	var report staleness.ChangeReport
	for i := 0; i < 5; i++ {
		var err error
		report, err = tr.OnSceneChanged(ctx, sc)
		require.NoError(t, err)
	}
	assert.True(t, report.OutlineNowStale)
}

func TestOnSceneChanged_MarksLinkedCharactersStale(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memory.New()
	tr := staleness.New(store, thresholds())

	sc := script.Scene{ID: "sc_1", ScriptID: "scr_1", Characters: []string{"JOHN"}}
	var report staleness.ChangeReport
	for i := 0; i < 3; i++ {
		var err error
		report, err = tr.OnSceneChanged(ctx, sc)
		require.NoError(t, err)
	}
	assert.Contains(t, report.CharactersNowStale, "JOHN")
}

func TestShouldRefreshOutline_FalseBeforeThreshold(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memory.New()
	tr := staleness.New(store, thresholds())

	sc := script.Scene{ID: "sc_1", ScriptID: "scr_1"}
	_, err := tr.OnSceneChanged(ctx, sc)
	require.NoError(t, err)

	should, err := tr.ShouldRefreshOutline(ctx, "scr_1")
	require.NoError(t, err)
	assert.False(t, should)
}

func TestResetOutline_ClearsStaleness(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memory.New()
	tr := staleness.New(store, thresholds())

	sc := script.Scene{ID: "sc_1", ScriptID: "scr_1"}
	for i := 0; i < 5; i++ {
		_, _ = tr.OnSceneChanged(ctx, sc)
	}
	require.NoError(t, tr.ResetOutline(ctx, "scr_1"))

	should, err := tr.ShouldRefreshOutline(ctx, "scr_1")
	require.NoError(t, err)
	assert.False(t, should)
}

func TestShouldRefreshCharacter_TrueWhenSheetNeverGenerated(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memory.New()
	tr := staleness.New(store, thresholds())

	should, err := tr.ShouldRefreshCharacter(ctx, "scr_1", "JOHN")
	require.NoError(t, err)
	assert.True(t, should)
}

func TestCheckSceneStaleness_DetectsChangedContent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memory.New()
	tr := staleness.New(store, thresholds())

	sc, err := store.CreateScene(ctx, script.Scene{ScriptID: "scr_1", RawText: "John enters."})
	require.NoError(t, err)

	changed, err := tr.CheckSceneStaleness(ctx, sc)
	require.NoError(t, err)
	assert.True(t, changed, "hash should differ from empty persisted hash")

	persisted, err := store.GetScene(ctx, sc.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, persisted.Hash)
}

func TestCheckSceneStaleness_FalseWhenUnchanged(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memory.New()
	tr := staleness.New(store, thresholds())

	sc, err := store.CreateScene(ctx, script.Scene{ScriptID: "scr_1", RawText: "John enters."})
	require.NoError(t, err)
	_, err = tr.CheckSceneStaleness(ctx, sc)
	require.NoError(t, err)

	persisted, err := store.GetScene(ctx, sc.ID)
	require.NoError(t, err)

	changed, err := tr.CheckSceneStaleness(ctx, persisted)
	require.NoError(t, err)
	assert.False(t, changed)
}
