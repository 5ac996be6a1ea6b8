package contextbuilder_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scriptforge/internal/config"
	"scriptforge/internal/contextbuilder"
	"scriptforge/internal/llm"
	"scriptforge/internal/llmclient"
	"scriptforge/internal/retrieval"
	"scriptforge/internal/script"
	"scriptforge/internal/script/memory"
)

func newProbeRetriever(t *testing.T, store script.Store, vector []float32) *retrieval.Retriever {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		data := make([]map[string]any, len(req.Input))
		for i := range req.Input {
			data[i] = map[string]any{"embedding": vector}
		}
		b, _ := json.Marshal(map[string]any{"data": data})
		_, _ = w.Write(b)
	}))
	t.Cleanup(srv.Close)
	client := llmclient.New(&fakeProvider{label: "ok"}, store, config.EmbeddingConfig{BaseURL: srv.URL, Path: "/", Model: "embed-test"})
	return retrieval.New(store, client)
}

func TestRelevanceProbe_RelevantAboveThreshold(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memory.New()
	scr, _ := store.CreateScript(ctx, script.Script{Title: "Pilot"})
	sc, _ := store.CreateScene(ctx, script.Scene{ScriptID: scr.ID, Position: 1, Heading: "INT. KITCHEN"})
	require.NoError(t, store.UpsertSceneEmbedding(ctx, script.SceneEmbedding{SceneID: sc.ID, Vector: []float32{1, 0, 0}}))

	retriever := newProbeRetriever(t, store, []float32{1, 0, 0})
	probe := contextbuilder.NewRelevanceProbe(retriever)

	result := probe.Probe(ctx, scr.ID, "what happens in the kitchen scene", 3)
	assert.True(t, result.Relevant)
	require.Len(t, result.Matches, 1)

	ctxStr := probe.QuickContext(ctx, scr.ID, "what happens in the kitchen scene")
	assert.Contains(t, ctxStr, "Scene 1")
	assert.Contains(t, ctxStr, "INT. KITCHEN")
}

func TestRelevanceProbe_NotRelevantBelowThreshold(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memory.New()
	scr, _ := store.CreateScript(ctx, script.Script{Title: "Pilot"})
	sc, _ := store.CreateScene(ctx, script.Scene{ScriptID: scr.ID, Position: 1, Heading: "INT. KITCHEN"})
	require.NoError(t, store.UpsertSceneEmbedding(ctx, script.SceneEmbedding{SceneID: sc.ID, Vector: []float32{1, 0, 0}}))

	retriever := newProbeRetriever(t, store, []float32{0, 1, 0})
	probe := contextbuilder.NewRelevanceProbe(retriever)

	result := probe.Probe(ctx, scr.ID, "unrelated question", 3)
	assert.False(t, result.Relevant)
	assert.Empty(t, result.Matches)
	assert.Empty(t, probe.QuickContext(ctx, scr.ID, "unrelated question"))
}
