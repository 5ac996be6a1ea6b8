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

// toolCallingProvider answers with a single tool call on its first Chat
// call, then a direct answer once it sees a "tool" role message in the
// conversation; ChatStream always yields a fixed synthesis string.
type toolCallingProvider struct {
	toolName string
	toolArgs string
}

func (p *toolCallingProvider) Chat(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string) (llm.Message, error) {
	for _, m := range msgs {
		if m.Role == "tool" {
			return llm.Message{Role: "assistant", Content: "Here is my answer."}, nil
		}
	}
	return llm.Message{
		Role: "assistant",
		ToolCalls: []llm.ToolCall{
			{ID: "call_1", Name: p.toolName, Args: json.RawMessage(p.toolArgs)},
		},
	}, nil
}

func (p *toolCallingProvider) ChatStream(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string, h llm.StreamHandler) error {
	h.OnDelta("Grounded synthesis output.")
	h.OnUsage(llm.Usage{})
	return nil
}

type recordingChunkHandler struct {
	deltas []string
	events []contextbuilder.ChatEvent
}

func (r *recordingChunkHandler) OnTextDelta(content string) { r.deltas = append(r.deltas, content) }
func (r *recordingChunkHandler) OnEvent(e contextbuilder.ChatEvent) {
	r.events = append(r.events, e)
}

func newEmbedServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		data := make([]map[string]any, len(req.Input))
		for i := range req.Input {
			data[i] = map[string]any{"embedding": []float32{0.1, 0.2, 0.3}}
		}
		b, _ := json.Marshal(map[string]any{"data": data})
		_, _ = w.Write(b)
	}))
}

func newTestBuilder(t *testing.T, store script.Store, provider llm.Provider) *contextbuilder.Builder {
	t.Helper()
	srv := newEmbedServer(t)
	t.Cleanup(srv.Close)
	embedCfg := config.EmbeddingConfig{BaseURL: srv.URL, Path: "/", Model: "embed-test"}
	client := llmclient.New(provider, store, embedCfg)
	retriever := retrieval.New(store, client)
	return contextbuilder.New(store, client, retriever, provider, "claude-sonnet-4-5")
}

func TestChat_GlobalQuestionRunsToolLoopAndSynthesizes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memory.New()
	scr, err := store.CreateScript(ctx, script.Script{Title: "Pilot"})
	require.NoError(t, err)
	_, err = store.CreateScene(ctx, script.Scene{ScriptID: scr.ID, Position: 1, Heading: "INT. KITCHEN", RawText: "Jane makes coffee."})
	require.NoError(t, err)

	provider := &toolCallingProvider{toolName: "get_outline", toolArgs: "{}"}
	builder := newTestBuilder(t, store, provider)

	h := &recordingChunkHandler{}
	req := contextbuilder.ChatRequest{
		ScriptID:    scr.ID,
		UserMessage: "What is the overall theme of the whole script so far?",
	}
	err = builder.Chat(ctx, req, h)
	require.NoError(t, err)

	require.NotEmpty(t, h.deltas)
	assert.Equal(t, "Grounded synthesis output.", h.deltas[0])

	var sawToolCall, sawSynthesis bool
	for _, e := range h.events {
		if e.Kind == contextbuilder.ChatToolCall {
			sawToolCall = true
		}
		if e.Kind == contextbuilder.ChatSynthesis {
			sawSynthesis = true
		}
	}
	assert.True(t, sawToolCall)
	assert.True(t, sawSynthesis)
}

func TestChat_LocalEditSkipsToolLoop(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memory.New()
	scr, err := store.CreateScript(ctx, script.Script{Title: "Pilot"})
	require.NoError(t, err)
	_, err = store.CreateScene(ctx, script.Scene{ScriptID: scr.ID, Position: 1, Heading: "INT. KITCHEN", RawText: "Jane makes coffee."})
	require.NoError(t, err)

	provider := &toolCallingProvider{toolName: "get_outline", toolArgs: "{}"}
	builder := newTestBuilder(t, store, provider)

	h := &recordingChunkHandler{}
	req := contextbuilder.ChatRequest{
		ScriptID:    scr.ID,
		UserMessage: "rewrite this line to be snappier",
		IntentHint:  retrieval.IntentLocalEdit,
	}
	err = builder.Chat(ctx, req, h)
	require.NoError(t, err)

	for _, e := range h.events {
		assert.NotEqual(t, contextbuilder.ChatToolCall, e.Kind)
	}
}
