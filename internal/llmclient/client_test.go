package llmclient_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scriptforge/internal/config"
	"scriptforge/internal/llm"
	"scriptforge/internal/llmclient"
	"scriptforge/internal/script/memory"
)

type fakeProvider struct {
	chatCalls int
	failTimes int
	chatErr   error
	response  llm.Message
}

func (f *fakeProvider) Chat(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string) (llm.Message, error) {
	f.chatCalls++
	if f.chatCalls <= f.failTimes {
		return llm.Message{}, errors.New("503 service unavailable")
	}
	if f.chatErr != nil {
		return llm.Message{}, f.chatErr
	}
	return f.response, nil
}

func (f *fakeProvider) ChatStream(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string, h llm.StreamHandler) error {
	h.OnDelta("partial")
	return f.chatErr
}

func TestComplete_RetriesTransientFailureThenSucceeds(t *testing.T) {
	t.Parallel()
	store := memory.New()
	provider := &fakeProvider{failTimes: 2, response: llm.Message{Role: "assistant", Content: "done"}}
	client := llmclient.New(provider, store, config.EmbeddingConfig{})

	msg, _, err := client.Complete(context.Background(), "scr_1", []llm.Message{{Role: "user", Content: "hi"}}, nil, "claude-sonnet-4-5")
	require.NoError(t, err)
	assert.Equal(t, "done", msg.Content)
	assert.Equal(t, 3, provider.chatCalls)
}

func TestComplete_FatalErrorDoesNotRetry(t *testing.T) {
	t.Parallel()
	store := memory.New()
	provider := &fakeProvider{chatErr: errors.New("401 unauthorized")}
	client := llmclient.New(provider, store, config.EmbeddingConfig{})

	_, _, err := client.Complete(context.Background(), "scr_1", nil, nil, "claude-sonnet-4-5")
	require.Error(t, err)
	assert.Equal(t, 1, provider.chatCalls)
}

func TestComplete_ExhaustsRetriesOnPersistentTransientFailure(t *testing.T) {
	t.Parallel()
	store := memory.New()
	provider := &fakeProvider{failTimes: 10}
	client := llmclient.New(provider, store, config.EmbeddingConfig{})

	_, _, err := client.Complete(context.Background(), "scr_1", nil, nil, "claude-sonnet-4-5")
	require.Error(t, err)
	assert.Equal(t, 3, provider.chatCalls)
}

func TestStreamComplete_RecordsUsageEvenOnError(t *testing.T) {
	t.Parallel()
	store := memory.New()
	provider := &fakeProvider{chatErr: errors.New("connection reset")}
	client := llmclient.New(provider, store, config.EmbeddingConfig{})

	var deltas []string
	_, err := client.StreamComplete(context.Background(), "scr_1", nil, nil, "claude-haiku-4-5", recorderFunc(func(s string) { deltas = append(deltas, s) }))
	assert.Error(t, err)
	assert.Equal(t, []string{"partial"}, deltas)
}

type recorderFunc func(string)

func (r recorderFunc) OnDelta(content string)    { r(content) }
func (r recorderFunc) OnToolCall(tc llm.ToolCall) {}
func (r recorderFunc) OnUsage(u llm.Usage)        {}

func TestUsage_CostComputedFromTable(t *testing.T) {
	t.Parallel()
	store := memory.New()
	provider := &fakeProvider{response: llm.Message{Content: "x", Usage: llm.Usage{InputTokens: 1}}}
	client := llmclient.New(provider, store, config.EmbeddingConfig{})
	client.SetCostTable(map[string]llmclient.ModelCost{
		"test-model": {InputPerM: 1_000_000, OutputPerM: 0},
	})

	_, usage, err := client.Complete(context.Background(), "scr_1", nil, nil, "test-model")
	require.NoError(t, err)
	assert.Equal(t, "test-model", usage.Model)
	assert.InDelta(t, 1.0, usage.CostUSD, 1e-9)
}
