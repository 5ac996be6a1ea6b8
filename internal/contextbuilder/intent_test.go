package contextbuilder_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scriptforge/internal/contextbuilder"
	"scriptforge/internal/llm"
	"scriptforge/internal/retrieval"
)

type fakeProvider struct {
	label string
}

func (f *fakeProvider) Chat(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string) (llm.Message, error) {
	return llm.Message{Role: "assistant", Content: f.label}, nil
}

func (f *fakeProvider) ChatStream(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string, h llm.StreamHandler) error {
	h.OnDelta(f.label)
	return nil
}

func TestClassify_ExplicitHintBypassesScoring(t *testing.T) {
	t.Parallel()
	c := contextbuilder.NewIntentClassifier(&fakeProvider{label: "brainstorm"}, "claude-haiku-4-5")
	intent, err := c.Classify(context.Background(), "anything at all", retrieval.IntentLocalEdit)
	require.NoError(t, err)
	assert.Equal(t, retrieval.IntentLocalEdit, intent)
}

func TestClassify_KeywordScoringPicksUniqueMax(t *testing.T) {
	t.Parallel()
	c := contextbuilder.NewIntentClassifier(&fakeProvider{label: "global_question"}, "claude-haiku-4-5")
	intent, err := c.Classify(context.Background(), "Can you give me some ideas for an alternative ending?", "")
	require.NoError(t, err)
	assert.Equal(t, retrieval.IntentBrainstorm, intent)
}

func TestClassify_LocalEditKeyword(t *testing.T) {
	t.Parallel()
	c := contextbuilder.NewIntentClassifier(&fakeProvider{label: "global_question"}, "claude-haiku-4-5")
	intent, err := c.Classify(context.Background(), "Please rewrite this line to be funnier.", "")
	require.NoError(t, err)
	assert.Equal(t, retrieval.IntentLocalEdit, intent)
}

func TestClassify_TieFallsThroughToLLM(t *testing.T) {
	t.Parallel()
	// "this line" (local_edit) and no second match keeps local_edit ahead
	// normally; craft a genuine tie by hitting one phrase from two classes.
	c := contextbuilder.NewIntentClassifier(&fakeProvider{label: "scene_feedback"}, "claude-haiku-4-5")
	intent, err := c.Classify(context.Background(), "critique this scene and also tighten this up", "")
	require.NoError(t, err)
	assert.Equal(t, retrieval.IntentSceneFeedback, intent)
}

func TestClassify_NoMatchFallsThroughToLLM(t *testing.T) {
	t.Parallel()
	c := contextbuilder.NewIntentClassifier(&fakeProvider{label: "global_question"}, "claude-haiku-4-5")
	intent, err := c.Classify(context.Background(), "Completely unrelated text with no signal.", "")
	require.NoError(t, err)
	assert.Equal(t, retrieval.IntentGlobalQuestion, intent)
}

func TestClassify_LLMReturnsUnknownLabelDefaultsToGlobalQuestion(t *testing.T) {
	t.Parallel()
	c := contextbuilder.NewIntentClassifier(&fakeProvider{label: "not_a_real_label"}, "claude-haiku-4-5")
	intent, err := c.Classify(context.Background(), "Completely unrelated text with no signal.", "")
	require.NoError(t, err)
	assert.Equal(t, retrieval.IntentGlobalQuestion, intent)
}

func TestClassify_NilProviderDefaultsToGlobalQuestion(t *testing.T) {
	t.Parallel()
	c := contextbuilder.NewIntentClassifier(nil, "claude-haiku-4-5")
	intent, err := c.Classify(context.Background(), "Completely unrelated text with no signal.", "")
	require.NoError(t, err)
	assert.Equal(t, retrieval.IntentGlobalQuestion, intent)
}
