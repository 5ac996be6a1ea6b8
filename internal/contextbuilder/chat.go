package contextbuilder

import (
	"context"
	"fmt"
	"strings"

	"scriptforge/internal/llm"
	"scriptforge/internal/llmclient"
	"scriptforge/internal/retrieval"
	"scriptforge/internal/script"
	"scriptforge/internal/tools"
)

const maxToolIterations = 5

// ChatEventKind distinguishes the two record types §4.8 names for a chat
// turn's audit trail.
type ChatEventKind string

const (
	ChatToolCall  ChatEventKind = "CHAT_TOOL_CALL"
	ChatSynthesis ChatEventKind = "CHAT_SYNTHESIS"
)

// ChatEvent is one recorded step of a Chat call, surfaced to the caller
// alongside the streamed text chunks.
type ChatEvent struct {
	Kind     ChatEventKind
	ToolName string
	Input    string
	Output   string
}

// ChatChunkHandler receives streamed synthesis text and recorded events
// for one Chat call.
type ChatChunkHandler interface {
	OnTextDelta(content string)
	OnEvent(e ChatEvent)
}

// Builder is C8: it owns intent classification, topic-mode detection,
// retrieval dispatch, the six-tool loop, evidence building, and final
// budgeted synthesis, wired together the way the teacher's orchestrator
// composes its registry/provider/tool-loop stages end to end.
type Builder struct {
	store      script.Store
	llmClient  *llmclient.Client
	retriever  *retrieval.Retriever
	classifier *IntentClassifier
	topicMode  *TopicModeDetector
	evidence   *EvidenceBuilder
	prompts    *PromptAssembler
	model      string
}

func New(store script.Store, llmClient *llmclient.Client, retriever *retrieval.Retriever, provider llm.Provider, model string) *Builder {
	return &Builder{
		store:      store,
		llmClient:  llmClient,
		retriever:  retriever,
		classifier: NewIntentClassifier(provider, model),
		topicMode:  NewTopicModeDetector(),
		evidence:   NewEvidenceBuilder(),
		prompts:    NewPromptAssembler(),
		model:      model,
	}
}

// ChatRequest is the Chat(...) operation's parameter bundle (§ EXTERNAL
// INTERFACE).
type ChatRequest struct {
	ScriptID           string
	ConversationID     string
	UserMessage        string
	IntentHint         retrieval.Intent
	TopicModeOverride  TopicModeOverride
	Budget             Budget
	History            []ConversationTurn
	LastAssistantText  string
}

func (r ChatRequest) budgetOrDefault() Budget {
	if r.Budget == "" {
		return BudgetStandard
	}
	return r.Budget
}

// Chat implements the full C8 pipeline: classify intent, detect topic
// mode, retrieve per-intent context, optionally run the tool loop,
// assemble a budgeted prompt, then stream the grounded synthesis.
func (b *Builder) Chat(ctx context.Context, req ChatRequest, h ChatChunkHandler) error {
	intent, err := b.classifier.Classify(ctx, req.UserMessage, req.IntentHint)
	if err != nil {
		return fmt.Errorf("contextbuilder: classify intent: %w", err)
	}

	mode := b.topicMode.Detect(req.UserMessage, req.LastAssistantText, req.TopicModeOverride)

	hints := retrieval.Hints{}
	result, err := b.retriever.RetrieveForIntent(ctx, intent, req.ScriptID, req.UserMessage, hints)
	if err != nil {
		return fmt.Errorf("contextbuilder: retrieve for intent: %w", err)
	}

	var ev *Evidence
	if IntentAllowsToolLoop(intent) {
		built, err := b.runToolLoop(ctx, req, h)
		if err != nil {
			return fmt.Errorf("contextbuilder: tool loop: %w", err)
		}
		ev = &built
	}

	globalText := renderResult(result)
	systemPrompt := "You are a screenplay writing assistant grounded strictly in the retrieved script context and evidence provided below."
	prompt := b.prompts.Assemble(req.budgetOrDefault(), mode.Mode, systemPrompt, globalText, renderScenes(result.Scenes), req.History, ev)

	return b.synthesize(ctx, req.ScriptID, prompt, req.UserMessage, h)
}

// runToolLoop drives the bounded tool-call/re-prompt cycle of §4.8 and
// returns the evidence built from every tool result it collected.
func (b *Builder) runToolLoop(ctx context.Context, req ChatRequest, h ChatChunkHandler) (Evidence, error) {
	registry := b.buildRegistry(req.ScriptID)
	msgs := []llm.Message{
		{Role: "system", Content: "Answer the user directly if you can, or call one of the available tools to gather evidence from the script first."},
		{Role: "user", Content: req.UserMessage},
	}

	var results []ToolResult
	for i := 0; i < maxToolIterations; i++ {
		msg, _, err := b.llmClient.Complete(ctx, req.ScriptID, msgs, registry.Schemas(), b.model)
		if err != nil {
			return Evidence{}, err
		}
		if len(msg.ToolCalls) == 0 {
			results = append(results, ToolResult{Tool: "direct_answer", Content: msg.Content})
			h.OnEvent(ChatEvent{Kind: ChatToolCall, ToolName: "direct_answer", Output: msg.Content})
			break
		}

		msgs = append(msgs, llm.Message{Role: "assistant", Content: msg.Content, ToolCalls: msg.ToolCalls})
		for _, call := range msg.ToolCalls {
			out, err := registry.Dispatch(ctx, call.Name, call.Args)
			content := string(out)
			if err != nil {
				content = fmt.Sprintf("Error: %s", err)
			}
			results = append(results, ToolResult{Tool: call.Name, Input: string(call.Args), Content: content})
			h.OnEvent(ChatEvent{Kind: ChatToolCall, ToolName: call.Name, Input: string(call.Args), Output: content})
			msgs = append(msgs, llm.Message{Role: "tool", ToolID: call.ID, Content: content})
		}
	}

	return b.evidence.Build(req.UserMessage, results), nil
}

func (b *Builder) buildRegistry(scriptID string) tools.Registry {
	registry := tools.NewRegistry()
	registry.Register(newGetSceneTool(b.store, scriptID))
	registry.Register(newGetScenesTool(b.store, scriptID))
	registry.Register(newSearchScenesTool(b.retriever, scriptID))
	registry.Register(newGetCharacterSheetTool(b.store, scriptID))
	registry.Register(newGetOutlineTool(b.store, scriptID))
	registry.Register(newAnalyzePacingTool(b.store, scriptID))
	return registry
}

// synthesize issues the final grounded prompt and streams its text
// chunks to h, recording a single CHAT_SYNTHESIS event at the end.
func (b *Builder) synthesize(ctx context.Context, scriptID string, prompt Prompt, userMessage string, h ChatChunkHandler) error {
	msgs := []llm.Message{
		{Role: "system", Content: prompt.Render()},
		{Role: "user", Content: userMessage},
	}

	var full strings.Builder
	handler := &synthesisHandler{chunks: h, buf: &full}
	_, err := b.llmClient.StreamComplete(ctx, scriptID, msgs, nil, b.model, handler)
	if err != nil {
		return err
	}
	h.OnEvent(ChatEvent{Kind: ChatSynthesis, Output: full.String()})
	return nil
}

type synthesisHandler struct {
	chunks ChatChunkHandler
	buf    *strings.Builder
}

func (s *synthesisHandler) OnDelta(content string) {
	s.buf.WriteString(content)
	s.chunks.OnTextDelta(content)
}
func (s *synthesisHandler) OnToolCall(tc llm.ToolCall) {}
func (s *synthesisHandler) OnUsage(u llm.Usage)        {}

func renderResult(r retrieval.Result) string {
	var sb strings.Builder
	if r.Outline != "" {
		sb.WriteString("Outline")
		if r.OutlineStale {
			sb.WriteString(" (stale)")
		}
		sb.WriteString(": ")
		sb.WriteString(r.Outline)
		sb.WriteString("\n")
	}
	for _, sheet := range r.CharacterSheets {
		fmt.Fprintf(&sb, "Character %s: %s\n", sheet.Name, sheet.Text)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func renderScenes(hits []retrieval.SceneHit) string {
	var sb strings.Builder
	for _, h := range hits {
		sb.WriteString(sceneMarker(h.Scene))
		sb.WriteString("\n")
		if h.Summary != "" {
			sb.WriteString(h.Summary)
		} else {
			sb.WriteString(sceneBody(h.Scene))
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}
