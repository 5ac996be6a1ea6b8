package llm

import (
	"context"
	"encoding/json"
)

type ToolCall struct {
	Name string
	Args json.RawMessage
	ID   string
}

// Usage is the per-call token accounting C6 records for every Chat and
// ChatStream call, successful or not.
type Usage struct {
	InputTokens       int
	CacheCreateTokens int
	CacheReadTokens   int
	OutputTokens      int
}

type Message struct {
	Role    string // "system" | "user" | "assistant" | "tool"
	Content string
	ToolID  string
	// ToolCalls are only set on assistant messages
	ToolCalls []ToolCall
	Usage     Usage
}

type ToolSchema struct {
	Name        string
	Description string
	Parameters  map[string]any
}

type StreamHandler interface {
	OnDelta(content string)
	OnToolCall(tc ToolCall)
	// OnUsage is called once, after the stream ends (successfully or via
	// error/cancellation), with whatever usage the provider accumulated
	// before stopping — the partial-usage-on-error contract of §4.6.
	OnUsage(u Usage)
}

type Provider interface {
	Chat(ctx context.Context, msgs []Message, tools []ToolSchema, model string) (Message, error)
	ChatStream(ctx context.Context, msgs []Message, tools []ToolSchema, model string, h StreamHandler) error
}
