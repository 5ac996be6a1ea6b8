// Package llmclient implements C6: a thin, accounting- and retry-aware
// wrapper around llm.Provider. It records a TokenUsage row for every
// call (including partial usage on a cancelled stream), looks up cost
// per model from a static table, and retries DependencyTransient
// failures with the same exponential-backoff shape dotcommander-vybe's
// store.RetryWithBackoff uses for SQLITE_BUSY contention.
package llmclient

import (
	"context"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"scriptforge/internal/apperr"
	"scriptforge/internal/config"
	"scriptforge/internal/embedding"
	"scriptforge/internal/llm"
	"scriptforge/internal/observability"
	"scriptforge/internal/script"
)

// ModelCost holds per-million-token prices in USD.
type ModelCost struct {
	InputPerM      float64
	CacheWritePerM float64
	CacheReadPerM  float64
	OutputPerM     float64
}

// DefaultCostTable is keyed by model identifier. Unknown models cost $0;
// callers that need current pricing should override entries via
// Client.SetCostTable.
var DefaultCostTable = map[string]ModelCost{
	"claude-sonnet-4-5": {InputPerM: 3.0, CacheWritePerM: 3.75, CacheReadPerM: 0.30, OutputPerM: 15.0},
	"claude-haiku-4-5":  {InputPerM: 0.80, CacheWritePerM: 1.0, CacheReadPerM: 0.08, OutputPerM: 4.0},
}

// Usage is the per-call accounting the Complete/StreamComplete/Embed
// methods both record to the UsageStore and return to the caller.
type Usage struct {
	InputTokens       int
	CacheCreateTokens int
	CacheReadTokens   int
	OutputTokens      int
	Model             string
	LatencyMS         int64
	CostUSD           float64
}

func (u Usage) cost(table map[string]ModelCost) float64 {
	c, ok := table[u.Model]
	if !ok {
		return 0
	}
	return float64(u.InputTokens)/1e6*c.InputPerM +
		float64(u.CacheCreateTokens)/1e6*c.CacheWritePerM +
		float64(u.CacheReadTokens)/1e6*c.CacheReadPerM +
		float64(u.OutputTokens)/1e6*c.OutputPerM
}

// Client wraps an llm.Provider with the retry/accounting contract of C6.
type Client struct {
	provider  llm.Provider
	usage     script.UsageStore
	embedCfg  config.EmbeddingConfig
	costTable map[string]ModelCost
}

func New(provider llm.Provider, usage script.UsageStore, embedCfg config.EmbeddingConfig) *Client {
	return &Client{provider: provider, usage: usage, embedCfg: embedCfg, costTable: DefaultCostTable}
}

// SetCostTable overrides the default cost table, e.g. with prices loaded
// from configuration.
func (c *Client) SetCostTable(t map[string]ModelCost) {
	c.costTable = t
}

// Complete performs a non-streaming chat call with retry on transient
// failure (up to 3 attempts, waiting about 0.5s and then 2s) and records
// a TokenUsage row keyed to scriptID whether the call succeeds or fails;
// a failed call's row carries the model and latency with zero tokens.
func (c *Client) Complete(ctx context.Context, scriptID string, msgs []llm.Message, tools []llm.ToolSchema, model string) (llm.Message, Usage, error) {
	var result llm.Message
	var latency time.Duration

	err := c.retry(ctx, func() error {
		start := time.Now()
		msg, err := c.provider.Chat(ctx, msgs, tools, model)
		latency = time.Since(start)
		if err != nil {
			return classify(err)
		}
		result = msg
		return nil
	})
	if err != nil {
		c.record(ctx, scriptID, Usage{Model: model, LatencyMS: latency.Milliseconds()}, 0, "")
		return llm.Message{}, Usage{}, err
	}

	usage := Usage{
		Model:             model,
		LatencyMS:         latency.Milliseconds(),
		InputTokens:       result.Usage.InputTokens,
		CacheCreateTokens: result.Usage.CacheCreateTokens,
		CacheReadTokens:   result.Usage.CacheReadTokens,
		OutputTokens:      result.Usage.OutputTokens,
	}
	usage.CostUSD = usage.cost(c.costTable)
	c.record(ctx, scriptID, usage, 0, "")
	return result, usage, nil
}

// StreamComplete performs a streaming chat call. Partial output already
// delivered to h is still recorded as a complete usage row even if the
// call errors or ctx is cancelled mid-stream, per §4.6.
func (c *Client) StreamComplete(ctx context.Context, scriptID string, msgs []llm.Message, tools []llm.ToolSchema, model string, h llm.StreamHandler) (Usage, error) {
	wrapped := &usageCapturingHandler{inner: h}
	start := time.Now()
	err := c.provider.ChatStream(ctx, msgs, tools, model, wrapped)
	latency := time.Since(start)

	usage := Usage{
		Model:             model,
		LatencyMS:         latency.Milliseconds(),
		InputTokens:       wrapped.usage.InputTokens,
		CacheCreateTokens: wrapped.usage.CacheCreateTokens,
		CacheReadTokens:   wrapped.usage.CacheReadTokens,
		OutputTokens:      wrapped.usage.OutputTokens,
	}
	usage.CostUSD = usage.cost(c.costTable)
	c.record(ctx, scriptID, usage, 0, "")

	if err != nil {
		return usage, classify(err)
	}
	return usage, nil
}

// usageCapturingHandler intercepts OnUsage so StreamComplete can report
// real token counts, while forwarding every callback to the caller's
// handler unchanged.
type usageCapturingHandler struct {
	inner llm.StreamHandler
	usage llm.Usage
}

func (w *usageCapturingHandler) OnDelta(content string) { w.inner.OnDelta(content) }
func (w *usageCapturingHandler) OnToolCall(tc llm.ToolCall) { w.inner.OnToolCall(tc) }
func (w *usageCapturingHandler) OnUsage(u llm.Usage) {
	w.usage = u
	w.inner.OnUsage(u)
}

// Embed batches texts through the configured embedding endpoint,
// recording an OperationMetric row rather than a TokenUsage row (the
// embedding endpoint's billing is out of scope here).
func (c *Client) Embed(ctx context.Context, scriptID string, texts []string) ([][]float32, error) {
	start := time.Now()
	vectors, err := embedding.EmbedText(ctx, c.embedCfg, texts)
	latency := time.Since(start).Milliseconds()

	metric := script.OperationMetric{ScriptID: scriptID, Operation: "embed", LatencyMS: latency}
	if err != nil {
		metric.Error = err.Error()
	}
	if c.usage != nil {
		if rerr := c.usage.RecordOperationMetric(ctx, metric); rerr != nil {
			observability.LoggerWithTrace(ctx).Warn().Err(rerr).Msg("embed_metric_record_failed")
		}
	}
	if err != nil {
		return nil, apperr.Transient("embedding", err)
	}
	return vectors, nil
}

func (c *Client) record(ctx context.Context, scriptID string, u Usage, iteration int, toolName string) {
	if c.usage == nil {
		return
	}
	row := script.TokenUsage{
		ScriptID:          scriptID,
		Model:             u.Model,
		InputTokens:       u.InputTokens,
		CacheCreateTokens: u.CacheCreateTokens,
		CacheReadTokens:   u.CacheReadTokens,
		OutputTokens:      u.OutputTokens,
		CostUSD:           u.CostUSD,
		LatencyMS:         u.LatencyMS,
		Iteration:         iteration,
		ToolName:          toolName,
	}
	if err := c.usage.RecordTokenUsage(ctx, row); err != nil {
		observability.LoggerWithTrace(ctx).Warn().Err(err).Msg("token_usage_record_failed")
	}
}

// retry wraps op with jittered exponential backoff (0.5s initial, x4 per
// retry, capped at 8s), up to 3 attempts and so at most two waits of about
// 0.5s and 2s, retrying only errors classify marks DependencyTransient — matching
// store.RetryWithBackoff's belt-and-suspenders "retry transient, stop on
// everything else" shape.
func (c *Client) retry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.Multiplier = 4
	b.MaxInterval = 8 * time.Second
	b.MaxElapsedTime = 0
	bo := backoff.WithMaxRetries(b, 2) // 3 total attempts: first try + 2 retries

	return backoff.Retry(func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		err := op()
		if err == nil {
			return nil
		}
		if apperr.Retryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(bo, ctx))
}

// classify turns a raw provider error into an *apperr.Error. Providers in
// this codebase don't expose a typed status-code error, so classification
// falls back to string matching on the message the way
// dotcommander-vybe's isRetryableError does for wrapped sqlite errors.
func classify(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "401") || strings.Contains(msg, "unauthorized") || strings.Contains(msg, "invalid api key") || strings.Contains(msg, "authentication"):
		return apperr.Fatal("llm", err)
	case strings.Contains(msg, "400") || strings.Contains(msg, "malformed") || strings.Contains(msg, "invalid request"):
		return apperr.Fatal("llm", err)
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "rate_limit"):
		return apperr.Transient("llm", err)
	case strings.Contains(msg, "500") || strings.Contains(msg, "502") || strings.Contains(msg, "503") || strings.Contains(msg, "timeout") || strings.Contains(msg, "connection"):
		return apperr.Transient("llm", err)
	default:
		return apperr.Transient("llm", err)
	}
}
