// Package config loads process configuration from the environment, the way
// manifold's internal/config/loader.go does: read once at startup into a
// plain value, pass it through constructors, never read os.Getenv again.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// AnthropicPromptCacheConfig controls Anthropic prompt-cache scoping.
type AnthropicPromptCacheConfig struct {
	Enabled       bool
	CacheSystem   bool
	CacheTools    bool
	CacheMessages bool
}

// AnthropicConfig configures the sonnet-class / haiku-class provider.
type AnthropicConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	HaikuModel  string
	PromptCache AnthropicPromptCacheConfig
	ExtraParams map[string]any
}

// OpenAIConfig configures an OpenAI-compatible chat provider, kept available
// as an alternate C6 provider alongside Anthropic.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// EmbeddingConfig configures the embedding endpoint (dimension 1536 assumed
// per spec §6).
type EmbeddingConfig struct {
	Model      string
	BaseURL    string
	Path       string
	APIKey     string
	APIHeader  string
	Headers    map[string]string
	Dimensions int
	BatchSize  int
	Timeout    time.Duration
}

// SearchConfig, VectorConfig, GraphConfig describe a pluggable persistence
// backend the way manifold's databases.Manager resolves them: "memory",
// "postgres", or "auto" (try postgres, fall back to memory).
type SearchConfig struct {
	Backend string
	DSN     string
}

type VectorConfig struct {
	Backend    string
	DSN        string
	Dimensions int
	Metric     string
	Collection string
}

type GraphConfig struct {
	Backend string
	DSN     string
}

// DBConfig is the relational/vector/search backend selection plus the
// default DSN used when a specific backend omits its own.
type DBConfig struct {
	DefaultDSN string
	Search     SearchConfig
	Vector     VectorConfig
	Graph      GraphConfig
}

// RedisConfig configures the job queue and pub/sub backend (C4, C9 fan-out).
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Thresholds holds the staleness and lifecycle thresholds of §4.3 and §4.11.
type Thresholds struct {
	OutlineStale            int
	CharacterStale          int
	EmptyToPartialMinScenes int
	EmptyToPartialMinPages  int
	PartialToAnalyzedScenes int
	PartialToAnalyzedPages  int
	ConversationSummaryMsgs int
	CRDTCompactionThreshold int
}

// Budgets holds the prompt token budget tiers of §4.8.
type Budgets struct {
	Quick    int
	Standard int
	Deep     int
}

// Deadlines holds the default suspension-point deadlines of §5.
type Deadlines struct {
	LLMComplete       time.Duration
	LLMStreamComplete time.Duration
	Embedding         time.Duration
	DatabaseQuery     time.Duration
}

// Config is the single value threaded through every component constructor.
// No package holds a mutable global copy of it.
type Config struct {
	Anthropic  AnthropicConfig
	OpenAI     OpenAIConfig
	Embedding  EmbeddingConfig
	DB         DBConfig
	Redis      RedisConfig
	Thresholds Thresholds
	Budgets    Budgets
	Deadlines  Deadlines

	LogLevel    string
	LogPayloads bool
}

// Load reads configuration from the environment, optionally overlaid from a
// local .env file, following the teacher's godotenv.Overload() convention.
func Load() (Config, error) {
	_ = godotenv.Overload()

	cfg := Config{}

	cfg.Anthropic.APIKey = strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY"))
	cfg.Anthropic.BaseURL = strings.TrimSpace(os.Getenv("ANTHROPIC_BASE_URL"))
	cfg.Anthropic.Model = firstNonEmpty(os.Getenv("ANTHROPIC_MODEL"), "claude-sonnet-4-5")
	cfg.Anthropic.HaikuModel = firstNonEmpty(os.Getenv("ANTHROPIC_HAIKU_MODEL"), "claude-haiku-4-5")
	cfg.Anthropic.PromptCache.Enabled = envBool("ANTHROPIC_PROMPT_CACHE", true)
	cfg.Anthropic.PromptCache.CacheSystem = envBool("ANTHROPIC_CACHE_SYSTEM", true)
	cfg.Anthropic.PromptCache.CacheTools = envBool("ANTHROPIC_CACHE_TOOLS", true)

	cfg.OpenAI.APIKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	cfg.OpenAI.BaseURL = strings.TrimSpace(os.Getenv("OPENAI_BASE_URL"))
	cfg.OpenAI.Model = strings.TrimSpace(os.Getenv("OPENAI_MODEL"))

	cfg.Embedding.Model = firstNonEmpty(os.Getenv("EMBEDDING_MODEL"), "text-embedding-3-large")
	cfg.Embedding.BaseURL = strings.TrimSpace(os.Getenv("EMBEDDING_BASE_URL"))
	cfg.Embedding.Path = firstNonEmpty(os.Getenv("EMBEDDING_PATH"), "/v1/embeddings")
	cfg.Embedding.APIKey = firstNonEmpty(os.Getenv("EMBEDDING_API_KEY"), os.Getenv("OPENAI_API_KEY"))
	cfg.Embedding.APIHeader = firstNonEmpty(os.Getenv("EMBEDDING_API_HEADER"), "Authorization")
	cfg.Embedding.Dimensions = envInt("EMBEDDING_DIMENSIONS", 1536)
	cfg.Embedding.BatchSize = envInt("EMBEDDING_BATCH_SIZE", 96)
	cfg.Embedding.Timeout = envDuration("EMBEDDING_TIMEOUT", 30*time.Second)

	cfg.DB.DefaultDSN = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.DB.Search.Backend = firstNonEmpty(os.Getenv("SEARCH_BACKEND"), "memory")
	cfg.DB.Search.DSN = strings.TrimSpace(os.Getenv("SEARCH_DSN"))
	cfg.DB.Vector.Backend = firstNonEmpty(os.Getenv("VECTOR_BACKEND"), "memory")
	cfg.DB.Vector.DSN = strings.TrimSpace(os.Getenv("VECTOR_DSN"))
	cfg.DB.Vector.Dimensions = envInt("VECTOR_DIMENSIONS", cfg.Embedding.Dimensions)
	cfg.DB.Vector.Metric = firstNonEmpty(os.Getenv("VECTOR_METRIC"), "cosine")
	cfg.DB.Vector.Collection = firstNonEmpty(os.Getenv("VECTOR_COLLECTION"), "scene_embeddings")
	cfg.DB.Graph.Backend = firstNonEmpty(os.Getenv("GRAPH_BACKEND"), "memory")
	cfg.DB.Graph.DSN = strings.TrimSpace(os.Getenv("GRAPH_DSN"))

	cfg.Redis.Addr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.Redis.Password = strings.TrimSpace(os.Getenv("REDIS_PASSWORD"))
	cfg.Redis.DB = envInt("REDIS_DB", 0)

	cfg.Thresholds.OutlineStale = envInt("OUTLINE_STALE_THRESHOLD", 5)
	cfg.Thresholds.CharacterStale = envInt("CHARACTER_STALE_THRESHOLD", 3)
	cfg.Thresholds.EmptyToPartialMinScenes = envInt("EMPTY_TO_PARTIAL_MIN_SCENES", 3)
	cfg.Thresholds.EmptyToPartialMinPages = envInt("EMPTY_TO_PARTIAL_MIN_PAGES", 10)
	cfg.Thresholds.PartialToAnalyzedScenes = envInt("PARTIAL_TO_ANALYZED_MIN_SCENES", 30)
	cfg.Thresholds.PartialToAnalyzedPages = envInt("PARTIAL_TO_ANALYZED_MIN_PAGES", 60)
	cfg.Thresholds.ConversationSummaryMsgs = envInt("CONVERSATION_SUMMARY_MESSAGE_THRESHOLD", 15)
	cfg.Thresholds.CRDTCompactionThreshold = envInt("CRDT_COMPACTION_THRESHOLD", 100)

	cfg.Budgets.Quick = envInt("BUDGET_QUICK_TOKENS", 1200)
	cfg.Budgets.Standard = envInt("BUDGET_STANDARD_TOKENS", 5000)
	cfg.Budgets.Deep = envInt("BUDGET_DEEP_TOKENS", 20000)

	cfg.Deadlines.LLMComplete = envDuration("LLM_COMPLETE_DEADLINE", 60*time.Second)
	cfg.Deadlines.LLMStreamComplete = envDuration("LLM_STREAM_DEADLINE", 120*time.Second)
	cfg.Deadlines.Embedding = envDuration("EMBEDDING_DEADLINE", 30*time.Second)
	cfg.Deadlines.DatabaseQuery = envDuration("DB_QUERY_DEADLINE", 60*time.Second)

	cfg.LogLevel = firstNonEmpty(os.Getenv("LOG_LEVEL"), "info")
	cfg.LogPayloads = envBool("LOG_PAYLOADS", false)

	if cfg.Anthropic.APIKey == "" && cfg.OpenAI.APIKey == "" {
		return cfg, fmt.Errorf("config: at least one of ANTHROPIC_API_KEY or OPENAI_API_KEY must be set")
	}
	return cfg, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
