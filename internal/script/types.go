// Package script defines the data model shared by every domain component:
// Script, its Scenes, their derived artifacts, and the typed repository
// interfaces C2's backends implement. It carries no persistence logic of
// its own, the way manifold's internal/persistence/databases/interfaces.go
// separates shapes from the stores that fill them.
package script

import "time"

// AnalysisState is the script-level lifecycle state of §3/C11.
type AnalysisState string

const (
	StateEmpty    AnalysisState = "empty"
	StatePartial  AnalysisState = "partial"
	StateAnalyzed AnalysisState = "analyzed"
)

// Block is one element of a scene or script's ordered content, the unit
// CRDT documents and CAS writes both operate on. Type is open-ended
// ("action", "dialogue", "character", ...); Children supports nesting
// the way a Slate-shaped document does.
type Block struct {
	Type     string         `json:"type"`
	Text     string         `json:"text,omitempty"`
	Meta     map[string]any `json:"meta,omitempty"`
	Children []Block        `json:"children,omitempty"`
}

// Script is the root of ownership: a Script exclusively owns all its
// Scenes, CRDT updates, Outline, CharacterSheets, PlotThreads,
// SceneRelationships, and TokenUsage records.
type Script struct {
	ID                  string
	OwnerID             string
	Title               string
	State               AnalysisState
	Version             int64
	Blocks              []Block
	CRDTState           []byte
	ContentFingerprint  string
	LastStateTransition time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
	UpdatedBy           string
}

// Scene is an ordered child of Script. Position is dense and unique per
// script; Hash is empty when the scene has never been analyzed.
type Scene struct {
	ID         string
	ScriptID   string
	Position   int
	Heading    string
	RawText    string
	Blocks     []Block
	Characters []string
	Version    int64
	Hash       string
	IsKeyScene bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// SceneSummary is 1:1 with Scene.
type SceneSummary struct {
	SceneID       string
	ScriptID      string
	Text          string
	TokenEstimate int
	Version       int
	GeneratedAt   time.Time
}

// ScriptOutline is 1:1 with Script.
type ScriptOutline struct {
	ScriptID        string
	Text            string
	TokenEstimate   int
	IsStale         bool
	DirtySceneCount int
	Version         int
	LastGeneratedAt time.Time
}

// CharacterSheet is unique per (Script, character name).
type CharacterSheet struct {
	ScriptID        string
	Name            string
	Text            string
	TokenEstimate   int
	IsStale         bool
	DirtySceneCount int
	Version         int
	LastGeneratedAt time.Time
}

// SceneCharacter is the many-to-many link; (SceneID, Name) is the key.
type SceneCharacter struct {
	SceneID string
	Name    string
}

// SceneEmbedding is 1:1 with Scene.
type SceneEmbedding struct {
	SceneID     string
	Vector      []float32
	GeneratedAt time.Time
}

// PlotThreadKind enumerates §3's thread kinds.
type PlotThreadKind string

const (
	ThreadCharacterArc PlotThreadKind = "character_arc"
	ThreadPlot         PlotThreadKind = "plot"
	ThreadSubplot      PlotThreadKind = "subplot"
	ThreadTheme        PlotThreadKind = "theme"
)

// PlotThread is an optional cross-scene annotation.
type PlotThread struct {
	ID       string
	ScriptID string
	Kind     PlotThreadKind
	Name     string
	Scenes   []int
}

// SceneRelationshipKind enumerates §3's relationship kinds.
type SceneRelationshipKind string

const (
	RelationSetupPayoff SceneRelationshipKind = "setup_payoff"
	RelationCallback    SceneRelationshipKind = "callback"
	RelationParallel    SceneRelationshipKind = "parallel"
	RelationEcho        SceneRelationshipKind = "echo"
)

// SceneRelationship is an optional cross-scene annotation between two
// scene positions.
type SceneRelationship struct {
	ID       string
	ScriptID string
	Kind     SceneRelationshipKind
	FromPos  int
	ToPos    int
	Note     string
}

// ConversationState is 1:1 with a conversation.
type ConversationState struct {
	ConversationID       string
	ScriptID             string
	ActiveScenePositions []int
	ActiveCharacters     []string
	ActiveThreads        []string
	LastIntent           string
	LastCommitment       string
	UpdatedAt            time.Time
}

// ConversationSummary is a rolling compression of old chat messages.
type ConversationSummary struct {
	ConversationID string
	Text           string
	UpToMessageSeq int64
	CreatedAt      time.Time
}

// CRDTUpdate is an append-only opaque binary update, ordered by CreatedAt
// per parent. ParentID is either a script ID (ScriptCRDTUpdate) or a
// scene ID (SceneCRDTUpdate) depending on the store method invoked.
type CRDTUpdate struct {
	ID        string
	ParentID  string
	Data      []byte
	Actor     string
	CreatedAt time.Time
}

// SnapshotSource enumerates §3's snapshot provenance values.
type SnapshotSource string

const (
	SnapshotYjs       SnapshotSource = "yjs"
	SnapshotManual    SnapshotSource = "manual"
	SnapshotImport    SnapshotSource = "import"
	SnapshotMigrated  SnapshotSource = "migrated"
	SnapshotCompacted SnapshotSource = "compacted"
)

// SceneSnapshotMetadata records one snapshot derivation event.
type SceneSnapshotMetadata struct {
	ID          string
	SceneID     string
	Source      SnapshotSource
	UpdateCount int
	SHA256      string
	GeneratedAt time.Time
	SizeBytes   int
}

// WriteOp is the CAS idempotency ledger entry: a replayed OpID returns
// Result unchanged instead of re-executing the write.
type WriteOp struct {
	OpID      string
	ScriptID  string
	Result    []byte
	CreatedAt time.Time
}

// ScriptVersion is one append-only version-history row written by C10's
// UpdateWithCAS step 4: a durable audit trail distinct from the write-op
// idempotency ledger, keyed by the version it produced rather than by
// op-id.
type ScriptVersion struct {
	ID        string
	ScriptID  string
	Version   int64
	Blocks    []Block
	UpdatedBy string
	CreatedAt time.Time
}

// SceneDelta is one entry of UpdateWithCAS's scene_deltas parameter: the
// fields of a scene CAS allows changing in the same transaction as the
// script-level blocks write. A nil field means "leave unchanged".
type SceneDelta struct {
	SceneID  string
	Heading  *string
	Position *int
	Blocks   []Block
}

// TokenUsage is a per-call accounting row (§7 C6 contract).
type TokenUsage struct {
	ID                string
	ScriptID          string
	Model             string
	InputTokens       int
	CacheCreateTokens int
	CacheReadTokens   int
	OutputTokens      int
	CostUSD           float64
	LatencyMS         int64
	Iteration         int
	ToolName          string
	CreatedAt         time.Time
}

// OperationMetric is a per-call accounting row for non-LLM operations
// (embedding batches, retrieval calls) sharing the same shape.
type OperationMetric struct {
	ID        string
	ScriptID  string
	Operation string
	LatencyMS int64
	Error     string
	CreatedAt time.Time
}
