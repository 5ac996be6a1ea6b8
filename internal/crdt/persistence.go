package crdt

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"scriptforge/internal/script"
)

const DefaultCompactionThreshold = 100

// Manager implements §4.9's StoreUpdate/LoadAndCompactIfNeeded/derive/
// populate contracts on top of script.CRDTStore, for both script-level
// and scene-level update logs.
type Manager struct {
	store script.CRDTStore
}

func NewManager(store script.CRDTStore) *Manager {
	return &Manager{store: store}
}

// ParentKind distinguishes a script-level document from a scene-level one;
// the two update logs are otherwise identical in shape.
type ParentKind string

const (
	ParentScript ParentKind = "script"
	ParentScene  ParentKind = "scene"
)

// StoreUpdate appends an opaque update to parentID's log.
func (m *Manager) StoreUpdate(ctx context.Context, kind ParentKind, parentID string, update Update, actor string) error {
	row := script.CRDTUpdate{ParentID: parentID, Data: []byte(update), Actor: actor, CreatedAt: time.Now().UTC()}
	switch kind {
	case ParentScript:
		return m.store.AppendScriptCRDTUpdate(ctx, row)
	case ParentScene:
		return m.store.AppendSceneCRDTUpdate(ctx, row)
	default:
		return fmt.Errorf("crdt: unknown parent kind %q", kind)
	}
}

// LoadAndCompactIfNeeded applies every stored update for parentID to doc
// in creation order, then — if the stored update count exceeds threshold —
// atomically replaces the log with a single compacted update encoding
// doc's resulting state. Returns the number of updates applied and
// whether compaction occurred.
func (m *Manager) LoadAndCompactIfNeeded(ctx context.Context, kind ParentKind, parentID string, doc *Doc, threshold int) (int, bool, error) {
	if threshold <= 0 {
		threshold = DefaultCompactionThreshold
	}

	rows, err := m.listUpdates(ctx, kind, parentID)
	if err != nil {
		return 0, false, fmt.Errorf("crdt: list updates: %w", err)
	}

	sort.SliceStable(rows, func(i, j int) bool { return rows[i].CreatedAt.Before(rows[j].CreatedAt) })

	applied := 0
	for _, row := range rows {
		if err := doc.Apply(Update(row.Data)); err != nil {
			return applied, false, fmt.Errorf("crdt: apply update %s: %w", row.ID, err)
		}
		applied++
	}

	if len(rows) <= threshold {
		return applied, false, nil
	}

	compacted := script.CRDTUpdate{
		ParentID:  parentID,
		Data:      []byte(doc.EncodeStateAsUpdate()),
		CreatedAt: time.Now().UTC(),
	}
	switch kind {
	case ParentScript:
		if err := m.store.CompactScriptCRDT(ctx, parentID, compacted); err != nil {
			return applied, false, fmt.Errorf("crdt: compact: %w", err)
		}
	case ParentScene:
		if err := m.store.CompactSceneCRDT(ctx, parentID, compacted); err != nil {
			return applied, false, fmt.Errorf("crdt: compact: %w", err)
		}
	}
	return applied, true, nil
}

func (m *Manager) listUpdates(ctx context.Context, kind ParentKind, parentID string) ([]script.CRDTUpdate, error) {
	switch kind {
	case ParentScript:
		return m.store.ListScriptCRDTUpdates(ctx, parentID)
	case ParentScene:
		return m.store.ListSceneCRDTUpdates(ctx, parentID)
	default:
		return nil, fmt.Errorf("crdt: unknown parent kind %q", kind)
	}
}

// DeriveSnapshot traverses doc's content array and produces the
// Slate-shaped []script.Block the rest of the domain programs against,
// recording a snapshot-metadata row alongside it.
func (m *Manager) DeriveSnapshot(ctx context.Context, sceneID string, doc *Doc, source script.SnapshotSource, updateCount int) ([]script.Block, error) {
	blocks := elementsToBlocks(doc.Content)

	encoded := doc.EncodeStateAsUpdate()
	sum := sha256.Sum256(encoded)

	meta := script.SceneSnapshotMetadata{
		SceneID:     sceneID,
		Source:      source,
		UpdateCount: updateCount,
		SHA256:      hex.EncodeToString(sum[:]),
		GeneratedAt: time.Now().UTC(),
		SizeBytes:   len(encoded),
	}
	if err := m.store.SaveSnapshotMetadata(ctx, meta); err != nil {
		return nil, fmt.Errorf("crdt: save snapshot metadata: %w", err)
	}
	return blocks, nil
}

// PopulateFromBlocks is the inverse of DeriveSnapshot: it resets doc's
// content array to reflect blocks, for migration/import use. It returns
// the reset update so callers can persist it as the document's sole log
// entry via StoreUpdate.
func PopulateFromBlocks(doc *Doc, blocks []script.Block) Update {
	elements := blocksToElements(blocks)
	doc.Content = elements
	return EncodeReset(elements)
}

func elementsToBlocks(elements []Element) []script.Block {
	if len(elements) == 0 {
		return nil
	}
	blocks := make([]script.Block, len(elements))
	for i, el := range elements {
		blocks[i] = script.Block{
			Type:     el.Type,
			Text:     el.Text,
			Meta:     el.Metadata,
			Children: elementsToBlocks(el.Children),
		}
	}
	return blocks
}

func blocksToElements(blocks []script.Block) []Element {
	if len(blocks) == 0 {
		return nil
	}
	elements := make([]Element, len(blocks))
	for i, b := range blocks {
		elements[i] = Element{
			Type:     b.Type,
			Text:     b.Text,
			Metadata: b.Meta,
			Children: blocksToElements(b.Children),
		}
	}
	return elements
}
