// Package crdt implements C9: a Yjs-style operation-based CRDT document,
// abstracted just far enough to support the append-only update log,
// compaction, and Slate-shaped snapshot derivation the rest of the domain
// needs. No Yjs binding exists in the Go ecosystem corpus this module was
// built from, so updates are modeled as small ordered JSON op batches
// rather than a binary Yjs wire format — commutative in the same sense
// (apply-in-creation-order), but honestly a simplification rather than a
// disguised reimplementation of the real protocol.
package crdt

import (
	"encoding/json"
	"fmt"
)

// Element is one entry of the document's shared array at key "content"
// (§4.9): a Slate-shaped block, optionally nested.
type Element struct {
	Type     string         `json:"type"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Children []Element      `json:"children,omitempty"`
}

// Doc is the shared-array document state: an ordered list of Elements.
// It is not safe for concurrent use; callers serialize access per
// script/scene the way the rest of the store's transactions do.
type Doc struct {
	Content []Element
}

func NewDoc() *Doc { return &Doc{} }

// opKind enumerates the three mutations an update batch may contain.
type opKind string

const (
	opInsert opKind = "insert"
	opDelete opKind = "delete"
	opReset  opKind = "reset"
)

// op is one operation inside an update batch. A "reset" op (used for
// compacted/full-state updates) replaces the entire content array; other
// kinds mutate by index, matching the insert/delete-range shape
// ScriptYjsPersistence-style update logs use.
type op struct {
	Op      opKind    `json:"op"`
	Index   int       `json:"index,omitempty"`
	Count   int       `json:"count,omitempty"`
	Element *Element  `json:"element,omitempty"`
	Content []Element `json:"content,omitempty"`
}

// Update is one opaque append-only log entry: a JSON-encoded batch of ops.
type Update []byte

// EncodeInsert produces an update batch that inserts one element at index
// in the document's content array; an out-of-range index appends it at
// the end.
func EncodeInsert(index int, el Element) Update {
	b, _ := json.Marshal([]op{{Op: opInsert, Index: index, Element: &el}})
	return Update(b)
}

// EncodeDelete produces an update batch that removes count elements
// starting at index.
func EncodeDelete(index, count int) Update {
	b, _ := json.Marshal([]op{{Op: opDelete, Index: index, Count: count}})
	return Update(b)
}

// EncodeReset produces a single-op update that replaces the document's
// entire content array; this is the shape both compaction and
// PopulateFromBlocks use to express "this is the full state now".
func EncodeReset(content []Element) Update {
	b, _ := json.Marshal([]op{{Op: opReset, Content: content}})
	return Update(b)
}

// Apply decodes update and applies its ops to d in order.
func (d *Doc) Apply(update Update) error {
	var ops []op
	if err := json.Unmarshal(update, &ops); err != nil {
		return fmt.Errorf("crdt: decode update: %w", err)
	}
	for _, o := range ops {
		if err := d.applyOp(o); err != nil {
			return err
		}
	}
	return nil
}

func (d *Doc) applyOp(o op) error {
	switch o.Op {
	case opReset:
		d.Content = append([]Element(nil), o.Content...)
	case opInsert:
		if o.Element == nil {
			return fmt.Errorf("crdt: insert op missing element")
		}
		idx := o.Index
		if idx < 0 || idx > len(d.Content) {
			idx = len(d.Content)
		}
		d.Content = append(d.Content, Element{})
		copy(d.Content[idx+1:], d.Content[idx:])
		d.Content[idx] = *o.Element
	case opDelete:
		idx, count := o.Index, o.Count
		if idx < 0 || idx >= len(d.Content) || count <= 0 {
			return nil
		}
		end := idx + count
		if end > len(d.Content) {
			end = len(d.Content)
		}
		d.Content = append(d.Content[:idx], d.Content[end:]...)
	default:
		return fmt.Errorf("crdt: unknown op kind %q", o.Op)
	}
	return nil
}

// EncodeStateAsUpdate returns a single reset-shaped update that fully
// describes d's current state, used for compaction.
func (d *Doc) EncodeStateAsUpdate() Update {
	return EncodeReset(d.Content)
}
