// Package caswriter implements C10: compare-and-swap updates for
// non-CRDT documents, guarded by the write-op idempotency ledger so a
// retried client request replays its cached result instead of
// re-executing the write.
package caswriter

import (
	"context"
	"encoding/json"
	"fmt"

	"scriptforge/internal/apperr"
	"scriptforge/internal/script"
)

// DefaultWriteOpRetentionDays is how long a write-op ledger entry stays
// eligible for replay before GCWriteOpsOlderThan may remove it (§4.10).
const DefaultWriteOpRetentionDays = 30

// Writer is C10. It holds no state beyond the store it guards.
type Writer struct {
	store       script.Store
	probe       func(blocks []script.Block) error
	accessCheck func(ctx context.Context, scriptID, user string) error
}

// New builds a Writer. probe, if non-nil, is run against new_blocks
// before the transaction opens, rejecting a malformed block list before
// it reaches persistence. A nil probe skips validation.
func New(store script.Store, probe func(blocks []script.Block) error) *Writer {
	return &Writer{store: store, probe: probe}
}

// WithAccessCheck attaches a callback run before probe, once per non-replayed
// request: the original service's validate_script_access gate (owner or
// editor collaborator), left pluggable here since this package has no
// collaborator/role model of its own to check against.
func (w *Writer) WithAccessCheck(check func(ctx context.Context, scriptID, user string) error) *Writer {
	w.accessCheck = check
	return w
}

// Request is UpdateWithCAS's parameter bundle.
type Request struct {
	ScriptID    string
	User        string
	BaseVersion int64
	NewBlocks   []script.Block
	SceneDeltas []script.SceneDelta
	OpID        string
}

// Result is UpdateWithCAS's return value, also what gets persisted to
// the write-op ledger verbatim (as JSON) so a replay returns the exact
// same shape the original caller saw.
type Result struct {
	Script      script.Script  `json:"script"`
	SceneDeltas []script.Scene `json:"scene_deltas"`
}

// UpdateWithCAS guards a script's blocks and a batch of scene deltas
// with one optimistic-concurrency check, replaying a cached result for a
// previously seen OpID instead of re-executing the write.
func (w *Writer) UpdateWithCAS(ctx context.Context, req Request) (Result, error) {
	if req.OpID == "" {
		return Result{}, apperr.Validation("write_op", "op_id is required")
	}

	if cached, ok, err := w.store.GetWriteOp(ctx, req.OpID); err != nil {
		return Result{}, fmt.Errorf("caswriter: lookup op %s: %w", req.OpID, err)
	} else if ok {
		var result Result
		if err := json.Unmarshal(cached.Result, &result); err != nil {
			return Result{}, fmt.Errorf("caswriter: decode cached result for op %s: %w", req.OpID, err)
		}
		return result, nil
	}

	if w.accessCheck != nil {
		if err := w.accessCheck(ctx, req.ScriptID, req.User); err != nil {
			return Result{}, err
		}
	}

	if w.probe != nil {
		if err := w.probe(req.NewBlocks); err != nil {
			return Result{}, fmt.Errorf("caswriter: structural validation: %w", err)
		}
	}

	// The version bump, version-history append, scene deltas, and ledger
	// write must land together or not at all (§4.10): a crash between
	// them would otherwise leave the version bumped with no ledger row,
	// so a client retry on the same op-id would see a version conflict
	// instead of its cached result. Backends that offer WithTx run this
	// body inside a pgx.Tx, with UpdateScriptBlocksCAS's row lock held for
	// its duration; script.Store implementations without transactions
	// (memory.Store in tests) run the same body directly.
	var result Result
	body := func(store script.Store) error {
		updated, err := store.UpdateScriptBlocksCAS(ctx, req.ScriptID, req.BaseVersion, req.NewBlocks, req.User)
		if err != nil {
			// A version conflict is a legitimate outcome, not a ledger
			// candidate: the caller is expected to reload and retry
			// with a fresh op-id, so nothing is written to the ledger.
			return err
		}

		if err := store.AppendScriptVersion(ctx, script.ScriptVersion{
			ScriptID:  req.ScriptID,
			Version:   updated.Version,
			Blocks:    req.NewBlocks,
			UpdatedBy: req.User,
		}); err != nil {
			return fmt.Errorf("caswriter: append version history: %w", err)
		}

		sceneResults := make([]script.Scene, 0, len(req.SceneDeltas))
		for _, delta := range req.SceneDeltas {
			sc, err := store.ApplySceneDelta(ctx, delta)
			if err != nil {
				return fmt.Errorf("caswriter: apply scene delta %s: %w", delta.SceneID, err)
			}
			sceneResults = append(sceneResults, sc)
		}

		result = Result{Script: updated, SceneDeltas: sceneResults}

		resultBytes, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("caswriter: encode result for op %s: %w", req.OpID, err)
		}
		if err := store.SaveWriteOp(ctx, script.WriteOp{OpID: req.OpID, ScriptID: req.ScriptID, Result: resultBytes}); err != nil {
			return fmt.Errorf("caswriter: save write op %s: %w", req.OpID, err)
		}
		return nil
	}

	if tx, ok := w.store.(script.Transactor); ok {
		if err := tx.WithTx(ctx, body); err != nil {
			return Result{}, err
		}
	} else if err := body(w.store); err != nil {
		return Result{}, err
	}

	return result, nil
}

// GCWriteOps deletes write-op ledger entries older than
// DefaultWriteOpRetentionDays, returning the count removed.
func (w *Writer) GCWriteOps(ctx context.Context) (int, error) {
	return w.store.GCWriteOpsOlderThan(ctx, DefaultWriteOpRetentionDays)
}

// DefaultProbe rejects a block list with no content and any block
// missing a type, the minimal structural sanity a CAS write should
// never skip even when no richer validation is configured.
func DefaultProbe(blocks []script.Block) error {
	if len(blocks) == 0 {
		return apperr.Validation("script", "blocks must not be empty")
	}
	for i, b := range blocks {
		if b.Type == "" {
			return apperr.Validation("script", fmt.Sprintf("block %d missing type", i))
		}
	}
	return nil
}
