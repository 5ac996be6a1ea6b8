package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"scriptforge/internal/script"
)

func (s *Store) AppendScriptCRDTUpdate(ctx context.Context, u script.CRDTUpdate) error {
	return s.appendCRDT(ctx, "script_crdt_updates", "script_id", u)
}

func (s *Store) AppendSceneCRDTUpdate(ctx context.Context, u script.CRDTUpdate) error {
	return s.appendCRDT(ctx, "scene_crdt_updates", "scene_id", u)
}

func (s *Store) appendCRDT(ctx context.Context, table, parentCol string, u script.CRDTUpdate) error {
	if u.ID == "" {
		u.ID = newID()
	}
	u.CreatedAt = time.Now().UTC()
	q := fmt.Sprintf(`INSERT INTO %s (id, %s, data, actor, created_at) VALUES ($1, $2, $3, $4, $5)`, table, parentCol)
	_, err := s.q.Exec(ctx, q, u.ID, u.ParentID, u.Data, u.Actor, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: append crdt update (%s): %w", table, err)
	}
	return nil
}

func (s *Store) ListScriptCRDTUpdates(ctx context.Context, scriptID string) ([]script.CRDTUpdate, error) {
	return s.listCRDT(ctx, "script_crdt_updates", "script_id", scriptID)
}

func (s *Store) ListSceneCRDTUpdates(ctx context.Context, sceneID string) ([]script.CRDTUpdate, error) {
	return s.listCRDT(ctx, "scene_crdt_updates", "scene_id", sceneID)
}

func (s *Store) listCRDT(ctx context.Context, table, parentCol, parentID string) ([]script.CRDTUpdate, error) {
	q := fmt.Sprintf(`SELECT id, %s, data, actor, created_at FROM %s WHERE %s = $1 ORDER BY created_at`, parentCol, table, parentCol)
	rows, err := s.q.Query(ctx, q, parentID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list crdt updates (%s): %w", table, err)
	}
	defer rows.Close()
	out := make([]script.CRDTUpdate, 0)
	for rows.Next() {
		var u script.CRDTUpdate
		if err := rows.Scan(&u.ID, &u.ParentID, &u.Data, &u.Actor, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan crdt update (%s): %w", table, err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// CompactScriptCRDT and CompactSceneCRDT insert the compacted update and
// delete the prior rows in one transaction, matching the "never mutate"
// invariant the store interface documents.
func (s *Store) CompactScriptCRDT(ctx context.Context, scriptID string, compacted script.CRDTUpdate) error {
	return s.compactCRDT(ctx, "script_crdt_updates", "script_id", scriptID, compacted)
}

func (s *Store) CompactSceneCRDT(ctx context.Context, sceneID string, compacted script.CRDTUpdate) error {
	return s.compactCRDT(ctx, "scene_crdt_updates", "scene_id", sceneID, compacted)
}

func (s *Store) compactCRDT(ctx context.Context, table, parentCol, parentID string, compacted script.CRDTUpdate) error {
	if compacted.ID == "" {
		compacted.ID = newID()
	}
	compacted.CreatedAt = time.Now().UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin compact tx (%s): %w", table, err)
	}
	defer tx.Rollback(ctx)

	delQ := fmt.Sprintf(`DELETE FROM %s WHERE %s = $1`, table, parentCol)
	if _, err := tx.Exec(ctx, delQ, parentID); err != nil {
		return fmt.Errorf("postgres: compact delete prior rows (%s): %w", table, err)
	}
	insQ := fmt.Sprintf(`INSERT INTO %s (id, %s, data, actor, created_at) VALUES ($1, $2, $3, $4, $5)`, table, parentCol)
	if _, err := tx.Exec(ctx, insQ, compacted.ID, parentID, compacted.Data, compacted.Actor, compacted.CreatedAt); err != nil {
		return fmt.Errorf("postgres: compact insert (%s): %w", table, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit compact tx (%s): %w", table, err)
	}
	return nil
}

func (s *Store) SaveSnapshotMetadata(ctx context.Context, m script.SceneSnapshotMetadata) error {
	if m.ID == "" {
		m.ID = newID()
	}
	m.GeneratedAt = time.Now().UTC()
	_, err := s.q.Exec(ctx, `
		INSERT INTO scene_snapshot_metadata (id, scene_id, source, update_count, sha256, generated_at, size_bytes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, m.SceneID, m.Source, m.UpdateCount, m.SHA256, m.GeneratedAt, m.SizeBytes)
	if err != nil {
		return fmt.Errorf("postgres: save snapshot metadata: %w", err)
	}
	return nil
}

func (s *Store) GetWriteOp(ctx context.Context, opID string) (script.WriteOp, bool, error) {
	row := s.q.QueryRow(ctx, `SELECT op_id, script_id, result, created_at FROM write_ops WHERE op_id = $1`, opID)
	var w script.WriteOp
	if err := row.Scan(&w.OpID, &w.ScriptID, &w.Result, &w.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return script.WriteOp{}, false, nil
		}
		return script.WriteOp{}, false, fmt.Errorf("postgres: get write op: %w", err)
	}
	return w, true, nil
}

func (s *Store) SaveWriteOp(ctx context.Context, w script.WriteOp) error {
	w.CreatedAt = time.Now().UTC()
	_, err := s.q.Exec(ctx, `
		INSERT INTO write_ops (op_id, script_id, result, created_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (op_id) DO NOTHING`, w.OpID, w.ScriptID, w.Result, w.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: save write op: %w", err)
	}
	return nil
}

func (s *Store) GCWriteOpsOlderThan(ctx context.Context, olderThanDays int) (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -olderThanDays)
	tag, err := s.q.Exec(ctx, `DELETE FROM write_ops WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: gc write ops: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) AppendScriptVersion(ctx context.Context, v script.ScriptVersion) error {
	if v.ID == "" {
		v.ID = newID()
	}
	v.CreatedAt = time.Now().UTC()
	_, err := s.q.Exec(ctx, `
		INSERT INTO script_versions (id, script_id, version, blocks, updated_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		v.ID, v.ScriptID, v.Version, blocksJSON(v.Blocks), v.UpdatedBy, v.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: append script version: %w", err)
	}
	return nil
}

func (s *Store) ListScriptVersions(ctx context.Context, scriptID string) ([]script.ScriptVersion, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, script_id, version, blocks, updated_by, created_at
		FROM script_versions WHERE script_id = $1 ORDER BY version`, scriptID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list script versions: %w", err)
	}
	defer rows.Close()
	out := make([]script.ScriptVersion, 0)
	for rows.Next() {
		var v script.ScriptVersion
		var blocks []byte
		if err := rows.Scan(&v.ID, &v.ScriptID, &v.Version, &blocks, &v.UpdatedBy, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan script version: %w", err)
		}
		v.Blocks = unmarshalBlocks(blocks)
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) RecordTokenUsage(ctx context.Context, u script.TokenUsage) error {
	if u.ID == "" {
		u.ID = newID()
	}
	u.CreatedAt = time.Now().UTC()
	_, err := s.q.Exec(ctx, `
		INSERT INTO token_usage (id, script_id, model, input_tokens, cache_create_tokens, cache_read_tokens,
			output_tokens, cost_usd, latency_ms, iteration, tool_name, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		u.ID, u.ScriptID, u.Model, u.InputTokens, u.CacheCreateTokens, u.CacheReadTokens,
		u.OutputTokens, u.CostUSD, u.LatencyMS, u.Iteration, u.ToolName, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: record token usage: %w", err)
	}
	return nil
}

func (s *Store) RecordOperationMetric(ctx context.Context, m script.OperationMetric) error {
	if m.ID == "" {
		m.ID = newID()
	}
	m.CreatedAt = time.Now().UTC()
	_, err := s.q.Exec(ctx, `
		INSERT INTO operation_metrics (id, script_id, operation, latency_ms, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.ScriptID, m.Operation, m.LatencyMS, m.Error, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: record operation metric: %w", err)
	}
	return nil
}
