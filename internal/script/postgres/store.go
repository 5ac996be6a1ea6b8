// Package postgres is the Postgres-backed script.Store, grounded on
// persistence/databases' pgxpool bootstrap pattern: a connection pool,
// inline CREATE TABLE IF NOT EXISTS for dev parity, and pgvector for
// scene embeddings. Production schema ownership lives in
// cmd/migrate's goose migrations; the bootstrap here only keeps a
// fresh dev database usable without running them first.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"scriptforge/internal/apperr"
	"scriptforge/internal/script"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, so every method
// below runs unchanged whether it executes directly against the pool or
// inside the transaction WithTx opens.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	pool       *pgxpool.Pool
	q          querier
	dimensions int
}

// Open creates a connection pool against dsn and bootstraps the schema.
func Open(ctx context.Context, dsn string, dimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	cfg.MaxConns = 20
	cfg.MinConns = 0
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: open pool: %w", err)
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	s := &Store{pool: pool, q: pool, dimensions: dimensions}
	if err := s.bootstrap(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() { s.pool.Close() }

// WithTx runs fn against a Store scoped to a single transaction, the way
// script_autosave_service.update_script_with_cas wraps its version check,
// version-history append, and scene-delta loop in one commit. fn's
// returned error rolls the transaction back; a nil error commits it.
func (s *Store) WithTx(ctx context.Context, fn func(script.Store) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	txStore := &Store{pool: s.pool, q: tx, dimensions: s.dimensions}
	if err := fn(txStore); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit tx: %w", err)
	}
	return nil
}

var _ script.Transactor = (*Store)(nil)

func (s *Store) bootstrap(ctx context.Context) error {
	_, _ = s.q.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`)
	vecType := "vector"
	if s.dimensions > 0 {
		vecType = fmt.Sprintf("vector(%d)", s.dimensions)
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS scripts (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL DEFAULT '',
			state TEXT NOT NULL DEFAULT 'empty',
			version BIGINT NOT NULL DEFAULT 0,
			blocks JSONB NOT NULL DEFAULT '[]'::jsonb,
			crdt_state BYTEA,
			content_fingerprint TEXT NOT NULL DEFAULT '',
			last_state_transition TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_by TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS scenes (
			id TEXT PRIMARY KEY,
			script_id TEXT NOT NULL REFERENCES scripts(id) ON DELETE CASCADE,
			position INT NOT NULL,
			heading TEXT NOT NULL DEFAULT '',
			raw_text TEXT NOT NULL DEFAULT '',
			blocks JSONB NOT NULL DEFAULT '[]'::jsonb,
			characters TEXT[] NOT NULL DEFAULT '{}',
			version BIGINT NOT NULL DEFAULT 0,
			hash TEXT NOT NULL DEFAULT '',
			is_key_scene BOOLEAN NOT NULL DEFAULT false,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS scenes_script_position_idx ON scenes(script_id, position)`,
		`CREATE TABLE IF NOT EXISTS scene_summaries (
			scene_id TEXT PRIMARY KEY REFERENCES scenes(id) ON DELETE CASCADE,
			script_id TEXT NOT NULL,
			text TEXT NOT NULL DEFAULT '',
			token_estimate INT NOT NULL DEFAULT 0,
			version INT NOT NULL DEFAULT 0,
			generated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS outlines (
			script_id TEXT PRIMARY KEY REFERENCES scripts(id) ON DELETE CASCADE,
			text TEXT NOT NULL DEFAULT '',
			token_estimate INT NOT NULL DEFAULT 0,
			is_stale BOOLEAN NOT NULL DEFAULT false,
			dirty_scene_count INT NOT NULL DEFAULT 0,
			version INT NOT NULL DEFAULT 0,
			last_generated_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS character_sheets (
			script_id TEXT NOT NULL REFERENCES scripts(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			text TEXT NOT NULL DEFAULT '',
			token_estimate INT NOT NULL DEFAULT 0,
			is_stale BOOLEAN NOT NULL DEFAULT false,
			dirty_scene_count INT NOT NULL DEFAULT 0,
			version INT NOT NULL DEFAULT 0,
			last_generated_at TIMESTAMPTZ,
			PRIMARY KEY (script_id, name)
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS scene_embeddings (
			scene_id TEXT PRIMARY KEY REFERENCES scenes(id) ON DELETE CASCADE,
			script_id TEXT NOT NULL,
			vec %s,
			generated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, vecType),
		`CREATE TABLE IF NOT EXISTS plot_threads (
			id TEXT PRIMARY KEY,
			script_id TEXT NOT NULL REFERENCES scripts(id) ON DELETE CASCADE,
			kind TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			scenes INT[] NOT NULL DEFAULT '{}'
		)`,
		`CREATE TABLE IF NOT EXISTS scene_relationships (
			id TEXT PRIMARY KEY,
			script_id TEXT NOT NULL REFERENCES scripts(id) ON DELETE CASCADE,
			kind TEXT NOT NULL,
			from_pos INT NOT NULL,
			to_pos INT NOT NULL,
			note TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS conversation_states (
			conversation_id TEXT PRIMARY KEY,
			script_id TEXT NOT NULL,
			active_scene_positions INT[] NOT NULL DEFAULT '{}',
			active_characters TEXT[] NOT NULL DEFAULT '{}',
			active_threads TEXT[] NOT NULL DEFAULT '{}',
			last_intent TEXT NOT NULL DEFAULT '',
			last_commitment TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS conversation_summaries (
			id BIGSERIAL PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			text TEXT NOT NULL DEFAULT '',
			up_to_message_seq BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS script_crdt_updates (
			id TEXT PRIMARY KEY,
			script_id TEXT NOT NULL REFERENCES scripts(id) ON DELETE CASCADE,
			data BYTEA NOT NULL,
			actor TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS script_crdt_updates_script_idx ON script_crdt_updates(script_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS scene_crdt_updates (
			id TEXT PRIMARY KEY,
			scene_id TEXT NOT NULL REFERENCES scenes(id) ON DELETE CASCADE,
			data BYTEA NOT NULL,
			actor TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS scene_crdt_updates_scene_idx ON scene_crdt_updates(scene_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS scene_snapshot_metadata (
			id TEXT PRIMARY KEY,
			scene_id TEXT NOT NULL,
			source TEXT NOT NULL,
			update_count INT NOT NULL DEFAULT 0,
			sha256 TEXT NOT NULL DEFAULT '',
			generated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			size_bytes INT NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS write_ops (
			op_id TEXT PRIMARY KEY,
			script_id TEXT NOT NULL,
			result BYTEA NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS script_versions (
			id TEXT PRIMARY KEY,
			script_id TEXT NOT NULL REFERENCES scripts(id) ON DELETE CASCADE,
			version BIGINT NOT NULL,
			blocks JSONB NOT NULL DEFAULT '[]'::jsonb,
			updated_by TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS token_usage (
			id TEXT PRIMARY KEY,
			script_id TEXT NOT NULL,
			model TEXT NOT NULL DEFAULT '',
			input_tokens INT NOT NULL DEFAULT 0,
			cache_create_tokens INT NOT NULL DEFAULT 0,
			cache_read_tokens INT NOT NULL DEFAULT 0,
			output_tokens INT NOT NULL DEFAULT 0,
			cost_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
			latency_ms BIGINT NOT NULL DEFAULT 0,
			iteration INT NOT NULL DEFAULT 0,
			tool_name TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS operation_metrics (
			id TEXT PRIMARY KEY,
			script_id TEXT NOT NULL,
			operation TEXT NOT NULL DEFAULT '',
			latency_ms BIGINT NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.q.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: bootstrap schema: %w", err)
		}
	}
	return nil
}

var _ script.Store = (*Store)(nil)

// --- ScriptStore ---

func (s *Store) CreateScript(ctx context.Context, sc script.Script) (script.Script, error) {
	if sc.ID == "" {
		sc.ID = uuid.NewString()
	}
	if sc.State == "" {
		sc.State = script.StateEmpty
	}
	_, err := s.q.Exec(ctx, `
		INSERT INTO scripts (id, owner_id, title, state, version, blocks, content_fingerprint, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		sc.ID, sc.OwnerID, sc.Title, sc.State, sc.Version, blocksJSON(sc.Blocks), sc.ContentFingerprint, sc.UpdatedBy)
	if err != nil {
		return script.Script{}, fmt.Errorf("postgres: create script: %w", err)
	}
	return s.GetScript(ctx, sc.ID)
}

func (s *Store) GetScript(ctx context.Context, scriptID string) (script.Script, error) {
	row := s.q.QueryRow(ctx, `
		SELECT id, owner_id, title, state, version, blocks, crdt_state, content_fingerprint,
		       last_state_transition, created_at, updated_at, updated_by
		FROM scripts WHERE id = $1`, scriptID)
	var sc script.Script
	var blocks []byte
	var lastTransition *time.Time
	if err := row.Scan(&sc.ID, &sc.OwnerID, &sc.Title, &sc.State, &sc.Version, &blocks, &sc.CRDTState,
		&sc.ContentFingerprint, &lastTransition, &sc.CreatedAt, &sc.UpdatedAt, &sc.UpdatedBy); err != nil {
		if err == pgx.ErrNoRows {
			return script.Script{}, apperr.NotFound("script", scriptID)
		}
		return script.Script{}, fmt.Errorf("postgres: get script: %w", err)
	}
	sc.Blocks = unmarshalBlocks(blocks)
	if lastTransition != nil {
		sc.LastStateTransition = *lastTransition
	}
	return sc, nil
}

func (s *Store) UpdateScriptState(ctx context.Context, scriptID string, state script.AnalysisState, at time.Time) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE scripts SET state = $2, last_state_transition = $3, updated_at = $3 WHERE id = $1`,
		scriptID, state, at)
	if err != nil {
		return fmt.Errorf("postgres: update script state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("script", scriptID)
	}
	return nil
}

// UpdateScriptBlocksCAS locks the script row with SELECT ... FOR UPDATE
// before comparing versions, the same row-level lock
// script_autosave_service.update_script_with_cas takes, so a concurrent
// scene edit or second CAS attempt against the same script serializes
// behind this one instead of racing it. Called standalone the lock is
// released as soon as the SELECT completes, and the UPDATE's version
// predicate then rejects a concurrent writer with a version conflict;
// called from within WithTx it holds for the lifetime of the caller's
// transaction.
func (s *Store) UpdateScriptBlocksCAS(ctx context.Context, scriptID string, baseVersion int64, newBlocks []script.Block, updatedBy string) (script.Script, error) {
	var currentVersion int64
	if err := s.q.QueryRow(ctx, `SELECT version FROM scripts WHERE id = $1 FOR UPDATE`, scriptID).Scan(&currentVersion); err != nil {
		if err == pgx.ErrNoRows {
			return script.Script{}, apperr.NotFound("script", scriptID)
		}
		return script.Script{}, fmt.Errorf("postgres: lock script: %w", err)
	}
	if currentVersion != baseVersion {
		return script.Script{}, apperr.VersionConflict("script", scriptID, nil)
	}

	tag, err := s.q.Exec(ctx, `
		UPDATE scripts SET version = version + 1, blocks = $3, updated_by = $4, updated_at = now()
		WHERE id = $1 AND version = $2`,
		scriptID, baseVersion, blocksJSON(newBlocks), updatedBy)
	if err != nil {
		return script.Script{}, fmt.Errorf("postgres: update script blocks cas: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return script.Script{}, apperr.VersionConflict("script", scriptID, nil)
	}
	return s.GetScript(ctx, scriptID)
}

func (s *Store) DeleteScript(ctx context.Context, scriptID string) error {
	tag, err := s.q.Exec(ctx, `DELETE FROM scripts WHERE id = $1`, scriptID)
	if err != nil {
		return fmt.Errorf("postgres: delete script: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("script", scriptID)
	}
	return nil
}
