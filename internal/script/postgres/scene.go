package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"scriptforge/internal/apperr"
	"scriptforge/internal/script"
)

func (s *Store) CreateScene(ctx context.Context, sc script.Scene) (script.Scene, error) {
	if sc.ID == "" {
		sc.ID = newID()
	}
	_, err := s.q.Exec(ctx, `
		INSERT INTO scenes (id, script_id, position, heading, raw_text, blocks, characters, version, hash, is_key_scene)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		sc.ID, sc.ScriptID, sc.Position, sc.Heading, sc.RawText, blocksJSON(sc.Blocks), sc.Characters, sc.Version, sc.Hash, sc.IsKeyScene)
	if err != nil {
		return script.Scene{}, fmt.Errorf("postgres: create scene: %w", err)
	}
	return s.GetScene(ctx, sc.ID)
}

func (s *Store) GetScene(ctx context.Context, sceneID string) (script.Scene, error) {
	row := s.q.QueryRow(ctx, `
		SELECT id, script_id, position, heading, raw_text, blocks, characters, version, hash, is_key_scene, created_at, updated_at
		FROM scenes WHERE id = $1`, sceneID)
	return scanScene(row, sceneID)
}

func scanScene(row pgx.Row, sceneID string) (script.Scene, error) {
	var sc script.Scene
	var blocks []byte
	if err := row.Scan(&sc.ID, &sc.ScriptID, &sc.Position, &sc.Heading, &sc.RawText, &blocks,
		&sc.Characters, &sc.Version, &sc.Hash, &sc.IsKeyScene, &sc.CreatedAt, &sc.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return script.Scene{}, apperr.NotFound("scene", sceneID)
		}
		return script.Scene{}, fmt.Errorf("postgres: scan scene: %w", err)
	}
	sc.Blocks = unmarshalBlocks(blocks)
	return sc, nil
}

func (s *Store) ListScenesByScript(ctx context.Context, scriptID string) ([]script.Scene, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, script_id, position, heading, raw_text, blocks, characters, version, hash, is_key_scene, created_at, updated_at
		FROM scenes WHERE script_id = $1 ORDER BY position`, scriptID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list scenes by script: %w", err)
	}
	defer rows.Close()
	return collectScenes(rows)
}

func (s *Store) ListScenesByCharacter(ctx context.Context, scriptID, character string) ([]script.Scene, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, script_id, position, heading, raw_text, blocks, characters, version, hash, is_key_scene, created_at, updated_at
		FROM scenes WHERE script_id = $1 AND $2 = ANY(characters) ORDER BY position`, scriptID, character)
	if err != nil {
		return nil, fmt.Errorf("postgres: list scenes by character: %w", err)
	}
	defer rows.Close()
	return collectScenes(rows)
}

func collectScenes(rows pgx.Rows) ([]script.Scene, error) {
	out := make([]script.Scene, 0)
	for rows.Next() {
		var sc script.Scene
		var blocks []byte
		if err := rows.Scan(&sc.ID, &sc.ScriptID, &sc.Position, &sc.Heading, &sc.RawText, &blocks,
			&sc.Characters, &sc.Version, &sc.Hash, &sc.IsKeyScene, &sc.CreatedAt, &sc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan scene row: %w", err)
		}
		sc.Blocks = unmarshalBlocks(blocks)
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (s *Store) UpdateSceneContent(ctx context.Context, sceneID string, blocks []script.Block, heading string, newHash string) (script.Scene, error) {
	tag, err := s.q.Exec(ctx, `
		UPDATE scenes SET blocks = $2, heading = $3, hash = $4, version = version + 1, updated_at = now()
		WHERE id = $1`, sceneID, blocksJSON(blocks), heading, newHash)
	if err != nil {
		return script.Scene{}, fmt.Errorf("postgres: update scene content: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return script.Scene{}, apperr.NotFound("scene", sceneID)
	}
	return s.GetScene(ctx, sceneID)
}

func (s *Store) ApplySceneDelta(ctx context.Context, delta script.SceneDelta) (script.Scene, error) {
	sc, err := s.GetScene(ctx, delta.SceneID)
	if err != nil {
		return script.Scene{}, err
	}
	heading := sc.Heading
	if delta.Heading != nil {
		heading = *delta.Heading
	}
	position := sc.Position
	if delta.Position != nil {
		position = *delta.Position
	}
	blocks := sc.Blocks
	if delta.Blocks != nil {
		blocks = delta.Blocks
	}
	tag, err := s.q.Exec(ctx, `
		UPDATE scenes SET heading = $2, position = $3, blocks = $4, version = version + 1, updated_at = now()
		WHERE id = $1`, delta.SceneID, heading, position, blocksJSON(blocks))
	if err != nil {
		return script.Scene{}, fmt.Errorf("postgres: apply scene delta: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return script.Scene{}, apperr.NotFound("scene", delta.SceneID)
	}
	return s.GetScene(ctx, delta.SceneID)
}

func (s *Store) SetSceneCharacters(ctx context.Context, sceneID string, characters []string) error {
	tag, err := s.q.Exec(ctx, `UPDATE scenes SET characters = $2, updated_at = now() WHERE id = $1`, sceneID, characters)
	if err != nil {
		return fmt.Errorf("postgres: set scene characters: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("scene", sceneID)
	}
	return nil
}

func (s *Store) DeleteScene(ctx context.Context, sceneID string) error {
	tag, err := s.q.Exec(ctx, `DELETE FROM scenes WHERE id = $1`, sceneID)
	if err != nil {
		return fmt.Errorf("postgres: delete scene: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("scene", sceneID)
	}
	return nil
}

func (s *Store) UpsertSceneSummary(ctx context.Context, sum script.SceneSummary) (script.SceneSummary, error) {
	sum.GeneratedAt = time.Now().UTC()
	_, err := s.q.Exec(ctx, `
		INSERT INTO scene_summaries (scene_id, script_id, text, token_estimate, version, generated_at)
		VALUES ($1, $2, $3, $4, 1, $5)
		ON CONFLICT (scene_id) DO UPDATE SET
			text = EXCLUDED.text, token_estimate = EXCLUDED.token_estimate,
			version = scene_summaries.version + 1, generated_at = EXCLUDED.generated_at`,
		sum.SceneID, sum.ScriptID, sum.Text, sum.TokenEstimate, sum.GeneratedAt)
	if err != nil {
		return script.SceneSummary{}, fmt.Errorf("postgres: upsert scene summary: %w", err)
	}
	return s.GetSceneSummary(ctx, sum.SceneID)
}

func (s *Store) GetSceneSummary(ctx context.Context, sceneID string) (script.SceneSummary, error) {
	row := s.q.QueryRow(ctx, `
		SELECT scene_id, script_id, text, token_estimate, version, generated_at
		FROM scene_summaries WHERE scene_id = $1`, sceneID)
	var sum script.SceneSummary
	if err := row.Scan(&sum.SceneID, &sum.ScriptID, &sum.Text, &sum.TokenEstimate, &sum.Version, &sum.GeneratedAt); err != nil {
		if err == pgx.ErrNoRows {
			return script.SceneSummary{}, apperr.NotFound("scene_summary", sceneID)
		}
		return script.SceneSummary{}, fmt.Errorf("postgres: get scene summary: %w", err)
	}
	return sum, nil
}
