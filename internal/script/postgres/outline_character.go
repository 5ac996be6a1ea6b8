package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"scriptforge/internal/apperr"
	"scriptforge/internal/script"
)

func (s *Store) GetOutline(ctx context.Context, scriptID string) (script.ScriptOutline, error) {
	row := s.q.QueryRow(ctx, `
		SELECT script_id, text, token_estimate, is_stale, dirty_scene_count, version, last_generated_at
		FROM outlines WHERE script_id = $1`, scriptID)
	var o script.ScriptOutline
	var lastGen *time.Time
	if err := row.Scan(&o.ScriptID, &o.Text, &o.TokenEstimate, &o.IsStale, &o.DirtySceneCount, &o.Version, &lastGen); err != nil {
		if err == pgx.ErrNoRows {
			return script.ScriptOutline{}, apperr.NotFound("outline", scriptID)
		}
		return script.ScriptOutline{}, fmt.Errorf("postgres: get outline: %w", err)
	}
	if lastGen != nil {
		o.LastGeneratedAt = *lastGen
	}
	return o, nil
}

func (s *Store) UpsertOutline(ctx context.Context, o script.ScriptOutline) (script.ScriptOutline, error) {
	o.LastGeneratedAt = time.Now().UTC()
	_, err := s.q.Exec(ctx, `
		INSERT INTO outlines (script_id, text, token_estimate, is_stale, dirty_scene_count, version, last_generated_at)
		VALUES ($1, $2, $3, false, 0, 1, $4)
		ON CONFLICT (script_id) DO UPDATE SET
			text = EXCLUDED.text, token_estimate = EXCLUDED.token_estimate,
			is_stale = false, dirty_scene_count = 0, version = outlines.version + 1,
			last_generated_at = EXCLUDED.last_generated_at`,
		o.ScriptID, o.Text, o.TokenEstimate, o.LastGeneratedAt)
	if err != nil {
		return script.ScriptOutline{}, fmt.Errorf("postgres: upsert outline: %w", err)
	}
	return s.GetOutline(ctx, o.ScriptID)
}

func (s *Store) IncrementOutlineDirtyCount(ctx context.Context, scriptID string, staleThreshold int) (script.ScriptOutline, error) {
	_, err := s.q.Exec(ctx, `
		INSERT INTO outlines (script_id, dirty_scene_count, is_stale)
		VALUES ($1, 1, $2 <= 1)
		ON CONFLICT (script_id) DO UPDATE SET
			dirty_scene_count = outlines.dirty_scene_count + 1,
			is_stale = outlines.is_stale OR (outlines.dirty_scene_count + 1) >= $2`,
		scriptID, staleThreshold)
	if err != nil {
		return script.ScriptOutline{}, fmt.Errorf("postgres: increment outline dirty count: %w", err)
	}
	return s.GetOutline(ctx, scriptID)
}

func (s *Store) ResetOutlineStaleness(ctx context.Context, scriptID string) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO outlines (script_id, dirty_scene_count, is_stale, last_generated_at)
		VALUES ($1, 0, false, now())
		ON CONFLICT (script_id) DO UPDATE SET dirty_scene_count = 0, is_stale = false, last_generated_at = now()`, scriptID)
	if err != nil {
		return fmt.Errorf("postgres: reset outline staleness: %w", err)
	}
	return nil
}

func (s *Store) GetCharacterSheet(ctx context.Context, scriptID, name string) (script.CharacterSheet, error) {
	row := s.q.QueryRow(ctx, `
		SELECT script_id, name, text, token_estimate, is_stale, dirty_scene_count, version, last_generated_at
		FROM character_sheets WHERE script_id = $1 AND name = $2`, scriptID, name)
	var c script.CharacterSheet
	var lastGen *time.Time
	if err := row.Scan(&c.ScriptID, &c.Name, &c.Text, &c.TokenEstimate, &c.IsStale, &c.DirtySceneCount, &c.Version, &lastGen); err != nil {
		if err == pgx.ErrNoRows {
			return script.CharacterSheet{}, apperr.NotFound("character_sheet", scriptID+"/"+name)
		}
		return script.CharacterSheet{}, fmt.Errorf("postgres: get character sheet: %w", err)
	}
	if lastGen != nil {
		c.LastGeneratedAt = *lastGen
	}
	return c, nil
}

func (s *Store) ListCharacterSheets(ctx context.Context, scriptID string) ([]script.CharacterSheet, error) {
	rows, err := s.q.Query(ctx, `
		SELECT script_id, name, text, token_estimate, is_stale, dirty_scene_count, version, last_generated_at
		FROM character_sheets WHERE script_id = $1 ORDER BY name`, scriptID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list character sheets: %w", err)
	}
	defer rows.Close()
	out := make([]script.CharacterSheet, 0)
	for rows.Next() {
		var c script.CharacterSheet
		var lastGen *time.Time
		if err := rows.Scan(&c.ScriptID, &c.Name, &c.Text, &c.TokenEstimate, &c.IsStale, &c.DirtySceneCount, &c.Version, &lastGen); err != nil {
			return nil, fmt.Errorf("postgres: scan character sheet: %w", err)
		}
		if lastGen != nil {
			c.LastGeneratedAt = *lastGen
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) UpsertCharacterSheet(ctx context.Context, c script.CharacterSheet) (script.CharacterSheet, error) {
	c.LastGeneratedAt = time.Now().UTC()
	_, err := s.q.Exec(ctx, `
		INSERT INTO character_sheets (script_id, name, text, token_estimate, is_stale, dirty_scene_count, version, last_generated_at)
		VALUES ($1, $2, $3, $4, false, 0, 1, $5)
		ON CONFLICT (script_id, name) DO UPDATE SET
			text = EXCLUDED.text, token_estimate = EXCLUDED.token_estimate,
			is_stale = false, dirty_scene_count = 0, version = character_sheets.version + 1,
			last_generated_at = EXCLUDED.last_generated_at`,
		c.ScriptID, c.Name, c.Text, c.TokenEstimate, c.LastGeneratedAt)
	if err != nil {
		return script.CharacterSheet{}, fmt.Errorf("postgres: upsert character sheet: %w", err)
	}
	return s.GetCharacterSheet(ctx, c.ScriptID, c.Name)
}

func (s *Store) IncrementCharacterDirtyCount(ctx context.Context, scriptID, name string, staleThreshold int) (script.CharacterSheet, error) {
	_, err := s.q.Exec(ctx, `
		INSERT INTO character_sheets (script_id, name, dirty_scene_count, is_stale)
		VALUES ($1, $2, 1, $3 <= 1)
		ON CONFLICT (script_id, name) DO UPDATE SET
			dirty_scene_count = character_sheets.dirty_scene_count + 1,
			is_stale = character_sheets.is_stale OR (character_sheets.dirty_scene_count + 1) >= $3`,
		scriptID, name, staleThreshold)
	if err != nil {
		return script.CharacterSheet{}, fmt.Errorf("postgres: increment character dirty count: %w", err)
	}
	return s.GetCharacterSheet(ctx, scriptID, name)
}

func (s *Store) ResetCharacterStaleness(ctx context.Context, scriptID, name string) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO character_sheets (script_id, name, dirty_scene_count, is_stale, last_generated_at)
		VALUES ($1, $2, 0, false, now())
		ON CONFLICT (script_id, name) DO UPDATE SET dirty_scene_count = 0, is_stale = false, last_generated_at = now()`, scriptID, name)
	if err != nil {
		return fmt.Errorf("postgres: reset character staleness: %w", err)
	}
	return nil
}
