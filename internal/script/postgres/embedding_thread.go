package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"scriptforge/internal/apperr"
	"scriptforge/internal/script"
)

func (s *Store) UpsertSceneEmbedding(ctx context.Context, e script.SceneEmbedding) error {
	sc, err := s.GetScene(ctx, e.SceneID)
	if err != nil {
		return err
	}
	_, err = s.q.Exec(ctx, `
		INSERT INTO scene_embeddings (scene_id, script_id, vec, generated_at)
		VALUES ($1, $2, $3::vector, now())
		ON CONFLICT (scene_id) DO UPDATE SET vec = EXCLUDED.vec, generated_at = EXCLUDED.generated_at`,
		e.SceneID, sc.ScriptID, vectorLiteral(e.Vector))
	if err != nil {
		return fmt.Errorf("postgres: upsert scene embedding: %w", err)
	}
	return nil
}

func (s *Store) GetSceneEmbedding(ctx context.Context, sceneID string) (script.SceneEmbedding, error) {
	row := s.q.QueryRow(ctx, `SELECT scene_id, generated_at FROM scene_embeddings WHERE scene_id = $1`, sceneID)
	var e script.SceneEmbedding
	if err := row.Scan(&e.SceneID, &e.GeneratedAt); err != nil {
		if err == pgx.ErrNoRows {
			return script.SceneEmbedding{}, apperr.NotFound("scene_embedding", sceneID)
		}
		return script.SceneEmbedding{}, fmt.Errorf("postgres: get scene embedding: %w", err)
	}
	return e, nil
}

func (s *Store) SearchSceneEmbeddings(ctx context.Context, scriptID string, query []float32, k int) ([]script.SceneEmbeddingHit, error) {
	if k <= 0 {
		k = 10
	}
	rows, err := s.q.Query(ctx, `
		SELECT scene_id, 1 - (vec <=> $2::vector) AS score
		FROM scene_embeddings
		WHERE script_id = $1
		ORDER BY vec <=> $2::vector
		LIMIT $3`, scriptID, vectorLiteral(query), k)
	if err != nil {
		return nil, fmt.Errorf("postgres: search scene embeddings: %w", err)
	}
	defer rows.Close()
	out := make([]script.SceneEmbeddingHit, 0, k)
	for rows.Next() {
		var hit script.SceneEmbeddingHit
		if err := rows.Scan(&hit.SceneID, &hit.Score); err != nil {
			return nil, fmt.Errorf("postgres: scan embedding hit: %w", err)
		}
		out = append(out, hit)
	}
	return out, rows.Err()
}

func (s *Store) ListPlotThreads(ctx context.Context, scriptID string) ([]script.PlotThread, error) {
	rows, err := s.q.Query(ctx, `SELECT id, script_id, kind, name, scenes FROM plot_threads WHERE script_id = $1`, scriptID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list plot threads: %w", err)
	}
	defer rows.Close()
	out := make([]script.PlotThread, 0)
	for rows.Next() {
		var t script.PlotThread
		if err := rows.Scan(&t.ID, &t.ScriptID, &t.Kind, &t.Name, &t.Scenes); err != nil {
			return nil, fmt.Errorf("postgres: scan plot thread: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) UpsertPlotThread(ctx context.Context, t script.PlotThread) (script.PlotThread, error) {
	if t.ID == "" {
		t.ID = newID()
	}
	_, err := s.q.Exec(ctx, `
		INSERT INTO plot_threads (id, script_id, kind, name, scenes)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET kind = EXCLUDED.kind, name = EXCLUDED.name, scenes = EXCLUDED.scenes`,
		t.ID, t.ScriptID, t.Kind, t.Name, t.Scenes)
	if err != nil {
		return script.PlotThread{}, fmt.Errorf("postgres: upsert plot thread: %w", err)
	}
	return t, nil
}

func (s *Store) ListSceneRelationships(ctx context.Context, scriptID string) ([]script.SceneRelationship, error) {
	rows, err := s.q.Query(ctx, `SELECT id, script_id, kind, from_pos, to_pos, note FROM scene_relationships WHERE script_id = $1`, scriptID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list scene relationships: %w", err)
	}
	defer rows.Close()
	out := make([]script.SceneRelationship, 0)
	for rows.Next() {
		var r script.SceneRelationship
		if err := rows.Scan(&r.ID, &r.ScriptID, &r.Kind, &r.FromPos, &r.ToPos, &r.Note); err != nil {
			return nil, fmt.Errorf("postgres: scan scene relationship: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) UpsertSceneRelationship(ctx context.Context, r script.SceneRelationship) (script.SceneRelationship, error) {
	if r.ID == "" {
		r.ID = newID()
	}
	_, err := s.q.Exec(ctx, `
		INSERT INTO scene_relationships (id, script_id, kind, from_pos, to_pos, note)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET kind = EXCLUDED.kind, from_pos = EXCLUDED.from_pos, to_pos = EXCLUDED.to_pos, note = EXCLUDED.note`,
		r.ID, r.ScriptID, r.Kind, r.FromPos, r.ToPos, r.Note)
	if err != nil {
		return script.SceneRelationship{}, fmt.Errorf("postgres: upsert scene relationship: %w", err)
	}
	return r, nil
}

func (s *Store) GetConversationState(ctx context.Context, conversationID string) (script.ConversationState, error) {
	row := s.q.QueryRow(ctx, `
		SELECT conversation_id, script_id, active_scene_positions, active_characters, active_threads,
		       last_intent, last_commitment, updated_at
		FROM conversation_states WHERE conversation_id = $1`, conversationID)
	var c script.ConversationState
	if err := row.Scan(&c.ConversationID, &c.ScriptID, &c.ActiveScenePositions, &c.ActiveCharacters, &c.ActiveThreads,
		&c.LastIntent, &c.LastCommitment, &c.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return script.ConversationState{}, apperr.NotFound("conversation_state", conversationID)
		}
		return script.ConversationState{}, fmt.Errorf("postgres: get conversation state: %w", err)
	}
	return c, nil
}

func (s *Store) SaveConversationState(ctx context.Context, c script.ConversationState) error {
	c.UpdatedAt = time.Now().UTC()
	_, err := s.q.Exec(ctx, `
		INSERT INTO conversation_states (conversation_id, script_id, active_scene_positions, active_characters, active_threads, last_intent, last_commitment, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (conversation_id) DO UPDATE SET
			script_id = EXCLUDED.script_id, active_scene_positions = EXCLUDED.active_scene_positions,
			active_characters = EXCLUDED.active_characters, active_threads = EXCLUDED.active_threads,
			last_intent = EXCLUDED.last_intent, last_commitment = EXCLUDED.last_commitment,
			updated_at = EXCLUDED.updated_at`,
		c.ConversationID, c.ScriptID, c.ActiveScenePositions, c.ActiveCharacters, c.ActiveThreads,
		c.LastIntent, c.LastCommitment, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: save conversation state: %w", err)
	}
	return nil
}

func (s *Store) AppendConversationSummary(ctx context.Context, sum script.ConversationSummary) error {
	sum.CreatedAt = time.Now().UTC()
	_, err := s.q.Exec(ctx, `
		INSERT INTO conversation_summaries (conversation_id, text, up_to_message_seq, created_at)
		VALUES ($1, $2, $3, $4)`, sum.ConversationID, sum.Text, sum.UpToMessageSeq, sum.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: append conversation summary: %w", err)
	}
	return nil
}
