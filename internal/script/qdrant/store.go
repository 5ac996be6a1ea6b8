// Package qdrant is an alternative EmbeddingStore for deployments that run
// vector search on Qdrant instead of pgvector, adapted from the teacher's
// qdrantVector backend onto scene embeddings. It implements only
// script.EmbeddingStore — scripts, scenes, and everything else still live
// in script/postgres; a caller wanting this backend composes it alongside
// a postgres.Store rather than using it as the whole script.Store.
package qdrant

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	qc "github.com/qdrant/go-client/qdrant"

	"scriptforge/internal/apperr"
	"scriptforge/internal/script"
)

// scriptIDPayloadField stores the owning script ID in each point's payload
// so SearchSceneEmbeddings can filter by script without a second lookup.
const scriptIDPayloadField = "script_id"

// sceneLookup resolves a scene to its owning script, the same denormalized
// lookup postgres.Store's UpsertSceneEmbedding does against its scenes
// table, needed here to tag each point's payload for SearchSceneEmbeddings'
// per-script filter.
type sceneLookup interface {
	GetScene(ctx context.Context, sceneID string) (script.Scene, error)
}

type Store struct {
	client     *qc.Client
	collection string
	dimension  int
	scenes     sceneLookup
}

// Open connects to Qdrant's gRPC endpoint (default port 6334) and ensures
// collection exists with a cosine-distance vector config of the given size.
// scenes resolves a scene ID to its script for per-script payload tagging.
func Open(ctx context.Context, dsn, collection string, dimensions int, scenes sceneLookup) (*Store, error) {
	if collection == "" {
		return nil, fmt.Errorf("qdrant: collection name is required")
	}
	if dimensions <= 0 {
		return nil, fmt.Errorf("qdrant: dimensions must be > 0")
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("qdrant: parse dsn: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		host = "localhost"
	}
	portStr := parsed.Port()
	if portStr == "" {
		portStr = "6334"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("qdrant: invalid port: %w", err)
	}
	cfg := &qc.Config{Host: host, Port: port}
	if parsed.Scheme == "https" {
		cfg.UseTLS = true
	}
	if apiKey := parsed.Query().Get("api_key"); apiKey != "" {
		cfg.APIKey = apiKey
	}
	client, err := qc.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("qdrant: create client: %w", err)
	}
	s := &Store{client: client, collection: collection, dimension: dimensions, scenes: scenes}
	if err := s.ensureCollection(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.client.Close() }

func (s *Store) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("qdrant: check collection: %w", err)
	}
	if exists {
		return nil
	}
	err = s.client.CreateCollection(ctx, &qc.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qc.NewVectorsConfig(&qc.VectorParams{
			Size:     uint64(s.dimension),
			Distance: qc.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: create collection: %w", err)
	}
	return nil
}

var _ script.EmbeddingStore = (*Store)(nil)

func (s *Store) UpsertSceneEmbedding(ctx context.Context, e script.SceneEmbedding) error {
	sc, err := s.scenes.GetScene(ctx, e.SceneID)
	if err != nil {
		return err
	}
	vec := make([]float32, len(e.Vector))
	copy(vec, e.Vector)
	points := []*qc.PointStruct{{
		Id:      qc.NewIDUUID(e.SceneID),
		Vectors: qc.NewVectorsDense(vec),
		Payload: qc.NewValueMap(map[string]any{scriptIDPayloadField: sc.ScriptID}),
	}}
	_, err = s.client.Upsert(ctx, &qc.UpsertPoints{CollectionName: s.collection, Points: points})
	if err != nil {
		return fmt.Errorf("qdrant: upsert scene embedding: %w", err)
	}
	return nil
}

func (s *Store) GetSceneEmbedding(ctx context.Context, sceneID string) (script.SceneEmbedding, error) {
	points, err := s.client.Get(ctx, &qc.GetPoints{
		CollectionName: s.collection,
		Ids:            []*qc.PointId{qc.NewIDUUID(sceneID)},
		WithVectors:    qc.NewWithVectors(true),
	})
	if err != nil {
		return script.SceneEmbedding{}, fmt.Errorf("qdrant: get scene embedding: %w", err)
	}
	if len(points) == 0 {
		return script.SceneEmbedding{}, apperr.NotFound("scene_embedding", sceneID)
	}
	return script.SceneEmbedding{SceneID: sceneID, Vector: points[0].GetVectors().GetVector().GetData()}, nil
}

func (s *Store) SearchSceneEmbeddings(ctx context.Context, scriptID string, query []float32, k int) ([]script.SceneEmbeddingHit, error) {
	if k <= 0 {
		k = 10
	}
	vec := make([]float32, len(query))
	copy(vec, query)
	var filter *qc.Filter
	if scriptID != "" {
		filter = &qc.Filter{Must: []*qc.Condition{qc.NewMatch(scriptIDPayloadField, scriptID)}}
	}
	limit := uint64(k)
	hits, err := s.client.Query(ctx, &qc.QueryPoints{
		CollectionName: s.collection,
		Query:          qc.NewQueryDense(vec),
		Limit:          &limit,
		Filter:         filter,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: search scene embeddings: %w", err)
	}
	out := make([]script.SceneEmbeddingHit, 0, len(hits))
	for _, hit := range hits {
		sceneID := hit.Id.GetUuid()
		if sceneID == "" {
			sceneID = hit.Id.String()
		}
		out = append(out, script.SceneEmbeddingHit{SceneID: sceneID, Score: float64(hit.Score)})
	}
	return out, nil
}
