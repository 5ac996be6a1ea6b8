// Package memory is an in-process script.Store, grounded on manifold's
// memChatStore: a mutex-guarded map per entity. Structs are stored and
// returned by value, but slice fields (blocks, characters, vectors, update
// data) share their backing arrays with the caller. It backs unit tests for
// every component built on script.Store, and cmd/worker uses it when
// DATABASE_URL is unset.
package memory

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"scriptforge/internal/apperr"
	"scriptforge/internal/script"
)

type Store struct {
	mu sync.RWMutex

	scripts map[string]script.Script
	scenes  map[string]script.Scene

	summaries map[string]script.SceneSummary // key: sceneID
	outlines  map[string]script.ScriptOutline // key: scriptID
	sheets    map[string]script.CharacterSheet // key: scriptID + "\x00" + name
	embeds    map[string]script.SceneEmbedding // key: sceneID

	threads       map[string]script.PlotThread
	relationships map[string]script.SceneRelationship

	conversations map[string]script.ConversationState
	convSummaries map[string][]script.ConversationSummary

	scriptCRDT map[string][]script.CRDTUpdate // key: scriptID
	sceneCRDT  map[string][]script.CRDTUpdate // key: sceneID
	snapshots  []script.SceneSnapshotMetadata

	writeOps map[string]script.WriteOp
	versions map[string][]script.ScriptVersion // key: scriptID

	usage   []script.TokenUsage
	metrics []script.OperationMetric
}

func New() *Store {
	return &Store{
		scripts:       map[string]script.Script{},
		scenes:        map[string]script.Scene{},
		summaries:     map[string]script.SceneSummary{},
		outlines:      map[string]script.ScriptOutline{},
		sheets:        map[string]script.CharacterSheet{},
		embeds:        map[string]script.SceneEmbedding{},
		threads:       map[string]script.PlotThread{},
		relationships: map[string]script.SceneRelationship{},
		conversations: map[string]script.ConversationState{},
		convSummaries: map[string][]script.ConversationSummary{},
		scriptCRDT:    map[string][]script.CRDTUpdate{},
		sceneCRDT:     map[string][]script.CRDTUpdate{},
		writeOps:      map[string]script.WriteOp{},
		versions:      map[string][]script.ScriptVersion{},
	}
}

func sheetKey(scriptID, name string) string { return scriptID + "\x00" + name }

var _ script.Store = (*Store)(nil)

// --- ScriptStore ---

func (s *Store) CreateScript(ctx context.Context, sc script.Script) (script.Script, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sc.ID == "" {
		sc.ID = uuid.NewString()
	}
	if sc.State == "" {
		sc.State = script.StateEmpty
	}
	now := time.Now().UTC()
	sc.CreatedAt, sc.UpdatedAt = now, now
	s.scripts[sc.ID] = sc
	return sc, nil
}

func (s *Store) GetScript(ctx context.Context, scriptID string) (script.Script, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.scripts[scriptID]
	if !ok {
		return script.Script{}, apperr.NotFound("script", scriptID)
	}
	return sc, nil
}

func (s *Store) UpdateScriptState(ctx context.Context, scriptID string, state script.AnalysisState, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.scripts[scriptID]
	if !ok {
		return apperr.NotFound("script", scriptID)
	}
	sc.State = state
	sc.LastStateTransition = at
	sc.UpdatedAt = at
	s.scripts[scriptID] = sc
	return nil
}

func (s *Store) UpdateScriptBlocksCAS(ctx context.Context, scriptID string, baseVersion int64, newBlocks []script.Block, updatedBy string) (script.Script, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.scripts[scriptID]
	if !ok {
		return script.Script{}, apperr.NotFound("script", scriptID)
	}
	if sc.Version != baseVersion {
		latest := sc
		return latest, apperr.VersionConflict("script", scriptID, nil)
	}
	sc.Version++
	sc.Blocks = newBlocks
	sc.UpdatedBy = updatedBy
	sc.UpdatedAt = time.Now().UTC()
	s.scripts[scriptID] = sc
	return sc, nil
}

func (s *Store) DeleteScript(ctx context.Context, scriptID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.scripts[scriptID]; !ok {
		return apperr.NotFound("script", scriptID)
	}
	delete(s.scripts, scriptID)
	delete(s.outlines, scriptID)
	delete(s.scriptCRDT, scriptID)
	for id, sc := range s.scenes {
		if sc.ScriptID == scriptID {
			delete(s.scenes, id)
			delete(s.summaries, id)
			delete(s.embeds, id)
			delete(s.sceneCRDT, id)
		}
	}
	for key, sheet := range s.sheets {
		if sheet.ScriptID == scriptID {
			delete(s.sheets, key)
		}
	}
	return nil
}

// --- SceneStore ---

func (s *Store) CreateScene(ctx context.Context, sc script.Scene) (script.Scene, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sc.ID == "" {
		sc.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	sc.CreatedAt, sc.UpdatedAt = now, now
	s.scenes[sc.ID] = sc
	return sc, nil
}

func (s *Store) GetScene(ctx context.Context, sceneID string) (script.Scene, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.scenes[sceneID]
	if !ok {
		return script.Scene{}, apperr.NotFound("scene", sceneID)
	}
	return sc, nil
}

func (s *Store) ListScenesByScript(ctx context.Context, scriptID string) ([]script.Scene, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]script.Scene, 0)
	for _, sc := range s.scenes {
		if sc.ScriptID == scriptID {
			out = append(out, sc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (s *Store) ListScenesByCharacter(ctx context.Context, scriptID, character string) ([]script.Scene, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]script.Scene, 0)
	for _, sc := range s.scenes {
		if sc.ScriptID != scriptID {
			continue
		}
		for _, c := range sc.Characters {
			if c == character {
				out = append(out, sc)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (s *Store) UpdateSceneContent(ctx context.Context, sceneID string, blocks []script.Block, heading string, newHash string) (script.Scene, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.scenes[sceneID]
	if !ok {
		return script.Scene{}, apperr.NotFound("scene", sceneID)
	}
	sc.Blocks = blocks
	sc.Heading = heading
	sc.Hash = newHash
	sc.Version++
	sc.UpdatedAt = time.Now().UTC()
	s.scenes[sceneID] = sc
	return sc, nil
}

func (s *Store) ApplySceneDelta(ctx context.Context, delta script.SceneDelta) (script.Scene, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.scenes[delta.SceneID]
	if !ok {
		return script.Scene{}, apperr.NotFound("scene", delta.SceneID)
	}
	if delta.Heading != nil {
		sc.Heading = *delta.Heading
	}
	if delta.Position != nil {
		sc.Position = *delta.Position
	}
	if delta.Blocks != nil {
		sc.Blocks = delta.Blocks
	}
	sc.Version++
	sc.UpdatedAt = time.Now().UTC()
	s.scenes[delta.SceneID] = sc
	return sc, nil
}

func (s *Store) SetSceneCharacters(ctx context.Context, sceneID string, characters []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.scenes[sceneID]
	if !ok {
		return apperr.NotFound("scene", sceneID)
	}
	sc.Characters = characters
	s.scenes[sceneID] = sc
	return nil
}

func (s *Store) DeleteScene(ctx context.Context, sceneID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.scenes[sceneID]; !ok {
		return apperr.NotFound("scene", sceneID)
	}
	delete(s.scenes, sceneID)
	delete(s.summaries, sceneID)
	delete(s.embeds, sceneID)
	delete(s.sceneCRDT, sceneID)
	return nil
}

func (s *Store) UpsertSceneSummary(ctx context.Context, sum script.SceneSummary) (script.SceneSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.summaries[sum.SceneID]; ok {
		sum.Version = existing.Version + 1
	} else {
		sum.Version = 1
	}
	sum.GeneratedAt = time.Now().UTC()
	s.summaries[sum.SceneID] = sum
	return sum, nil
}

func (s *Store) GetSceneSummary(ctx context.Context, sceneID string) (script.SceneSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum, ok := s.summaries[sceneID]
	if !ok {
		return script.SceneSummary{}, apperr.NotFound("scene_summary", sceneID)
	}
	return sum, nil
}

// --- OutlineStore ---

func (s *Store) GetOutline(ctx context.Context, scriptID string) (script.ScriptOutline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.outlines[scriptID]
	if !ok {
		return script.ScriptOutline{}, apperr.NotFound("outline", scriptID)
	}
	return o, nil
}

func (s *Store) UpsertOutline(ctx context.Context, o script.ScriptOutline) (script.ScriptOutline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.outlines[o.ScriptID]; ok {
		o.Version = existing.Version + 1
	} else {
		o.Version = 1
	}
	o.IsStale = false
	o.DirtySceneCount = 0
	o.LastGeneratedAt = time.Now().UTC()
	s.outlines[o.ScriptID] = o
	return o, nil
}

func (s *Store) IncrementOutlineDirtyCount(ctx context.Context, scriptID string, staleThreshold int) (script.ScriptOutline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.outlines[scriptID]
	o.ScriptID = scriptID
	o.DirtySceneCount++
	if o.DirtySceneCount >= staleThreshold {
		o.IsStale = true
	}
	s.outlines[scriptID] = o
	return o, nil
}

func (s *Store) ResetOutlineStaleness(ctx context.Context, scriptID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.outlines[scriptID]
	o.ScriptID = scriptID
	o.IsStale = false
	o.DirtySceneCount = 0
	o.LastGeneratedAt = time.Now().UTC()
	s.outlines[scriptID] = o
	return nil
}

// --- CharacterSheetStore ---

func (s *Store) GetCharacterSheet(ctx context.Context, scriptID, name string) (script.CharacterSheet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.sheets[sheetKey(scriptID, name)]
	if !ok {
		return script.CharacterSheet{}, apperr.NotFound("character_sheet", name)
	}
	return c, nil
}

func (s *Store) ListCharacterSheets(ctx context.Context, scriptID string) ([]script.CharacterSheet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]script.CharacterSheet, 0)
	for _, c := range s.sheets {
		if c.ScriptID == scriptID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) UpsertCharacterSheet(ctx context.Context, c script.CharacterSheet) (script.CharacterSheet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := sheetKey(c.ScriptID, c.Name)
	if existing, ok := s.sheets[key]; ok {
		c.Version = existing.Version + 1
	} else {
		c.Version = 1
	}
	c.IsStale = false
	c.DirtySceneCount = 0
	c.LastGeneratedAt = time.Now().UTC()
	s.sheets[key] = c
	return c, nil
}

func (s *Store) IncrementCharacterDirtyCount(ctx context.Context, scriptID, name string, staleThreshold int) (script.CharacterSheet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := sheetKey(scriptID, name)
	c := s.sheets[key]
	c.ScriptID, c.Name = scriptID, name
	c.DirtySceneCount++
	if c.DirtySceneCount >= staleThreshold {
		c.IsStale = true
	}
	s.sheets[key] = c
	return c, nil
}

func (s *Store) ResetCharacterStaleness(ctx context.Context, scriptID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := sheetKey(scriptID, name)
	c := s.sheets[key]
	c.ScriptID, c.Name = scriptID, name
	c.IsStale = false
	c.DirtySceneCount = 0
	c.LastGeneratedAt = time.Now().UTC()
	s.sheets[key] = c
	return nil
}

// --- EmbeddingStore ---

func (s *Store) UpsertSceneEmbedding(ctx context.Context, e script.SceneEmbedding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.GeneratedAt = time.Now().UTC()
	s.embeds[e.SceneID] = e
	return nil
}

func (s *Store) GetSceneEmbedding(ctx context.Context, sceneID string) (script.SceneEmbedding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.embeds[sceneID]
	if !ok {
		return script.SceneEmbedding{}, apperr.NotFound("scene_embedding", sceneID)
	}
	return e, nil
}

func (s *Store) SearchSceneEmbeddings(ctx context.Context, scriptID string, query []float32, k int) ([]script.SceneEmbeddingHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hits := make([]script.SceneEmbeddingHit, 0)
	for sceneID, e := range s.embeds {
		sc, ok := s.scenes[sceneID]
		if !ok || sc.ScriptID != scriptID {
			continue
		}
		hits = append(hits, script.SceneEmbeddingHit{SceneID: sceneID, Score: cosineSimilarity(query, e.Vector)})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// --- ThreadStore ---

func (s *Store) ListPlotThreads(ctx context.Context, scriptID string) ([]script.PlotThread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]script.PlotThread, 0)
	for _, t := range s.threads {
		if t.ScriptID == scriptID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *Store) UpsertPlotThread(ctx context.Context, t script.PlotThread) (script.PlotThread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	s.threads[t.ID] = t
	return t, nil
}

func (s *Store) ListSceneRelationships(ctx context.Context, scriptID string) ([]script.SceneRelationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]script.SceneRelationship, 0)
	for _, r := range s.relationships {
		if r.ScriptID == scriptID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Store) UpsertSceneRelationship(ctx context.Context, r script.SceneRelationship) (script.SceneRelationship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	s.relationships[r.ID] = r
	return r, nil
}

// --- ConversationStore ---

func (s *Store) GetConversationState(ctx context.Context, conversationID string) (script.ConversationState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return script.ConversationState{}, apperr.NotFound("conversation_state", conversationID)
	}
	return c, nil
}

func (s *Store) SaveConversationState(ctx context.Context, c script.ConversationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.UpdatedAt = time.Now().UTC()
	s.conversations[c.ConversationID] = c
	return nil
}

func (s *Store) AppendConversationSummary(ctx context.Context, sum script.ConversationSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum.CreatedAt = time.Now().UTC()
	s.convSummaries[sum.ConversationID] = append(s.convSummaries[sum.ConversationID], sum)
	return nil
}

// --- CRDTStore ---

func (s *Store) AppendScriptCRDTUpdate(ctx context.Context, u script.CRDTUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.CreatedAt = time.Now().UTC()
	s.scriptCRDT[u.ParentID] = append(s.scriptCRDT[u.ParentID], u)
	return nil
}

func (s *Store) AppendSceneCRDTUpdate(ctx context.Context, u script.CRDTUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.CreatedAt = time.Now().UTC()
	s.sceneCRDT[u.ParentID] = append(s.sceneCRDT[u.ParentID], u)
	return nil
}

func (s *Store) ListScriptCRDTUpdates(ctx context.Context, scriptID string) ([]script.CRDTUpdate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]script.CRDTUpdate, len(s.scriptCRDT[scriptID]))
	copy(out, s.scriptCRDT[scriptID])
	return out, nil
}

func (s *Store) ListSceneCRDTUpdates(ctx context.Context, sceneID string) ([]script.CRDTUpdate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]script.CRDTUpdate, len(s.sceneCRDT[sceneID]))
	copy(out, s.sceneCRDT[sceneID])
	return out, nil
}

func (s *Store) CompactScriptCRDT(ctx context.Context, scriptID string, compacted script.CRDTUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if compacted.ID == "" {
		compacted.ID = uuid.NewString()
	}
	compacted.CreatedAt = time.Now().UTC()
	s.scriptCRDT[scriptID] = []script.CRDTUpdate{compacted}
	return nil
}

func (s *Store) CompactSceneCRDT(ctx context.Context, sceneID string, compacted script.CRDTUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if compacted.ID == "" {
		compacted.ID = uuid.NewString()
	}
	compacted.CreatedAt = time.Now().UTC()
	s.sceneCRDT[sceneID] = []script.CRDTUpdate{compacted}
	return nil
}

func (s *Store) SaveSnapshotMetadata(ctx context.Context, m script.SceneSnapshotMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.GeneratedAt = time.Now().UTC()
	s.snapshots = append(s.snapshots, m)
	return nil
}

// --- WriteOpStore ---

func (s *Store) GetWriteOp(ctx context.Context, opID string) (script.WriteOp, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.writeOps[opID]
	return w, ok, nil
}

func (s *Store) SaveWriteOp(ctx context.Context, w script.WriteOp) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w.CreatedAt = time.Now().UTC()
	s.writeOps[w.OpID] = w
	return nil
}

func (s *Store) GCWriteOpsOlderThan(ctx context.Context, olderThanDays int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().UTC().AddDate(0, 0, -olderThanDays)
	n := 0
	for id, w := range s.writeOps {
		if w.CreatedAt.Before(cutoff) {
			delete(s.writeOps, id)
			n++
		}
	}
	return n, nil
}

// --- VersionHistoryStore ---

func (s *Store) AppendScriptVersion(ctx context.Context, v script.ScriptVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	v.CreatedAt = time.Now().UTC()
	s.versions[v.ScriptID] = append(s.versions[v.ScriptID], v)
	return nil
}

func (s *Store) ListScriptVersions(ctx context.Context, scriptID string) ([]script.ScriptVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]script.ScriptVersion(nil), s.versions[scriptID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// --- UsageStore ---

func (s *Store) RecordTokenUsage(ctx context.Context, u script.TokenUsage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.CreatedAt = time.Now().UTC()
	s.usage = append(s.usage, u)
	return nil
}

func (s *Store) RecordOperationMetric(ctx context.Context, m script.OperationMetric) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.CreatedAt = time.Now().UTC()
	s.metrics = append(s.metrics, m)
	return nil
}
