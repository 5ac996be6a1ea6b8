// Package staleness implements C3: propagating a scene edit into the
// dirty-counters of its script's outline and the character sheets of
// every character linked to that scene, and answering whether an
// artifact is due for regeneration.
package staleness

import (
	"context"
	"fmt"

	"scriptforge/internal/apperr"
	"scriptforge/internal/config"
	"scriptforge/internal/hashing"
	"scriptforge/internal/script"
)

// Tracker is constructed once per process with the store and the
// configured thresholds, and is safe for concurrent use — every mutation
// it performs delegates to a store method that runs inside its own
// transaction.
type Tracker struct {
	store      script.Store
	thresholds config.Thresholds
}

func New(store script.Store, thresholds config.Thresholds) *Tracker {
	return &Tracker{store: store, thresholds: thresholds}
}

// ChangeReport describes what became stale as a result of OnSceneChanged.
type ChangeReport struct {
	ScriptID          string
	OutlineNowStale   bool
	CharactersNowStale []string
}

// OnSceneChanged increments Outline.dirty-scene-count for sc.ScriptID by
// one, and for every character linked to sc increments that character's
// sheet dirty-count by one. Any counter crossing its threshold sets
// is-stale. All increments happen through store methods the backend
// implements transactionally; OnSceneChanged itself does not open a
// transaction, matching the §5 rule that staleness updates happen
// atomically with the scene mutation that triggered them, not
// asynchronously.
func (t *Tracker) OnSceneChanged(ctx context.Context, sc script.Scene) (ChangeReport, error) {
	report := ChangeReport{ScriptID: sc.ScriptID}

	outline, err := t.store.IncrementOutlineDirtyCount(ctx, sc.ScriptID, t.thresholds.OutlineStale)
	if err != nil {
		return report, fmt.Errorf("increment outline dirty count: %w", err)
	}
	report.OutlineNowStale = outline.IsStale

	for _, name := range sc.Characters {
		sheet, err := t.store.IncrementCharacterDirtyCount(ctx, sc.ScriptID, name, t.thresholds.CharacterStale)
		if err != nil {
			return report, fmt.Errorf("increment character %q dirty count: %w", name, err)
		}
		if sheet.IsStale {
			report.CharactersNowStale = append(report.CharactersNowStale, name)
		}
	}
	return report, nil
}

// ShouldRefreshOutline reports is-stale AND dirty-count >= threshold.
func (t *Tracker) ShouldRefreshOutline(ctx context.Context, scriptID string) (bool, error) {
	o, err := t.store.GetOutline(ctx, scriptID)
	if err != nil {
		return false, err
	}
	return o.IsStale && o.DirtySceneCount >= t.thresholds.OutlineStale, nil
}

// ShouldRefreshCharacter reports is-stale AND dirty-count >= threshold
// for the named character's sheet; a sheet that has never been generated
// counts as due.
func (t *Tracker) ShouldRefreshCharacter(ctx context.Context, scriptID, name string) (bool, error) {
	c, err := t.store.GetCharacterSheet(ctx, scriptID, name)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return true, nil
		}
		return false, err
	}
	return c.IsStale && c.DirtySceneCount >= t.thresholds.CharacterStale, nil
}

// ResetOutline atomically clears is-stale, zeros the dirty count, and
// stamps last-generated-at — called after a successful outline refresh.
func (t *Tracker) ResetOutline(ctx context.Context, scriptID string) error {
	return t.store.ResetOutlineStaleness(ctx, scriptID)
}

// ResetCharacter atomically clears is-stale and zeros the dirty count for
// the named character's sheet.
func (t *Tracker) ResetCharacter(ctx context.Context, scriptID, name string) error {
	return t.store.ResetCharacterStaleness(ctx, scriptID, name)
}

// CheckSceneStaleness recomputes the scene's content hash from its
// current text and compares it against the persisted hash. If they
// differ it persists the new hash and returns true; a nil/empty
// persisted hash (never analyzed) always counts as different.
func (t *Tracker) CheckSceneStaleness(ctx context.Context, sc script.Scene) (bool, error) {
	newHash := hashing.HashScene(sc)
	if newHash == sc.Hash {
		return false, nil
	}
	if _, err := t.store.UpdateSceneContent(ctx, sc.ID, sc.Blocks, sc.Heading, newHash); err != nil {
		return false, fmt.Errorf("persist new scene hash: %w", err)
	}
	return true, nil
}
