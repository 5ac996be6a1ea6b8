package statemachine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"scriptforge/internal/config"
	"scriptforge/internal/script"
	"scriptforge/internal/statemachine"
)

func thresholds() config.Thresholds {
	return config.Thresholds{
		EmptyToPartialMinScenes: 3,
		EmptyToPartialMinPages:  10,
		PartialToAnalyzedScenes: 30,
		PartialToAnalyzedPages:  60,
	}
}

func TestNext_StaysEmptyBelowThreshold(t *testing.T) {
	t.Parallel()
	got := statemachine.Next(script.StateEmpty, 2, 5, thresholds())
	assert.Equal(t, script.StateEmpty, got)
}

func TestNext_EmptyToPartialBySceneCount(t *testing.T) {
	t.Parallel()
	got := statemachine.Next(script.StateEmpty, 3, 0, thresholds())
	assert.Equal(t, script.StatePartial, got)
}

func TestNext_EmptyToPartialByPageCount(t *testing.T) {
	t.Parallel()
	got := statemachine.Next(script.StateEmpty, 0, 10, thresholds())
	assert.Equal(t, script.StatePartial, got)
}

func TestNext_EmptyCanJumpStraightToAnalyzed(t *testing.T) {
	t.Parallel()
	got := statemachine.Next(script.StateEmpty, 40, 0, thresholds())
	assert.Equal(t, script.StateAnalyzed, got)
}

func TestNext_PartialToAnalyzedByPageCount(t *testing.T) {
	t.Parallel()
	got := statemachine.Next(script.StatePartial, 5, 60, thresholds())
	assert.Equal(t, script.StateAnalyzed, got)
}

func TestNext_AnalyzedIsTerminal(t *testing.T) {
	t.Parallel()
	got := statemachine.Next(script.StateAnalyzed, 0, 0, thresholds())
	assert.Equal(t, script.StateAnalyzed, got)
}

func TestEstimatePageCount_RoundsUp(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 1, statemachine.EstimatePageCount(1))
	assert.Equal(t, 1, statemachine.EstimatePageCount(220))
	assert.Equal(t, 2, statemachine.EstimatePageCount(221))
	assert.Equal(t, 0, statemachine.EstimatePageCount(0))
}
