// Package statemachine implements C11: the monotonic forward transitions
// of a Script's analysis state, driven by scene and estimated page counts.
package statemachine

import (
	"scriptforge/internal/config"
	"scriptforge/internal/script"
)

// WordsPerPage is the divisor used to estimate page count from word
// count, per §4.11.
const WordsPerPage = 220

// EstimatePageCount rounds totalWords/WordsPerPage up to the nearest page.
func EstimatePageCount(totalWords int) int {
	if totalWords <= 0 {
		return 0
	}
	return (totalWords + WordsPerPage - 1) / WordsPerPage
}

// Next returns the state script.AnalysisState should advance to given the
// current state, scene count, and estimated page count. Transitions are
// monotonic forward only: Next never returns a state earlier than current.
func Next(current script.AnalysisState, sceneCount, pageCount int, t config.Thresholds) script.AnalysisState {
	switch current {
	case script.StateEmpty:
		if sceneCount >= t.EmptyToPartialMinScenes || pageCount >= t.EmptyToPartialMinPages {
			return nextFromPartial(sceneCount, pageCount, t)
		}
		return script.StateEmpty
	case script.StatePartial:
		return nextFromPartial(sceneCount, pageCount, t)
	default:
		return script.StateAnalyzed
	}
}

func nextFromPartial(sceneCount, pageCount int, t config.Thresholds) script.AnalysisState {
	if sceneCount >= t.PartialToAnalyzedScenes || pageCount >= t.PartialToAnalyzedPages {
		return script.StateAnalyzed
	}
	return script.StatePartial
}
