package contextbuilder

import (
	"strings"
	"unicode"
)

// TopicMode is the continuity classification of §4.8.
type TopicMode string

const (
	ModeFollowUp TopicMode = "FOLLOW_UP"
	ModeNewTopic TopicMode = "NEW_TOPIC"
)

// TopicModeOverride lets a caller force the mode with confidence 1.0,
// bypassing detection entirely.
type TopicModeOverride string

const (
	OverrideNone     TopicModeOverride = ""
	OverrideContinue TopicModeOverride = "continue"
	OverrideNewTopic TopicModeOverride = "new_topic"
)

var newTopicPhrases = []string{
	"new question", "different topic", "switching topics", "unrelated", "by the way",
}

var followUpPhrases = []string{
	"also", "additionally", "and also", "what about", "furthermore", "continuing",
}

var referentialPronouns = []string{"it", "they", "that", "this", "those", "these", "he", "she"}

var midSentenceDemonstratives = []string{"this ", "that "}

var excludedCapitalizedTokens = map[string]bool{
	"The": true, "This": true, "That": true, "What": true, "How": true,
	"Why": true, "When": true, "Where": true, "Scene": true,
}

// Detection is the outcome TopicModeDetector.Detect returns.
type Detection struct {
	Mode       TopicMode
	Confidence float64
}

// TopicModeDetector implements the 10 ordered heuristic rules of §4.8.
type TopicModeDetector struct{}

func NewTopicModeDetector() *TopicModeDetector { return &TopicModeDetector{} }

// Detect classifies message against lastAssistantMessage (empty if this is
// the first turn), applying override if non-empty.
func (d *TopicModeDetector) Detect(message, lastAssistantMessage string, override TopicModeOverride) Detection {
	switch override {
	case OverrideContinue:
		return Detection{Mode: ModeFollowUp, Confidence: 1.0}
	case OverrideNewTopic:
		return Detection{Mode: ModeNewTopic, Confidence: 1.0}
	}

	// Rule 1: no prior assistant message.
	if strings.TrimSpace(lastAssistantMessage) == "" {
		return Detection{Mode: ModeNewTopic, Confidence: 1.0}
	}

	lower := strings.ToLower(message)

	// Rule 2: explicit new-topic phrases.
	if containsAny(lower, newTopicPhrases) {
		return Detection{Mode: ModeNewTopic, Confidence: 0.9}
	}

	// Rule 3: follow-up phrases minus new-topic phrases > 1, and its
	// inverse. Rule 2 has already returned on any new-topic phrase, so the
	// new-topic count here is 0 and only the follow-up side can fire.
	diff := countMatches(lower, followUpPhrases) - countMatches(lower, newTopicPhrases)
	if diff > 1 {
		return Detection{Mode: ModeFollowUp, Confidence: 0.9}
	}
	if diff < -1 {
		return Detection{Mode: ModeNewTopic, Confidence: 0.9}
	}

	// Rule 4: starts with a referential pronoun.
	if startsWithAny(lower, referentialPronouns) {
		return Detection{Mode: ModeFollowUp, Confidence: 0.7}
	}

	// Rule 5: any mid-sentence referential demonstrative.
	if containsAny(lower, midSentenceDemonstratives) {
		return Detection{Mode: ModeFollowUp, Confidence: 0.65}
	}

	// Rule 6: question addressing the assistant.
	if strings.Contains(message, "?") && (strings.Contains(lower, "you ") || strings.Contains(lower, "your ") || strings.Contains(lower, "to you")) {
		return Detection{Mode: ModeFollowUp, Confidence: 0.75}
	}

	// Rule 7: scene-number overlap with last assistant message.
	if sceneNumbersOverlap(message, lastAssistantMessage) {
		return Detection{Mode: ModeFollowUp, Confidence: 0.8}
	}

	// Rule 8: >=2 overlapping capitalized tokens excluding the stoplist.
	if overlappingCapitalizedTokens(message, lastAssistantMessage) >= 2 {
		return Detection{Mode: ModeFollowUp, Confidence: 0.6}
	}

	// Rule 9: fewer than 8 words.
	if len(strings.Fields(message)) < 8 {
		return Detection{Mode: ModeFollowUp, Confidence: 0.7}
	}

	// Rule 10: default, biased toward continuity.
	return Detection{Mode: ModeFollowUp, Confidence: 0.5}
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

func countMatches(haystack string, needles []string) int {
	count := 0
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			count++
		}
	}
	return count
}

func startsWithAny(lower string, prefixes []string) bool {
	fields := strings.Fields(lower)
	if len(fields) == 0 {
		return false
	}
	first := strings.Trim(fields[0], ".,!?;:")
	for _, p := range prefixes {
		if first == p {
			return true
		}
	}
	return false
}

func sceneNumbersOverlap(a, b string) bool {
	numsA := extractSceneNumbers(a)
	if len(numsA) == 0 {
		return false
	}
	numsB := extractSceneNumbers(b)
	for n := range numsA {
		if numsB[n] {
			return true
		}
	}
	return false
}

func extractSceneNumbers(text string) map[int]bool {
	out := map[int]bool{}
	fields := strings.FieldsFunc(text, func(r rune) bool { return !unicode.IsDigit(r) })
	for _, f := range fields {
		n := 0
		for _, r := range f {
			n = n*10 + int(r-'0')
		}
		if n > 0 {
			out[n] = true
		}
	}
	return out
}

func overlappingCapitalizedTokens(a, b string) int {
	setA := capitalizedTokens(a)
	setB := capitalizedTokens(b)
	count := 0
	for tok := range setA {
		if setB[tok] {
			count++
		}
	}
	return count
}

func capitalizedTokens(text string) map[string]bool {
	out := map[string]bool{}
	for _, tok := range strings.Fields(text) {
		trimmed := strings.Trim(tok, ".,!?;:\"'")
		if trimmed == "" {
			continue
		}
		r := []rune(trimmed)
		if !unicode.IsUpper(r[0]) {
			continue
		}
		if excludedCapitalizedTokens[trimmed] {
			continue
		}
		out[trimmed] = true
	}
	return out
}
