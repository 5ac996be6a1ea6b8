package contextbuilder

import (
	"context"
	"strings"

	"scriptforge/internal/llm"
	"scriptforge/internal/retrieval"
)

// intentKeywords is the closed keyword set per intent class (§4.8). A
// message's score for a class is the count of matching phrases found in
// its lowercased text.
var intentKeywords = map[retrieval.Intent][]string{
	retrieval.IntentLocalEdit: {
		"rewrite this line", "change this line", "fix this dialogue", "edit this scene",
		"make this line", "reword", "tighten this", "this sentence", "this line",
	},
	retrieval.IntentSceneFeedback: {
		"how does this scene", "does this scene work", "feedback on this scene",
		"is this scene good", "critique this scene", "review scene", "pacing of this scene",
	},
	retrieval.IntentGlobalQuestion: {
		"overall", "throughout the script", "across the story", "entire screenplay",
		"whole script", "story so far", "what is the theme", "plot summary",
	},
	retrieval.IntentBrainstorm: {
		"brainstorm", "give me ideas", "what if", "alternative ending", "pitch me",
		"come up with", "suggest some", "ideas for",
	},
}

// IntentClassifier classifies a chat message into one of four intents.
type IntentClassifier struct {
	llm   llm.Provider
	model string
}

func NewIntentClassifier(provider llm.Provider, model string) *IntentClassifier {
	return &IntentClassifier{llm: provider, model: model}
}

// Classify returns hint if it is non-empty (an explicit user hint bypasses
// classification entirely), else scores each class's keyword set against
// the lowercased message. A unique maximum wins; ties or an all-zero
// result fall through to a small LLM call asking for a single-word label.
func (c *IntentClassifier) Classify(ctx context.Context, message string, hint retrieval.Intent) (retrieval.Intent, error) {
	if hint != "" {
		return hint, nil
	}

	lower := strings.ToLower(message)
	scores := map[retrieval.Intent]int{}
	for intent, phrases := range intentKeywords {
		for _, p := range phrases {
			if strings.Contains(lower, p) {
				scores[intent]++
			}
		}
	}

	best, bestScore, tie := retrieval.Intent(""), 0, false
	for intent, score := range scores {
		if score > bestScore {
			best, bestScore, tie = intent, score, false
		} else if score == bestScore && score > 0 {
			tie = true
		}
	}
	if bestScore > 0 && !tie {
		return best, nil
	}

	return c.classifyViaLLM(ctx, message)
}

func (c *IntentClassifier) classifyViaLLM(ctx context.Context, message string) (retrieval.Intent, error) {
	if c.llm == nil {
		return retrieval.IntentGlobalQuestion, nil
	}
	msgs := []llm.Message{
		{Role: "system", Content: "Classify the user's message into exactly one of: local_edit, scene_feedback, global_question, brainstorm. Respond with only the label."},
		{Role: "user", Content: message},
	}
	resp, err := c.llm.Chat(ctx, msgs, nil, c.model)
	if err != nil {
		return retrieval.IntentGlobalQuestion, err
	}
	label := strings.ToLower(strings.TrimSpace(resp.Content))
	switch retrieval.Intent(label) {
	case retrieval.IntentLocalEdit, retrieval.IntentSceneFeedback, retrieval.IntentGlobalQuestion, retrieval.IntentBrainstorm:
		return retrieval.Intent(label), nil
	default:
		return retrieval.IntentGlobalQuestion, nil
	}
}
