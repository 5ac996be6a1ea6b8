package contextbuilder

import (
	"strings"

	"scriptforge/internal/retrieval"
)

// Budget is a named token-budget tier (§4.8).
type Budget string

const (
	BudgetQuick    Budget = "quick"
	BudgetStandard Budget = "standard"
	BudgetDeep     Budget = "deep"
)

const (
	TokensQuick    = 1200
	TokensStandard = 5000
	TokensDeep     = 20000
)

// allocation is the standard-tier section budget of §4.8. quick and deep
// scale every section proportionally to the standard allocation.
type allocation struct {
	System       int
	Global       int
	Retrieval    int
	Conversation int
	Evidence     int
	Headroom     int
}

var standardAllocation = allocation{
	System:       600,
	Global:       900,
	Retrieval:    2500,
	Conversation: 400,
	Evidence:     1500,
	Headroom:     100,
}

// ConversationTurn is one prior user/assistant exchange, available to
// PromptAssembler for the FOLLOW_UP conversation-window section.
type ConversationTurn struct {
	User      string
	Assistant string
}

// Section is one named, token-bounded piece of the assembled prompt.
type Section struct {
	Name    string
	Text    string
	Tokens  int
	Trimmed bool
}

// Prompt is the fully assembled, budget-trimmed prompt PromptAssembler
// produces.
type Prompt struct {
	Budget   Budget
	Sections []Section
	Total    int
}

// PromptAssembler composes the system/global/retrieval/conversation/
// evidence sections within a budget tier, trimming overruns in the order
// retrieval, conversation, global (§4.8).
type PromptAssembler struct{}

func NewPromptAssembler() *PromptAssembler { return &PromptAssembler{} }

func budgetTokens(b Budget) int {
	switch b {
	case BudgetQuick:
		return TokensQuick
	case BudgetDeep:
		return TokensDeep
	default:
		return TokensStandard
	}
}

// scaledAllocation scales the standard §4.8 section split proportionally
// to a non-standard budget tier's total.
func scaledAllocation(budget Budget) allocation {
	total := budgetTokens(budget)
	if budget == BudgetStandard {
		return standardAllocation
	}
	scale := func(v int) int { return v * total / TokensStandard }
	return allocation{
		System:       scale(standardAllocation.System),
		Global:       scale(standardAllocation.Global),
		Retrieval:    scale(standardAllocation.Retrieval),
		Conversation: scale(standardAllocation.Conversation),
		Evidence:     scale(standardAllocation.Evidence),
		Headroom:     scale(standardAllocation.Headroom),
	}
}

// Assemble builds the prompt. systemPrompt and globalContext are rendered
// as-is (trimmed if over budget); retrievalText is typically the rendered
// form of a retrieval.Result; evidence is optional (nil for intents that
// skip the tool loop).
func (a *PromptAssembler) Assemble(budget Budget, mode TopicMode, systemPrompt, globalContext, retrievalText string, history []ConversationTurn, evidence *Evidence) Prompt {
	alloc := scaledAllocation(budget)

	convBudget := alloc.Conversation
	if mode == ModeNewTopic {
		convBudget = 0
	}
	conversationText := renderConversation(history, convBudget)

	evidenceText := ""
	if evidence != nil {
		evidenceText = evidence.Render()
	}

	sections := []Section{
		{Name: "system", Text: systemPrompt, Tokens: alloc.System},
		{Name: "global", Text: globalContext, Tokens: alloc.Global},
		{Name: "retrieval", Text: retrievalText, Tokens: alloc.Retrieval},
		{Name: "conversation", Text: conversationText, Tokens: convBudget},
		{Name: "evidence", Text: evidenceText, Tokens: alloc.Evidence},
	}

	for i := range sections {
		sections[i].Text, sections[i].Trimmed = trimToTokens(sections[i].Text, sections[i].Tokens)
	}

	total := budgetTokens(budget)
	trimOrder := []string{"retrieval", "conversation", "global"}
	used := totalTokens(sections) + alloc.Headroom
	for _, name := range trimOrder {
		if used <= total {
			break
		}
		for i := range sections {
			if sections[i].Name != name {
				continue
			}
			overBy := used - total
			newBudget := sections[i].Tokens - overBy
			if newBudget < 0 {
				newBudget = 0
			}
			trimmedText, _ := trimToTokens(sections[i].Text, newBudget)
			if trimmedText != sections[i].Text {
				sections[i].Trimmed = true
			}
			sections[i].Text = trimmedText
			sections[i].Tokens = newBudget
			used = totalTokens(sections) + alloc.Headroom
		}
	}

	return Prompt{Budget: budget, Sections: sections, Total: totalTokens(sections)}
}

// Render concatenates non-empty sections in order.
func (p Prompt) Render() string {
	var sb strings.Builder
	for _, s := range p.Sections {
		if strings.TrimSpace(s.Text) == "" {
			continue
		}
		sb.WriteString(s.Text)
		sb.WriteString("\n\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func totalTokens(sections []Section) int {
	sum := 0
	for _, s := range sections {
		sum += estimateTokenCount(s.Text)
	}
	return sum
}

// estimateTokenCount follows the rest of the codebase's chars/4 heuristic
// (see refresh.estimateTokens) rather than invoking a real tokenizer.
func estimateTokenCount(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

func trimToTokens(text string, maxTokens int) (string, bool) {
	if maxTokens <= 0 {
		if text == "" {
			return "", false
		}
		return "", true
	}
	if estimateTokenCount(text) <= maxTokens {
		return text, false
	}
	maxChars := maxTokens * 4
	if maxChars >= len(text) {
		return text, false
	}
	return text[:maxChars], true
}

// renderConversation renders up to the last 2 user/assistant pairs,
// trimmed to budget tokens.
func renderConversation(history []ConversationTurn, budgetTokens int) string {
	if budgetTokens <= 0 || len(history) == 0 {
		return ""
	}
	start := len(history) - 2
	if start < 0 {
		start = 0
	}
	var sb strings.Builder
	for _, turn := range history[start:] {
		sb.WriteString("User: ")
		sb.WriteString(turn.User)
		sb.WriteString("\nAssistant: ")
		sb.WriteString(turn.Assistant)
		sb.WriteString("\n")
	}
	text, _ := trimToTokens(strings.TrimRight(sb.String(), "\n"), budgetTokens)
	return text
}

// IntentAllowsToolLoop reports whether intent permits the §4.8 tool loop.
// local_edit and scene_feedback are hint-driven and resolve from retrieval
// output alone; global_question and brainstorm benefit from tool-driven
// exploration across the whole script.
func IntentAllowsToolLoop(intent retrieval.Intent) bool {
	switch intent {
	case retrieval.IntentGlobalQuestion, retrieval.IntentBrainstorm:
		return true
	default:
		return false
	}
}
