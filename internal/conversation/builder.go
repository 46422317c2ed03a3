package conversation

import (
	"github.com/scottbott/scottbott/internal/provider"
)

// BuiltContext is the rendered, provider-ready message sequence plus
// diagnostic counts.
type BuiltContext struct {
	Messages             []provider.Message
	IncludedHistoryCount int
	TotalHistoryCount    int
	HasHistory           bool
}

// Builder renders a conversation transcript into a bounded, role-alternating
// message sequence for a provider call.
type Builder struct {
	store        *Store
	budget       int
	systemPrompt string
}

// NewBuilder creates a context builder. budget is a character budget for
// selected history, clamped to [500, 20000].
func NewBuilder(store *Store, budget int, systemPrompt string) *Builder {
	if budget < 500 {
		budget = 500
	}
	if budget > 20000 {
		budget = 20000
	}
	return &Builder{store: store, budget: budget, systemPrompt: systemPrompt}
}

// AddTurn records one turn in the underlying transcript.
func (b *Builder) AddTurn(userID, channelID, text string, isAssistant bool) {
	b.store.AddTurn(userID, channelID, text, isAssistant)
}

// Clear drops the transcript for the conversation.
func (b *Builder) Clear(userID, channelID string) {
	b.store.Clear(userID, channelID)
}

// BuildContext assembles the message sequence for one provider call:
// a leading system turn, budget-bounded history in chronological order with
// strictly alternating roles, and the new user message last. identity, when
// non-empty, overrides the configured system prompt.
func (b *Builder) BuildContext(userID, channelID, newText, identity string) BuiltContext {
	turns := b.store.Turns(userID, channelID)
	selected := selectWithinBudget(turns, b.budget)

	system := b.systemPrompt
	if identity != "" {
		system = identity
	}

	messages := make([]provider.Message, 0, len(selected)+2)
	messages = append(messages, provider.Message{Role: RoleSystem, Content: system})
	for _, t := range alternating(selected) {
		messages = append(messages, provider.Message{Role: t.Role, Content: t.Text})
	}
	messages = append(messages, provider.Message{Role: RoleUser, Content: newText})

	return BuiltContext{
		Messages:             messages,
		IncludedHistoryCount: len(selected),
		TotalHistoryCount:    len(turns),
		HasHistory:           len(selected) > 0,
	}
}

// selectWithinBudget picks turns newest-first until the character budget
// would be exceeded, always keeping at least one turn when any exist, then
// returns them in chronological order.
func selectWithinBudget(turns []Turn, budget int) []Turn {
	if len(turns) == 0 {
		return nil
	}
	total := 0
	start := len(turns)
	for i := len(turns) - 1; i >= 0; i-- {
		size := len([]rune(turns[i].Text))
		if total+size > budget && start < len(turns) {
			break
		}
		total += size
		start = i
	}
	return append([]Turn(nil), turns[start:]...)
}

// alternating enforces strict user/assistant alternation starting from a
// user turn and ending on an assistant turn, so the appended user message
// alternates too. On a back-to-back role collision the later turn is
// dropped, preserving causal order at the cost of completeness.
func alternating(selected []Turn) []Turn {
	out := make([]Turn, 0, len(selected))
	for _, t := range selected {
		if len(out) == 0 {
			if t.Role != RoleUser {
				continue
			}
			out = append(out, t)
			continue
		}
		if out[len(out)-1].Role == t.Role {
			continue
		}
		out = append(out, t)
	}
	if len(out) > 0 && out[len(out)-1].Role == RoleUser {
		out = out[:len(out)-1]
	}
	return out
}
