package contextwin

import (
	"context"
	"fmt"
	"strings"

	"github.com/relaydesk/relaydesk/internal/core"
	"github.com/relaydesk/relaydesk/internal/models"
)

// Window is the bounded conversation context handed to the orchestrator:
// the last N messages verbatim, older history collapsed into a summary,
// plus entities and the emotion trajectory accumulated so far.
type Window struct {
	Conversation *models.Conversation
	Recent       []models.Message
	Summary      string
	Entities     map[string]string
}

// Manager loads and maintains per-conversation context windows.
type Manager struct {
	store core.Store
	n     int
}

// NewManager builds a manager keeping the last n messages verbatim.
func NewManager(store core.Store, n int) *Manager {
	if n <= 0 {
		n = 20
	}
	return &Manager{store: store, n: n}
}

// Load fetches the conversation and its bounded window. Messages beyond
// the window are summarized extractively rather than dropped.
func (m *Manager) Load(ctx context.Context, conversationID string) (*Window, error) {
	conv, err := m.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, core.ErrConversationNotFound
	}

	// Fetch one extra page so we know whether anything needs summarizing.
	msgs, err := m.store.ListRecentMessages(ctx, conversationID, m.n*2)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}

	recent := msgs
	var older []models.Message
	if len(msgs) > m.n {
		older = msgs[:len(msgs)-m.n]
		recent = msgs[len(msgs)-m.n:]
	}

	return &Window{
		Conversation: conv,
		Recent:       recent,
		Summary:      Summarize(older),
		Entities:     mergeEntities(msgs),
	}, nil
}

// Summarize collapses older messages into a compact extractive digest:
// the first sentence of each user message, capped per message. Cheap on
// purpose; an LLM summarizer can replace it behind the same signature.
func Summarize(older []models.Message) string {
	if len(older) == 0 {
		return ""
	}
	var b strings.Builder
	for _, msg := range older {
		if msg.Role != models.RoleUser {
			continue
		}
		s := firstSentence(msg.Content, 140)
		if s == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		b.WriteString(s)
	}
	return b.String()
}

func firstSentence(s string, maxRunes int) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, ".!?\n"); i > 0 {
		s = s[:i+1]
	}
	r := []rune(s)
	if len(r) > maxRunes {
		s = string(r[:maxRunes])
	}
	return s
}

// mergeEntities keeps the latest value seen per entity type.
func mergeEntities(msgs []models.Message) map[string]string {
	out := map[string]string{}
	for _, msg := range msgs {
		for k, v := range msg.Entities {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// PromptHistory renders the window as transcript lines for the prompt.
func (w *Window) PromptHistory() string {
	var b strings.Builder
	if w.Summary != "" {
		b.WriteString("Earlier in this conversation: ")
		b.WriteString(w.Summary)
		b.WriteString("\n")
	}
	for _, msg := range w.Recent {
		b.WriteString(string(msg.Role))
		b.WriteString(": ")
		b.WriteString(msg.Content)
		b.WriteString("\n")
	}
	return b.String()
}
