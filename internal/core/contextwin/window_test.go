package contextwin

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydesk/relaydesk/internal/core"
	"github.com/relaydesk/relaydesk/internal/models"
)

type fakeStore struct {
	core.Store
	conv *models.Conversation
	msgs []models.Message
}

func (f *fakeStore) GetConversation(context.Context, string) (*models.Conversation, error) {
	return f.conv, nil
}

func (f *fakeStore) ListRecentMessages(_ context.Context, _ string, limit int) ([]models.Message, error) {
	if len(f.msgs) > limit {
		return f.msgs[len(f.msgs)-limit:], nil
	}
	return f.msgs, nil
}

func userMsg(i int, content string) models.Message {
	return models.Message{
		ID:      fmt.Sprintf("m%d", i),
		Role:    models.RoleUser,
		Content: content,
	}
}

func TestLoadUnknownConversation(t *testing.T) {
	m := NewManager(&fakeStore{}, 4)

	_, err := m.Load(context.Background(), "missing")
	assert.ErrorIs(t, err, core.ErrConversationNotFound)
}

func TestLoadShortHistoryNoSummary(t *testing.T) {
	store := &fakeStore{
		conv: &models.Conversation{ID: "c1", State: models.StateActive},
		msgs: []models.Message{userMsg(1, "hi"), userMsg(2, "my order is late")},
	}
	m := NewManager(store, 4)

	w, err := m.Load(context.Background(), "c1")
	require.NoError(t, err)
	assert.Len(t, w.Recent, 2)
	assert.Empty(t, w.Summary)
}

func TestLoadLongHistorySummarizesOlder(t *testing.T) {
	store := &fakeStore{conv: &models.Conversation{ID: "c1", State: models.StateActive}}
	for i := 0; i < 10; i++ {
		store.msgs = append(store.msgs, userMsg(i, fmt.Sprintf("Question number %d. With a second sentence.", i)))
	}
	m := NewManager(store, 4)

	w, err := m.Load(context.Background(), "c1")
	require.NoError(t, err)

	assert.Len(t, w.Recent, 4)
	assert.Equal(t, "m6", w.Recent[0].ID, "window keeps the most recent messages")
	assert.Contains(t, w.Summary, "Question number 2.")
	assert.NotContains(t, w.Summary, "With a second sentence", "summary keeps first sentences only")
	assert.NotContains(t, w.Summary, "Question number 9.", "recent messages are not summarized")
}

func TestSummarizeSkipsNonUserMessages(t *testing.T) {
	older := []models.Message{
		{Role: models.RoleAgent, Content: "Sure, let me check."},
		{Role: models.RoleUser, Content: "Where is my refund?"},
	}
	s := Summarize(older)
	assert.Equal(t, "Where is my refund?", s)
}

func TestSummarizeCapsLongSentences(t *testing.T) {
	long := make([]rune, 500)
	for i := range long {
		long[i] = 'x'
	}
	s := Summarize([]models.Message{{Role: models.RoleUser, Content: string(long)}})
	assert.LessOrEqual(t, len([]rune(s)), 140)
}

func TestMergeEntitiesLatestWins(t *testing.T) {
	msgs := []models.Message{
		{Role: models.RoleUser, Entities: map[string]string{"order_id": "#1111", "email": "a@b.com"}},
		{Role: models.RoleUser, Entities: map[string]string{"order_id": "#2222"}},
	}
	got := mergeEntities(msgs)
	assert.Equal(t, "#2222", got["order_id"])
	assert.Equal(t, "a@b.com", got["email"])
}

func TestPromptHistory(t *testing.T) {
	w := &Window{
		Summary: "User asked about refunds.",
		Recent: []models.Message{
			{Role: models.RoleUser, Content: "Where is my refund?"},
			{Role: models.RoleAgent, Content: "It was issued yesterday."},
		},
	}
	got := w.PromptHistory()
	assert.Contains(t, got, "Earlier in this conversation: User asked about refunds.")
	assert.Contains(t, got, "user: Where is my refund?")
	assert.Contains(t, got, "agent: It was issued yesterday.")
}
