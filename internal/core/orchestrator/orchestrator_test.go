package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydesk/relaydesk/internal/core"
	"github.com/relaydesk/relaydesk/internal/core/contextwin"
	"github.com/relaydesk/relaydesk/internal/core/convstate"
	"github.com/relaydesk/relaydesk/internal/core/cost"
	"github.com/relaydesk/relaydesk/internal/core/fallback"
	"github.com/relaydesk/relaydesk/internal/core/nlp"
	"github.com/relaydesk/relaydesk/internal/core/registry"
	"github.com/relaydesk/relaydesk/internal/models"
)

type memStore struct {
	core.Store
	mu       sync.Mutex
	convs    map[string]*models.Conversation
	msgs     map[string][]models.Message
	attempts []models.ModelAttempt
}

func newMemStore() *memStore {
	return &memStore{
		convs: map[string]*models.Conversation{},
		msgs:  map[string][]models.Message{},
	}
}

func (s *memStore) GetConversation(_ context.Context, id string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (s *memStore) UpdateConversation(_ context.Context, c *models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.convs[c.ID] = &cp
	return nil
}

func (s *memStore) AppendMessage(_ context.Context, m *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs[m.ConversationID] = append(s.msgs[m.ConversationID], *m)
	return nil
}

func (s *memStore) ListRecentMessages(_ context.Context, conversationID string, limit int) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.msgs[conversationID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]models.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *memStore) InsertModelAttempts(_ context.Context, attempts []models.ModelAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, attempts...)
	return nil
}

func (s *memStore) seed(conv models.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := conv
	s.convs[conv.ID] = &cp
}

type fakeProvider struct {
	name string
	text string
	raw  *float64
	err  error
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Generate(context.Context, string, core.GenerationRequest) (*core.GenerationResponse, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &core.GenerationResponse{Text: p.text, PromptTokens: 120, CompletionTokens: 60, RawSignal: p.raw}, nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []core.EscalationEvent
}

func (s *recordingSink) Notify(_ context.Context, ev core.EscalationEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func raw(v float64) *float64 { return &v }

type fixture struct {
	store *memStore
	sink  *recordingSink
	locks *convstate.LockTable
	orch  *Orchestrator
}

func newFixture(t *testing.T, provider *fakeProvider) *fixture {
	t.Helper()

	store := newMemStore()
	sink := &recordingSink{}
	locks := convstate.NewLockTable()

	reg := registry.New()
	registry.SeedDefaults(reg)
	circuits := fallback.NewCircuitTable(5, time.Minute, 16*time.Minute, nil)
	chain := fallback.NewManager(
		map[string]core.GenerationProvider{provider.name: provider},
		circuits, reg, cost.NewAccountant(reg), zerolog.Nop(),
	)

	orch := New(
		store,
		contextwin.NewManager(store, 20),
		nlp.NewExtractor(0.15),
		nil,
		chain,
		[]fallback.ChainEntry{{Provider: provider.name, Model: "gemini-1.5-flash"}},
		convstate.NewMachine(nil),
		locks,
		sink,
		Policy{
			EscalationThreshold: 0.7,
			TargetConfidence:    0.8,
			EmotionIntensity:    0.8,
			EmotionStreak:       2,
			ProcessCeiling:      5 * time.Second,
		},
		zerolog.Nop(),
	)
	return &fixture{store: store, sink: sink, locks: locks, orch: orch}
}

func goodProvider() *fakeProvider {
	return &fakeProvider{
		name: "gemini",
		text: "You can reset your password from the link on the login page.",
		raw:  raw(0.95),
	}
}

func TestProcessEmptyMessage(t *testing.T) {
	f := newFixture(t, goodProvider())
	f.store.seed(models.Conversation{ID: "c1", State: convstate.Initial})

	_, err := f.orch.Process(context.Background(), Request{ConversationID: "c1", Content: "   \n\t "})
	assert.ErrorIs(t, err, core.ErrEmptyMessage)
}

func TestProcessUnknownConversation(t *testing.T) {
	f := newFixture(t, goodProvider())

	_, err := f.orch.Process(context.Background(), Request{ConversationID: "missing", Content: "hello"})
	assert.ErrorIs(t, err, core.ErrConversationNotFound)
}

func TestProcessHappyPath(t *testing.T) {
	f := newFixture(t, goodProvider())
	f.store.seed(models.Conversation{ID: "c1", TenantID: "t1", State: convstate.Initial})

	res, err := f.orch.Process(context.Background(), Request{ConversationID: "c1", Content: "I forgot my password"})
	require.NoError(t, err)

	assert.False(t, res.RequiresEscalation)
	assert.Equal(t, models.StateWaitingForUser, res.State)
	assert.GreaterOrEqual(t, res.Confidence, 0.7)
	assert.Contains(t, res.Response, "reset your password")
	assert.Contains(t, res.SuggestedActions, "send_password_reset_link")
	assert.Greater(t, res.CostUSD, 0.0)
	assert.Greater(t, res.TokensUsed, 0)
	assert.Empty(t, f.sink.events)

	// Persisted side effects.
	conv, _ := f.store.GetConversation(context.Background(), "c1")
	assert.Equal(t, models.StateWaitingForUser, conv.State)
	assert.Equal(t, 1, conv.AcceptedAttempts)
	assert.InDelta(t, res.Confidence, conv.AggregateConfidence, 1e-9)
	require.Len(t, conv.EmotionTrajectory, 1)

	msgs := f.store.msgs["c1"]
	require.Len(t, msgs, 2, "user message and agent reply are both persisted")
	assert.Equal(t, models.RoleUser, msgs[0].Role)
	assert.Equal(t, "password_reset", msgs[0].Intents[0].Name)
	assert.Equal(t, models.RoleAgent, msgs[1].Role)

	require.Len(t, f.store.attempts, 1)
	assert.Equal(t, 1, f.store.attempts[0].Ordinal)
	assert.Equal(t, models.OutcomeSuccess, f.store.attempts[0].Outcome)
}

func TestProcessAggregateConfidenceRunningMean(t *testing.T) {
	f := newFixture(t, goodProvider())
	f.store.seed(models.Conversation{ID: "c1", State: convstate.Initial})

	res1, err := f.orch.Process(context.Background(), Request{ConversationID: "c1", Content: "I forgot my password"})
	require.NoError(t, err)
	res2, err := f.orch.Process(context.Background(), Request{ConversationID: "c1", Content: "where is my invoice?"})
	require.NoError(t, err)

	conv, _ := f.store.GetConversation(context.Background(), "c1")
	assert.Equal(t, 2, conv.AcceptedAttempts)
	assert.InDelta(t, (res1.Confidence+res2.Confidence)/2, conv.AggregateConfidence, 1e-9)
}

func TestProcessChainExhaustedEscalates(t *testing.T) {
	f := newFixture(t, &fakeProvider{name: "gemini", err: core.ErrProviderTimeout})
	f.store.seed(models.Conversation{ID: "c1", TenantID: "t1", State: convstate.Initial})

	res, err := f.orch.Process(context.Background(), Request{ConversationID: "c1", Content: "I forgot my password"})
	require.NoError(t, err, "chain exhaustion degrades, it does not error")

	assert.True(t, res.RequiresEscalation)
	assert.Equal(t, EscalateChainExhausted, res.EscalationCategory)
	assert.Equal(t, SafeFallbackText, res.Response)
	assert.False(t, res.Grounded)
	assert.Empty(t, res.Citations)
	assert.Equal(t, models.StateEscalated, res.State)

	require.Len(t, f.sink.events, 1, "sink is notified exactly once")
	assert.Equal(t, "c1", f.sink.events[0].ConversationID)
	assert.Equal(t, "I forgot my password", f.sink.events[0].LastUserMessage)

	msgs := f.store.msgs["c1"]
	require.Len(t, msgs, 2)
	assert.Equal(t, SafeFallbackText, msgs[1].Content, "safe fallback is persisted as the reply")
}

func TestProcessLowConfidenceEscalates(t *testing.T) {
	// No raw signal and an uncited factual claim keeps the score under 0.7.
	f := newFixture(t, &fakeProvider{name: "gemini", text: "The storage limit is 5GB per account."})
	f.store.seed(models.Conversation{ID: "c1", State: convstate.Initial})

	res, err := f.orch.Process(context.Background(), Request{ConversationID: "c1", Content: "what is my storage limit? my order #12345 matters"})
	require.NoError(t, err)

	assert.True(t, res.RequiresEscalation)
	assert.Equal(t, EscalateLowConfidence, res.EscalationCategory)
	assert.Equal(t, models.StateEscalated, res.State)
	assert.NotEqual(t, SafeFallbackText, res.Response, "best low-confidence answer is still returned")
	require.Len(t, f.sink.events, 1)
}

func TestProcessEmotionTriggerEscalates(t *testing.T) {
	f := newFixture(t, goodProvider())
	f.store.seed(models.Conversation{ID: "c1", TenantID: "t1", State: convstate.Initial})

	angry := "This is absolutely unacceptable!! My password reset is still broken!!"

	res, err := f.orch.Process(context.Background(), Request{ConversationID: "c1", Content: angry})
	require.NoError(t, err)
	assert.False(t, res.RequiresEscalation, "one negative sample is below the streak")

	res, err = f.orch.Process(context.Background(), Request{ConversationID: "c1", Content: angry})
	require.NoError(t, err)

	assert.True(t, res.RequiresEscalation)
	assert.Equal(t, EscalateEmotion, res.EscalationCategory)
	assert.Equal(t, models.StateEscalated, res.State)

	require.Len(t, f.sink.events, 1)
	require.Len(t, f.sink.events[0].EmotionTrajectory, 2, "sink event carries the full trajectory")
	for _, s := range f.sink.events[0].EmotionTrajectory {
		assert.GreaterOrEqual(t, s.Intensity, 0.8)
	}
}

func TestProcessConcurrentRejected(t *testing.T) {
	f := newFixture(t, goodProvider())
	f.store.seed(models.Conversation{ID: "c1", State: convstate.Initial})

	release, err := f.locks.Acquire("c1")
	require.NoError(t, err)
	defer release()

	_, err = f.orch.Process(context.Background(), Request{ConversationID: "c1", Content: "hello"})
	assert.ErrorIs(t, err, core.ErrConcurrentProcessing)
}

func TestProcessReopensAbandoned(t *testing.T) {
	f := newFixture(t, goodProvider())
	f.store.seed(models.Conversation{ID: "c1", State: models.StateAbandoned})

	res, err := f.orch.Process(context.Background(), Request{ConversationID: "c1", Content: "I forgot my password"})
	require.NoError(t, err)
	assert.Equal(t, models.StateWaitingForUser, res.State)
}

func TestProcessThresholdOverride(t *testing.T) {
	// Scores ~0.775 with a 0.95 raw signal and no citations; a stricter
	// per-request threshold pushes it under.
	f := newFixture(t, goodProvider())
	f.store.seed(models.Conversation{ID: "c1", State: convstate.Initial})

	res, err := f.orch.Process(context.Background(), Request{
		ConversationID:      "c1",
		Content:             "I forgot my password",
		EscalationThreshold: 0.99,
	})
	require.NoError(t, err)
	assert.True(t, res.RequiresEscalation)
	assert.Equal(t, EscalateLowConfidence, res.EscalationCategory)
}

func TestTransferAndResolve(t *testing.T) {
	f := newFixture(t, goodProvider())
	f.store.seed(models.Conversation{ID: "c1", State: models.StateEscalated})

	conv, err := f.orch.Transfer(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, models.StateTransferred, conv.State)

	conv, err = f.orch.Resolve(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, models.StateResolved, conv.State)
}

func TestResolveInvalidFromInitialized(t *testing.T) {
	f := newFixture(t, goodProvider())
	f.store.seed(models.Conversation{ID: "c1", State: convstate.Initial})

	_, err := f.orch.Resolve(context.Background(), "c1")
	assert.True(t, core.IsInvalidTransition(err))
}

func TestOnProcessedObserver(t *testing.T) {
	f := newFixture(t, goodProvider())
	f.store.seed(models.Conversation{ID: "c1", State: convstate.Initial})

	var calls int
	f.orch.OnProcessed(func(res *Result, took time.Duration) {
		calls++
		assert.Equal(t, models.StateWaitingForUser, res.State)
		assert.GreaterOrEqual(t, took, time.Duration(0))
	})

	_, err := f.orch.Process(context.Background(), Request{ConversationID: "c1", Content: "I forgot my password"})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}
