package convstate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydesk/relaydesk/internal/core"
	"github.com/relaydesk/relaydesk/internal/models"
)

func TestTransitionHappyPath(t *testing.T) {
	m := NewMachine(nil)
	conv := &models.Conversation{ID: "c1", State: Initial}

	for _, to := range []models.ConversationState{
		models.StateActive,
		models.StateProcessing,
		models.StateWaitingForUser,
		models.StateProcessing,
		models.StateEscalated,
		models.StateTransferred,
		models.StateResolved,
		models.StateArchived,
	} {
		require.NoError(t, m.Transition(conv, to), "transition to %s", to)
		assert.Equal(t, to, conv.State)
	}
}

func TestTransitionRejected(t *testing.T) {
	m := NewMachine(nil)

	cases := []struct {
		from, to models.ConversationState
	}{
		{models.StateInitialized, models.StateResolved},
		{models.StateInitialized, models.StateProcessing},
		{models.StateResolved, models.StateActive},
		{models.StateArchived, models.StateActive},
		{models.StateEscalated, models.StateResolved},
		{models.StateActive, models.StateActive},
		{models.StateProcessing, models.StateProcessing},
	}
	for _, tc := range cases {
		conv := &models.Conversation{State: tc.from}
		err := m.Transition(conv, tc.to)
		require.Error(t, err, "%s -> %s must be rejected", tc.from, tc.to)
		assert.True(t, core.IsInvalidTransition(err))
		assert.Equal(t, tc.from, conv.State, "rejected transition must not mutate state")

		var ite *core.InvalidTransitionError
		require.ErrorAs(t, err, &ite)
		assert.Equal(t, tc.from, ite.From)
		assert.Equal(t, tc.to, ite.To)
	}
}

func TestAbandonedReopens(t *testing.T) {
	m := NewMachine(nil)
	conv := &models.Conversation{State: models.StateAbandoned}

	require.NoError(t, m.Transition(conv, models.StateActive))
	assert.Equal(t, models.StateActive, conv.State)
}

func TestIsTerminal(t *testing.T) {
	m := NewMachine(nil)

	assert.True(t, m.IsTerminal(models.StateArchived))
	assert.False(t, m.IsTerminal(models.StateAbandoned))
	assert.False(t, m.IsTerminal(models.StateResolved))
	assert.False(t, m.IsTerminal(models.StateEscalated))
}

func TestOnTransitionObserver(t *testing.T) {
	var seen [][2]models.ConversationState
	m := NewMachine(func(from, to models.ConversationState) {
		seen = append(seen, [2]models.ConversationState{from, to})
	})
	conv := &models.Conversation{State: Initial}

	require.NoError(t, m.Transition(conv, models.StateActive))
	require.Error(t, m.Transition(conv, models.StateArchived))

	require.Len(t, seen, 1, "observer fires only on applied transitions")
	assert.Equal(t, [2]models.ConversationState{Initial, models.StateActive}, seen[0])
}
