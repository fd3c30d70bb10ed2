package convstate

import (
	"github.com/relaydesk/relaydesk/internal/core"
	"github.com/relaydesk/relaydesk/internal/models"
)

// transitions is the complete legal-transition table. Anything absent is
// rejected with InvalidTransitionError, never coerced.
//
// processing doubles as the per-conversation mutex state: the orchestrator
// must hold the conversation lock before entering it.
var transitions = map[models.ConversationState][]models.ConversationState{
	models.StateInitialized: {
		models.StateActive,
	},
	models.StateActive: {
		models.StateProcessing,
		models.StateWaitingForUser,
		models.StateWaitingForAgent,
		models.StateEscalated,
		models.StateResolved,
	},
	models.StateProcessing: {
		models.StateActive,
		models.StateWaitingForUser,
		models.StateWaitingForAgent,
		models.StateEscalated,
	},
	models.StateWaitingForUser: {
		models.StateActive,
		models.StateProcessing,
		models.StateAbandoned,
	},
	models.StateWaitingForAgent: {
		models.StateActive,
		models.StateProcessing,
		models.StateEscalated,
	},
	models.StateEscalated: {
		models.StateTransferred,
	},
	models.StateTransferred: {
		models.StateResolved,
		models.StateArchived,
	},
	models.StateResolved: {
		models.StateArchived,
	},
	// abandoned is terminal unless a new user message reopens it.
	models.StateAbandoned: {
		models.StateActive,
		models.StateArchived,
	},
	models.StateArchived: {},
}

// Initial is the state of every new conversation.
const Initial = models.StateInitialized

// Machine validates and applies conversation state transitions.
// onTransition, when set, observes every applied transition (telemetry).
type Machine struct {
	onTransition func(from, to models.ConversationState)
}

func NewMachine(onTransition func(from, to models.ConversationState)) *Machine {
	return &Machine{onTransition: onTransition}
}

// CanTransition reports whether from -> to is in the table.
func (m *Machine) CanTransition(from, to models.ConversationState) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition applies from -> to on the conversation or fails with
// InvalidTransitionError. A no-op self transition is also rejected.
func (m *Machine) Transition(c *models.Conversation, to models.ConversationState) error {
	if !m.CanTransition(c.State, to) {
		return &core.InvalidTransitionError{From: c.State, To: to}
	}
	from := c.State
	c.State = to
	if m.onTransition != nil {
		m.onTransition(from, to)
	}
	return nil
}

// IsTerminal reports whether no transition leaves the state. Only archived
// qualifies; abandoned keeps its reopen edge.
func (m *Machine) IsTerminal(s models.ConversationState) bool {
	return len(transitions[s]) == 0
}
