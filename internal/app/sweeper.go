package app

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/relaydesk/relaydesk/internal/config"
	"github.com/relaydesk/relaydesk/internal/core"
	"github.com/relaydesk/relaydesk/internal/core/convstate"
	"github.com/relaydesk/relaydesk/internal/models"
)

// Sweeper runs the time-driven transitions: conversations waiting on a
// silent user go abandoned, closed conversations past retention go to the
// archive. Everything flows through the same transition table the
// orchestrator uses.
type Sweeper struct {
	store    core.Store
	machine  *convstate.Machine
	interval time.Duration
	idle     time.Duration
	retain   time.Duration
	log      zerolog.Logger
}

func NewSweeper(store core.Store, machine *convstate.Machine, cfg *config.Config, log zerolog.Logger) *Sweeper {
	return &Sweeper{
		store:    store,
		machine:  machine,
		interval: cfg.SweepInterval,
		idle:     cfg.InactivityTimeout,
		retain:   cfg.RetentionWindow,
		log:      log,
	}
}

func (s *Sweeper) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweep(ctx)
			}
		}
	}()
}

func (s *Sweeper) sweep(ctx context.Context) {
	now := time.Now()
	s.apply(ctx, models.StateWaitingForUser, now.Add(-s.idle), models.StateAbandoned)
	s.apply(ctx, models.StateResolved, now.Add(-s.retain), models.StateArchived)
	s.apply(ctx, models.StateAbandoned, now.Add(-s.retain), models.StateArchived)
	s.apply(ctx, models.StateTransferred, now.Add(-s.retain), models.StateArchived)
}

func (s *Sweeper) apply(ctx context.Context, from models.ConversationState, idleSince time.Time, to models.ConversationState) {
	convs, err := s.store.ListConversationsInState(ctx, from, idleSince)
	if err != nil {
		s.log.Error().Err(err).Str("state", string(from)).Msg("sweep listing failed")
		return
	}
	for i := range convs {
		conv := &convs[i]
		if err := s.machine.Transition(conv, to); err != nil {
			s.log.Warn().Err(err).Str("conversation", conv.ID).Msg("sweep transition rejected")
			continue
		}
		if err := s.store.UpdateConversation(ctx, conv); err != nil {
			s.log.Error().Err(err).Str("conversation", conv.ID).Msg("sweep persist failed")
			continue
		}
		s.log.Info().
			Str("conversation", conv.ID).
			Str("from", string(from)).
			Str("to", string(to)).
			Msg("swept conversation")
	}
}
