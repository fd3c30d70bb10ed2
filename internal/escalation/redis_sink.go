package escalation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/relaydesk/relaydesk/internal/core"
)

// RedisSink publishes escalation events to a Redis channel. Fire and
// forget: delivery and retry belong to whoever subscribes (agent desk,
// pager integration). A short internal timeout keeps Notify off the
// request's critical path even when Redis is down.
type RedisSink struct {
	client  *redis.Client
	channel string
	log     zerolog.Logger
}

func NewRedisSink(redisURL, channel string, log zerolog.Logger) (*RedisSink, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisSink{
		client:  redis.NewClient(opts),
		channel: channel,
		log:     log,
	}, nil
}

var _ core.EscalationSink = (*RedisSink)(nil)

func (s *RedisSink) Notify(ctx context.Context, ev core.EscalationEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode escalation event: %w", err)
	}

	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()

	if err := s.client.Publish(nctx, s.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish escalation: %w", err)
	}
	s.log.Info().Str("conversation", ev.ConversationID).Str("reason", ev.Reason).Msg("escalation published")
	return nil
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}
