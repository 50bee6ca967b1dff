package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"warehouse-miniapp/internal/infra/metrics"

	"github.com/rs/zerolog"
)

// ScopeAll invalidates every cached query.
const ScopeAll = "*"

// Invalidation tells every session that backend data changed.
type Invalidation struct {
	Scope     string `json:"scope"`
	ProductID string `json:"product_id,omitempty"`
}

// CacheScope maps ScopeAll to the empty scope filter.
func (m Invalidation) CacheScope() string {
	if m.Scope == ScopeAll {
		return ""
	}
	return m.Scope
}

func ParseInvalidation(payload string) (Invalidation, error) {
	var m Invalidation
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		return m, fmt.Errorf("decode invalidation: %w", err)
	}
	m.Scope = strings.TrimSpace(m.Scope)
	m.ProductID = strings.TrimSpace(m.ProductID)
	if m.Scope == "" {
		return m, errors.New("invalidation scope is empty")
	}
	return m, nil
}

// PublishInvalidation sends m on channel.
func PublishInvalidation(ctx context.Context, c RedisClient, channel string, m Invalidation) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return c.Publish(ctx, channel, string(b))
}

// InvalidationHandler applies one message.
type InvalidationHandler func(ctx context.Context, m Invalidation)

// Subscriber listens for invalidations on a pub/sub channel.
type Subscriber struct {
	client  *Client
	channel string
	log     *zerolog.Logger
}

func NewSubscriber(client *Client, channel string, logger *zerolog.Logger) *Subscriber {
	l := logger.With().Str("component", "InvalidationSubscriber").Str("channel", channel).Logger()
	return &Subscriber{client: client, channel: channel, log: &l}
}

// Run delivers messages to handle until ctx is cancelled.
func (s *Subscriber) Run(ctx context.Context, handle InvalidationHandler) error {
	ps := s.client.subscribe(ctx, s.channel)
	defer ps.Close()
	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", s.channel, err)
	}
	s.log.Info().Msg("invalidation subscriber started")

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("invalidation subscriber stopped")
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return errors.New("invalidation channel closed")
			}
			s.dispatch(ctx, msg.Payload, handle)
		}
	}
}

func (s *Subscriber) dispatch(ctx context.Context, payload string, handle InvalidationHandler) {
	m, err := ParseInvalidation(payload)
	if err != nil {
		s.log.Warn().Err(err).Msg("invalid invalidation message")
		return
	}
	metrics.IncInvalidation(m.Scope)
	s.log.Debug().Str("scope", m.Scope).Str("product_id", m.ProductID).Msg("invalidation received")
	handle(ctx, m)
}
