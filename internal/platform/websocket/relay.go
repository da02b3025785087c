package websocket

import (
	"context"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"github.com/ehr/carealert/internal/platform/channel"
)

// Relay forwards alerts published by the push channel to the hub, so any
// replica holding a professional's connection delivers it.
type Relay struct {
	client *redis.Client
	hub    *Hub
	logger zerolog.Logger
}

func NewRelay(client *redis.Client, hub *Hub, logger zerolog.Logger) *Relay {
	return &Relay{
		client: client,
		hub:    hub,
		logger: logger.With().Str("component", "stream_relay").Logger(),
	}
}

// Run blocks until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.client.PSubscribe(ctx, channel.TopicPattern)
	defer sub.Close()

	// Wait for the subscription to be confirmed before reading.
	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	r.logger.Info().Str("pattern", channel.TopicPattern).Msg("alert stream relay subscribed")

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-msgs:
			if !ok {
				return nil
			}
			id, ok := channel.ParseTopic(m.Channel)
			if !ok {
				r.logger.Warn().Str("topic", m.Channel).Msg("ignoring message on unexpected topic")
				continue
			}
			r.hub.Broadcast(id, []byte(m.Payload))
		}
	}
}
