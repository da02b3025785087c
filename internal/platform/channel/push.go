package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// PushChannel publishes alerts on a per-professional Redis channel for
// connected clients. Delivery is best effort: a publish nobody is
// subscribed to still counts as sent.
type PushChannel struct {
	client *redis.Client
}

func NewPushChannel(client *redis.Client) *PushChannel {
	return &PushChannel{client: client}
}

// NewRedisClient parses a redis:// URL into a client.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

const topicPrefix = "alerts:"

// TopicPattern matches every professional's topic.
const TopicPattern = topicPrefix + "*"

// Topic is the Redis channel a professional's clients subscribe to.
func Topic(professionalID uuid.UUID) string {
	return topicPrefix + professionalID.String()
}

// ParseTopic recovers the professional ID from a topic name.
func ParseTopic(topic string) (uuid.UUID, bool) {
	if !strings.HasPrefix(topic, topicPrefix) {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(strings.TrimPrefix(topic, topicPrefix))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func (c *PushChannel) Name() string { return Push }

func (c *PushChannel) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if err := c.client.Publish(ctx, Topic(msg.RecipientID), body).Err(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}
