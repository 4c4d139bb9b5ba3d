// Package events publishes authentication events for downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"
)

// Topics
const (
	TopicUserCreated   = "nimbus.user.created"
	TopicUserLoggedIn  = "nimbus.user.logged_in"
	TopicUserLoggedOut = "nimbus.user.logged_out"
)

// UserEvent is the payload of every auth event
type UserEvent struct {
	UserID     string    `json:"user_id"`
	Email      string    `json:"email"`
	Provider   string    `json:"provider,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher emits auth events. Implementations must be safe for concurrent use.
type Publisher interface {
	UserCreated(ctx context.Context, e UserEvent) error
	UserLoggedIn(ctx context.Context, e UserEvent) error
	UserLoggedOut(ctx context.Context, e UserEvent) error
	Close() error
}

// WatermillPublisher implements Publisher on any watermill message.Publisher
type WatermillPublisher struct {
	publisher message.Publisher
}

var _ Publisher = (*WatermillPublisher)(nil)

// NewWatermillPublisher wraps publisher
func NewWatermillPublisher(publisher message.Publisher) *WatermillPublisher {
	return &WatermillPublisher{publisher: publisher}
}

// NewGoChannel returns an in-process pub/sub. The same value serves as
// publisher and subscriber.
func NewGoChannel() *gochannel.GoChannel {
	return gochannel.NewGoChannel(gochannel.Config{}, watermill.NewStdLogger(false, false))
}

// NewRedisStreamPublisher publishes to Redis streams on client
func NewRedisStreamPublisher(client *redis.Client) (message.Publisher, error) {
	publisher, err := redisstream.NewPublisher(
		redisstream.PublisherConfig{
			Client: client,
		},
		watermill.NewStdLogger(false, false),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Redis stream publisher: %w", err)
	}
	return publisher, nil
}

func (p *WatermillPublisher) publish(ctx context.Context, topic string, e UserEvent) error {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}

	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)

	if err := p.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

func (p *WatermillPublisher) UserCreated(ctx context.Context, e UserEvent) error {
	return p.publish(ctx, TopicUserCreated, e)
}

func (p *WatermillPublisher) UserLoggedIn(ctx context.Context, e UserEvent) error {
	return p.publish(ctx, TopicUserLoggedIn, e)
}

func (p *WatermillPublisher) UserLoggedOut(ctx context.Context, e UserEvent) error {
	return p.publish(ctx, TopicUserLoggedOut, e)
}

func (p *WatermillPublisher) Close() error {
	return p.publisher.Close()
}

// Nop discards events
type Nop struct{}

func (Nop) UserCreated(context.Context, UserEvent) error   { return nil }
func (Nop) UserLoggedIn(context.Context, UserEvent) error  { return nil }
func (Nop) UserLoggedOut(context.Context, UserEvent) error { return nil }
func (Nop) Close() error                                   { return nil }
