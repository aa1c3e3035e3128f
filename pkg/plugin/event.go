package plugin

import (
	"context"
	"time"
)

// Event is a message published on the in-process event bus. Topics are
// dotted: "<plugin>.<resource>.<action>".
type Event struct {
	Topic     string
	Source    string
	Timestamp time.Time
	Payload   any
}

// EventHandler processes an event.
type EventHandler func(ctx context.Context, event Event)

// EventBus is the publish/subscribe contract shared by all plugins.
type EventBus interface {
	Publish(ctx context.Context, event Event) error
	PublishAsync(ctx context.Context, event Event)
	Subscribe(topic string, handler EventHandler) (unsubscribe func())
	SubscribeAll(handler EventHandler) (unsubscribe func())
}
