package testutil

import (
	"context"
	"sync"

	"github.com/HerbHall/entitykit/pkg/plugin"
)

var _ plugin.EventBus = (*MockBus)(nil)

// MockBus records published events and delivers them synchronously to
// subscribers, PublishAsync included, so tests can assert without waiting.
type MockBus struct {
	mu     sync.Mutex
	events []plugin.Event
	subs   map[string][]plugin.EventHandler
	all    []plugin.EventHandler
}

func NewMockBus() *MockBus {
	return &MockBus{subs: make(map[string][]plugin.EventHandler)}
}

func (b *MockBus) Publish(ctx context.Context, event plugin.Event) error {
	b.mu.Lock()
	b.events = append(b.events, event)
	handlers := append(append([]plugin.EventHandler(nil), b.subs[event.Topic]...), b.all...)
	b.mu.Unlock()

	for _, h := range handlers {
		h(ctx, event)
	}
	return nil
}

func (b *MockBus) PublishAsync(ctx context.Context, event plugin.Event) {
	_ = b.Publish(ctx, event)
}

// Subscribe registers handler. The returned func is a no-op; tests build a
// fresh bus instead of unsubscribing.
func (b *MockBus) Subscribe(topic string, handler plugin.EventHandler) func() {
	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], handler)
	b.mu.Unlock()
	return func() {}
}

func (b *MockBus) SubscribeAll(handler plugin.EventHandler) func() {
	b.mu.Lock()
	b.all = append(b.all, handler)
	b.mu.Unlock()
	return func() {}
}

// Events returns a copy of the recorded events.
func (b *MockBus) Events() []plugin.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]plugin.Event(nil), b.events...)
}

// Topics returns the topic of every recorded event, in publish order.
func (b *MockBus) Topics() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.events))
	for i, e := range b.events {
		out[i] = e.Topic
	}
	return out
}

// Reset forgets recorded events. Subscriptions stay.
func (b *MockBus) Reset() {
	b.mu.Lock()
	b.events = nil
	b.mu.Unlock()
}
