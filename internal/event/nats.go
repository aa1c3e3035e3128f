package event

import (
	"context"
	"encoding/json"
	"time"

	"github.com/HerbHall/entitykit/pkg/plugin"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

// Publisher is the subset of *nats.Conn used by NATSBridge.
type Publisher interface {
	PublishMsg(msg *nats.Msg) error
}

// Envelope is the JSON body published to NATS for each bus event.
type Envelope struct {
	Topic     string    `json:"topic"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// NATSBridge forwards every bus event to NATS under prefix + "." + topic.
type NATSBridge struct {
	pub    Publisher
	prefix string
	logger *zap.Logger
	unsub  func()
}

// NewNATSBridge creates a bridge. Call Attach to start forwarding.
func NewNATSBridge(pub Publisher, prefix string, logger *zap.Logger) *NATSBridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSBridge{pub: pub, prefix: prefix, logger: logger}
}

// Attach subscribes the bridge to all topics on bus.
func (n *NATSBridge) Attach(bus plugin.EventBus) {
	n.unsub = bus.SubscribeAll(n.forward)
}

// Detach stops forwarding.
func (n *NATSBridge) Detach() {
	if n.unsub != nil {
		n.unsub()
		n.unsub = nil
	}
}

// Subject returns the NATS subject for a bus topic.
func (n *NATSBridge) Subject(topic string) string {
	if n.prefix == "" {
		return topic
	}
	return n.prefix + "." + topic
}

func (n *NATSBridge) forward(ctx context.Context, e plugin.Event) {
	data, err := json.Marshal(Envelope{
		Topic:     e.Topic,
		Source:    e.Source,
		Timestamp: e.Timestamp,
		Payload:   e.Payload,
	})
	if err != nil {
		n.logger.Warn("nats bridge: encode event", zap.String("topic", e.Topic), zap.Error(err))
		return
	}

	msg := &nats.Msg{Subject: n.Subject(e.Topic), Data: data}
	otel.GetTextMapPropagator().Inject(ctx, (*headerCarrier)(msg))
	if err := n.pub.PublishMsg(msg); err != nil {
		n.logger.Warn("nats bridge: publish", zap.String("subject", msg.Subject), zap.Error(err))
	}
}

// headerCarrier adapts nats.Msg headers for trace propagation.
type headerCarrier nats.Msg

func (c *headerCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *headerCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *headerCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}
