package natsbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/xiaot623/carechat/internal/domain"
)

// Client is a NATS connection used to publish and subscribe to chat events.
type Client struct {
	conn   *nats.Conn
	logger *zap.Logger
}

func NewClient(bus *Bus, logger *zap.Logger) (*Client, error) {
	return NewClientFromURL(bus.ClientURL(), logger)
}

func NewClientFromURL(url string, logger *zap.Logger) (*Client, error) {
	conn, err := nats.Connect(url, nats.Name("carechat"))
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{conn: conn, logger: logger}, nil
}

func (c *Client) Publish(topic string, data []byte) error {
	return c.conn.Publish(topic, data)
}

func (c *Client) PublishJSON(topic string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return c.conn.Publish(topic, data)
}

func (c *Client) Subscribe(topic string, handler func(msg *nats.Msg)) (*nats.Subscription, error) {
	return c.conn.Subscribe(topic, handler)
}

// SubscribeEvents decodes chat events published on topic.
func (c *Client) SubscribeEvents(topic string, handler func(domain.Event)) (*nats.Subscription, error) {
	return c.conn.Subscribe(topic, func(msg *nats.Msg) {
		var ev domain.Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			c.logger.Warn("dropping malformed chat event", zap.String("subject", msg.Subject), zap.Error(err))
			return
		}
		handler(ev)
	})
}

// Notify publishes ev on its session topic. Publish failures are logged and
// dropped.
func (c *Client) Notify(_ context.Context, ev domain.Event) {
	if err := c.PublishJSON(TopicChatEvents(ev.SessionID), ev); err != nil {
		c.logger.Warn("failed to publish chat event",
			zap.String("session_id", ev.SessionID),
			zap.String("type", string(ev.Type)),
			zap.Error(err))
	}
}

func (c *Client) Flush() error {
	return c.conn.Flush()
}

func (c *Client) Close() {
	c.conn.Close()
}
