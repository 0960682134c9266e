package hermes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// SubjectPrefix namespaces chat side-effect events on the bus.
const SubjectPrefix = "parrit.chat."

// ChatEvent mirrors a dispatched side-effect trigger so that consumers on the
// bus see the same facts as webhook receivers.
type ChatEvent struct {
	Event          string    `json:"event"`
	ConversationID string    `json:"conversation_id"`
	SessionID      string    `json:"session_id"`
	MessagesCount  int       `json:"messages_count"`
	LastMessage    string    `json:"last_message,omitempty"`
	LeadID         string    `json:"lead_id,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Subject returns the subject a chat event is published on.
func Subject(event string) string {
	return SubjectPrefix + event
}

type Client struct {
	conn   *nats.Conn
	logger *slog.Logger
}

func NewClient(ctx context.Context, url, token string, logger *slog.Logger) (*Client, error) {
	opts := []nats.Option{
		nats.Name("parrit"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &Client{conn: nc, logger: logger}, nil
}

func (c *Client) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return c.conn.Publish(subject, payload)
}

// PublishChatEvent publishes ev on its event subject.
func (c *Client) PublishChatEvent(ev ChatEvent) error {
	if err := c.Publish(Subject(ev.Event), ev); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Event, err)
	}
	return nil
}

// Close flushes pending publishes before closing the connection.
func (c *Client) Close() {
	if err := c.conn.Drain(); err != nil {
		c.logger.Warn("nats drain failed", "error", err)
		c.conn.Close()
	}
}
