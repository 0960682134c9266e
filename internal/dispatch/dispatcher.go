// Package dispatch delivers side-effect triggers to registered webhooks on
// background workers. Delivery is best effort: one attempt per webhook,
// failures are logged and dropped.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Polzer1999/remix-of-automate-qualifier/internal/hermes"
	"github.com/Polzer1999/remix-of-automate-qualifier/internal/metrics"
	"github.com/Polzer1999/remix-of-automate-qualifier/internal/store"
)

const (
	EventConversationQualified = "conversation_qualified"
	EventBlueprintGenerated    = "blueprint_generated"
	EventLeadSaved             = "lead_saved"
)

// maxConcurrentPosts bounds the fan-out for a single trigger.
const maxConcurrentPosts = 8

// Trigger is both the queued unit of work and the webhook JSON body.
type Trigger struct {
	Event          string    `json:"event"`
	ConversationID string    `json:"conversation_id"`
	SessionID      string    `json:"session_id"`
	MessagesCount  int       `json:"messages_count"`
	LastMessage    string    `json:"last_message,omitempty"`
	LeadID         string    `json:"lead_id,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Registry lists the active webhooks for an event. *store.Store satisfies it.
type Registry interface {
	ActiveWebhooks(ctx context.Context, event string) ([]store.Webhook, error)
}

// Publisher mirrors triggers onto the event bus. *hermes.Client satisfies it.
type Publisher interface {
	PublishChatEvent(ev hermes.ChatEvent) error
}

type Options struct {
	Timeout   time.Duration
	Workers   int
	QueueSize int
}

type Dispatcher struct {
	registry  Registry
	publisher Publisher
	client    *http.Client
	workers   int
	logger    *slog.Logger
	metrics   *metrics.Metrics

	mu     sync.RWMutex
	closed bool
	queue  chan Trigger
	wg     sync.WaitGroup
}

// New builds a dispatcher. publisher may be nil when no bus is configured.
func New(registry Registry, publisher Publisher, opts Options, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Dispatcher{
		registry:  registry,
		publisher: publisher,
		client:    &http.Client{Timeout: opts.Timeout},
		workers:   opts.Workers,
		logger:    logger,
		metrics:   m,
		queue:     make(chan Trigger, opts.QueueSize),
	}
}

// Start launches the workers. They run until Close.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for t := range d.queue {
				d.Deliver(ctx, t)
			}
		}()
	}
	d.logger.Info("dispatcher started", "workers", d.workers, "queue_size", cap(d.queue))
}

// Enqueue hands t to the workers without blocking. It returns false when the
// queue is full or the dispatcher is closed; the trigger is then dropped.
func (d *Dispatcher) Enqueue(t Trigger) bool {
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now().UTC()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.drop(t, "dispatcher closed")
		return false
	}
	select {
	case d.queue <- t:
		return true
	default:
		d.drop(t, "queue full")
		return false
	}
}

// Close stops accepting triggers and waits for queued ones to be delivered.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
}

// Deliver posts t to every active webhook registered for its event and
// mirrors it on the bus. It never returns an error.
func (d *Dispatcher) Deliver(ctx context.Context, t Trigger) {
	d.publish(t)

	hooks, err := d.registry.ActiveWebhooks(ctx, t.Event)
	if err != nil {
		d.logger.Warn("webhook lookup failed", "event", t.Event, "conversation_id", t.ConversationID, "error", err)
		d.metrics.WebhookDelivery(t.Event, "error")
		return
	}
	if len(hooks) == 0 {
		return
	}

	body, err := json.Marshal(t)
	if err != nil {
		d.logger.Error("marshal trigger", "event", t.Event, "error", err)
		return
	}

	var g errgroup.Group
	g.SetLimit(maxConcurrentPosts)
	for _, hook := range hooks {
		if hook.URL == "" {
			continue
		}
		g.Go(func() error {
			if err := d.post(ctx, hook.URL, body); err != nil {
				d.logger.Warn("webhook delivery failed",
					"webhook", hook.Name, "event", t.Event, "conversation_id", t.ConversationID, "error", err)
				d.metrics.WebhookDelivery(t.Event, "error")
				return nil
			}
			d.logger.Debug("webhook delivered", "webhook", hook.Name, "event", t.Event)
			d.metrics.WebhookDelivery(t.Event, "ok")
			return nil
		})
	}
	_ = g.Wait()
}

func (d *Dispatcher) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "parrit-dispatcher/1")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook post: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook status %d", resp.StatusCode)
	}
	return nil
}

func (d *Dispatcher) publish(t Trigger) {
	if d.publisher == nil {
		return
	}
	err := d.publisher.PublishChatEvent(hermes.ChatEvent{
		Event:          t.Event,
		ConversationID: t.ConversationID,
		SessionID:      t.SessionID,
		MessagesCount:  t.MessagesCount,
		LastMessage:    t.LastMessage,
		LeadID:         t.LeadID,
		Timestamp:      t.Timestamp,
	})
	if err != nil {
		d.logger.Warn("event publish failed", "event", t.Event, "error", err)
	}
}

func (d *Dispatcher) drop(t Trigger, reason string) {
	d.logger.Warn("trigger dropped", "event", t.Event, "conversation_id", t.ConversationID, "reason", reason)
	d.metrics.WebhookDelivery(t.Event, "dropped")
}
