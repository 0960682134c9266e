// Package chat runs one qualification turn: rate limiting, persistence,
// prompt enrichment, the upstream stream and the post-stream side effects.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Polzer1999/remix-of-automate-qualifier/internal/dispatch"
	"github.com/Polzer1999/remix-of-automate-qualifier/internal/enrichment"
	"github.com/Polzer1999/remix-of-automate-qualifier/internal/gateway"
	"github.com/Polzer1999/remix-of-automate-qualifier/internal/ratelimit"
	"github.com/Polzer1999/remix-of-automate-qualifier/internal/store"
)

// ErrRateLimited matches any *RateLimitError via errors.Is.
var ErrRateLimited = errors.New("rate limit exceeded")

type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter)
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

type Limiter interface {
	CheckAndConsume(ctx context.Context, sessionID string) ratelimit.Result
	Window() time.Duration
}

type Conversations interface {
	GetOrCreateConversation(ctx context.Context, conversationID, sessionID string) (string, error)
	AppendMessage(ctx context.Context, conversationID, role, content string) error
	GetHistory(ctx context.Context, conversationID string) ([]store.Message, error)
	MarkQualified(ctx context.Context, conversationID string, data any) error
}

type Leads interface {
	InsertLead(ctx context.Context, l store.Lead, conversationID string) (uuid.UUID, error)
}

type Enricher interface {
	Enrich(ctx context.Context, history []store.Message) enrichment.Result
}

type Gateway interface {
	Stream(ctx context.Context, system string, messages []gateway.Message, images []string) (io.ReadCloser, error)
}

type Dispatcher interface {
	Enqueue(t dispatch.Trigger) bool
}

type Request struct {
	ConversationID string
	SessionID      string
	Message        string
	Images         []string
}

// Turn is an accepted chat turn whose upstream stream is open. The caller
// relays Body and then calls Finish with the reassembled text.
type Turn struct {
	ConversationID string
	SessionID      string
	References     []enrichment.ReferenceMeta
	Mode           enrichment.Mode
	Body           io.ReadCloser
	// MessageCount is the history size sent upstream, user message included.
	MessageCount int
}

type Service struct {
	limiter       Limiter
	conversations Conversations
	leads         Leads
	enricher      Enricher
	gateway       Gateway
	dispatcher    Dispatcher
	policy        Policy
	logger        *slog.Logger
}

func NewService(l Limiter, c Conversations, leads Leads, e Enricher, g Gateway, d Dispatcher, p Policy, logger *slog.Logger) *Service {
	return &Service{
		limiter:       l,
		conversations: c,
		leads:         leads,
		enricher:      e,
		gateway:       g,
		dispatcher:    d,
		policy:        p,
		logger:        logger,
	}
}

// Begin admits the turn, stores the visitor message and opens the upstream
// stream. It returns *RateLimitError when the session is over its quota and
// a *gateway.StatusError when the gateway refuses the request.
func (s *Service) Begin(ctx context.Context, req Request) (*Turn, error) {
	if res := s.limiter.CheckAndConsume(ctx, req.SessionID); !res.Allowed {
		return nil, &RateLimitError{RetryAfter: s.limiter.Window()}
	}

	convID, err := s.conversations.GetOrCreateConversation(ctx, req.ConversationID, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	if err := s.conversations.AppendMessage(ctx, convID, store.RoleUser, req.Message); err != nil {
		return nil, fmt.Errorf("store user message: %w", err)
	}

	history, err := s.conversations.GetHistory(ctx, convID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	enriched := s.enricher.Enrich(ctx, history)

	messages := make([]gateway.Message, len(history))
	for i, m := range history {
		messages[i] = gateway.Message{Role: m.Role, Content: m.Content}
	}

	body, err := s.gateway.Stream(ctx, enriched.SystemPrompt, messages, req.Images)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}

	s.logger.Info("chat turn started",
		"conversation_id", convID,
		"session_id", req.SessionID,
		"messages", len(history),
		"enrichment", enriched.Mode,
		"references", len(enriched.References),
	)

	return &Turn{
		ConversationID: convID,
		SessionID:      req.SessionID,
		References:     enriched.References,
		Mode:           enriched.Mode,
		Body:           body,
		MessageCount:   len(history),
	}, nil
}

// Finish persists the assistant response and applies the qualification
// policy. An empty response stores nothing.
func (s *Service) Finish(ctx context.Context, turn *Turn, response string) error {
	if response == "" {
		s.logger.Warn("empty assistant response, nothing stored", "conversation_id", turn.ConversationID)
		return nil
	}
	if err := s.conversations.AppendMessage(ctx, turn.ConversationID, store.RoleAssistant, response); err != nil {
		return fmt.Errorf("store assistant message: %w", err)
	}

	count := turn.MessageCount + 1
	decision := s.policy.Evaluate(response, count)
	now := time.Now().UTC()

	if decision.Qualified {
		data := map[string]any{
			"reason":    decision.Reason,
			"messages":  count,
			"timestamp": now.Format(time.RFC3339),
		}
		if err := s.conversations.MarkQualified(ctx, turn.ConversationID, data); err != nil {
			return fmt.Errorf("mark qualified: %w", err)
		}
		s.logger.Info("conversation qualified", "conversation_id", turn.ConversationID, "reason", decision.Reason)
		s.dispatcher.Enqueue(dispatch.Trigger{
			Event:          dispatch.EventConversationQualified,
			ConversationID: turn.ConversationID,
			SessionID:      turn.SessionID,
			MessagesCount:  count,
			LastMessage:    response,
			Timestamp:      now,
		})
	}

	if decision.Blueprint {
		s.dispatcher.Enqueue(dispatch.Trigger{
			Event:          dispatch.EventBlueprintGenerated,
			ConversationID: turn.ConversationID,
			SessionID:      turn.SessionID,
			MessagesCount:  count,
			LastMessage:    response,
			Timestamp:      now,
		})
	}
	return nil
}

// SaveLead stores the structured lead produced by the model and announces it.
func (s *Service) SaveLead(ctx context.Context, lead store.Lead, conversationID string) (uuid.UUID, error) {
	id, err := s.leads.InsertLead(ctx, lead, conversationID)
	if err != nil {
		return uuid.Nil, err
	}
	s.logger.Info("lead saved", "lead_id", id, "conversation_id", conversationID)
	s.dispatcher.Enqueue(dispatch.Trigger{
		Event:          dispatch.EventLeadSaved,
		ConversationID: conversationID,
		LeadID:         id.String(),
		LastMessage:    lead.ContextSummary,
		Timestamp:      time.Now().UTC(),
	})
	return id, nil
}
