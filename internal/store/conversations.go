package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Conversation struct {
	ID                string
	SessionID         string
	IsQualified       bool
	QualificationData json.RawMessage
	LeadID            *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type Message struct {
	Role      string
	Content   string
	CreatedAt time.Time
}

// GetOrCreateConversation reuses conversationID when it names an existing
// conversation and touches its updated_at. An empty or unknown id yields a new
// conversation tagged with sessionID, as does an id that is not a UUID.
func (s *Store) GetOrCreateConversation(ctx context.Context, conversationID, sessionID string) (string, error) {
	if _, err := uuid.Parse(conversationID); err == nil {
		tag, err := s.pool.Exec(ctx, `
			UPDATE lead_conversations SET updated_at = now()
			WHERE id = $1`,
			conversationID,
		)
		if err != nil {
			return "", fmt.Errorf("touch conversation: %w", err)
		}
		if tag.RowsAffected() == 1 {
			return conversationID, nil
		}
	}

	id := uuid.New()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO lead_conversations (id, session_id, created_at, updated_at)
		VALUES ($1, $2, now(), now())`,
		id, sessionID,
	)
	if err != nil {
		return "", fmt.Errorf("insert conversation: %w", err)
	}
	return id.String(), nil
}

// AppendMessage inserts one message. Messages are never updated or deleted.
func (s *Store) AppendMessage(ctx context.Context, conversationID, role, content string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO chat_messages (conversation_id, role, content)
		VALUES ($1, $2, $3)`,
		conversationID, role, content,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// GetHistory returns the conversation's messages in creation order.
func (s *Store) GetHistory(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT role, content, created_at
		FROM chat_messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC, seq ASC`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MarkQualified sets the qualification flag and replaces the qualification blob.
// Calling it again for an already qualified conversation only refreshes the blob.
func (s *Store) MarkQualified(ctx context.Context, conversationID string, data any) error {
	blob, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal qualification data: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE lead_conversations
		SET is_qualified = TRUE, qualification_data = $2, updated_at = now()
		WHERE id = $1`,
		conversationID, blob,
	)
	if err != nil {
		return fmt.Errorf("mark qualified: %w", err)
	}
	return nil
}

func (s *Store) GetConversation(ctx context.Context, conversationID string) (*Conversation, error) {
	var c Conversation
	err := s.pool.QueryRow(ctx, `
		SELECT id::text, session_id, is_qualified, qualification_data, lead_id::text, created_at, updated_at
		FROM lead_conversations
		WHERE id = $1`,
		conversationID,
	).Scan(&c.ID, &c.SessionID, &c.IsQualified, &c.QualificationData, &c.LeadID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}
