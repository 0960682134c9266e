package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrLeadExists is returned when a conversation already has a lead attached.
var ErrLeadExists = errors.New("lead already saved for conversation")

type Lead struct {
	Name              string
	Role              string
	Company           string
	CompanySize       string
	Sector            string
	Email             string
	Phone             string
	ContextSummary    string
	PainPoints        []string
	TasksToAutomate   []string
	HoursPerWeek      float64
	MaturityLevel     int
	InterestLevel     string
	PreferredNextStep string
	CalcomLinkClicked bool
}

// InsertLead stores a lead snapshot. When conversationID is set the lead is
// attached to that conversation, which must not already own one.
func (s *Store) InsertLead(ctx context.Context, l Lead, conversationID string) (uuid.UUID, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if l.PainPoints == nil {
		l.PainPoints = []string{}
	}
	if l.TasksToAutomate == nil {
		l.TasksToAutomate = []string{}
	}

	id := uuid.New()
	_, err = tx.Exec(ctx, `
		INSERT INTO leads (id, lead_name, lead_role, lead_company, lead_company_size, lead_sector,
			lead_email, lead_phone, context_summary, main_pain_points, tasks_to_automate,
			estimated_time_spent_per_week_hours, iai_maturity_level, interest_level,
			preferred_next_step, calcom_link_clicked)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		id, nullable(l.Name), nullable(l.Role), nullable(l.Company), nullable(l.CompanySize),
		nullable(l.Sector), nullable(l.Email), nullable(l.Phone), nullable(l.ContextSummary),
		l.PainPoints, l.TasksToAutomate, l.HoursPerWeek, l.MaturityLevel, l.InterestLevel,
		l.PreferredNextStep, l.CalcomLinkClicked,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert lead: %w", err)
	}

	if conversationID != "" {
		tag, err := tx.Exec(ctx, `
			UPDATE lead_conversations SET lead_id = $2, updated_at = now()
			WHERE id = $1 AND lead_id IS NULL`,
			conversationID, id,
		)
		if err != nil {
			return uuid.Nil, fmt.Errorf("attach lead: %w", err)
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM lead_conversations WHERE id = $1)`, conversationID).Scan(&exists); err != nil {
				return uuid.Nil, fmt.Errorf("check conversation: %w", err)
			}
			if exists {
				return uuid.Nil, ErrLeadExists
			}
			return uuid.Nil, ErrNotFound
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("commit: %w", err)
	}
	return id, nil
}
