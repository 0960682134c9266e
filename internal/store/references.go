package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ReferenceCall is a historical discovery call used as few-shot context.
// Rows are written once by the importer and only read by the chat path.
type ReferenceCall struct {
	ID            string
	Company       string
	Sector        string
	Need          string
	Context       string
	Introduction  string
	Exploration   string
	Refinement    string
	NextSteps     string
	RawData       json.RawMessage
	ImportBatchID uuid.UUID
}

const referenceColumns = `id::text, COALESCE(entreprise, ''), COALESCE(secteur, ''), COALESCE(besoin, ''),
	COALESCE(contexte, ''), COALESCE(phase_1_introduction, ''), COALESCE(phase_2_exploration, ''),
	COALESCE(phase_3_affinage, ''), COALESCE(phase_4_next_steps, '')`

// SampleIntroductions returns up to limit random calls that have a non-empty
// introduction phase.
func (s *Store) SampleIntroductions(ctx context.Context, limit int) ([]ReferenceCall, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+referenceColumns+`
		FROM discovery_calls_knowledge
		WHERE COALESCE(phase_1_introduction, '') <> ''
		ORDER BY random()
		LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query introductions: %w", err)
	}
	return collectReferences(rows)
}

// FindBySectors returns up to limit calls whose sector contains any of the
// given terms, case-insensitively.
func (s *Store) FindBySectors(ctx context.Context, sectors []string, limit int) ([]ReferenceCall, error) {
	if len(sectors) == 0 {
		return nil, nil
	}
	patterns := make([]string, len(sectors))
	for i, sec := range sectors {
		patterns[i] = "%" + escapeLike(sec) + "%"
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+referenceColumns+`
		FROM discovery_calls_knowledge
		WHERE secteur ILIKE ANY($1)
		ORDER BY created_at DESC
		LIMIT $2`,
		patterns, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query references by sector: %w", err)
	}
	return collectReferences(rows)
}

// SampleReferences returns up to limit random calls without filtering.
func (s *Store) SampleReferences(ctx context.Context, limit int) ([]ReferenceCall, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+referenceColumns+`
		FROM discovery_calls_knowledge
		ORDER BY random()
		LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query references: %w", err)
	}
	return collectReferences(rows)
}

// InsertReferenceCalls writes an import batch in a single transaction.
func (s *Store) InsertReferenceCalls(ctx context.Context, calls []ReferenceCall) error {
	if len(calls) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, c := range calls {
		_, err := tx.Exec(ctx, `
			INSERT INTO discovery_calls_knowledge
				(entreprise, secteur, besoin, contexte, phase_1_introduction, phase_2_exploration,
				 phase_3_affinage, phase_4_next_steps, raw_data, import_batch_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			nullable(c.Company), nullable(c.Sector), nullable(c.Need), nullable(c.Context),
			nullable(c.Introduction), nullable(c.Exploration), nullable(c.Refinement), nullable(c.NextSteps),
			[]byte(c.RawData), c.ImportBatchID,
		)
		if err != nil {
			return fmt.Errorf("insert reference call: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func collectReferences(rows pgx.Rows) ([]ReferenceCall, error) {
	defer rows.Close()
	var out []ReferenceCall
	for rows.Next() {
		var c ReferenceCall
		if err := rows.Scan(&c.ID, &c.Company, &c.Sector, &c.Need, &c.Context,
			&c.Introduction, &c.Exploration, &c.Refinement, &c.NextSteps); err != nil {
			return nil, fmt.Errorf("scan reference call: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
