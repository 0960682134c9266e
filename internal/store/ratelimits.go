package store

import (
	"context"
	"fmt"
	"time"
)

type RateLimit struct {
	SessionID    string
	RequestCount int
	WindowStart  time.Time
}

func (s *Store) GetRateLimit(ctx context.Context, sessionID string) (*RateLimit, error) {
	var rl RateLimit
	err := s.pool.QueryRow(ctx, `
		SELECT session_id, request_count, window_start
		FROM rate_limits
		WHERE session_id = $1`,
		sessionID,
	).Scan(&rl.SessionID, &rl.RequestCount, &rl.WindowStart)
	if err != nil {
		return nil, notFound(err)
	}
	return &rl, nil
}

// CreateRateLimit opens the first window for a session with a count of one.
// A concurrent insert for the same session resets that row's window instead.
func (s *Store) CreateRateLimit(ctx context.Context, sessionID string, now time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO rate_limits (session_id, request_count, window_start)
		VALUES ($1, 1, $2)
		ON CONFLICT (session_id)
		DO UPDATE SET request_count = 1, window_start = $2`,
		sessionID, now,
	)
	if err != nil {
		return fmt.Errorf("insert rate limit: %w", err)
	}
	return nil
}

func (s *Store) IncrementRateLimit(ctx context.Context, sessionID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE rate_limits SET request_count = request_count + 1
		WHERE session_id = $1`,
		sessionID,
	)
	if err != nil {
		return fmt.Errorf("increment rate limit: %w", err)
	}
	return nil
}

func (s *Store) ResetRateLimit(ctx context.Context, sessionID string, now time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE rate_limits SET request_count = 1, window_start = $2
		WHERE session_id = $1`,
		sessionID, now,
	)
	if err != nil {
		return fmt.Errorf("reset rate limit: %w", err)
	}
	return nil
}
