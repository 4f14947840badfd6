package store

import (
	"context"
	"time"
)

// SessionSummary is one row of the session listing.
type SessionSummary struct {
	ID           string
	Source       string
	StartedAt    time.Time
	CompletedAt  *time.Time
	Sides        int
	Verification string
	Detail       string
}

// ListSessions returns the most recent sessions first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]SessionSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT cs.id, cs.source, cs.started_at, cs.completed_at, COUNT(sd.side), cs.verification, cs.verification_detail
		FROM capture_sessions cs
		LEFT JOIN captured_sides sd ON sd.session_id = cs.id
		GROUP BY cs.id
		ORDER BY cs.started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var r SessionSummary
		if err := rows.Scan(&r.ID, &r.Source, &r.StartedAt, &r.CompletedAt, &r.Sides, &r.Verification, &r.Detail); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
