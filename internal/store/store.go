package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/andresmejia3/idgate/internal/audit"
	"github.com/andresmejia3/idgate/internal/capture"
	"github.com/andresmejia3/idgate/internal/types"
	"github.com/andresmejia3/idgate/internal/utils"
)

// ErrNotFound is returned when a session or side does not exist.
var ErrNotFound = errors.New("not found")

// Store persists capture sessions, their committed sides and audit events in
// PostgreSQL. It is safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{pool: pool}, nil
}

// initSchema creates the tables if they don't exist (Auto-Migration).
func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	query := `
		CREATE TABLE IF NOT EXISTS capture_sessions (
			id TEXT PRIMARY KEY,
			source TEXT NOT NULL DEFAULT '',
			started_at TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ,
			verification TEXT NOT NULL DEFAULT 'pending',
			verification_detail TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS captured_sides (
			session_id TEXT NOT NULL REFERENCES capture_sessions(id) ON DELETE CASCADE,
			side TEXT NOT NULL,
			jpeg BYTEA NOT NULL,
			checksum TEXT NOT NULL,
			width INT NOT NULL,
			height INT NOT NULL,
			sharpness DOUBLE PRECISION NOT NULL,
			edge_density DOUBLE PRECISION NOT NULL,
			fill DOUBLE PRECISION NOT NULL,
			manual BOOLEAN NOT NULL DEFAULT FALSE,
			captured_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (session_id, side)
		);
		CREATE TABLE IF NOT EXISTS audit_events (
			id TEXT PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			actor TEXT NOT NULL,
			action TEXT NOT NULL,
			details TEXT,
			duration_ms DOUBLE PRECISION
		);
		CREATE INDEX IF NOT EXISTS capture_sessions_created_at_idx ON capture_sessions (created_at);
		CREATE INDEX IF NOT EXISTS audit_events_ts_idx ON audit_events (ts);
	`
	_, err := pool.Exec(ctx, query)
	return err
}

// Close terminates the database connections.
func (s *Store) Close(ctx context.Context) {
	s.pool.Close()
}

// SaveSession upserts the session row and every committed side in one
// transaction. Saving the same session again after more sides commit is
// idempotent.
func (s *Store) SaveSession(ctx context.Context, sess capture.Session, source string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var completed *time.Time
	if sess.Complete() {
		t := sess.LastCaptureAt
		completed = &t
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO capture_sessions (id, source, started_at, completed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET completed_at = EXCLUDED.completed_at, source = EXCLUDED.source
	`, sess.ID, source, sess.StartedAt, completed)
	if err != nil {
		return err
	}

	for _, c := range []*types.Capture{sess.Front, sess.Back} {
		if c == nil {
			continue
		}
		if err := saveSide(ctx, tx, sess.ID, c); err != nil {
			return fmt.Errorf("save %s side: %w", c.Side, err)
		}
	}
	return tx.Commit(ctx)
}

func saveSide(ctx context.Context, tx pgx.Tx, sessionID string, c *types.Capture) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO captured_sides (session_id, side, jpeg, checksum, width, height, sharpness, edge_density, fill, manual, captured_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (session_id, side) DO UPDATE SET
			jpeg = EXCLUDED.jpeg, checksum = EXCLUDED.checksum,
			width = EXCLUDED.width, height = EXCLUDED.height,
			sharpness = EXCLUDED.sharpness, edge_density = EXCLUDED.edge_density,
			fill = EXCLUDED.fill, manual = EXCLUDED.manual, captured_at = EXCLUDED.captured_at
	`, sessionID, c.Side.String(), c.JPEG, utils.Checksum(c.JPEG), c.Width, c.Height,
		c.Sharpness, c.EdgeDensity, c.Fill, c.Manual, c.CapturedAt)
	return err
}

// RecordVerification stores the recognition outcome for a session.
func (s *Store) RecordVerification(ctx context.Context, sessionID, outcome, detail string) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE capture_sessions SET verification = $1, verification_detail = $2 WHERE id = $3",
		outcome, detail, sessionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	return nil
}

// LoadSide returns the stored JPEG for one side of a session.
func (s *Store) LoadSide(ctx context.Context, sessionID string, side types.Side) ([]byte, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		"SELECT jpeg FROM captured_sides WHERE session_id = $1 AND side = $2",
		sessionID, side.String()).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s side of session %s: %w", side, sessionID, ErrNotFound)
	}
	return data, err
}

// PurgeOlderThan deletes sessions (and their sides) created before cutoff
// and returns how many sessions were removed.
func (s *Store) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM capture_sessions WHERE created_at < $1", cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// SaveAuditEvent persists one audit event. Re-saving an event is a no-op.
func (s *Store) SaveAuditEvent(ctx context.Context, e audit.Event) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_events (id, ts, actor, action, details, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`, e.ID, e.Timestamp, e.Actor, e.Action, e.Details, e.DurationMs)
	return err
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		DROP TABLE IF EXISTS captured_sides CASCADE;
		DROP TABLE IF EXISTS capture_sessions CASCADE;
		DROP TABLE IF EXISTS audit_events CASCADE;
	`)
	return err
}
