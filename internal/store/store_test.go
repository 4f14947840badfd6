package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/andresmejia3/idgate/internal/audit"
	"github.com/andresmejia3/idgate/internal/capture"
	"github.com/andresmejia3/idgate/internal/types"
)

// TestStoreIntegration runs a full integration test against a real Postgres container.
// It requires Docker to be running.
func TestStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	// Recover from panics inside testcontainers (e.g. socket not found).
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("testcontainers panicked: %v", r)
			}
		}()
		_, err = testcontainers.NewDockerClientWithOpts(ctx)
		return
	}()
	if err != nil {
		t.Fatalf("Docker not available, cannot run integration test: %v", err)
	}

	pgContainer, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("idgate_test"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
		testcontainers.WithLogger(noopLogger{}),
	)
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("Failed to terminate container: %v", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	// Initialize Store (runs migrations)
	s, err := New(ctx, connStr)
	if err != nil {
		t.Fatalf("Failed to connect to store: %v", err)
	}
	defer s.Close(ctx)

	// --- Test Scenarios ---

	started := time.Now().UTC().Truncate(time.Millisecond)
	front := &types.Capture{Side: types.Front, JPEG: []byte("front-jpeg"), Width: 640, Height: 400,
		Sharpness: 2400, EdgeDensity: 0.12, Fill: 0.81, CapturedAt: started}
	sess := capture.Session{ID: "sess-1", Side: types.Back, Front: front, StartedAt: started, LastCaptureAt: started}

	if err := s.SaveSession(ctx, sess, "test"); err != nil {
		t.Fatalf("SaveSession (front) failed: %v", err)
	}

	sess.Back = &types.Capture{Side: types.Back, JPEG: []byte("back-jpeg"), Width: 640, Height: 400,
		Manual: true, CapturedAt: started.Add(2 * time.Second)}
	sess.Side = types.Done
	sess.LastCaptureAt = sess.Back.CapturedAt
	if err := s.SaveSession(ctx, sess, "test"); err != nil {
		t.Fatalf("SaveSession (both) failed: %v", err)
	}

	data, err := s.LoadSide(ctx, "sess-1", types.Back)
	if err != nil {
		t.Fatalf("LoadSide failed: %v", err)
	}
	if string(data) != "back-jpeg" {
		t.Errorf("Expected back-jpeg, got %q", data)
	}
	if _, err := s.LoadSide(ctx, "missing", types.Front); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	if err := s.RecordVerification(ctx, "sess-1", "accepted", "doc=123"); err != nil {
		t.Fatalf("RecordVerification failed: %v", err)
	}
	if err := s.RecordVerification(ctx, "missing", "accepted", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	sessions, err := s.ListSessions(ctx, 10)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("Expected 1 session, got %d", len(sessions))
	}
	if sessions[0].Sides != 2 || sessions[0].CompletedAt == nil || sessions[0].Verification != "accepted" {
		t.Errorf("Unexpected summary %+v", sessions[0])
	}

	e := audit.NewEvent("system", "RetentionCleanup", "")
	if err := s.SaveAuditEvent(ctx, e); err != nil {
		t.Fatalf("SaveAuditEvent failed: %v", err)
	}
	if err := s.SaveAuditEvent(ctx, e); err != nil {
		t.Fatalf("SaveAuditEvent should ignore duplicates: %v", err)
	}

	// Nothing is older than an hour ago; everything is older than an hour from now.
	n, err := s.PurgeOlderThan(ctx, time.Now().Add(-time.Hour))
	if err != nil || n != 0 {
		t.Fatalf("PurgeOlderThan(past) = %d, %v", n, err)
	}
	n, err = s.PurgeOlderThan(ctx, time.Now().Add(time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("PurgeOlderThan(future) = %d, %v", n, err)
	}
	if _, err := s.LoadSide(ctx, "sess-1", types.Front); !errors.Is(err, ErrNotFound) {
		t.Errorf("Sides should cascade with their session, got %v", err)
	}

	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
}

type noopLogger struct{}

func (n noopLogger) Printf(format string, v ...interface{}) {}
