// Package ratelimitaudit persists reservation lifecycle transitions
// (create, promote, cancel, event-triggered delete) to Postgres for
// compliance and debugging, the same role invalidation.AuditLogger plays
// for cache invalidations. The original rate-limiting design has no audit
// trail of its own; this supplements it the way the teacher's invalidation
// service demonstrates for an equally at-least-once, idempotent pipeline.
package ratelimitaudit

import (
	"context"
	"fmt"
	"time"

	"encore.dev/storage/sqldb"
)

// Event is one reservation lifecycle transition.
type Event struct {
	ID            int64     `json:"id"`
	Action        string    `json:"action"` // "create", "promote", "cancel", "event_delete"
	ReservationID string    `json:"reservation_id"`
	ResourceName  string    `json:"resource_name"`
	AccountID     string    `json:"account_id"`
	ResourceID    string    `json:"resource_id"`
	Timestamp     time.Time `json:"timestamp"`
}

// Recorder is implemented by Adapter and accepted by the ratelimiter
// package so reservation lifecycle transitions can be audited without the
// ratelimiter package depending on Postgres or this package's schema
// directly.
type Recorder interface {
	RecordReservationEvent(ctx context.Context, event Event)
}

// db is this service's dedicated Postgres database, resolved by Encore's
// infra wiring the same way invalidation.db is.
var db = sqldb.Named("ratelimiter_audit_db")

// Logger provides persistent, append-only storage of reservation lifecycle
// events.
type Logger struct {
	db *sqldb.Database
}

// NewLogger creates a Logger against db, ensuring its schema exists.
func NewLogger(db *sqldb.Database) (*Logger, error) {
	logger := &Logger{db: db}
	if err := logger.ensureSchema(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to initialize ratelimiter audit schema: %w", err)
	}
	return logger, nil
}

// NewDefaultLogger creates a Logger against this package's default
// Encore-managed database.
func NewDefaultLogger() (*Logger, error) {
	return NewLogger(db)
}

func (l *Logger) ensureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS ratelimiter_audit (
			id BIGSERIAL PRIMARY KEY,
			action TEXT NOT NULL,
			reservation_id TEXT NOT NULL,
			resource_name TEXT NOT NULL,
			account_id TEXT NOT NULL,
			resource_id TEXT NOT NULL DEFAULT '',
			timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_ratelimiter_audit_reservation_id
		ON ratelimiter_audit(reservation_id);

		CREATE INDEX IF NOT EXISTS idx_ratelimiter_audit_timestamp
		ON ratelimiter_audit(timestamp DESC);
	`
	_, err := l.db.Exec(ctx, query)
	return err
}

// Insert records one audit event.
func (l *Logger) Insert(ctx context.Context, e Event) error {
	query := `
		INSERT INTO ratelimiter_audit
		(action, reservation_id, resource_name, account_id, resource_id, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := l.db.Exec(ctx, query,
		e.Action, e.ReservationID, e.ResourceName, e.AccountID, e.ResourceID, e.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert ratelimiter audit event: %w", err)
	}
	return nil
}

// GetByReservationID returns the lifecycle history of one reservation,
// oldest first.
func (l *Logger) GetByReservationID(ctx context.Context, reservationID string) ([]Event, error) {
	rows, err := l.db.Query(ctx, `
		SELECT id, action, reservation_id, resource_name, account_id, resource_id, timestamp
		FROM ratelimiter_audit
		WHERE reservation_id = $1
		ORDER BY timestamp ASC
	`, reservationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query ratelimiter audit events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.Action, &e.ReservationID, &e.ResourceName, &e.AccountID, &e.ResourceID, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan ratelimiter audit event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ratelimiter audit events: %w", err)
	}
	return events, nil
}
