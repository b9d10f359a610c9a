package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Status of a conversion run
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// ErrDuplicateRun is returned when a run ID has already been recorded
var ErrDuplicateRun = errors.New("conversion run already recorded")

// ErrNotFound is returned when a run ID is unknown
var ErrNotFound = errors.New("conversion run not found")

// Entry is the audit record of one conversion run
type Entry struct {
	RunID          string    `json:"run_id"`
	OrganizationID string    `json:"organization_id"`
	OldName        string    `json:"old_name"`
	NewName        string    `json:"new_name"`
	Status         string    `json:"status"`
	FailedStep     string    `json:"failed_step,omitempty"`
	Message        string    `json:"message,omitempty"`
	UserID         string    `json:"user_id,omitempty"`
	Username       string    `json:"username,omitempty"`
	Orphaned       bool      `json:"orphaned"`
	ActorID        string    `json:"actor_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Store records conversion runs
type Store interface {
	Record(ctx context.Context, entry *Entry) error
}

// NopStore discards entries
type NopStore struct{}

// Record does nothing
func (NopStore) Record(ctx context.Context, entry *Entry) error {
	return nil
}

// SQLStore keeps the audit trail in the conversion_audit table. The SQL is
// portable between PostgreSQL (lib/pq) and SQLite (go-sqlite3).
type SQLStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLStore creates a SQL audit store and makes sure its table exists
func NewSQLStore(db *sql.DB) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	store := &SQLStore{
		db:  db,
		now: time.Now,
	}

	if err := store.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure conversion_audit table: %w", err)
	}

	return store, nil
}

// ensureTable creates the conversion_audit table if it doesn't exist
func (s *SQLStore) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS conversion_audit (
		run_id VARCHAR(64) PRIMARY KEY,
		organization_id VARCHAR(255) NOT NULL,
		old_name VARCHAR(255) NOT NULL DEFAULT '',
		new_name VARCHAR(255) NOT NULL DEFAULT '',
		status VARCHAR(20) NOT NULL,
		failed_step VARCHAR(50) NOT NULL DEFAULT '',
		message TEXT NOT NULL DEFAULT '',
		user_id VARCHAR(255) NOT NULL DEFAULT '',
		username VARCHAR(255) NOT NULL DEFAULT '',
		orphaned BOOLEAN NOT NULL DEFAULT FALSE,
		actor_id VARCHAR(255) NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_conversion_audit_organization ON conversion_audit(organization_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_conversion_audit_orphaned ON conversion_audit(orphaned, created_at);
	`

	_, err := s.db.Exec(query)
	return err
}

// Ping checks the database connection
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Record inserts entry. CreatedAt is set when zero.
func (s *SQLStore) Record(ctx context.Context, entry *Entry) error {
	if entry == nil || entry.RunID == "" {
		return fmt.Errorf("entry with run ID is required")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now().UTC()
	}

	query := `
		INSERT INTO conversion_audit (
			run_id, organization_id, old_name, new_name,
			status, failed_step, message,
			user_id, username, orphaned, actor_id, created_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7,
			$8, $9, $10, $11, $12
		)
	`

	_, err := s.db.ExecContext(ctx, query,
		entry.RunID, entry.OrganizationID, entry.OldName, entry.NewName,
		entry.Status, entry.FailedStep, entry.Message,
		entry.UserID, entry.Username, entry.Orphaned, entry.ActorID, entry.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateRun
		}
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

const selectColumns = `run_id, organization_id, old_name, new_name, status, failed_step, message,
	user_id, username, orphaned, actor_id, created_at`

// Get returns the entry recorded for runID
func (s *SQLStore) Get(ctx context.Context, runID string) (*Entry, error) {
	query := `SELECT ` + selectColumns + ` FROM conversion_audit WHERE run_id = $1`

	entry, err := scanEntry(s.db.QueryRowContext(ctx, query, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get audit entry: %w", err)
	}
	return entry, nil
}

// ListOrphaned returns the most recent runs that left a user behind for
// manual cleanup
func (s *SQLStore) ListOrphaned(ctx context.Context, limit int) ([]*Entry, error) {
	query := `SELECT ` + selectColumns + ` FROM conversion_audit WHERE orphaned = $1 ORDER BY created_at DESC LIMIT $2`
	return s.list(ctx, query, true, normalizeLimit(limit))
}

// ListByOrganization returns the most recent runs for one organization
func (s *SQLStore) ListByOrganization(ctx context.Context, organizationID string, limit int) ([]*Entry, error) {
	query := `SELECT ` + selectColumns + ` FROM conversion_audit WHERE organization_id = $1 ORDER BY created_at DESC LIMIT $2`
	return s.list(ctx, query, organizationID, normalizeLimit(limit))
}

func (s *SQLStore) list(ctx context.Context, query string, args ...interface{}) ([]*Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit entries: %w", err)
	}
	return entries, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row scanner) (*Entry, error) {
	var e Entry
	err := row.Scan(
		&e.RunID, &e.OrganizationID, &e.OldName, &e.NewName,
		&e.Status, &e.FailedStep, &e.Message,
		&e.UserID, &e.Username, &e.Orphaned, &e.ActorID, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

const (
	defaultLimit = 100
	maxLimit     = 500
)

func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultLimit
	case limit > maxLimit:
		return maxLimit
	}
	return limit
}
