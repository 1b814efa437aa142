// Package pending is the durable on-device queue of sales that have not yet
// been confirmed by the remote ledger. Each business has its own FIFO queue.
package pending

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bizledger/domain"
	"bizledger/internal/database"
	"bizledger/internal/migrations"

	"github.com/jmoiron/sqlx"
)

var ErrEmptyBusiness = errors.New("business id is required")

// StorageWriteError reports a failed durable write. The sale it carried was
// not stored and must not be considered safe.
type StorageWriteError struct {
	Op         string
	BusinessID string
	LocalID    string
	Err        error
}

func (e *StorageWriteError) Error() string {
	return fmt.Sprintf("pending: %s %s/%s: %v", e.Op, e.BusinessID, e.LocalID, e.Err)
}

func (e *StorageWriteError) Unwrap() error {
	return e.Err
}

// Entry is a queued sale and its position in the business queue.
type Entry struct {
	Seq        int64             `json:"seq"`
	Record     domain.SaleRecord `json:"record"`
	EnqueuedAt time.Time         `json:"enqueued_at"`
}

// FollowUp is a sale that reached the remote ledger but whose debt was not
// created. It stays here until the debt exists or someone resolves it.
type FollowUp struct {
	LocalID    string            `json:"local_id"`
	BusinessID string            `json:"business_id"`
	SaleID     string            `json:"sale_id"`
	Record     domain.SaleRecord `json:"record"`
	LastError  string            `json:"last_error"`
	Attempts   int               `json:"attempts"`
	CreatedAt  time.Time         `json:"created_at"`
}

type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

// New wraps an already migrated SQLite database.
func New(db *sqlx.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Open connects to the SQLite queue file and creates its tables.
func Open(dsn string) (*Store, error) {
	if database.Driver(dsn) != "sqlite" {
		return nil, fmt.Errorf("pending: queue must be a SQLite DSN, got %q", dsn)
	}
	db, err := database.Connect(dsn)
	if err != nil {
		return nil, err
	}
	if err := migrations.RunPending(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return New(db), nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

type entryRow struct {
	Seq       int64  `db:"seq"`
	Payload   string `db:"payload"`
	CreatedAt string `db:"created_at"`
}

// Append adds record to the end of the business queue. Appending a LocalID
// that is already queued is a no-op.
func (s *Store) Append(ctx context.Context, businessID string, record domain.SaleRecord) error {
	if businessID == "" {
		return &StorageWriteError{Op: "append", LocalID: record.LocalID, Err: ErrEmptyBusiness}
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return &StorageWriteError{Op: "append", BusinessID: businessID, LocalID: record.LocalID, Err: err}
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO pending_sales (business_id, local_id, payload, created_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT(local_id) DO NOTHING`,
		businessID, record.LocalID, string(payload), s.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return &StorageWriteError{Op: "append", BusinessID: businessID, LocalID: record.LocalID, Err: err}
	}
	return nil
}

// ListAll returns the business queue in insertion order.
func (s *Store) ListAll(ctx context.Context, businessID string) ([]Entry, error) {
	var rows []entryRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT seq, payload, created_at FROM pending_sales WHERE business_id = $1 ORDER BY seq`, businessID)
	if err != nil {
		return nil, fmt.Errorf("pending: list %s: %w", businessID, err)
	}

	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		var record domain.SaleRecord
		if err := json.Unmarshal([]byte(row.Payload), &record); err != nil {
			return nil, fmt.Errorf("pending: decode entry %d: %w", row.Seq, err)
		}
		enqueued, _ := time.Parse(time.RFC3339Nano, row.CreatedAt)
		entries = append(entries, Entry{Seq: row.Seq, Record: record, EnqueuedAt: enqueued})
	}
	return entries, nil
}

// Remove deletes a confirmed sale. Removing an absent id is not an error.
func (s *Store) Remove(ctx context.Context, businessID, localID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM pending_sales WHERE business_id = $1 AND local_id = $2`, businessID, localID)
	if err != nil {
		return &StorageWriteError{Op: "remove", BusinessID: businessID, LocalID: localID, Err: err}
	}
	return nil
}

// Clear empties the business queue.
func (s *Store) Clear(ctx context.Context, businessID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pending_sales WHERE business_id = $1`, businessID); err != nil {
		return &StorageWriteError{Op: "clear", BusinessID: businessID, Err: err}
	}
	return nil
}

// Count returns how many sales are queued for the business.
func (s *Store) Count(ctx context.Context, businessID string) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM pending_sales WHERE business_id = $1`, businessID); err != nil {
		return 0, fmt.Errorf("pending: count %s: %w", businessID, err)
	}
	return n, nil
}

// Businesses lists every business that has queued sales or open follow-ups.
func (s *Store) Businesses(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids, `
		SELECT business_id FROM pending_sales
		UNION
		SELECT business_id FROM debt_followups
		ORDER BY business_id`)
	if err != nil {
		return nil, fmt.Errorf("pending: list businesses: %w", err)
	}
	return ids, nil
}

type followUpRow struct {
	LocalID    string `db:"local_id"`
	BusinessID string `db:"business_id"`
	SaleID     string `db:"sale_id"`
	Payload    string `db:"payload"`
	LastError  string `db:"last_error"`
	Attempts   int    `db:"attempts"`
	CreatedAt  string `db:"created_at"`
}

// AddFollowUp records that the sale is committed but its debt is missing.
// Recording the same sale again bumps the attempt counter.
func (s *Store) AddFollowUp(ctx context.Context, saleID string, record domain.SaleRecord, cause error) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return &StorageWriteError{Op: "followup", BusinessID: record.BusinessID, LocalID: record.LocalID, Err: err}
	}
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO debt_followups (local_id, business_id, sale_id, payload, last_error, attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, 1, $6)
		ON CONFLICT(local_id) DO UPDATE SET last_error = excluded.last_error, attempts = debt_followups.attempts + 1`,
		record.LocalID, record.BusinessID, saleID, string(payload), msg, s.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return &StorageWriteError{Op: "followup", BusinessID: record.BusinessID, LocalID: record.LocalID, Err: err}
	}
	return nil
}

// ListFollowUps returns the open follow-ups for a business, oldest first.
func (s *Store) ListFollowUps(ctx context.Context, businessID string) ([]FollowUp, error) {
	var rows []followUpRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT local_id, business_id, sale_id, payload, last_error, attempts, created_at
		FROM debt_followups WHERE business_id = $1 ORDER BY created_at, local_id`, businessID)
	if err != nil {
		return nil, fmt.Errorf("pending: list follow-ups %s: %w", businessID, err)
	}

	out := make([]FollowUp, 0, len(rows))
	for _, row := range rows {
		var record domain.SaleRecord
		if err := json.Unmarshal([]byte(row.Payload), &record); err != nil {
			return nil, fmt.Errorf("pending: decode follow-up %s: %w", row.LocalID, err)
		}
		created, _ := time.Parse(time.RFC3339Nano, row.CreatedAt)
		out = append(out, FollowUp{
			LocalID:    row.LocalID,
			BusinessID: row.BusinessID,
			SaleID:     row.SaleID,
			Record:     record,
			LastError:  row.LastError,
			Attempts:   row.Attempts,
			CreatedAt:  created,
		})
	}
	return out, nil
}

// ResolveFollowUp drops a follow-up once the debt exists.
func (s *Store) ResolveFollowUp(ctx context.Context, businessID, localID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM debt_followups WHERE business_id = $1 AND local_id = $2`, businessID, localID)
	if err != nil {
		return &StorageWriteError{Op: "resolve", BusinessID: businessID, LocalID: localID, Err: err}
	}
	return nil
}
