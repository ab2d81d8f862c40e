package command

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for command record persistence.
//
// Every state transition is an atomic compare-and-set: a transition only
// applies if the row is still in a state it is legal from, so a racing
// ack and poll settle deterministically with terminal states winning.
type Repository interface {
	Create(ctx context.Context, cmd *Command) error
	Get(ctx context.Context, id string) (*Command, error)
	GetForSerial(ctx context.Context, id, serial string) (*Command, error)
	ListForSerial(ctx context.Context, serial string, limit int) ([]Command, error)
	PollPending(ctx context.Context, serial string, limit int, now time.Time) ([]Command, error)
	MarkSent(ctx context.Context, id string, now time.Time) (bool, error)
	MarkResult(ctx context.Context, id, serial string, ok bool, reason string, now time.Time) (*Command, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed command repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const commandColumns = "id, device_id, device_serial, payload, status, fail_reason, created_at, sent_at, delivered_at, expires_at"

// Create inserts a new command record. The ID is generated if empty and
// the payload is normalised to a JSON object.
func (r *SQLiteRepository) Create(ctx context.Context, cmd *Command) error {
	if cmd.DeviceSerial == "" {
		return ErrEmptySerial
	}

	payload, err := validatePayload(cmd.Payload)
	if err != nil {
		return err
	}
	cmd.Payload = payload

	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	if cmd.Status == "" {
		cmd.Status = StatusQueued
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO commands (id, device_id, device_serial, payload, status, fail_reason, created_at, sent_at, delivered_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, NULL, ?, NULL, NULL, ?)`,
		cmd.ID, nullStr(cmd.DeviceID), cmd.DeviceSerial, string(cmd.Payload), string(cmd.Status),
		formatTime(cmd.CreatedAt), formatTime(cmd.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("inserting command %s: %w", cmd.ID, err)
	}
	return nil
}

// Get returns a command by ID alone.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (*Command, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+commandColumns+" FROM commands WHERE id = ?", id)
	return scanCommand(row)
}

// GetForSerial returns a command only when both the id and the serial
// match, so one device cannot read or ack another device's command.
func (r *SQLiteRepository) GetForSerial(ctx context.Context, id, serial string) (*Command, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+commandColumns+" FROM commands WHERE id = ? AND device_serial = ?", id, serial)
	return scanCommand(row)
}

// ListForSerial returns a device's most recent commands, newest first.
func (r *SQLiteRepository) ListForSerial(ctx context.Context, serial string, limit int) ([]Command, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx,
		"SELECT "+commandColumns+" FROM commands WHERE device_serial = ? ORDER BY created_at DESC, rowid DESC LIMIT ?",
		serial, limit)
	if err != nil {
		return nil, fmt.Errorf("listing commands: %w", err)
	}
	defer rows.Close()

	return collectCommands(rows)
}

// PollPending returns the pending batch for a serial: non-terminal rows
// whose deadline has not passed, oldest first, capped at limit. Each
// returned row gets sent_at stamped on first hand-off and any row still
// queued becomes sent_http. Rows already sent over the broker are offered
// again unchanged; polling is a fallback net, not an exclusive path.
//
// A row that turns terminal between the read and the stamp is dropped
// from the batch rather than overwritten.
func (r *SQLiteRepository) PollPending(ctx context.Context, serial string, limit int, now time.Time) ([]Command, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning poll transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	rows, err := tx.QueryContext(ctx,
		"SELECT "+commandColumns+` FROM commands
		 WHERE device_serial = ?
		   AND status IN ('queued', 'sent', 'sent_http')
		   AND expires_at > ?
		 ORDER BY created_at ASC, rowid ASC
		 LIMIT ?`,
		serial, formatTime(now), limit)
	if err != nil {
		return nil, fmt.Errorf("selecting pending commands: %w", err)
	}

	batch, err := collectCommands(rows)
	if err != nil {
		return nil, err
	}

	nowStr := formatTime(now)
	served := make([]Command, 0, len(batch))
	for i := range batch {
		cmd := batch[i]

		newStatus := cmd.Status
		if newStatus == StatusQueued {
			newStatus = StatusSentHTTP
		}

		result, err := tx.ExecContext(ctx,
			`UPDATE commands
			 SET status = ?, sent_at = COALESCE(sent_at, ?)
			 WHERE id = ? AND status IN ('queued', 'sent', 'sent_http')`,
			string(newStatus), nowStr, cmd.ID)
		if err != nil {
			return nil, fmt.Errorf("marking command %s served: %w", cmd.ID, err)
		}

		affected, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
		if affected == 0 {
			// Turned terminal between the read and the stamp; an ack
			// beat the poll and wins.
			continue
		}

		cmd.Status = newStatus
		if cmd.SentAt == nil {
			t := storedTime(now)
			cmd.SentAt = &t
		}
		served = append(served, cmd)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing poll transaction: %w", err)
	}
	return served, nil
}

// MarkSent transitions a command queued -> sent after a successful broker
// publish, stamping sent_at on first hand-off. Returns false without
// error if the command already left the queued state.
func (r *SQLiteRepository) MarkSent(ctx context.Context, id string, now time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE commands
		 SET status = 'sent', sent_at = COALESCE(sent_at, ?)
		 WHERE id = ? AND status = 'queued'`,
		formatTime(now), id)
	if err != nil {
		return false, fmt.Errorf("marking command %s sent: %w", id, err)
	}

	affected, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	return affected > 0, nil
}

// MarkResult applies an ack outcome to the (id, serial) pair: delivered on
// ok, failed otherwise, stamping delivered_at. Acking an already-terminal
// command is an idempotent no-op returning the record as-is; the first
// terminal state sticks. Unknown pairs return ErrNotFound.
func (r *SQLiteRepository) MarkResult(ctx context.Context, id, serial string, ok bool, reason string, now time.Time) (*Command, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning ack transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	row := tx.QueryRowContext(ctx,
		"SELECT "+commandColumns+" FROM commands WHERE id = ? AND device_serial = ?", id, serial)
	cmd, err := scanCommand(row)
	if err != nil {
		return nil, err
	}

	if cmd.Status.IsTerminal() {
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("committing ack transaction: %w", err)
		}
		return cmd, nil
	}

	newStatus := StatusDelivered
	if !ok {
		newStatus = StatusFailed
	}

	var failReason sql.NullString
	if !ok && reason != "" {
		failReason = sql.NullString{String: reason, Valid: true}
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE commands
		 SET status = ?, delivered_at = ?, fail_reason = ?
		 WHERE id = ? AND status NOT IN ('delivered', 'failed')`,
		string(newStatus), formatTime(now), failReason, id)
	if err != nil {
		return nil, fmt.Errorf("marking command %s %s: %w", id, newStatus, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing ack transaction: %w", err)
	}

	cmd.Status = newStatus
	t := storedTime(now)
	cmd.DeliveredAt = &t
	if failReason.Valid {
		cmd.FailReason = reason
	}
	return cmd, nil
}

// scanner is an interface for sql.Row and sql.Rows Scan methods.
type scanner interface {
	Scan(dest ...any) error
}

// scanCommand scans a command from a row or rows cursor.
func scanCommand(s scanner) (*Command, error) {
	var c Command
	var deviceID, failReason, sentAt, deliveredAt sql.NullString
	var payload, status, createdAt, expiresAt string

	err := s.Scan(&c.ID, &deviceID, &c.DeviceSerial, &payload, &status,
		&failReason, &createdAt, &sentAt, &deliveredAt, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning command: %w", err)
	}

	c.Payload = json.RawMessage(payload)
	c.Status = Status(status)
	if deviceID.Valid {
		c.DeviceID = &deviceID.String
	}
	if failReason.Valid {
		c.FailReason = failReason.String
	}
	c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled
	c.ExpiresAt, _ = time.Parse(time.RFC3339, expiresAt) //nolint:errcheck // format is controlled
	if sentAt.Valid {
		t, err := time.Parse(time.RFC3339, sentAt.String)
		if err == nil {
			c.SentAt = &t
		}
	}
	if deliveredAt.Valid {
		t, err := time.Parse(time.RFC3339, deliveredAt.String)
		if err == nil {
			c.DeliveredAt = &t
		}
	}

	return &c, nil
}

// collectCommands drains a rows cursor into a slice.
func collectCommands(rows *sql.Rows) ([]Command, error) {
	defer rows.Close()

	commands := []Command{}
	for rows.Next() {
		cmd, err := scanCommand(rows)
		if err != nil {
			return nil, err
		}
		commands = append(commands, *cmd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating commands: %w", err)
	}
	return commands, nil
}

// formatTime renders a timestamp in the stored RFC3339 UTC form. Stored
// strings compare correctly with plain string ordering.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// storedTime truncates a timestamp to the resolution the store keeps, so
// in-memory copies match what a later read returns.
func storedTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

// nullStr converts a *string to a sql.NullString for nullable columns.
func nullStr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
