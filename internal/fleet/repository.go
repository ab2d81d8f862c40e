package fleet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for boat persistence.
type Repository interface {
	Create(ctx context.Context, boat *Boat) error
	Get(ctx context.Context, id string) (*Boat, error)
	ListByOwner(ctx context.Context, ownerID string) ([]Boat, error)
	Rename(ctx context.Context, id, name string) error
	Delete(ctx context.Context, id string) error
	IsOwnedBy(ctx context.Context, boatID, ownerID string) (bool, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed boat repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts a new boat. The ID is generated if empty.
func (r *SQLiteRepository) Create(ctx context.Context, boat *Boat) error {
	if strings.TrimSpace(boat.Name) == "" {
		return ErrInvalidName
	}
	if boat.ID == "" {
		boat.ID = "boat-" + uuid.NewString()[:8]
	}

	now := time.Now().UTC().Format(time.RFC3339)
	boat.CreatedAt, _ = time.Parse(time.RFC3339, now) //nolint:errcheck // format is controlled

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO boats (id, owner_id, name, created_at) VALUES (?, ?, ?, ?)`,
		boat.ID, boat.OwnerID, boat.Name, now,
	)
	if err != nil {
		return fmt.Errorf("inserting boat %s: %w", boat.ID, err)
	}
	return nil
}

// Get returns a single boat by ID.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (*Boat, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, owner_id, name, created_at FROM boats WHERE id = ?`, id)

	var b Boat
	var createdAt string
	if err := row.Scan(&b.ID, &b.OwnerID, &b.Name, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBoatNotFound
		}
		return nil, fmt.Errorf("scanning boat: %w", err)
	}
	b.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled

	return &b, nil
}

// ListByOwner returns all boats belonging to a user, oldest first.
func (r *SQLiteRepository) ListByOwner(ctx context.Context, ownerID string) ([]Boat, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, owner_id, name, created_at FROM boats WHERE owner_id = ? ORDER BY created_at ASC`,
		ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing boats: %w", err)
	}
	defer rows.Close()

	boats := []Boat{}
	for rows.Next() {
		var b Boat
		var createdAt string
		if err := rows.Scan(&b.ID, &b.OwnerID, &b.Name, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning boat: %w", err)
		}
		b.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled
		boats = append(boats, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating boats: %w", err)
	}

	return boats, nil
}

// Rename changes a boat's display name.
func (r *SQLiteRepository) Rename(ctx context.Context, id, name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrInvalidName
	}

	result, err := r.db.ExecContext(ctx, `UPDATE boats SET name = ? WHERE id = ?`, name, id)
	if err != nil {
		return fmt.Errorf("renaming boat: %w", err)
	}

	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrBoatNotFound
	}
	return nil
}

// Delete removes a boat by ID. Devices on the boat are left unassigned
// by the caller before deletion; the foreign key is not cascading.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM boats WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting boat: %w", err)
	}

	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrBoatNotFound
	}
	return nil
}

// IsOwnedBy reports whether the boat exists and belongs to the given user.
func (r *SQLiteRepository) IsOwnedBy(ctx context.Context, boatID, ownerID string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM boats WHERE id = ? AND owner_id = ?`, boatID, ownerID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking boat ownership: %w", err)
	}
	return count > 0, nil
}
