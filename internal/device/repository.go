package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for device persistence.
type Repository interface {
	Create(ctx context.Context, dev *Device) error
	Get(ctx context.Context, id string) (*Device, error)
	GetBySerial(ctx context.Context, serial string) (*Device, error)
	ListByBoat(ctx context.Context, boatID string) ([]Device, error)
	AssignToBoat(ctx context.Context, id string, boatID *string) error
	UpdateFirmware(ctx context.Context, id, firmware string) error
	TouchLastSeen(ctx context.Context, serial string, at time.Time) error
	Delete(ctx context.Context, id string) error

	UpsertChannelState(ctx context.Context, deviceID string, chNo int, isOn bool, at time.Time) error
	ListChannels(ctx context.Context, deviceID string) ([]Channel, error)
	RenameChannel(ctx context.Context, deviceID string, chNo int, name string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed device repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const deviceColumns = "id, serial, boat_id, firmware, last_seen, created_at, updated_at"

// Create inserts a new device. The ID is generated if empty; the serial
// must be unique across the fleet.
func (r *SQLiteRepository) Create(ctx context.Context, dev *Device) error {
	if !IsValidSerial(dev.Serial) {
		return fmt.Errorf("%w: %q", ErrInvalidSerial, dev.Serial)
	}
	if dev.ID == "" {
		dev.ID = "dev-" + uuid.NewString()[:8]
	}
	if dev.Firmware == "" {
		dev.Firmware = "1.0.0"
	}

	now := time.Now().UTC().Format(time.RFC3339)
	dev.CreatedAt, _ = time.Parse(time.RFC3339, now) //nolint:errcheck // format is controlled
	dev.UpdatedAt = dev.CreatedAt

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO devices (id, serial, boat_id, firmware, last_seen, created_at, updated_at)
		 VALUES (?, ?, ?, ?, NULL, ?, ?)`,
		dev.ID, dev.Serial, nullStr(dev.BoatID), dev.Firmware, now, now,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrSerialExists
		}
		return fmt.Errorf("inserting device %s: %w", dev.Serial, err)
	}
	return nil
}

// Get returns a single device by ID.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (*Device, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+deviceColumns+" FROM devices WHERE id = ?", id)
	return scanDevice(row)
}

// GetBySerial returns a single device by its serial. This is the lookup
// both transports use to resolve an inbound serial to a device.
func (r *SQLiteRepository) GetBySerial(ctx context.Context, serial string) (*Device, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+deviceColumns+" FROM devices WHERE serial = ?", serial)
	return scanDevice(row)
}

// ListByBoat returns all devices assigned to a boat, oldest first.
func (r *SQLiteRepository) ListByBoat(ctx context.Context, boatID string) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+deviceColumns+" FROM devices WHERE boat_id = ? ORDER BY created_at ASC", boatID)
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	defer rows.Close()

	devices := []Device{}
	for rows.Next() {
		dev, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, *dev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}

	return devices, nil
}

// AssignToBoat moves a device onto a boat, or off all boats when boatID is nil.
func (r *SQLiteRepository) AssignToBoat(ctx context.Context, id string, boatID *string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	result, err := r.db.ExecContext(ctx,
		`UPDATE devices SET boat_id = ?, updated_at = ? WHERE id = ?`,
		nullStr(boatID), now, id,
	)
	if err != nil {
		return fmt.Errorf("assigning device: %w", err)
	}

	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateFirmware records the firmware version a device reports.
func (r *SQLiteRepository) UpdateFirmware(ctx context.Context, id, firmware string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	result, err := r.db.ExecContext(ctx,
		`UPDATE devices SET firmware = ?, updated_at = ? WHERE id = ?`,
		firmware, now, id,
	)
	if err != nil {
		return fmt.Errorf("updating firmware: %w", err)
	}

	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchLastSeen stamps the device's last contact time by serial. Unknown
// serials are ignored: presence tracking must never fail message handling.
func (r *SQLiteRepository) TouchLastSeen(ctx context.Context, serial string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE devices SET last_seen = ? WHERE serial = ?`,
		at.UTC().Format(time.RFC3339), serial,
	)
	if err != nil {
		return fmt.Errorf("updating last_seen: %w", err)
	}
	return nil
}

// Delete removes a device and, via cascade, its channels.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM devices WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}

	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// UpsertChannelState folds one reported relay value into the stored
// channel state, creating the channel row on first sight.
func (r *SQLiteRepository) UpsertChannelState(ctx context.Context, deviceID string, chNo int, isOn bool, at time.Time) error {
	ts := at.UTC().Format(time.RFC3339)
	state := 0
	if isOn {
		state = 1
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO light_channels (id, device_id, ch_no, is_on, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(device_id, ch_no) DO UPDATE SET is_on = excluded.is_on, updated_at = excluded.updated_at`,
		"ch-"+uuid.NewString()[:8], deviceID, chNo, state, ts,
	)
	if err != nil {
		return fmt.Errorf("upserting channel state: %w", err)
	}
	return nil
}

// ListChannels returns a device's channels ordered by channel number.
func (r *SQLiteRepository) ListChannels(ctx context.Context, deviceID string) ([]Channel, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, device_id, ch_no, name, is_on, updated_at
		 FROM light_channels WHERE device_id = ? ORDER BY ch_no ASC`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("listing channels: %w", err)
	}
	defer rows.Close()

	channels := []Channel{}
	for rows.Next() {
		var c Channel
		var name sql.NullString
		var isOn int
		var updatedAt string
		if err := rows.Scan(&c.ID, &c.DeviceID, &c.ChNo, &name, &isOn, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning channel: %w", err)
		}
		if name.Valid {
			c.Name = name.String
		}
		c.IsOn = isOn != 0
		c.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // format is controlled
		channels = append(channels, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating channels: %w", err)
	}

	return channels, nil
}

// RenameChannel sets the user-facing label for a channel.
func (r *SQLiteRepository) RenameChannel(ctx context.Context, deviceID string, chNo int, name string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	result, err := r.db.ExecContext(ctx,
		`UPDATE light_channels SET name = ?, updated_at = ? WHERE device_id = ? AND ch_no = ?`,
		name, now, deviceID, chNo,
	)
	if err != nil {
		return fmt.Errorf("renaming channel: %w", err)
	}

	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// scanner is an interface for sql.Row and sql.Rows Scan methods.
type scanner interface {
	Scan(dest ...any) error
}

// scanDevice scans a device from a row or rows cursor.
func scanDevice(s scanner) (*Device, error) {
	var d Device
	var boatID sql.NullString
	var lastSeen sql.NullString
	var createdAt, updatedAt string

	err := s.Scan(&d.ID, &d.Serial, &boatID, &d.Firmware, &lastSeen, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning device: %w", err)
	}

	if boatID.Valid {
		d.BoatID = &boatID.String
	}
	if lastSeen.Valid {
		t, err := time.Parse(time.RFC3339, lastSeen.String)
		if err == nil {
			d.LastSeen = &t
		}
	}
	d.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled
	d.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // format is controlled

	return &d, nil
}

// nullStr converts a *string to a sql.NullString for nullable columns.
func nullStr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
