package command

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/itechmarine/helm-core/internal/device"
	"github.com/itechmarine/helm-core/internal/infrastructure/logging"
	"github.com/itechmarine/helm-core/internal/infrastructure/mqtt"
)

// testDB creates a temporary SQLite database with the full queue schema.
func testDB(t *testing.T) *sql.DB {
	t.Helper()

	f, err := os.CreateTemp("", "command-test-*.db")
	if err != nil {
		t.Fatalf("creating temp db: %v", err)
	}
	dbPath := f.Name()
	f.Close()
	t.Cleanup(func() { os.Remove(dbPath) })

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=ON")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	schemaSQL := `
		CREATE TABLE devices (
			id TEXT PRIMARY KEY,
			serial TEXT NOT NULL UNIQUE,
			boat_id TEXT,
			firmware TEXT NOT NULL DEFAULT '1.0.0',
			last_seen TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE light_channels (
			id TEXT PRIMARY KEY,
			device_id TEXT NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
			ch_no INTEGER NOT NULL,
			name TEXT,
			is_on INTEGER NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL,
			UNIQUE(device_id, ch_no)
		);

		CREATE TABLE commands (
			id TEXT PRIMARY KEY,
			device_id TEXT REFERENCES devices(id),
			device_serial TEXT NOT NULL,
			payload TEXT NOT NULL DEFAULT '{}',
			status TEXT NOT NULL DEFAULT 'queued',
			fail_reason TEXT,
			created_at TEXT NOT NULL,
			sent_at TEXT,
			delivered_at TEXT,
			expires_at TEXT NOT NULL
		);
	`
	if _, err := db.Exec(schemaSQL); err != nil {
		t.Fatalf("applying schema: %v", err)
	}

	return db
}

// testQueue bundles the wired core over one database for integration-style
// tests. The broker starts connected and recording.
type testQueue struct {
	db         *sql.DB
	commands   *SQLiteRepository
	devices    *device.SQLiteRepository
	broker     *fakeBroker
	dispatcher *Dispatcher
	reconciler *Reconciler
	gateway    *Gateway
}

func newTestQueue(t *testing.T) *testQueue {
	t.Helper()

	db := testDB(t)
	log := logging.Default()
	commands := NewSQLiteRepository(db)
	devices := device.NewSQLiteRepository(db)
	broker := &fakeBroker{connected: true}
	topics := testTopics()

	reconciler := NewReconciler(commands, devices, nil, nil, log)
	return &testQueue{
		db:         db,
		commands:   commands,
		devices:    devices,
		broker:     broker,
		dispatcher: NewDispatcher(commands, devices, broker, topics, nil, 2*time.Minute, log),
		reconciler: reconciler,
		gateway:    NewGateway(commands, devices, reconciler, 4, 16, log),
	}
}

// seedDevice registers a device so submits resolve a device id.
func (q *testQueue) seedDevice(t *testing.T, serial string) *device.Device {
	t.Helper()

	dev := &device.Device{Serial: serial}
	if err := q.devices.Create(context.Background(), dev); err != nil {
		t.Fatalf("creating device %s: %v", serial, err)
	}
	return dev
}

// seedCommand inserts a command directly with full control over status
// and timestamps.
func seedCommand(t *testing.T, repo *SQLiteRepository, serial string, payload string, status Status, createdAt, expiresAt time.Time) *Command {
	t.Helper()

	cmd := &Command{
		DeviceSerial: serial,
		Payload:      json.RawMessage(payload),
		Status:       status,
		CreatedAt:    createdAt,
		ExpiresAt:    expiresAt,
	}
	if err := repo.Create(context.Background(), cmd); err != nil {
		t.Fatalf("seeding command: %v", err)
	}
	return cmd
}

// envelopeFields decodes a wire envelope for assertions.
func envelopeFields(t *testing.T, envelope json.RawMessage) map[string]any {
	t.Helper()

	var fields map[string]any
	if err := json.Unmarshal(envelope, &fields); err != nil {
		t.Fatalf("decoding envelope: %v", err)
	}
	return fields
}

func testTopics() mqtt.Topics {
	return mqtt.Topics{Namespace: "testns"}
}

// requireStatus asserts the stored status of a command.
func requireStatus(t *testing.T, repo *SQLiteRepository, id string, want Status) {
	t.Helper()

	cmd, err := repo.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("loading command %s: %v", id, err)
	}
	if cmd.Status != want {
		t.Fatalf("command %s status = %s, want %s", id, cmd.Status, want)
	}
}

// fakeBroker records publishes and can simulate disconnection or
// publish failure.
type fakeBroker struct {
	connected bool
	failAll   bool
	published []fakePublish
}

type fakePublish struct {
	topic   string
	payload []byte
	qos     byte
}

var errBrokerDown = errors.New("broker down")

func (b *fakeBroker) Publish(topic string, payload []byte, qos byte, _ bool) error {
	if !b.connected || b.failAll {
		return errBrokerDown
	}
	b.published = append(b.published, fakePublish{topic: topic, payload: payload, qos: qos})
	return nil
}

func (b *fakeBroker) IsConnected() bool { return b.connected }

// recordingSink captures events emitted to UI subscribers.
type recordingSink struct {
	events []sinkEvent
}

type sinkEvent struct {
	serial    string
	eventType string
}

func (s *recordingSink) DeviceEvent(serial, eventType string, _ any) {
	s.events = append(s.events, sinkEvent{serial: serial, eventType: eventType})
}
