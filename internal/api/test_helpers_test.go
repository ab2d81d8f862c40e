package api

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/itechmarine/helm-core/internal/auth"
	"github.com/itechmarine/helm-core/internal/command"
	"github.com/itechmarine/helm-core/internal/device"
	"github.com/itechmarine/helm-core/internal/fleet"
	"github.com/itechmarine/helm-core/internal/infrastructure/config"
	"github.com/itechmarine/helm-core/internal/infrastructure/logging"
	"github.com/itechmarine/helm-core/internal/infrastructure/mqtt"
)

const testJWTSecret = "test-secret-key-for-api-tests"

// testDB creates a temporary SQLite database with the full schema.
func testDB(t *testing.T) *sql.DB {
	t.Helper()

	f, err := os.CreateTemp("", "api-test-*.db")
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
		CREATE TABLE users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			display_name TEXT,
			created_at TEXT NOT NULL
		);

		CREATE TABLE boats (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL REFERENCES users(id),
			name TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE TABLE devices (
			id TEXT PRIMARY KEY,
			serial TEXT NOT NULL UNIQUE,
			boat_id TEXT REFERENCES boats(id),
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

// stubBroker implements command.Publisher. It starts disconnected so
// submits stay queued and exercise the poll fallback; tests that want
// broker pushes flip connected on.
type stubBroker struct {
	connected bool
	published []string
}

var errStubBrokerDown = errors.New("broker down")

func (b *stubBroker) Publish(topic string, _ []byte, _ byte, _ bool) error {
	if !b.connected {
		return errStubBrokerDown
	}
	b.published = append(b.published, topic)
	return nil
}

func (b *stubBroker) IsConnected() bool { return b.connected }

// testServer bundles a fully wired API server over one database. Requests
// go through the real router and middleware via ServeHTTP; no listener.
type testServer struct {
	srv      *Server
	router   http.Handler
	broker   *stubBroker
	commands *command.SQLiteRepository
	devices  *device.SQLiteRepository
	boats    *fleet.SQLiteRepository
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	db := testDB(t)
	log := logging.Default()

	users := auth.NewUserRepository(db)
	boats := fleet.NewSQLiteRepository(db)
	devices := device.NewSQLiteRepository(db)
	commands := command.NewSQLiteRepository(db)

	broker := &stubBroker{}
	topics := mqtt.Topics{Namespace: "testns"}

	reconciler := command.NewReconciler(commands, devices, nil, nil, log)
	dispatcher := command.NewDispatcher(commands, devices, broker, topics, nil, 2*time.Minute, log)
	gateway := command.NewGateway(commands, devices, reconciler, 4, 16, log)

	srv, err := New(Deps{
		WS: config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10},
		Security: config.SecurityConfig{
			JWT: config.JWTConfig{Secret: testJWTSecret, AccessTokenTTL: 60},
		},
		Logger:     log,
		Users:      users,
		Boats:      boats,
		Devices:    devices,
		Commands:   commands,
		Dispatcher: dispatcher,
		Gateway:    gateway,
		Version:    "test",
	})
	if err != nil {
		t.Fatalf("creating server: %v", err)
	}

	return &testServer{
		srv:      srv,
		router:   srv.buildRouter(),
		broker:   broker,
		commands: commands,
		devices:  devices,
		boats:    boats,
	}
}

// do performs a request against the router and returns the recorder.
func (ts *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encoding request body: %v", err)
		}
		rd = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

// decode unmarshals a recorded response body, failing the test on error.
func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
	}
}

// registerUser creates an account through the API and returns its token.
func (ts *testServer) registerUser(t *testing.T, email string) string {
	t.Helper()

	rec := ts.do(t, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"email":    email,
		"password": "correct-horse",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("registering %s: status %d, body %s", email, rec.Code, rec.Body.String())
	}

	var resp authResponse
	decode(t, rec, &resp)
	if resp.Token == "" {
		t.Fatal("register returned empty token")
	}
	return resp.Token
}

// createBoat creates a boat through the API and returns its id.
func (ts *testServer) createBoat(t *testing.T, token, name string) string {
	t.Helper()

	rec := ts.do(t, http.MethodPost, "/api/v1/boats", token, map[string]string{"name": name})
	if rec.Code != http.StatusCreated {
		t.Fatalf("creating boat: status %d, body %s", rec.Code, rec.Body.String())
	}
	var boat fleet.Boat
	decode(t, rec, &boat)
	return boat.ID
}

// registerDevice creates a device through the API and returns it.
func (ts *testServer) registerDevice(t *testing.T, token, serial string, boatID *string) *device.Device {
	t.Helper()

	body := map[string]any{"serial": serial}
	if boatID != nil {
		body["boat_id"] = *boatID
	}
	rec := ts.do(t, http.MethodPost, "/api/v1/devices", token, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("registering device: status %d, body %s", rec.Code, rec.Body.String())
	}
	var dev device.Device
	decode(t, rec, &dev)
	return &dev
}
