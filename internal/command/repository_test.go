package command

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRepository_CreateAndGetForSerial(t *testing.T) {
	repo := NewSQLiteRepository(testDB(t))
	now := time.Now()

	cmd := seedCommand(t, repo, "DEV1", `{"ch":1,"state":1}`, StatusQueued, now, now.Add(2*time.Minute))

	got, err := repo.GetForSerial(context.Background(), cmd.ID, "DEV1")
	if err != nil {
		t.Fatalf("GetForSerial() error = %v", err)
	}
	if got.Status != StatusQueued {
		t.Errorf("Status = %s, want queued", got.Status)
	}
	if string(got.Payload) != `{"ch":1,"state":1}` {
		t.Errorf("Payload = %s, want round-trip", got.Payload)
	}

	// The serial must match: one device cannot read another's command.
	if _, err := repo.GetForSerial(context.Background(), cmd.ID, "DEV2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetForSerial() wrong serial error = %v, want ErrNotFound", err)
	}
}

func TestRepository_Create_InvalidPayload(t *testing.T) {
	repo := NewSQLiteRepository(testDB(t))
	now := time.Now()

	cmd := &Command{
		DeviceSerial: "DEV1",
		Payload:      []byte(`[1,2,3]`),
		Status:       StatusQueued,
		CreatedAt:    now,
		ExpiresAt:    now.Add(time.Minute),
	}
	if err := repo.Create(context.Background(), cmd); !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("Create() array payload error = %v, want ErrInvalidPayload", err)
	}

	if err := repo.Create(context.Background(), &Command{Payload: []byte(`{}`)}); !errors.Is(err, ErrEmptySerial) {
		t.Errorf("Create() no serial error = %v, want ErrEmptySerial", err)
	}
}

func TestPollPending_FIFO(t *testing.T) {
	repo := NewSQLiteRepository(testDB(t))
	now := time.Now()

	a := seedCommand(t, repo, "DEV1", `{"ch":1}`, StatusQueued, now.Add(-2*time.Second), now.Add(2*time.Minute))
	b := seedCommand(t, repo, "DEV1", `{"ch":2}`, StatusQueued, now.Add(-1*time.Second), now.Add(2*time.Minute))

	// max=1 returns the oldest first.
	batch, err := repo.PollPending(context.Background(), "DEV1", 1, now)
	if err != nil {
		t.Fatalf("PollPending() error = %v", err)
	}
	if len(batch) != 1 || batch[0].ID != a.ID {
		t.Fatalf("PollPending(max=1) = %v, want exactly command A", batch)
	}

	batch, err = repo.PollPending(context.Background(), "DEV1", 10, now)
	if err != nil {
		t.Fatalf("PollPending() error = %v", err)
	}
	if len(batch) != 2 || batch[0].ID != a.ID || batch[1].ID != b.ID {
		t.Fatalf("PollPending() order wrong: got %d rows", len(batch))
	}
}

func TestPollPending_TransitionsAndStamps(t *testing.T) {
	repo := NewSQLiteRepository(testDB(t))
	now := time.Now()

	cmd := seedCommand(t, repo, "DEV1", `{}`, StatusQueued, now, now.Add(2*time.Minute))

	batch, err := repo.PollPending(context.Background(), "DEV1", 4, now)
	if err != nil {
		t.Fatalf("PollPending() error = %v", err)
	}
	if len(batch) != 1 {
		t.Fatalf("PollPending() returned %d rows, want 1", len(batch))
	}
	if batch[0].Status != StatusSentHTTP {
		t.Errorf("Status = %s, want sent_http", batch[0].Status)
	}
	if batch[0].SentAt == nil {
		t.Fatal("SentAt should be stamped on first hand-off")
	}
	firstSentAt := *batch[0].SentAt

	// A second poll re-offers the same command without moving sent_at.
	batch, err = repo.PollPending(context.Background(), "DEV1", 4, now.Add(10*time.Second))
	if err != nil {
		t.Fatalf("PollPending() second error = %v", err)
	}
	if len(batch) != 1 || batch[0].ID != cmd.ID {
		t.Fatalf("second poll should re-offer the undelivered command")
	}
	if !batch[0].SentAt.Equal(firstSentAt) {
		t.Errorf("SentAt moved from %v to %v; must be set at most once", firstSentAt, batch[0].SentAt)
	}
}

func TestPollPending_ExcludesExpiredAndTerminal(t *testing.T) {
	repo := NewSQLiteRepository(testDB(t))
	now := time.Now()

	seedCommand(t, repo, "DEV1", `{}`, StatusQueued, now.Add(-3*time.Minute), now.Add(-time.Minute))
	delivered := seedCommand(t, repo, "DEV1", `{}`, StatusQueued, now, now.Add(2*time.Minute))
	if _, err := repo.MarkResult(context.Background(), delivered.ID, "DEV1", true, "", now); err != nil {
		t.Fatalf("MarkResult() error = %v", err)
	}
	failed := seedCommand(t, repo, "DEV1", `{}`, StatusQueued, now, now.Add(2*time.Minute))
	if _, err := repo.MarkResult(context.Background(), failed.ID, "DEV1", false, "bad relay", now); err != nil {
		t.Fatalf("MarkResult() error = %v", err)
	}

	batch, err := repo.PollPending(context.Background(), "DEV1", 10, now)
	if err != nil {
		t.Fatalf("PollPending() error = %v", err)
	}
	if len(batch) != 0 {
		t.Fatalf("PollPending() = %d rows, want 0: expired and terminal rows must never be offered", len(batch))
	}
}

func TestMarkSent_OnlyFromQueued(t *testing.T) {
	repo := NewSQLiteRepository(testDB(t))
	now := time.Now()

	cmd := seedCommand(t, repo, "DEV1", `{}`, StatusQueued, now, now.Add(2*time.Minute))

	sent, err := repo.MarkSent(context.Background(), cmd.ID, now)
	if err != nil {
		t.Fatalf("MarkSent() error = %v", err)
	}
	if !sent {
		t.Fatal("MarkSent() = false from queued, want true")
	}
	requireStatus(t, repo, cmd.ID, StatusSent)

	// Already sent: the CAS misses and nothing changes.
	sent, err = repo.MarkSent(context.Background(), cmd.ID, now.Add(time.Second))
	if err != nil {
		t.Fatalf("MarkSent() second error = %v", err)
	}
	if sent {
		t.Error("MarkSent() = true from sent, want false")
	}

	// Terminal rows never regress to sent.
	if _, err := repo.MarkResult(context.Background(), cmd.ID, "DEV1", true, "", now); err != nil {
		t.Fatalf("MarkResult() error = %v", err)
	}
	sent, err = repo.MarkSent(context.Background(), cmd.ID, now)
	if err != nil {
		t.Fatalf("MarkSent() after delivery error = %v", err)
	}
	if sent {
		t.Error("MarkSent() must not move a delivered command")
	}
	requireStatus(t, repo, cmd.ID, StatusDelivered)
}

func TestMarkResult_IdempotentTerminal(t *testing.T) {
	repo := NewSQLiteRepository(testDB(t))
	now := time.Now()

	cmd := seedCommand(t, repo, "DEV1", `{}`, StatusQueued, now, now.Add(2*time.Minute))

	first, err := repo.MarkResult(context.Background(), cmd.ID, "DEV1", true, "", now)
	if err != nil {
		t.Fatalf("MarkResult() error = %v", err)
	}
	if first.Status != StatusDelivered || first.DeliveredAt == nil {
		t.Fatalf("first ack: status = %s, delivered_at = %v", first.Status, first.DeliveredAt)
	}

	// A contradictory second ack succeeds but changes nothing.
	second, err := repo.MarkResult(context.Background(), cmd.ID, "DEV1", false, "late failure", now.Add(time.Second))
	if err != nil {
		t.Fatalf("MarkResult() second error = %v", err)
	}
	if second.Status != StatusDelivered {
		t.Errorf("second ack reverted status to %s; terminal states must win", second.Status)
	}
	requireStatus(t, repo, cmd.ID, StatusDelivered)

	got, err := repo.Get(context.Background(), cmd.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.FailReason != "" {
		t.Errorf("FailReason = %q after no-op ack, want empty", got.FailReason)
	}
}

func TestMarkResult_FailureRecordsReason(t *testing.T) {
	repo := NewSQLiteRepository(testDB(t))
	now := time.Now()

	cmd := seedCommand(t, repo, "DEV1", `{}`, StatusQueued, now, now.Add(2*time.Minute))

	got, err := repo.MarkResult(context.Background(), cmd.ID, "DEV1", false, "relay jammed", now)
	if err != nil {
		t.Fatalf("MarkResult() error = %v", err)
	}
	if got.Status != StatusFailed {
		t.Errorf("Status = %s, want failed", got.Status)
	}
	if got.FailReason != "relay jammed" {
		t.Errorf("FailReason = %q, want recorded", got.FailReason)
	}
}

func TestMarkResult_UnknownPair(t *testing.T) {
	repo := NewSQLiteRepository(testDB(t))
	now := time.Now()

	cmd := seedCommand(t, repo, "DEV1", `{}`, StatusQueued, now, now.Add(2*time.Minute))

	// Unknown id and serial mismatch are both not-found; neither mutates.
	if _, err := repo.MarkResult(context.Background(), "no-such-id", "DEV1", true, "", now); !errors.Is(err, ErrNotFound) {
		t.Errorf("MarkResult() unknown id error = %v, want ErrNotFound", err)
	}
	if _, err := repo.MarkResult(context.Background(), cmd.ID, "DEV2", true, "", now); !errors.Is(err, ErrNotFound) {
		t.Errorf("MarkResult() wrong serial error = %v, want ErrNotFound", err)
	}
	requireStatus(t, repo, cmd.ID, StatusQueued)
}

func TestListForSerial_NewestFirst(t *testing.T) {
	repo := NewSQLiteRepository(testDB(t))
	now := time.Now()

	old := seedCommand(t, repo, "DEV1", `{}`, StatusQueued, now.Add(-time.Minute), now.Add(time.Minute))
	recent := seedCommand(t, repo, "DEV1", `{}`, StatusQueued, now, now.Add(2*time.Minute))

	list, err := repo.ListForSerial(context.Background(), "DEV1", 10)
	if err != nil {
		t.Fatalf("ListForSerial() error = %v", err)
	}
	if len(list) != 2 || list[0].ID != recent.ID || list[1].ID != old.ID {
		t.Fatalf("ListForSerial() should order newest first")
	}
}
