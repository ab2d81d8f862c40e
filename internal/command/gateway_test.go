package command

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestGateway_RoundTrip(t *testing.T) {
	q := newTestQueue(t)
	q.seedDevice(t, "DEV1")
	q.broker.failAll = true // push path down, poll fallback carries it

	submitted, err := q.dispatcher.Submit(context.Background(), "DEV1", json.RawMessage(`{"ch":3,"state":1}`))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	envelopes, err := q.gateway.Poll(context.Background(), "DEV1", 0)
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if len(envelopes) != 1 {
		t.Fatalf("Poll() returned %d envelopes, want 1", len(envelopes))
	}

	fields := envelopeFields(t, envelopes[0])
	if fields["id"] != submitted.ID {
		t.Errorf("envelope id = %v, want %s", fields["id"], submitted.ID)
	}
	if fields["ch"] != float64(3) || fields["state"] != float64(1) {
		t.Errorf("envelope payload = %v, want submitted fields", fields)
	}
	requireStatus(t, q.commands, submitted.ID, StatusSentHTTP)

	// The scenario end-to-end: ack ok, then a contradictory re-ack.
	acked, err := q.gateway.Ack(context.Background(), "DEV1", submitted.ID, true, "")
	if err != nil {
		t.Fatalf("Ack() error = %v", err)
	}
	if acked.Status != StatusDelivered {
		t.Errorf("Status = %s after ack, want delivered", acked.Status)
	}

	reacked, err := q.gateway.Ack(context.Background(), "DEV1", submitted.ID, false, "too late")
	if err != nil {
		t.Fatalf("Ack() re-ack error = %v, want idempotent success", err)
	}
	if reacked.Status != StatusDelivered {
		t.Errorf("re-ack moved status to %s; delivered must stick", reacked.Status)
	}
	requireStatus(t, q.commands, submitted.ID, StatusDelivered)
}

func TestGateway_Poll_Empty(t *testing.T) {
	q := newTestQueue(t)
	q.seedDevice(t, "DEV1")

	envelopes, err := q.gateway.Poll(context.Background(), "DEV1", 0)
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if envelopes == nil || len(envelopes) != 0 {
		t.Errorf("Poll() = %v, want empty non-nil slice", envelopes)
	}
}

func TestGateway_Poll_ClampsMax(t *testing.T) {
	q := newTestQueue(t)
	now := time.Now()
	for i := 0; i < 20; i++ {
		seedCommand(t, q.commands, "DEV1", `{}`, StatusQueued,
			now.Add(time.Duration(i-20)*time.Second), now.Add(2*time.Minute))
	}

	// Gateway built with default 4, cap 16.
	envelopes, err := q.gateway.Poll(context.Background(), "DEV1", 0)
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if len(envelopes) != 4 {
		t.Errorf("Poll(max=0) = %d envelopes, want default 4", len(envelopes))
	}

	envelopes, err = q.gateway.Poll(context.Background(), "DEV1", 999)
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if len(envelopes) != 16 {
		t.Errorf("Poll(max=999) = %d envelopes, want cap 16", len(envelopes))
	}
}

func TestGateway_Poll_TouchesLastSeen(t *testing.T) {
	q := newTestQueue(t)
	dev := q.seedDevice(t, "DEV1")

	if _, err := q.gateway.Poll(context.Background(), "DEV1", 0); err != nil {
		t.Fatalf("Poll() error = %v", err)
	}

	got, err := q.devices.Get(context.Background(), dev.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.LastSeen == nil {
		t.Error("a poll is a liveness signal; LastSeen should be stamped")
	}
}

func TestGateway_Poll_EmptySerial(t *testing.T) {
	q := newTestQueue(t)

	if _, err := q.gateway.Poll(context.Background(), "  ", 0); !errors.Is(err, ErrEmptySerial) {
		t.Errorf("Poll() blank serial error = %v, want ErrEmptySerial", err)
	}
}

func TestGateway_Ack_UnknownSerial_NoMutation(t *testing.T) {
	q := newTestQueue(t)
	now := time.Now()
	cmd := seedCommand(t, q.commands, "DEV1", `{}`, StatusQueued, now, now.Add(2*time.Minute))

	if _, err := q.gateway.Ack(context.Background(), "unknown-serial", "any-id", true, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("Ack() unknown serial error = %v, want ErrNotFound", err)
	}
	if _, err := q.gateway.Ack(context.Background(), "unknown-serial", cmd.ID, true, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("Ack() serial mismatch error = %v, want ErrNotFound", err)
	}
	requireStatus(t, q.commands, cmd.ID, StatusQueued)
}

func TestGateway_AtLeastOnce_BothTransports(t *testing.T) {
	q := newTestQueue(t)
	q.seedDevice(t, "DEV1")

	// Broker publish succeeds, and the device polls anyway: the same
	// command rides both transports.
	submitted, err := q.dispatcher.Submit(context.Background(), "DEV1", json.RawMessage(`{"ch":1,"state":1}`))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	requireStatus(t, q.commands, submitted.ID, StatusSent)

	envelopes, err := q.gateway.Poll(context.Background(), "DEV1", 0)
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if len(envelopes) != 1 {
		t.Fatalf("undelivered broker-sent command must still be polled, got %d", len(envelopes))
	}

	// Ack via the broker path; a later HTTP re-ack is a no-op.
	q.reconciler.HandleAckMessage(context.Background(), "DEV1", []byte(`{"id":"`+submitted.ID+`","ok":true}`))
	requireStatus(t, q.commands, submitted.ID, StatusDelivered)

	if _, err := q.gateway.Ack(context.Background(), "DEV1", submitted.ID, true, ""); err != nil {
		t.Fatalf("Ack() after broker ack error = %v", err)
	}
	requireStatus(t, q.commands, submitted.ID, StatusDelivered)

	// Delivered commands leave the poll window.
	envelopes, err = q.gateway.Poll(context.Background(), "DEV1", 0)
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if len(envelopes) != 0 {
		t.Errorf("Poll() after delivery = %d envelopes, want 0", len(envelopes))
	}
}
