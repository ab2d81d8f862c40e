package command

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/itechmarine/helm-core/internal/device"
	"github.com/itechmarine/helm-core/internal/infrastructure/logging"
	"github.com/itechmarine/helm-core/internal/infrastructure/mqtt"
)

// Telemetry is the slice of the time-series recorder the reconciler uses.
// *influxdb.Client satisfies it.
type Telemetry interface {
	WriteDeviceMessage(serial, kind string, payload []byte)
	WriteChannelState(serial string, chNo int, on bool)
}

// Subscriber is the broker capability the reconciler binds to.
// *mqtt.Client satisfies it.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// Reconciler owns the single idempotent ack path shared by both
// transports and folds unsolicited device status snapshots into stored
// channel state.
type Reconciler struct {
	commands  Repository
	devices   DeviceStore
	events    EventSink
	telemetry Telemetry
	log       *logging.Logger
}

// NewReconciler creates a reconciler. events and telemetry may be nil.
func NewReconciler(commands Repository, devices DeviceStore, events EventSink, telemetry Telemetry, log *logging.Logger) *Reconciler {
	return &Reconciler{
		commands:  commands,
		devices:   devices,
		events:    events,
		telemetry: telemetry,
		log:       log,
	}
}

// Ack applies an acknowledgement outcome to the (id, serial) pair. This
// is the one ack path: HTTP acks and broker ack events both land here.
// Re-acking a terminal command succeeds without changing anything; the
// first outcome sticks regardless of which transport reported it.
func (r *Reconciler) Ack(ctx context.Context, serial, id string, ok bool, reason string) (*Command, error) {
	cmd, err := r.commands.MarkResult(ctx, id, serial, ok, reason, time.Now())
	if err != nil {
		return nil, err
	}

	if r.events != nil {
		r.events.DeviceEvent(serial, "command_update", cmd)
	}
	return cmd, nil
}

// relayValue is one channel reading inside a status snapshot.
type relayValue struct {
	Ch    int `json:"ch"`
	State int `json:"state"`
}

// statusSnapshot is the shape devices publish on their status topic.
// The optional id lets a snapshot double as a delivery confirmation.
type statusSnapshot struct {
	ID       string       `json:"id,omitempty"`
	Firmware string       `json:"fw,omitempty"`
	Relays   []relayValue `json:"relays"`
}

// HandleStatus folds an unsolicited device status snapshot into stored
// channel state. Snapshots are authoritative: they overwrite whatever the
// optimistic submit-time write guessed. Malformed payloads are logged and
// swallowed; nothing on this path is allowed to fail the broker callback.
func (r *Reconciler) HandleStatus(ctx context.Context, serial string, payload []byte) {
	now := time.Now()

	if r.telemetry != nil {
		r.telemetry.WriteDeviceMessage(serial, "status", payload)
	}

	// Any message from the device is a liveness signal, parseable or not.
	if err := r.devices.TouchLastSeen(ctx, serial, now); err != nil {
		r.log.Warn("updating last_seen", "serial", serial, "error", err)
	}

	var snapshot statusSnapshot
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		r.log.Warn("malformed status snapshot", "serial", serial, "error", err)
		return
	}

	dev, err := r.devices.GetBySerial(ctx, serial)
	if err != nil {
		if errors.Is(err, device.ErrNotFound) {
			r.log.Info("status from unregistered serial", "serial", serial)
		} else {
			r.log.Error("resolving device", "serial", serial, "error", err)
		}
		dev = nil
	}

	if dev != nil {
		if snapshot.Firmware != "" && snapshot.Firmware != dev.Firmware {
			if err := r.devices.UpdateFirmware(ctx, dev.ID, snapshot.Firmware); err != nil {
				r.log.Warn("updating firmware", "serial", serial, "error", err)
			}
		}

		for _, relay := range snapshot.Relays {
			on := relay.State != 0
			if err := r.devices.UpsertChannelState(ctx, dev.ID, relay.Ch, on, now); err != nil {
				r.log.Warn("updating channel state",
					"serial", serial, "ch", relay.Ch, "error", err)
				continue
			}
			if r.telemetry != nil {
				r.telemetry.WriteChannelState(serial, relay.Ch, on)
			}
		}
	}

	// A snapshot that names a command id confirms delivery, best effort.
	if snapshot.ID != "" {
		if _, err := r.Ack(ctx, serial, snapshot.ID, true, ""); err != nil && !errors.Is(err, ErrNotFound) {
			r.log.Warn("closing command from status snapshot",
				"serial", serial, "command_id", snapshot.ID, "error", err)
		}
	}

	if r.events != nil {
		r.events.DeviceEvent(serial, "device_status", json.RawMessage(payload))
	}
}

// ackMessage is the shape devices publish on their ack topic.
type ackMessage struct {
	ID     string `json:"id"`
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// HandleAckMessage processes a broker ack event. Unknown (id, serial)
// pairs are logged, not errors: late acks after expiry and duplicate
// deliveries across transports both produce them in normal operation.
func (r *Reconciler) HandleAckMessage(ctx context.Context, serial string, payload []byte) {
	if r.telemetry != nil {
		r.telemetry.WriteDeviceMessage(serial, "ack", payload)
	}

	if err := r.devices.TouchLastSeen(ctx, serial, time.Now()); err != nil {
		r.log.Warn("updating last_seen", "serial", serial, "error", err)
	}

	var msg ackMessage
	if err := json.Unmarshal(payload, &msg); err != nil || msg.ID == "" {
		r.log.Warn("malformed ack message", "serial", serial, "error", err)
		return
	}

	if _, err := r.Ack(ctx, serial, msg.ID, msg.OK, msg.Reason); err != nil {
		if errors.Is(err, ErrNotFound) {
			r.log.Info("ack for unknown command", "serial", serial, "command_id", msg.ID)
			return
		}
		r.log.Error("applying broker ack", "serial", serial, "command_id", msg.ID, "error", err)
	}
}

// BindBroker subscribes the reconciler to the wildcard status and ack
// topics. Messages with unrecognised topic shapes are dropped silently.
func (r *Reconciler) BindBroker(client Subscriber, topics mqtt.Topics) error {
	handler := func(topic string, payload []byte) error {
		serial, kind, ok := topics.ParseDeviceTopic(topic)
		if !ok {
			return nil
		}

		ctx := context.Background()
		switch kind {
		case mqtt.KindStatus:
			r.HandleStatus(ctx, serial, payload)
		case mqtt.KindAck:
			r.HandleAckMessage(ctx, serial, payload)
		}
		return nil
	}

	if err := client.Subscribe(topics.AllDeviceStatus(), 1, handler); err != nil {
		return err
	}
	return client.Subscribe(topics.AllDeviceAcks(), 1, handler)
}
