package command

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/itechmarine/helm-core/internal/device"
	"github.com/itechmarine/helm-core/internal/infrastructure/logging"
	"github.com/itechmarine/helm-core/internal/infrastructure/mqtt"
)

// Publisher is the narrow broker capability the dispatcher needs.
// *mqtt.Client satisfies it.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// DeviceStore is the slice of the device registry the queue touches.
// device.Repository satisfies it.
type DeviceStore interface {
	GetBySerial(ctx context.Context, serial string) (*device.Device, error)
	TouchLastSeen(ctx context.Context, serial string, at time.Time) error
	UpdateFirmware(ctx context.Context, id, firmware string) error
	UpsertChannelState(ctx context.Context, deviceID string, chNo int, isOn bool, at time.Time) error
}

// EventSink receives live events for UI subscribers. Implementations must
// not block; the queue fires and forgets.
type EventSink interface {
	DeviceEvent(serial, eventType string, data any)
}

// Dispatcher is the single entry point for submitting commands.
//
// Submit persists first, then attempts the broker push. A broker failure
// is not an error: the record stays queued and the poll gateway is the
// designed fallback, so callers must treat a returned command as
// accepted-for-delivery, never as delivered.
type Dispatcher struct {
	commands Repository
	devices  DeviceStore
	broker   Publisher
	topics   mqtt.Topics
	events   EventSink
	ttl      time.Duration
	log      *logging.Logger
}

// NewDispatcher creates a dispatcher. broker and events may be nil when
// the broker link or live updates are unavailable.
func NewDispatcher(commands Repository, devices DeviceStore, broker Publisher, topics mqtt.Topics, events EventSink, ttl time.Duration, log *logging.Logger) *Dispatcher {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &Dispatcher{
		commands: commands,
		devices:  devices,
		broker:   broker,
		topics:   topics,
		events:   events,
		ttl:      ttl,
		log:      log,
	}
}

// Submit queues a command for a device and attempts an immediate broker
// push. The returned command reflects the state after the push attempt:
// sent if the publish went out, queued if the broker was unavailable.
func (d *Dispatcher) Submit(ctx context.Context, serial string, payload json.RawMessage) (*Command, error) {
	serial = strings.TrimSpace(serial)
	if serial == "" {
		return nil, ErrEmptySerial
	}

	payload, err := validatePayload(payload)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	cmd := &Command{
		DeviceSerial: serial,
		Payload:      payload,
		Status:       StatusQueued,
		CreatedAt:    now,
		ExpiresAt:    now.Add(d.ttl),
	}

	// Unknown serials queue fine; the device may register later or only
	// ever speak over the poll path.
	if dev, err := d.devices.GetBySerial(ctx, serial); err == nil {
		cmd.DeviceID = &dev.ID
	} else if !errors.Is(err, device.ErrNotFound) {
		return nil, err
	}

	if err := d.commands.Create(ctx, cmd); err != nil {
		return nil, err
	}

	d.applyOptimisticState(ctx, cmd, now)

	d.publishBestEffort(ctx, cmd, now)

	if d.events != nil {
		d.events.DeviceEvent(serial, "command_submitted", cmd)
	}

	return cmd, nil
}

// publishBestEffort pushes the command over the broker link and promotes
// the record to sent on success. Failures leave the record queued for the
// poll fallback and are never surfaced to the caller.
func (d *Dispatcher) publishBestEffort(ctx context.Context, cmd *Command, now time.Time) {
	if d.broker == nil {
		return
	}

	envelope, err := cmd.Envelope()
	if err != nil {
		d.log.Error("encoding command envelope", "command_id", cmd.ID, "error", err)
		return
	}

	if err := d.broker.Publish(d.topics.DeviceCommand(cmd.DeviceSerial), envelope, 1, false); err != nil {
		d.log.Debug("broker publish failed, leaving command queued",
			"command_id", cmd.ID, "serial", cmd.DeviceSerial, "error", err)
		return
	}

	sent, err := d.commands.MarkSent(ctx, cmd.ID, now)
	if err != nil {
		d.log.Error("marking command sent", "command_id", cmd.ID, "error", err)
		return
	}
	if sent {
		cmd.Status = StatusSent
		t := storedTime(now)
		cmd.SentAt = &t
	}
}

// applyOptimisticState peeks at the payload for a single {ch, state}
// document and writes the requested value as the channel's state ahead of
// confirmation. Whatever the device later reports overwrites this.
func (d *Dispatcher) applyOptimisticState(ctx context.Context, cmd *Command, now time.Time) {
	if cmd.DeviceID == nil {
		return
	}

	var req struct {
		Ch    *int `json:"ch"`
		State *int `json:"state"`
	}
	if err := json.Unmarshal(cmd.Payload, &req); err != nil || req.Ch == nil || req.State == nil {
		return
	}

	if err := d.devices.UpsertChannelState(ctx, *cmd.DeviceID, *req.Ch, *req.State != 0, now); err != nil {
		d.log.Warn("optimistic channel update failed",
			"serial", cmd.DeviceSerial, "ch", *req.Ch, "error", err)
	}
}
