package command

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/itechmarine/helm-core/internal/infrastructure/logging"
)

// Poll batch bounds. The clamp protects response payload size and device
// memory on small embedded units.
const (
	pollMin = 1
	pollMax = 32
)

// Gateway is the HTTP poll/ack fallback transport for devices without a
// persistent broker link.
type Gateway struct {
	commands    Repository
	devices     DeviceStore
	reconciler  *Reconciler
	pollDefault int
	pollCap     int
	log         *logging.Logger
}

// NewGateway creates a poll/ack gateway. pollDefault applies when a
// device polls without a max; pollCap bounds every poll and is itself
// clamped to [1, 32].
func NewGateway(commands Repository, devices DeviceStore, reconciler *Reconciler, pollDefault, pollCap int, log *logging.Logger) *Gateway {
	if pollCap < pollMin || pollCap > pollMax {
		pollCap = pollMax
	}
	if pollDefault < pollMin || pollDefault > pollCap {
		pollDefault = pollCap
	}
	return &Gateway{
		commands:    commands,
		devices:     devices,
		reconciler:  reconciler,
		pollDefault: pollDefault,
		pollCap:     pollCap,
		log:         log,
	}
}

// Poll returns the pending wire envelopes for a serial, oldest first.
// max <= 0 means "use the default batch size". An empty result is normal,
// not an error; devices treat empty and non-empty responses uniformly.
//
// A poll is also a liveness signal, so the device's last_seen is stamped
// as a side effect.
func (g *Gateway) Poll(ctx context.Context, serial string, max int) ([]json.RawMessage, error) {
	serial = strings.TrimSpace(serial)
	if serial == "" {
		return nil, ErrEmptySerial
	}

	if max <= 0 {
		max = g.pollDefault
	}
	if max > g.pollCap {
		max = g.pollCap
	}

	now := time.Now()
	batch, err := g.commands.PollPending(ctx, serial, max, now)
	if err != nil {
		return nil, err
	}

	if err := g.devices.TouchLastSeen(ctx, serial, now); err != nil {
		g.log.Warn("updating last_seen on poll", "serial", serial, "error", err)
	}

	envelopes := make([]json.RawMessage, 0, len(batch))
	for i := range batch {
		envelope, err := batch[i].Envelope()
		if err != nil {
			// A stored payload that fails to render should never happen;
			// skip it rather than wedge the whole batch.
			g.log.Error("rendering stored envelope", "command_id", batch[i].ID, "error", err)
			continue
		}
		envelopes = append(envelopes, envelope)
	}

	return envelopes, nil
}

// Ack reports a device's outcome for one command. The serial must match
// the command's routing serial; mismatches and unknown ids return
// ErrNotFound with no state mutated.
func (g *Gateway) Ack(ctx context.Context, serial, id string, ok bool, reason string) (*Command, error) {
	serial = strings.TrimSpace(serial)
	id = strings.TrimSpace(id)
	if serial == "" || id == "" {
		return nil, ErrNotFound
	}

	return g.reconciler.Ack(ctx, serial, id, ok, reason)
}
