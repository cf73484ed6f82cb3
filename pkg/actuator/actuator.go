// Package actuator publishes committed plan slots to the devices. Publishing
// is idempotent: re-sending the same commands leaves the home in the same
// state.
package actuator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/homeflux/homeflux/pkg/log"
	"github.com/homeflux/homeflux/pkg/source"
	"github.com/homeflux/homeflux/pkg/types"
	"github.com/levenlabs/go-lflag"
)

// Sink receives the committed first slot of a plan.
type Sink interface {
	PublishPlan(ctx context.Context, plan types.Plan) error
}

// HomeAssistant publishes plans as service calls against the same instance
// the sources read from.
type HomeAssistant struct {
	conn          *source.HomeAssistant
	batteryEntity string
}

var _ Sink = (*HomeAssistant)(nil)

// Configured sets up the actuator via flags, reusing the source connection.
func Configured(conn *source.HomeAssistant) *HomeAssistant {
	h := &HomeAssistant{conn: conn}
	batteryEntity := lflag.String("battery-setpoint-entity", "", "Entity that accepts the battery power setpoint in kW; empty disables battery control")

	lflag.Do(func() {
		h.batteryEntity = *batteryEntity
	})

	return h
}

// NewHomeAssistant returns an actuator with an explicit configuration,
// bypassing flags.
func NewHomeAssistant(conn *source.HomeAssistant, batteryEntity string) *HomeAssistant {
	return &HomeAssistant{conn: conn, batteryEntity: batteryEntity}
}

// PublishPlan sends every device's first-slot command and the battery power
// setpoint. Devices publish in ID order so failures are reproducible. The
// first failed call aborts the publish; the caller retries on a later tick.
func (h *HomeAssistant) PublishPlan(ctx context.Context, plan types.Plan) error {
	ids := make([]string, 0, len(plan.Devices))
	for id := range plan.Devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		cmd := plan.Devices[id]
		if err := h.publishDevice(ctx, id, cmd); err != nil {
			return fmt.Errorf("failed to publish device %s: %w", id, err)
		}
	}

	if h.batteryEntity != "" {
		err := h.conn.CallService(ctx, "number", "set_value", map[string]any{
			"entity_id": h.batteryEntity,
			"value":     plan.BatteryKW,
		})
		if err != nil {
			return fmt.Errorf("failed to publish battery setpoint: %w", err)
		}
	}

	log.Ctx(ctx).DebugContext(
		ctx,
		"published plan",
		slog.Time("tickTS", plan.TickTS),
		slog.Int("devices", len(ids)),
		slog.Float64("batteryKW", plan.BatteryKW),
	)
	return nil
}

// publishDevice maps a command to the entity's service domain: number
// entities take the fractional level as a percentage, everything else is
// switched on or off.
func (h *HomeAssistant) publishDevice(ctx context.Context, id string, cmd types.DeviceCommand) error {
	if strings.HasPrefix(id, "number.") {
		return h.conn.CallService(ctx, "number", "set_value", map[string]any{
			"entity_id": id,
			"value":     cmd.Fraction * 100,
		})
	}
	service := "turn_off"
	if cmd.On {
		service = "turn_on"
	}
	domain := "switch"
	if i := strings.IndexByte(id, '.'); i > 0 {
		domain = id[:i]
	}
	return h.conn.CallService(ctx, domain, service, map[string]any{"entity_id": id})
}
