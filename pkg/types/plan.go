package types

import "time"

// DeviceCommand is the committed first-slot state for one device.
type DeviceCommand struct {
	On bool `json:"on"`
	// Fraction is set only for fractional devices.
	Fraction float64 `json:"fraction,omitempty"`
}

// Horizon is the advisory remainder of the plan: the full 96-slot schedule
// the optimizer found. Future ticks recompute it; only the first slot is a
// commitment.
type Horizon struct {
	SlotStart time.Time            `json:"slotStart"`
	Devices   map[string][]float64 `json:"devices"`
	BatteryKW []float64            `json:"batteryKW"`
}

// Plan is the published output of one control tick.
type Plan struct {
	TickTS    time.Time                `json:"tickTS"`
	Devices   map[string]DeviceCommand `json:"devices"`
	BatteryKW float64                  `json:"batteryKW"`
	Horizon   Horizon                  `json:"horizon"`
}

// TickRecord is the per-tick observability record. It is persisted on a
// best-effort basis and is not required for correctness.
type TickRecord struct {
	TickTS             time.Time                `json:"tickTS"`
	BestFitness        float64                  `json:"bestFitness"`
	GenerationsRun     int                      `json:"generationsRun"`
	DegradedInputs     []ErrorKind              `json:"degradedInputs,omitempty"`
	Skipped            bool                     `json:"skipped,omitempty"`
	PublishedFirstSlot map[string]DeviceCommand `json:"publishedFirstSlot,omitempty"`
	PublishedBatteryKW float64                  `json:"publishedBatteryKW"`
}
