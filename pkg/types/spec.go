package types

import "fmt"

// ControlKind says how a device's activity genes are interpreted.
type ControlKind string

const (
	// ControlBinary devices are either fully on or fully off per slot.
	ControlBinary ControlKind = "binary"
	// ControlFractional devices accept an activity level in [0,1] per slot.
	ControlFractional ControlKind = "fractional"
)

// DeviceWindow constrains when a device may run and how much energy it must
// receive inside that window. Hours are local wall-clock hours of day; the
// window is [Earliest, Latest) and may not wrap midnight.
type DeviceWindow struct {
	EarliestHour      float64 `json:"earliestHour" yaml:"earliest_hour"`
	LatestHour        float64 `json:"latestHour" yaml:"latest_hour"`
	MinRuntimeMinutes int     `json:"minRuntimeMinutes,omitempty" yaml:"min_runtime_minutes"`
	RequiredEnergyKWH float64 `json:"requiredEnergyKWH,omitempty" yaml:"required_energy_kwh"`
}

// DeviceSpec describes one controllable load. Immutable after startup.
type DeviceSpec struct {
	ID       string        `json:"id" yaml:"id"`
	Name     string        `json:"name,omitempty" yaml:"name"`
	PowerKW  float64       `json:"powerKW" yaml:"power_kw"`
	Priority float64       `json:"priority" yaml:"priority"`
	Control  ControlKind   `json:"control" yaml:"control"`
	Window   *DeviceWindow `json:"window,omitempty" yaml:"window"`
}

// SlotMask returns, per slot, whether the device is allowed to run. Devices
// without a window may run in every slot. Window masking is the hard
// constraint: the optimizer never sets genes in masked-out slots.
func (d DeviceSpec) SlotMask() [SlotsPerDay]bool {
	var mask [SlotsPerDay]bool
	if d.Window == nil {
		for t := range mask {
			mask[t] = true
		}
		return mask
	}
	first := int(d.Window.EarliestHour * 4)
	last := int(d.Window.LatestHour * 4)
	for t := range mask {
		mask[t] = t >= first && t < last
	}
	return mask
}

// Validate checks the spec for physical sense.
func (d DeviceSpec) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("device missing id")
	}
	if d.PowerKW < 0 {
		return fmt.Errorf("device %s: power_kw must be >= 0", d.ID)
	}
	if d.Priority < 0 || d.Priority > 1 {
		return fmt.Errorf("device %s: priority must be in [0,1]", d.ID)
	}
	switch d.Control {
	case ControlBinary, ControlFractional:
	default:
		return fmt.Errorf("device %s: unknown control kind %q", d.ID, d.Control)
	}
	if w := d.Window; w != nil {
		if w.EarliestHour < 0 || w.LatestHour > 24 || w.EarliestHour >= w.LatestHour {
			return fmt.Errorf("device %s: window [%v,%v) is invalid", d.ID, w.EarliestHour, w.LatestHour)
		}
		if w.RequiredEnergyKWH < 0 {
			return fmt.Errorf("device %s: required_energy_kwh must be >= 0", d.ID)
		}
	}
	return nil
}

// BatterySpec describes the stationary battery. Immutable after startup.
// SOC values are fractions of capacity in [0,1].
type BatterySpec struct {
	CapacityKWH    float64 `json:"capacityKWH" yaml:"capacity_kwh"`
	MaxChargeKW    float64 `json:"maxChargeKW" yaml:"max_charge_kw"`
	MaxDischargeKW float64 `json:"maxDischargeKW" yaml:"max_discharge_kw"`
	RoundTripEff   float64 `json:"roundTripEff" yaml:"round_trip_eff"`
	SOCMin         float64 `json:"socMin" yaml:"soc_min"`
	SOCMax         float64 `json:"socMax" yaml:"soc_max"`
	InitialSOC     float64 `json:"initialSOC" yaml:"initial_soc"`
}

// Validate checks the spec for physical sense. A zero-capacity battery is
// valid: every command clamps to zero and the simulator still succeeds.
func (b BatterySpec) Validate() error {
	if b.CapacityKWH < 0 {
		return fmt.Errorf("battery: capacity_kwh must be >= 0")
	}
	if b.MaxChargeKW < 0 || b.MaxDischargeKW < 0 {
		return fmt.Errorf("battery: charge/discharge rates must be >= 0")
	}
	if b.RoundTripEff <= 0 || b.RoundTripEff > 1 {
		return fmt.Errorf("battery: round_trip_eff must be in (0,1]")
	}
	if b.SOCMin < 0 || b.SOCMax > 1 || b.SOCMin > b.SOCMax {
		return fmt.Errorf("battery: soc bounds [%v,%v] are invalid", b.SOCMin, b.SOCMax)
	}
	if b.InitialSOC < b.SOCMin || b.InitialSOC > b.SOCMax {
		return fmt.Errorf("battery: initial_soc %v outside [%v,%v]", b.InitialSOC, b.SOCMin, b.SOCMax)
	}
	return nil
}
