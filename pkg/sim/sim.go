// Package sim evaluates candidate schedules against the day's forecasts. The
// simulator is deterministic and pure: identical inputs produce identical
// results, which the optimizer relies on for reproducibility.
package sim

import (
	"math"

	"github.com/homeflux/homeflux/pkg/types"
)

const (
	// socClampPenalty is added for every slot whose battery command had to be
	// truncated by the SOC bounds.
	socClampPenalty = 0.1
	// shortfallPenaltyWeight scales the quadratic penalty on unmet windowed
	// device energy. Large enough that any feasible plan beats an infeasible
	// one on typical-day costs.
	shortfallPenaltyWeight = 100.0
)

// Inputs bundles everything a candidate is evaluated against. Build it once
// per optimization run; the per-device window masks are precomputed here so
// the hot path stays allocation-free.
type Inputs struct {
	PV      [types.SlotsPerDay]float64
	Load    [types.SlotsPerDay]float64
	Price   [types.SlotsPerDay]float64
	Battery types.BatterySpec
	Devices []types.DeviceSpec
	Weights types.Weights

	masks [][types.SlotsPerDay]bool
}

// NewInputs assembles evaluation inputs from the refreshed forecasts.
func NewInputs(pv types.PvForecast, load types.LoadForecast, price types.PriceSeries, battery types.BatterySpec, devices []types.DeviceSpec, weights types.Weights) *Inputs {
	in := &Inputs{
		PV:      pv.KW,
		Load:    load.KW,
		Price:   price.EuroPerKWH,
		Battery: battery,
		Devices: devices,
		Weights: weights,
		masks:   make([][types.SlotsPerDay]bool, len(devices)),
	}
	for d, dev := range devices {
		in.masks[d] = dev.SlotMask()
	}
	return in
}

// Mask returns the precomputed window mask for device d.
func (in *Inputs) Mask(d int) [types.SlotsPerDay]bool {
	return in.masks[d]
}

// Result is the outcome of simulating one candidate. Fitness is the scalar
// the optimizer maximizes; the remaining fields exist for observability.
type Result struct {
	EnergyCost    float64 `json:"energyCost"`
	GridImportKWH float64 `json:"gridImportKWH"`
	GridExportKWH float64 `json:"gridExportKWH"`
	CycleDepth    float64 `json:"cycleDepth"`
	Penalty       float64 `json:"penalty"`
	PeakImportKW  float64 `json:"peakImportKW"`
	Fitness       float64 `json:"fitness"`
	Infeasible    bool    `json:"infeasible"`

	// SOC holds the state-of-charge trajectory, one entry per slot boundary.
	SOC [types.SlotsPerDay + 1]float64 `json:"-"`
}

// Evaluate simulates one candidate slot by slot. deviceGenes is row-major,
// one 96-gene row per device in Inputs order; batteryGenes is the 96-slot
// battery power command in kW, positive for charge.
func Evaluate(in *Inputs, deviceGenes, batteryGenes []float64) Result {
	var r Result
	bat := in.Battery

	soc := bat.InitialSOC
	r.SOC[0] = soc
	minSOC, maxSOC := soc, soc

	for t := 0; t < types.SlotsPerDay; t++ {
		var deviceLoad float64
		for d := range in.Devices {
			x := deviceGenes[d*types.SlotsPerDay+t]
			if !in.masks[d][t] {
				x = 0
			}
			deviceLoad += x * in.Devices[d].PowerKW
		}

		netBefore := in.PV[t] - (in.Load[t] + deviceLoad)

		b := batteryGenes[t]
		if bat.CapacityKWH <= 0 {
			if b != 0 {
				r.Penalty += socClampPenalty
			}
			b = 0
		} else {
			if b > bat.MaxChargeKW {
				b = bat.MaxChargeKW
			} else if b < -bat.MaxDischargeKW {
				b = -bat.MaxDischargeKW
			}
			delta := b * types.SlotHours / bat.CapacityKWH
			if b >= 0 {
				delta *= bat.RoundTripEff
			}
			next := soc + delta
			if next > bat.SOCMax {
				next = bat.SOCMax
				r.Penalty += socClampPenalty
			} else if next < bat.SOCMin {
				next = bat.SOCMin
				r.Penalty += socClampPenalty
			}
			soc = next
		}
		r.SOC[t+1] = soc
		if soc < minSOC {
			minSOC = soc
		}
		if soc > maxSOC {
			maxSOC = soc
		}

		netAfter := netBefore - b
		imp := math.Max(0, -netAfter)
		exp := math.Max(0, netAfter)
		r.GridImportKWH += imp * types.SlotHours
		r.GridExportKWH += exp * types.SlotHours
		r.EnergyCost += imp*in.Price[t]*types.SlotHours - exp*in.Weights.ExportEuroPerKWH*types.SlotHours
		if imp > r.PeakImportKW {
			r.PeakImportKW = imp
		}
	}

	for d, dev := range in.Devices {
		if dev.Window == nil || dev.Window.RequiredEnergyKWH <= 0 {
			continue
		}
		var energy float64
		for t := 0; t < types.SlotsPerDay; t++ {
			if !in.masks[d][t] {
				continue
			}
			energy += deviceGenes[d*types.SlotsPerDay+t] * dev.PowerKW * types.SlotHours
		}
		if shortfall := dev.Window.RequiredEnergyKWH - energy; shortfall > 0 {
			r.Penalty += shortfallPenaltyWeight * shortfall * shortfall
			r.Infeasible = true
		}
	}

	r.CycleDepth = maxSOC - minSOC

	w := in.Weights
	r.Fitness = -(w.Cost*r.EnergyCost + w.Penalty*r.Penalty + w.Cycles*r.CycleDepth + w.Peak*r.PeakImportKW)
	if math.IsNaN(r.Fitness) || math.IsInf(r.Fitness, 0) {
		r.Fitness = math.Inf(-1)
	}
	return r
}
