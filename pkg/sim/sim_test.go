package sim

import (
	"math"
	"testing"

	"github.com/homeflux/homeflux/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flatSeries(v float64) [types.SlotsPerDay]float64 {
	var out [types.SlotsPerDay]float64
	for t := range out {
		out[t] = v
	}
	return out
}

func defaultWeights() types.Weights {
	var s types.Settings
	s.Normalize()
	return s.Weights
}

func TestEvaluateFlatImport(t *testing.T) {
	// no PV, flat 1 kW load, flat 0.20 EUR/kWh, no battery, no devices
	in := NewInputs(
		types.PvForecast{},
		types.LoadForecast{KW: flatSeries(1.0)},
		types.PriceSeries{EuroPerKWH: flatSeries(0.20)},
		types.BatterySpec{}, nil, defaultWeights(),
	)

	r := Evaluate(in, nil, make([]float64, types.SlotsPerDay))

	assert.InDelta(t, 24.0, r.GridImportKWH, 1e-9)
	assert.InDelta(t, 4.80, r.EnergyCost, 1e-9)
	assert.Zero(t, r.GridExportKWH)
	assert.Zero(t, r.Penalty)
	assert.InDelta(t, 1.0, r.PeakImportKW, 1e-12)
	assert.False(t, r.Infeasible)
}

func TestEvaluateBatteryStoresExcess(t *testing.T) {
	bat := types.BatterySpec{
		CapacityKWH:    10,
		MaxChargeKW:    2,
		MaxDischargeKW: 2,
		RoundTripEff:   0.95,
		SOCMin:         0.1,
		SOCMax:         0.9,
		InitialSOC:     0.5,
	}

	var pv [types.SlotsPerDay]float64
	for t := 32; t < 64; t++ {
		pv[t] = 3.0
	}
	in := NewInputs(
		types.PvForecast{KW: pv},
		types.LoadForecast{KW: flatSeries(0.5)},
		types.PriceSeries{EuroPerKWH: flatSeries(0.30)},
		bat, nil, defaultWeights(),
	)

	// charge at 2 kW whenever PV is up, discharge 2 kW in the evening
	genes := make([]float64, types.SlotsPerDay)
	for t := 32; t < 64; t++ {
		genes[t] = 2.0
	}
	for t := 72; t < 80; t++ {
		genes[t] = -2.0
	}

	r := Evaluate(in, nil, genes)

	// SOC bounds hold at every boundary
	for i, soc := range r.SOC {
		assert.GreaterOrEqual(t, soc, bat.SOCMin-1e-12, "boundary %d", i)
		assert.LessOrEqual(t, soc, bat.SOCMax+1e-12, "boundary %d", i)
	}

	// 32 slots of 2 kW charging at eta 0.95 overshoots the 0.9 cap from 0.5,
	// so the cap is reached and the clamps are penalized
	assert.InDelta(t, bat.SOCMax, r.SOC[64], 1e-9)
	assert.Greater(t, r.Penalty, 0.0)
	assert.Greater(t, r.CycleDepth, 0.0)

	// evening discharge pulls SOC back down and shrinks the import bill
	// relative to doing nothing with the battery
	idle := Evaluate(in, nil, make([]float64, types.SlotsPerDay))
	assert.Less(t, r.SOC[80], r.SOC[64])
	assert.Less(t, r.GridImportKWH, idle.GridImportKWH)
}

func TestEvaluateEnergyBalance(t *testing.T) {
	bat := types.BatterySpec{
		CapacityKWH:    10,
		MaxChargeKW:    2,
		MaxDischargeKW: 2,
		RoundTripEff:   0.95,
		SOCMin:         0.1,
		SOCMax:         0.9,
		InitialSOC:     0.5,
	}
	dev := types.DeviceSpec{ID: "wb", PowerKW: 1.5, Control: types.ControlBinary}

	var pv [types.SlotsPerDay]float64
	for t := 30; t < 70; t++ {
		pv[t] = 2.5
	}
	in := NewInputs(
		types.PvForecast{KW: pv},
		types.LoadForecast{KW: flatSeries(0.7)},
		types.PriceSeries{EuroPerKWH: flatSeries(0.25)},
		bat, []types.DeviceSpec{dev}, defaultWeights(),
	)

	deviceGenes := make([]float64, types.SlotsPerDay)
	batteryGenes := make([]float64, types.SlotsPerDay)
	for t := 0; t < types.SlotsPerDay; t++ {
		if t%3 == 0 {
			deviceGenes[t] = 1
		}
		batteryGenes[t] = float64(t%5-2) * 1.3 // exercises rate clamping
	}

	r := Evaluate(in, deviceGenes, batteryGenes)

	var imp, exp float64
	for t := 0; t < types.SlotsPerDay; t++ {
		b := batteryGenes[t]
		if b > bat.MaxChargeKW {
			b = bat.MaxChargeKW
		} else if b < -bat.MaxDischargeKW {
			b = -bat.MaxDischargeKW
		}
		net := pv[t] - (0.7 + deviceGenes[t]*1.5) - b
		if net >= 0 {
			exp += net * types.SlotHours
		} else {
			imp += -net * types.SlotHours
		}
	}
	assert.InDelta(t, imp, r.GridImportKWH, 1e-9)
	assert.InDelta(t, exp, r.GridExportKWH, 1e-9)
}

func TestEvaluateZeroCapacityBattery(t *testing.T) {
	in := NewInputs(
		types.PvForecast{},
		types.LoadForecast{KW: flatSeries(1.0)},
		types.PriceSeries{EuroPerKWH: flatSeries(0.20)},
		types.BatterySpec{}, nil, defaultWeights(),
	)

	genes := make([]float64, types.SlotsPerDay)
	for t := range genes {
		genes[t] = 5.0
	}
	r := Evaluate(in, nil, genes)

	// commands are forced to zero so the grid flows match a battery-less home
	assert.InDelta(t, 24.0, r.GridImportKWH, 1e-9)
	assert.Zero(t, r.CycleDepth)
	assert.Greater(t, r.Penalty, 0.0)
}

func TestEvaluateWindowShortfall(t *testing.T) {
	// 1 kW device, 2-hour window: at most 2 kWh possible, 5 required
	dev := types.DeviceSpec{
		ID:      "heater",
		PowerKW: 1.0,
		Control: types.ControlBinary,
		Window: &types.DeviceWindow{
			EarliestHour:      16,
			LatestHour:        18,
			RequiredEnergyKWH: 5,
		},
	}
	in := NewInputs(
		types.PvForecast{},
		types.LoadForecast{KW: flatSeries(0.5)},
		types.PriceSeries{EuroPerKWH: flatSeries(0.20)},
		types.BatterySpec{}, []types.DeviceSpec{dev}, defaultWeights(),
	)

	genes := make([]float64, types.SlotsPerDay)
	for t := 64; t < 72; t++ {
		genes[t] = 1 // full runtime inside the window
	}
	full := Evaluate(in, genes, make([]float64, types.SlotsPerDay))
	require.True(t, full.Infeasible)
	assert.InDelta(t, shortfallPenaltyWeight*9, full.Penalty, 1e-9) // shortfall 3 kWh

	empty := Evaluate(in, make([]float64, types.SlotsPerDay), make([]float64, types.SlotsPerDay))
	assert.Greater(t, full.Fitness, empty.Fitness, "maximizing runtime in the window beats idling")
}

func TestEvaluateMasksOutsideWindow(t *testing.T) {
	dev := types.DeviceSpec{
		ID:      "pump",
		PowerKW: 2.0,
		Control: types.ControlBinary,
		Window:  &types.DeviceWindow{EarliestHour: 10, LatestHour: 12},
	}
	in := NewInputs(
		types.PvForecast{},
		types.LoadForecast{},
		types.PriceSeries{EuroPerKWH: flatSeries(0.20)},
		types.BatterySpec{}, []types.DeviceSpec{dev}, defaultWeights(),
	)

	genes := make([]float64, types.SlotsPerDay)
	for t := range genes {
		genes[t] = 1
	}
	r := Evaluate(in, genes, make([]float64, types.SlotsPerDay))

	// only 2 hours of the 2 kW device can draw: 4 kWh
	assert.InDelta(t, 4.0, r.GridImportKWH, 1e-9)
}

func TestEvaluateNonFinite(t *testing.T) {
	in := NewInputs(
		types.PvForecast{},
		types.LoadForecast{KW: flatSeries(1.0)},
		types.PriceSeries{EuroPerKWH: flatSeries(math.Inf(1))},
		types.BatterySpec{}, nil, defaultWeights(),
	)
	r := Evaluate(in, nil, make([]float64, types.SlotsPerDay))
	assert.True(t, math.IsInf(r.Fitness, -1))
}
