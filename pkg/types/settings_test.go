package types

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettingsNormalize(t *testing.T) {
	var s Settings
	s.Normalize()

	assert.Equal(t, 100, s.PopulationSize)
	assert.Equal(t, 200, s.GenerationsMax)
	assert.Equal(t, 0.8, s.PCrossover)
	assert.Equal(t, 0.05, s.PMutation)
	assert.Equal(t, 0.2, s.EliteFrac)
	assert.Equal(t, 20, s.StallGens)
	assert.Equal(t, 15, s.TickMinutes)
	assert.Equal(t, 10, s.TickBudgetSeconds)

	assert.Equal(t, 1.94, s.Tariff.MFRR)
	assert.Equal(t, 30.0, s.Tariff.Q)
	assert.Equal(t, 1.1674, s.Tariff.FP)
	assert.Equal(t, 60.0, s.Tariff.TAE)
	assert.Equal(t, 1.23, s.Tariff.VAT)
	assert.Equal(t, []int{18, 19, 20, 21}, s.Tariff.PeakHours)
	assert.Equal(t, 50.0, s.Tariff.FallbackEuroPerMWH)

	assert.Equal(t, 1.0, s.Weights.Cost)
	assert.Equal(t, 0.1, s.Weights.Cycles)
	assert.Equal(t, 0.0, s.Weights.ExportEuroPerKWH)

	assert.Equal(t, 0.2, s.Load.NightKW)
	assert.Equal(t, 3.0, s.Load.EveningPeakKW)

	require.NoError(t, s.Validate())
}

func TestSettingsValidate(t *testing.T) {
	valid := func() Settings {
		var s Settings
		s.Normalize()
		return s
	}

	t.Run("population too small", func(t *testing.T) {
		s := valid()
		s.PopulationSize = 5
		assert.ErrorContains(t, s.Validate(), "population_size")
	})

	t.Run("bad tick cadence", func(t *testing.T) {
		s := valid()
		s.TickMinutes = 7
		assert.ErrorContains(t, s.Validate(), "tick_minutes")
	})

	t.Run("bad battery soc bounds", func(t *testing.T) {
		s := valid()
		s.Battery.SOCMin = 0.9
		s.Battery.SOCMax = 0.2
		assert.ErrorContains(t, s.Validate(), "soc bounds")
	})

	t.Run("duplicate device id", func(t *testing.T) {
		s := valid()
		s.Devices = []DeviceSpec{
			{ID: "heater", PowerKW: 1, Control: ControlBinary},
			{ID: "heater", PowerKW: 2, Control: ControlBinary},
		}
		assert.ErrorContains(t, s.Validate(), "duplicate device id")
	})

	t.Run("bad device window", func(t *testing.T) {
		s := valid()
		s.Devices = []DeviceSpec{{
			ID: "ev", PowerKW: 7, Control: ControlBinary,
			Window: &DeviceWindow{EarliestHour: 20, LatestHour: 6},
		}}
		assert.ErrorContains(t, s.Validate(), "window")
	})
}

func TestLoadSettings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "site.yaml")
	data := `
population_size: 40
tick_minutes: 30
battery:
  capacity_kwh: 10
  max_charge_kw: 2
  max_discharge_kw: 2
  round_trip_eff: 0.95
  soc_min: 0.1
  soc_max: 0.9
  initial_soc: 0.5
devices:
  - id: water_heater
    power_kw: 1.5
    priority: 0.8
    window:
      earliest_hour: 16
      latest_hour: 23
      required_energy_kwh: 2
tariff:
  peak_multiplier: 1.2
weights:
  export_euro_per_kwh: 0.05
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	s, err := LoadSettings(path)
	require.NoError(t, err)

	assert.Equal(t, 40, s.PopulationSize)
	assert.Equal(t, 30, s.TickMinutes)
	assert.Equal(t, 10.0, s.Battery.CapacityKWH)
	assert.Equal(t, 0.95, s.Battery.RoundTripEff)
	require.Len(t, s.Devices, 1)
	assert.Equal(t, "water_heater", s.Devices[0].ID)
	// defaults still applied
	assert.Equal(t, ControlBinary, s.Devices[0].Control)
	assert.Equal(t, 1.2, s.Tariff.PeakMultiplier)
	assert.Equal(t, 1.0, s.Tariff.OffPeakMultiplier)
	assert.Equal(t, 0.05, s.Weights.ExportEuroPerKWH)
	require.NotNil(t, s.Devices[0].Window)
	assert.Equal(t, 2.0, s.Devices[0].Window.RequiredEnergyKWH)
}

func TestLoadSettingsMissingFile(t *testing.T) {
	_, err := LoadSettings("/does/not/exist.yaml")
	assert.Error(t, err)
}

func TestDeviceSlotMask(t *testing.T) {
	t.Run("no window allows all slots", func(t *testing.T) {
		d := DeviceSpec{ID: "d", Control: ControlBinary}
		mask := d.SlotMask()
		for tt := 0; tt < SlotsPerDay; tt++ {
			assert.True(t, mask[tt])
		}
	})

	t.Run("window masks outside slots", func(t *testing.T) {
		d := DeviceSpec{
			ID: "d", Control: ControlBinary,
			Window: &DeviceWindow{EarliestHour: 16, LatestHour: 23},
		}
		mask := d.SlotMask()
		assert.False(t, mask[16*4-1])
		assert.True(t, mask[16*4])
		assert.True(t, mask[23*4-1])
		assert.False(t, mask[23*4])
	})
}
