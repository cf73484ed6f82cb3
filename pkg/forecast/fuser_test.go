package forecast

import (
	"context"
	"testing"
	"time"

	"github.com/homeflux/homeflux/pkg/source"
	"github.com/homeflux/homeflux/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pvState(start time.Time, step time.Duration, kws ...float64) source.State {
	entries := make([]any, 0, len(kws))
	for i, kw := range kws {
		entries = append(entries, map[string]any{
			"period_start": start.Add(time.Duration(i) * step).Format(time.RFC3339),
			"pv_estimate":  kw,
		})
	}
	return source.State{Attributes: map[string]any{"DetailedForecast": entries}}
}

func TestFusePVIdentityOnSlotCenters(t *testing.T) {
	grid := types.NewTimeGrid(time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC))

	// samples every 15 minutes exactly at slot centers
	kws := make([]float64, types.SlotsPerDay)
	for i := range kws {
		kws[i] = float64(i) * 0.01
	}
	today := pvState(grid.SlotCenter(0), 15*time.Minute, kws...)

	got := FusePV(context.Background(), grid, today, source.State{})
	require.Empty(t, got.Tags)
	for slot := 0; slot < types.SlotsPerDay; slot++ {
		assert.InDelta(t, kws[slot], got.KW[slot], 1e-12, "slot %d", slot)
	}
}

func TestFusePVInterpolation(t *testing.T) {
	grid := types.NewTimeGrid(time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC))

	// 30-minute cadence straddling slot centers: centers at :07:30 and :37:30
	// sit exactly a quarter of the way between samples at :00 and :30
	today := pvState(grid.T0().Add(10*time.Hour), 30*time.Minute, 1.0, 2.0, 3.0)

	got := FusePV(context.Background(), grid, today, source.State{})
	require.Empty(t, got.Tags)

	// slot 40 covers 10:00-10:15, center 10:07:30, w = 0.25 between 1.0 and 2.0
	assert.InDelta(t, 1.25, got.KW[40], 1e-12)
	assert.InDelta(t, 1.75, got.KW[41], 1e-12)
	assert.InDelta(t, 2.25, got.KW[42], 1e-12)
	assert.InDelta(t, 2.75, got.KW[43], 1e-12)

	// outside coverage is zero
	assert.Zero(t, got.KW[0])
	assert.Zero(t, got.KW[95])
}

func TestFusePVTodayWinsOnDuplicates(t *testing.T) {
	grid := types.NewTimeGrid(time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC))
	start := grid.T0().Add(12 * time.Hour)

	today := pvState(start, 30*time.Minute, 2.0, 2.0, 2.0)
	tomorrow := pvState(start, 30*time.Minute, 9.0, 9.0, 9.0)

	got := FusePV(context.Background(), grid, today, tomorrow)
	require.Empty(t, got.Tags)
	// slot 48 center 12:07:30 interpolates between today's samples only
	assert.InDelta(t, 2.0, got.KW[48], 1e-12)
}

func TestFusePVMalformed(t *testing.T) {
	grid := types.NewTimeGrid(time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC))
	start := grid.T0().Add(10 * time.Hour)

	t.Run("negative samples dropped", func(t *testing.T) {
		today := pvState(start, 30*time.Minute, 1.0, -5.0, 1.0)
		got := FusePV(context.Background(), grid, today, source.State{})
		assert.True(t, types.HasKind(got.Tags, types.ErrMalformedSample))
		for _, kw := range got.KW {
			assert.GreaterOrEqual(t, kw, 0.0)
		}
	})

	t.Run("non-monotone samples dropped", func(t *testing.T) {
		entries := []any{
			map[string]any{"period_start": start.Format(time.RFC3339), "pv_estimate": 1.0},
			map[string]any{"period_start": start.Add(-time.Hour).Format(time.RFC3339), "pv_estimate": 7.0},
			map[string]any{"period_start": start.Add(30 * time.Minute).Format(time.RFC3339), "pv_estimate": 1.0},
		}
		today := source.State{Attributes: map[string]any{"DetailedForecast": entries}}
		got := FusePV(context.Background(), grid, today, source.State{})
		assert.True(t, types.HasKind(got.Tags, types.ErrMalformedSample))
		assert.InDelta(t, 1.0, got.KW[40], 1e-12)
	})
}

func TestFusePVBothEmpty(t *testing.T) {
	grid := types.NewTimeGrid(time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC))

	got := FusePV(context.Background(), grid, source.State{}, source.State{})
	assert.True(t, types.HasKind(got.Tags, types.ErrNoPvData))
	assert.Equal(t, [types.SlotsPerDay]float64{}, got.KW)
}
