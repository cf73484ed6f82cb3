package tariff

import (
	"context"
	"testing"
	"time"

	"github.com/homeflux/homeflux/pkg/source"
	"github.com/homeflux/homeflux/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultParams() types.TariffParams {
	var s types.Settings
	s.Normalize()
	return s.Tariff
}

func TestPricesFormula(t *testing.T) {
	c := New(defaultParams())
	day := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)

	arr := make([]any, 24)
	for i := range arr {
		arr[i] = 100.0
	}
	st := source.State{Attributes: map[string]any{"prices": arr}}

	series := c.Prices(context.Background(), st, day)
	assert.Empty(t, series.Tags)

	// (100*1.1674 + 30 + 60 + 1.94) * 1.23 / 1000 with neutral multipliers
	want := (100*1.1674 + 30 + 60 + 1.94) * 1.23 / 1000
	for slot := 0; slot < types.SlotsPerDay; slot++ {
		assert.InDelta(t, want, series.EuroPerKWH[slot], 1e-12)
	}
}

func TestPricesHourExpansion(t *testing.T) {
	c := New(defaultParams())
	day := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)

	hours := map[string]any{}
	for h := 0; h < 24; h++ {
		hours[timeKey(h)] = float64(h * 10)
	}
	st := source.State{Attributes: map[string]any{"Today hours": hours}}

	series := c.Prices(context.Background(), st, day)
	require.Empty(t, series.Tags)

	// every slot inside an hour shares that hour's price
	for h := 0; h < 24; h++ {
		for q := 1; q < 4; q++ {
			assert.Equal(t, series.EuroPerKWH[h*4], series.EuroPerKWH[h*4+q], "hour %d quarter %d", h, q)
		}
	}
	assert.Greater(t, series.EuroPerKWH[40], series.EuroPerKWH[4])
}

func TestPricesFallback(t *testing.T) {
	c := New(defaultParams())
	day := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)

	t.Run("missing source", func(t *testing.T) {
		series := c.Prices(context.Background(), source.State{}, day)
		require.True(t, types.HasKind(series.Tags, types.ErrNoMarketPrice))

		want := (50*1.1674 + 30 + 60 + 1.94) * 1.23 / 1000
		for slot := 0; slot < types.SlotsPerDay; slot++ {
			assert.InDelta(t, want, series.EuroPerKWH[slot], 1e-12)
		}
	})

	t.Run("unsupported shape", func(t *testing.T) {
		st := source.State{Attributes: map[string]any{"prices": []any{1.0}}}
		series := c.Prices(context.Background(), st, day)
		assert.True(t, types.HasKind(series.Tags, types.ErrNoMarketPrice))
	})
}

func TestMultipliers(t *testing.T) {
	params := defaultParams()
	params.PeakMultiplier = 1.5
	params.OffPeakMultiplier = 0.8
	params.SummerAdjustment = 1.1
	c := New(params)

	arr := make([]any, 24)
	for i := range arr {
		arr[i] = 100.0
	}
	st := source.State{Attributes: map[string]any{"prices": arr}}

	winter := c.Prices(context.Background(), st, time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC))
	summer := c.Prices(context.Background(), st, time.Date(2025, 7, 15, 0, 0, 0, 0, time.UTC))

	base := (100*1.1674 + 30 + 60 + 1.94) * 1.23 / 1000
	// hour 12 is shoulder, hour 19 peak, hour 2 off-peak
	assert.InDelta(t, base, winter.EuroPerKWH[12*4], 1e-12)
	assert.InDelta(t, base*1.5, winter.EuroPerKWH[19*4], 1e-12)
	assert.InDelta(t, base*0.8, winter.EuroPerKWH[2*4], 1e-12)
	assert.InDelta(t, base*1.1, summer.EuroPerKWH[12*4], 1e-12)
}

func TestBreakdown(t *testing.T) {
	c := New(defaultParams())
	day := time.Date(2025, 7, 15, 0, 0, 0, 0, time.UTC)

	hours := map[string]any{timeKey(19): 80.0}
	st := source.State{Attributes: map[string]any{"Today hours": hours}}

	b := c.Breakdown(st, day, 19)
	assert.Equal(t, 80.0, b.MarketEuroPerMWH)
	assert.Equal(t, 1.23, b.VAT)
	assert.Equal(t, 1.0, b.TOU)
	assert.InDelta(t, (80*1.1674+30+60+1.94)*1.23/1000, b.FinalEuroPerKWH, 1e-12)

	// fallback market price flows into the breakdown too
	b = c.Breakdown(source.State{}, day, 19)
	assert.Equal(t, 50.0, b.MarketEuroPerMWH)
}

func timeKey(h int) string {
	return time.Date(2000, 1, 1, h, 0, 0, 0, time.UTC).Format("15:04")
}
