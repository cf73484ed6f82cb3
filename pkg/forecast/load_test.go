package forecast

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/homeflux/homeflux/pkg/source"
	"github.com/homeflux/homeflux/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultTemplate() types.LoadTemplate {
	var s types.Settings
	s.Normalize()
	return s.Load
}

func TestTemplate(t *testing.T) {
	tpl := defaultTemplate()
	curve := Template(tpl)

	// night slots sit at the night level
	assert.InDelta(t, 0.2, curve[8], 1e-12)   // 02:00
	assert.InDelta(t, 0.2, curve[92], 1e-12)  // 23:00
	assert.InDelta(t, 0.5, curve[48], 1e-12)  // 12:00 daytime
	assert.Greater(t, curve[30], curve[48])   // morning peak above daytime
	assert.Greater(t, curve[78], curve[48])   // evening ramp above daytime
	for slot, kw := range curve {
		assert.GreaterOrEqual(t, kw, 0.0, "slot %d", slot)
	}
}

func TestSynthesizeLoadFromHistory(t *testing.T) {
	grid := types.NewTimeGrid(time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC))
	tpl := defaultTemplate()

	slot10 := grid.SlotStart(40)
	samples := []source.Sample{
		{TS: slot10.Add(2 * time.Minute), Value: 1.1},
		{TS: slot10.Add(9 * time.Minute), Value: 2.2}, // most recent in slot 40 wins
		{TS: grid.SlotStart(50).Add(time.Minute), Value: 0.9},
		{TS: grid.SlotStart(51), Value: -3.0}, // dropped
	}

	got := SynthesizeLoad(context.Background(), grid, samples, nil, tpl)
	require.Empty(t, got.Tags)

	curve := Template(tpl)
	assert.Equal(t, 2.2, got.KW[40])
	assert.Equal(t, 0.9, got.KW[50])
	assert.Equal(t, curve[51], got.KW[51], "dropped sample leaves template value")
	assert.Equal(t, curve[0], got.KW[0], "unsampled slot takes template value")
}

func TestSynthesizeLoadYesterdaySamples(t *testing.T) {
	grid := types.NewTimeGrid(time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC))

	// a 24h window fetched at 08:00 includes yesterday evening; those bucket
	// by time of day
	yesterdayEvening := grid.T0().Add(-4 * time.Hour) // 20:00 yesterday
	got := SynthesizeLoad(context.Background(), grid, []source.Sample{
		{TS: yesterdayEvening, Value: 2.5},
	}, nil, defaultTemplate())

	require.Empty(t, got.Tags)
	assert.Equal(t, 2.5, got.KW[80])
}

func TestSynthesizeLoadFallbacks(t *testing.T) {
	grid := types.NewTimeGrid(time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC))
	tpl := defaultTemplate()

	t.Run("history error uses template", func(t *testing.T) {
		got := SynthesizeLoad(context.Background(), grid, nil, errors.New("recorder down"), tpl)
		assert.True(t, types.HasKind(got.Tags, types.ErrHistoryUnavailable))
		assert.Equal(t, Template(tpl), got.KW)
	})

	t.Run("empty history uses template", func(t *testing.T) {
		got := SynthesizeLoad(context.Background(), grid, nil, nil, tpl)
		assert.True(t, types.HasKind(got.Tags, types.ErrHistoryUnavailable))
		assert.Equal(t, Template(tpl), got.KW)
	})

	t.Run("no template either uses constant", func(t *testing.T) {
		got := SynthesizeLoad(context.Background(), grid, nil, nil, types.LoadTemplate{})
		assert.True(t, types.HasKind(got.Tags, types.ErrHistoryUnavailable))
		for _, kw := range got.KW {
			assert.Equal(t, 0.1, kw)
		}
	})
}
