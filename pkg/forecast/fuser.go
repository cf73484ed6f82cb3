// Package forecast produces the 96-slot PV and household-load series the
// optimizer consumes. Both producers are total: missing or malformed inputs
// degrade to documented fallbacks and tag the result instead of failing.
package forecast

import (
	"context"
	"log/slog"
	"sort"

	"github.com/homeflux/homeflux/pkg/log"
	"github.com/homeflux/homeflux/pkg/source"
	"github.com/homeflux/homeflux/pkg/types"
)

// FusePV merges the today and tomorrow PV forecast entities into one 96-slot
// kW series on the grid. Samples are validated, sorted, de-duplicated with the
// today source winning on exact timestamp ties, and linearly interpolated at
// slot centers. Slots outside the fused coverage are zero.
func FusePV(ctx context.Context, grid types.TimeGrid, today, tomorrow source.State) types.PvForecast {
	var out types.PvForecast

	todaySamples, todayKind, todayBad := cleanPV(today)
	tomorrowSamples, tomorrowKind, tomorrowBad := cleanPV(tomorrow)

	if todayKind == source.ShapeUnsupported || tomorrowKind == source.ShapeUnsupported {
		out.Tags = types.MergeKinds(out.Tags, types.ErrUnsupportedShape)
	}
	if todayBad+tomorrowBad > 0 {
		out.Tags = types.MergeKinds(out.Tags, types.ErrMalformedSample)
		log.Ctx(ctx).WarnContext(
			ctx,
			"dropped malformed pv samples",
			slog.Int("today", todayBad),
			slog.Int("tomorrow", tomorrowBad),
		)
	}

	// tomorrow first so today overwrites exact-timestamp duplicates
	merged := make(map[int64]source.PVSample, len(todaySamples)+len(tomorrowSamples))
	for _, s := range tomorrowSamples {
		merged[s.PeriodStart.UnixNano()] = s
	}
	for _, s := range todaySamples {
		merged[s.PeriodStart.UnixNano()] = s
	}
	if len(merged) == 0 {
		out.Tags = types.MergeKinds(out.Tags, types.ErrNoPvData)
		log.Ctx(ctx).WarnContext(ctx, "no pv forecast data, assuming zero generation")
		return out
	}

	samples := make([]source.PVSample, 0, len(merged))
	for _, s := range merged {
		samples = append(samples, s)
	}
	sort.Slice(samples, func(i, j int) bool {
		return samples[i].PeriodStart.Before(samples[j].PeriodStart)
	})

	first := samples[0].PeriodStart
	last := samples[len(samples)-1].PeriodStart
	for t := 0; t < types.SlotsPerDay; t++ {
		c := grid.SlotCenter(t)
		if c.Before(first) || c.After(last) {
			continue
		}
		if c.Equal(last) {
			out.KW[t] = max(samples[len(samples)-1].KW, 0)
			continue
		}
		i := sort.Search(len(samples), func(i int) bool {
			return samples[i].PeriodStart.After(c)
		}) - 1
		lo, hi := samples[i], samples[i+1]
		w := float64(c.Sub(lo.PeriodStart)) / float64(hi.PeriodStart.Sub(lo.PeriodStart))
		kw := (1-w)*lo.KW + w*hi.KW
		if kw < 0 {
			kw = 0
		}
		out.KW[t] = kw
	}
	return out
}

// cleanPV decodes one PV entity and drops samples that fail range or
// monotone-time checks, counting them as malformed.
func cleanPV(st source.State) ([]source.PVSample, source.ShapeKind, int) {
	samples, kind, malformed := source.DecodePV(st)
	kept := samples[:0]
	for _, s := range samples {
		if s.KW < 0 {
			malformed++
			continue
		}
		if len(kept) > 0 && !s.PeriodStart.After(kept[len(kept)-1].PeriodStart) {
			malformed++
			continue
		}
		kept = append(kept, s)
	}
	return kept, kind, malformed
}
