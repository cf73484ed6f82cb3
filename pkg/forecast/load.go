package forecast

import (
	"context"
	"log/slog"
	"math"

	"github.com/homeflux/homeflux/pkg/log"
	"github.com/homeflux/homeflux/pkg/source"
	"github.com/homeflux/homeflux/pkg/types"
)

// lastResortKW is the constant load assumed when neither history nor a
// template is configured.
const lastResortKW = 0.1

// templatePoint is one breakpoint of the piecewise-linear diurnal curve,
// positioned at a fractional hour of the day.
type templatePoint struct {
	hour float64
	kw   float64
}

// Template evaluates the diurnal load template at each slot center: flat
// night load until 06:00, a ramp peaking mid-morning, a flat daytime level,
// an evening ramp peaking around 19:30, and back to the night level by 22:00.
func Template(tpl types.LoadTemplate) [types.SlotsPerDay]float64 {
	points := []templatePoint{
		{0, tpl.NightKW},
		{6, tpl.NightKW},
		{7.5, tpl.MorningPeakKW},
		{9, tpl.DayKW},
		{17, tpl.DayKW},
		{19.5, tpl.EveningPeakKW},
		{22, tpl.NightKW},
		{24, tpl.NightKW},
	}

	var out [types.SlotsPerDay]float64
	for t := 0; t < types.SlotsPerDay; t++ {
		h := (float64(t) + 0.5) * types.SlotHours
		for i := 0; i+1 < len(points); i++ {
			if h < points[i].hour || h > points[i+1].hour {
				continue
			}
			w := (h - points[i].hour) / (points[i+1].hour - points[i].hour)
			out[t] = max((1-w)*points[i].kw+w*points[i+1].kw, 0)
			break
		}
	}
	return out
}

// SynthesizeLoad builds the 96-slot household load series. Recorder history
// samples are bucketed by slot with the most recent sample winning; slots
// without a sample take the template value. When history is unavailable the
// template alone is used, or a small constant when no template is configured
// either, and the result is tagged HistoryUnavailable.
func SynthesizeLoad(ctx context.Context, grid types.TimeGrid, samples []source.Sample, historyErr error, tpl types.LoadTemplate) types.LoadForecast {
	var out types.LoadForecast
	out.KW = Template(tpl)

	zeroTemplate := tpl == types.LoadTemplate{}
	if zeroTemplate {
		for t := range out.KW {
			out.KW[t] = lastResortKW
		}
	}

	if historyErr != nil || len(samples) == 0 {
		out.Tags = types.MergeKinds(out.Tags, types.ErrHistoryUnavailable)
		if historyErr != nil {
			log.Ctx(ctx).WarnContext(
				ctx,
				"load history unavailable, using diurnal template",
				slog.Any("error", historyErr),
			)
		}
		return out
	}

	var dropped int
	latest := make(map[int]source.Sample, types.SlotsPerDay)
	for _, s := range samples {
		if s.Value < 0 || math.IsNaN(s.Value) || math.IsInf(s.Value, 0) {
			dropped++
			continue
		}
		slot, ok := grid.SlotOf(s.TS)
		if !ok {
			// history window reaches into yesterday; bucket by time of day
			ts := s.TS.In(grid.T0().Location())
			slot = ts.Hour()*4 + ts.Minute()/types.SlotMinutes
		}
		prev, seen := latest[slot]
		if !seen || s.TS.After(prev.TS) {
			latest[slot] = s
		}
	}
	if dropped > 0 {
		log.Ctx(ctx).WarnContext(ctx, "dropped unparseable load samples", slog.Int("dropped", dropped))
	}
	for slot, s := range latest {
		out.KW[slot] = s.Value
	}
	return out
}
