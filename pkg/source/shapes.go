package source

import (
	"fmt"
	"time"
)

// ShapeKind is the tagged variant of a recognized attribute shape.
type ShapeKind string

const (
	// ShapeDetailedForecast is a PV forecast list at 30-minute cadence.
	ShapeDetailedForecast ShapeKind = "detailedForecast"
	// ShapeDetailedHourly is a PV forecast list at hourly cadence.
	ShapeDetailedHourly ShapeKind = "detailedHourly"
	// ShapeHourlyMap is a market price map keyed "HH:00".
	ShapeHourlyMap ShapeKind = "hourlyMap"
	// ShapeArray24 is a market price array of 24 hourly values.
	ShapeArray24 ShapeKind = "array24"
	// ShapeMissing means the entity or the expected attribute was absent.
	ShapeMissing ShapeKind = "missing"
	// ShapeUnsupported means attributes were present but matched no
	// recognized shape.
	ShapeUnsupported ShapeKind = "unsupported"
)

// PVSample is one parsed PV forecast point.
type PVSample struct {
	PeriodStart time.Time
	KW          float64
}

// DecodePV resolves a PV entity state into typed samples. It recognizes the
// DetailedForecast and DetailedHourly list shapes, preferring the former.
// Entries that fail type or timestamp parsing are dropped and counted in
// malformed; range and ordering checks belong to the fuser.
func DecodePV(st State) (samples []PVSample, kind ShapeKind, malformed int) {
	if st.Attributes == nil {
		return nil, ShapeMissing, 0
	}

	raw, ok := st.Attributes["DetailedForecast"].([]any)
	kind = ShapeDetailedForecast
	if !ok || len(raw) == 0 {
		raw, ok = st.Attributes["DetailedHourly"].([]any)
		kind = ShapeDetailedHourly
	}
	if !ok || len(raw) == 0 {
		return nil, ShapeMissing, 0
	}

	samples = make([]PVSample, 0, len(raw))
	for _, item := range raw {
		entry, ok := item.(map[string]any)
		if !ok {
			malformed++
			continue
		}
		startStr, ok := entry["period_start"].(string)
		if !ok {
			malformed++
			continue
		}
		ts, err := time.Parse(time.RFC3339, startStr)
		if err != nil {
			malformed++
			continue
		}
		kw, ok := toFloat(entry["pv_estimate"])
		if !ok {
			malformed++
			continue
		}
		samples = append(samples, PVSample{PeriodStart: ts, KW: kw})
	}
	if len(samples) == 0 && malformed > 0 {
		return nil, ShapeUnsupported, malformed
	}
	return samples, kind, malformed
}

// DecodeMarket resolves a market price entity into 24 hourly EUR/MWh values.
// It recognizes a map keyed "HH:00" ("Today hours") and a plain 24-element
// "prices" array. Hours absent from the map keep a zero value.
func DecodeMarket(st State) (hourly [24]float64, kind ShapeKind) {
	if st.Attributes == nil {
		return hourly, ShapeMissing
	}

	if m, ok := st.Attributes["Today hours"].(map[string]any); ok && len(m) > 0 {
		matched := 0
		for h := 0; h < 24; h++ {
			v, ok := m[fmt.Sprintf("%02d:00", h)]
			if !ok {
				continue
			}
			f, ok := toFloat(v)
			if !ok {
				continue
			}
			hourly[h] = f
			matched++
		}
		if matched == 0 {
			return hourly, ShapeUnsupported
		}
		return hourly, ShapeHourlyMap
	}

	if arr, ok := st.Attributes["prices"].([]any); ok {
		if len(arr) != 24 {
			return hourly, ShapeUnsupported
		}
		for h, v := range arr {
			f, ok := toFloat(v)
			if !ok {
				return [24]float64{}, ShapeUnsupported
			}
			hourly[h] = f
		}
		return hourly, ShapeArray24
	}

	return hourly, ShapeMissing
}

// toFloat accepts the numeric types a JSON or YAML decoder may produce.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
