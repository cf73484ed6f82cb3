package types

// PvForecast is the fused 96-slot PV generation series in kW.
type PvForecast struct {
	KW   [SlotsPerDay]float64 `json:"kw"`
	Tags []ErrorKind          `json:"tags,omitempty"`
}

// Degraded reports whether a fallback was used to produce the forecast.
func (f PvForecast) Degraded() bool { return len(f.Tags) > 0 }

// LoadForecast is the 96-slot household load series in kW.
type LoadForecast struct {
	KW   [SlotsPerDay]float64 `json:"kw"`
	Tags []ErrorKind          `json:"tags,omitempty"`
}

// Degraded reports whether a fallback was used to produce the forecast.
func (f LoadForecast) Degraded() bool { return len(f.Tags) > 0 }

// PriceSeries is the 96-slot indexed-tariff price series in EUR/kWh.
type PriceSeries struct {
	EuroPerKWH [SlotsPerDay]float64 `json:"euroPerKWH"`
	Tags       []ErrorKind          `json:"tags,omitempty"`
}

// Degraded reports whether the fallback market price was used.
func (p PriceSeries) Degraded() bool { return len(p.Tags) > 0 }
