package types

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// TariffParams are the fixed regulatory components of the indexed tariff.
// All scalar components are in EUR/MWh except the multipliers.
type TariffParams struct {
	// MFRR is the frequency restoration reserve component.
	MFRR float64 `json:"mfrr" yaml:"mfrr"`
	// Q is the quality component.
	Q float64 `json:"q" yaml:"q"`
	// FP is the fixed percentage multiplier applied to the market price.
	FP float64 `json:"fp" yaml:"fp"`
	// TAE is the transmission and distribution tariff.
	TAE float64 `json:"tae" yaml:"tae"`
	// VAT is the value-added tax multiplier (1.23 = 23%).
	VAT float64 `json:"vat" yaml:"vat"`

	PeakHours          []int   `json:"peakHours" yaml:"peak_hours"`
	OffPeakHours       []int   `json:"offPeakHours" yaml:"off_peak_hours"`
	PeakMultiplier     float64 `json:"peakMultiplier" yaml:"peak_multiplier"`
	OffPeakMultiplier  float64 `json:"offPeakMultiplier" yaml:"off_peak_multiplier"`
	ShoulderMultiplier float64 `json:"shoulderMultiplier" yaml:"shoulder_multiplier"`

	SummerMonths     []int   `json:"summerMonths" yaml:"summer_months"`
	SummerAdjustment float64 `json:"summerAdjustment" yaml:"summer_adjustment"`
	WinterAdjustment float64 `json:"winterAdjustment" yaml:"winter_adjustment"`

	// FallbackEuroPerMWH is the constant market price used when no market
	// source is available.
	FallbackEuroPerMWH float64 `json:"fallbackEuroPerMWH" yaml:"fallback_euro_per_mwh"`
}

// Weights scale the fitness terms. Defaults are chosen so each term lands in
// comparable (single-digit euro) magnitude for a typical day.
type Weights struct {
	Cost    float64 `json:"cost" yaml:"cost"`
	Penalty float64 `json:"penalty" yaml:"penalty"`
	Cycles  float64 `json:"cycles" yaml:"cycles"`
	Peak    float64 `json:"peak" yaml:"peak"`
	// ExportEuroPerKWH is the feed-in credit for exported energy. Default 0;
	// the import tariff is never implicitly reused for export.
	ExportEuroPerKWH float64 `json:"exportEuroPerKWH" yaml:"export_euro_per_kwh"`
}

// LoadTemplate parameterizes the piecewise-linear diurnal load curve used
// when no recorder history is available.
type LoadTemplate struct {
	NightKW       float64 `json:"nightKW" yaml:"night_kw"`
	MorningPeakKW float64 `json:"morningPeakKW" yaml:"morning_peak_kw"`
	DayKW         float64 `json:"dayKW" yaml:"day_kw"`
	EveningPeakKW float64 `json:"eveningPeakKW" yaml:"evening_peak_kw"`
}

// Entities names the host-platform entities the scheduler reads.
type Entities struct {
	PVToday     string `json:"pvToday" yaml:"pv_today"`
	PVTomorrow  string `json:"pvTomorrow" yaml:"pv_tomorrow"`
	MarketPrice string `json:"marketPrice" yaml:"market_price"`
	LoadSensor  string `json:"loadSensor" yaml:"load_sensor"`
	BatterySOC  string `json:"batterySOC" yaml:"battery_soc"`
}

// Settings is the full site configuration. It is loaded once at startup and
// read-only afterwards; any reconfiguration restarts the scheduler and purges
// all caches.
type Settings struct {
	PopulationSize    int     `json:"populationSize" yaml:"population_size"`
	GenerationsMax    int     `json:"generationsMax" yaml:"generations_max"`
	PCrossover        float64 `json:"pCX" yaml:"p_cx"`
	PMutation         float64 `json:"pMut" yaml:"p_mut"`
	EliteFrac         float64 `json:"eliteFrac" yaml:"elite_frac"`
	StallGens         int     `json:"stallGens" yaml:"stall_gens"`
	EpsImprove        float64 `json:"epsImprove" yaml:"eps_improve"`
	TickMinutes       int     `json:"tickMinutes" yaml:"tick_minutes"`
	TickBudgetSeconds int     `json:"tickBudgetSeconds" yaml:"tick_budget_s"`
	Workers           int     `json:"workers" yaml:"workers"`
	// Seed for the optimizer PRNG. 0 means pick a random seed per run.
	Seed uint64 `json:"seed" yaml:"seed"`

	Battery  BatterySpec  `json:"battery" yaml:"battery"`
	Devices  []DeviceSpec `json:"devices" yaml:"devices"`
	Tariff   TariffParams `json:"tariff" yaml:"tariff"`
	Weights  Weights      `json:"weights" yaml:"weights"`
	Load     LoadTemplate `json:"loadTemplate" yaml:"load_template"`
	Entities Entities     `json:"entities" yaml:"entities"`
}

// LoadSettings reads and normalizes a YAML settings file.
func LoadSettings(path string) (Settings, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read settings file %s: %w", path, err)
	}
	var s Settings
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return Settings{}, fmt.Errorf("failed to parse settings file %s: %w", path, err)
	}
	s.Normalize()
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Normalize fills in defaults for zero-valued fields.
func (s *Settings) Normalize() {
	if s.PopulationSize == 0 {
		s.PopulationSize = 100
	}
	if s.GenerationsMax == 0 {
		s.GenerationsMax = 200
	}
	if s.PCrossover == 0 {
		s.PCrossover = 0.8
	}
	if s.PMutation == 0 {
		s.PMutation = 0.05
	}
	if s.EliteFrac == 0 {
		s.EliteFrac = 0.2
	}
	if s.StallGens == 0 {
		s.StallGens = 20
	}
	if s.EpsImprove == 0 {
		s.EpsImprove = 1e-9
	}
	if s.TickMinutes == 0 {
		s.TickMinutes = 15
	}
	if s.TickBudgetSeconds == 0 {
		s.TickBudgetSeconds = 10
	}
	if s.Battery.RoundTripEff == 0 {
		s.Battery.RoundTripEff = 0.95
	}
	if s.Battery.SOCMax == 0 {
		s.Battery.SOCMax = 1.0
	}
	for i := range s.Devices {
		if s.Devices[i].Control == "" {
			s.Devices[i].Control = ControlBinary
		}
	}

	t := &s.Tariff
	if t.MFRR == 0 {
		t.MFRR = 1.94
	}
	if t.Q == 0 {
		t.Q = 30.0
	}
	if t.FP == 0 {
		t.FP = 1.1674
	}
	if t.TAE == 0 {
		t.TAE = 60.0
	}
	if t.VAT == 0 {
		t.VAT = 1.23
	}
	if t.PeakHours == nil {
		t.PeakHours = []int{18, 19, 20, 21}
	}
	if t.OffPeakHours == nil {
		t.OffPeakHours = []int{0, 1, 2, 3, 4, 5, 6, 23}
	}
	if t.PeakMultiplier == 0 {
		t.PeakMultiplier = 1.0
	}
	if t.OffPeakMultiplier == 0 {
		t.OffPeakMultiplier = 1.0
	}
	if t.ShoulderMultiplier == 0 {
		t.ShoulderMultiplier = 1.0
	}
	if t.SummerMonths == nil {
		t.SummerMonths = []int{6, 7, 8, 9}
	}
	if t.SummerAdjustment == 0 {
		t.SummerAdjustment = 1.0
	}
	if t.WinterAdjustment == 0 {
		t.WinterAdjustment = 1.0
	}
	if t.FallbackEuroPerMWH == 0 {
		t.FallbackEuroPerMWH = 50.0
	}

	w := &s.Weights
	if w.Cost == 0 {
		w.Cost = 1.0
	}
	if w.Penalty == 0 {
		w.Penalty = 1.0
	}
	if w.Cycles == 0 {
		w.Cycles = 0.1
	}
	if w.Peak == 0 {
		w.Peak = 0.05
	}

	l := &s.Load
	if l.NightKW == 0 {
		l.NightKW = 0.2
	}
	if l.MorningPeakKW == 0 {
		l.MorningPeakKW = 1.5
	}
	if l.DayKW == 0 {
		l.DayKW = 0.5
	}
	if l.EveningPeakKW == 0 {
		l.EveningPeakKW = 3.0
	}
}

// Validate rejects settings outside the documented ranges.
func (s Settings) Validate() error {
	if s.PopulationSize < 10 {
		return fmt.Errorf("population_size must be >= 10, got %d", s.PopulationSize)
	}
	if s.GenerationsMax < 10 {
		return fmt.Errorf("generations_max must be >= 10, got %d", s.GenerationsMax)
	}
	if s.PCrossover < 0 || s.PCrossover > 1 {
		return fmt.Errorf("p_cx must be in [0,1], got %v", s.PCrossover)
	}
	if s.PMutation < 0 || s.PMutation > 1 {
		return fmt.Errorf("p_mut must be in [0,1], got %v", s.PMutation)
	}
	if s.EliteFrac < 0 || s.EliteFrac > 1 {
		return fmt.Errorf("elite_frac must be in [0,1], got %v", s.EliteFrac)
	}
	if s.StallGens < 1 {
		return fmt.Errorf("stall_gens must be >= 1, got %d", s.StallGens)
	}
	switch s.TickMinutes {
	case 5, 15, 30, 60:
	default:
		return fmt.Errorf("tick_minutes must be one of 5, 15, 30, 60, got %d", s.TickMinutes)
	}
	if s.TickBudgetSeconds < 1 {
		return fmt.Errorf("tick_budget_s must be >= 1, got %d", s.TickBudgetSeconds)
	}
	if err := s.Battery.Validate(); err != nil {
		return err
	}
	seen := make(map[string]bool, len(s.Devices))
	for _, d := range s.Devices {
		if err := d.Validate(); err != nil {
			return err
		}
		if seen[d.ID] {
			return fmt.Errorf("duplicate device id %q", d.ID)
		}
		seen[d.ID] = true
	}
	return nil
}
