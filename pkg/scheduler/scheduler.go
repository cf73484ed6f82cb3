// Package scheduler drives the control loop: every tick it refreshes the
// forecasts through the caches, runs the optimizer under a wall-clock budget,
// and publishes the best plan's first slot. A newer tick cancels an in-flight
// run; cancelled runs never publish.
package scheduler

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/homeflux/homeflux/pkg/actuator"
	"github.com/homeflux/homeflux/pkg/cache"
	"github.com/homeflux/homeflux/pkg/forecast"
	"github.com/homeflux/homeflux/pkg/log"
	"github.com/homeflux/homeflux/pkg/optimizer"
	"github.com/homeflux/homeflux/pkg/sim"
	"github.com/homeflux/homeflux/pkg/source"
	"github.com/homeflux/homeflux/pkg/storage"
	"github.com/homeflux/homeflux/pkg/tariff"
	"github.com/homeflux/homeflux/pkg/types"
	"github.com/levenlabs/go-lflag"
)

const (
	pvTTL       = 5 * time.Minute
	loadTTL     = 15 * time.Minute
	maxInterval = 60 * time.Minute
	// backoffAfter is the number of consecutive failed ticks before the
	// interval starts doubling.
	backoffAfter = 3
)

// Snapshot is the read-mostly state the API serves: the current plan and the
// inputs and metrics of the tick that produced it.
type Snapshot struct {
	Plan    types.Plan           `json:"plan"`
	Record  types.TickRecord     `json:"record"`
	Metrics optimizer.RunMetrics `json:"metrics"`
	PV      types.PvForecast     `json:"pv"`
	Load    types.LoadForecast   `json:"load"`
	Price   types.PriceSeries    `json:"price"`

	// Market is the raw market entity state behind Price, kept for the price
	// breakdown endpoint.
	Market source.State `json:"-"`
}

// Scheduler owns the control loop and all publication.
type Scheduler struct {
	series  source.Series
	history source.History
	clock   source.Clock
	sink    actuator.Sink
	db      storage.Database

	settings types.Settings
	calc     *tariff.Calculator
	paramsFP uint64

	pvCache    *cache.Cache[types.PvForecast]
	loadCache  *cache.Cache[types.LoadForecast]
	priceCache *cache.Cache[types.PriceSeries]

	mu          sync.Mutex
	snapshot    *Snapshot
	lastRecord  *types.TickRecord
	lastInputFP uint64
	retryPlan   *types.Plan
	failures    int
	interval    time.Duration
	cancelRun   context.CancelFunc
	onPublish   []func(types.Plan)

	wg sync.WaitGroup
}

// Configured sets up the scheduler via flags, loading the site settings file
// during flag resolution.
func Configured(series source.Series, history source.History, clock source.Clock, sink actuator.Sink, db storage.Database) *Scheduler {
	s := newScheduler(series, history, clock, sink, db)
	path := lflag.String("settings", "homeflux.yaml", "Path to the site settings YAML file")

	lflag.Do(func() {
		settings, err := types.LoadSettings(*path)
		if err != nil {
			panic(fmt.Sprintf("failed to load settings: %v", err))
		}
		s.applySettings(settings)
	})

	return s
}

// New returns a scheduler with explicit settings, bypassing flags.
func New(settings types.Settings, series source.Series, history source.History, clock source.Clock, sink actuator.Sink, db storage.Database) *Scheduler {
	s := newScheduler(series, history, clock, sink, db)
	s.applySettings(settings)
	return s
}

func newScheduler(series source.Series, history source.History, clock source.Clock, sink actuator.Sink, db storage.Database) *Scheduler {
	return &Scheduler{
		series:     series,
		history:    history,
		clock:      clock,
		sink:       sink,
		db:         db,
		pvCache:    cache.New[types.PvForecast](clock),
		loadCache:  cache.New[types.LoadForecast](clock),
		priceCache: cache.New[types.PriceSeries](clock),
	}
}

func (s *Scheduler) applySettings(settings types.Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
	s.calc = tariff.New(settings.Tariff)
	s.interval = time.Duration(settings.TickMinutes) * time.Minute

	raw, _ := json.Marshal(settings.Tariff)
	h := fnv.New64a()
	h.Write(raw)
	s.paramsFP = h.Sum64()
}

// Reconfigure swaps the settings and purges every cache. The next tick runs
// with the new configuration.
func (s *Scheduler) Reconfigure(settings types.Settings) {
	s.applySettings(settings)
	s.pvCache.Purge()
	s.loadCache.Purge()
	s.priceCache.Purge()
}

// OnPublish registers a callback invoked with every published plan. Register
// before Run; callbacks run on the tick goroutine and must not block.
func (s *Scheduler) OnPublish(fn func(types.Plan)) {
	s.mu.Lock()
	s.onPublish = append(s.onPublish, fn)
	s.mu.Unlock()
}

// Current returns the latest snapshot, if a tick has published yet.
func (s *Scheduler) Current() (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshot == nil {
		return Snapshot{}, false
	}
	return *s.snapshot, true
}

// LastRecord returns the most recent tick record, including skipped ticks.
func (s *Scheduler) LastRecord() (types.TickRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastRecord == nil {
		return types.TickRecord{}, false
	}
	return *s.lastRecord, true
}

// PriceBreakdown returns the per-hour tariff decomposition for the given
// market state and day.
func (s *Scheduler) PriceBreakdown(st source.State, day time.Time) [24]tariff.Components {
	var out [24]tariff.Components
	for h := 0; h < 24; h++ {
		out[h] = s.calc.Breakdown(st, day, h)
	}
	return out
}

// Run drives ticks aligned to the wall clock until ctx ends. The interval
// doubles after repeated failures and resets on the first success.
func (s *Scheduler) Run(ctx context.Context) error {
	log.Ctx(ctx).InfoContext(
		ctx,
		"scheduler starting",
		slog.Int("tickMinutes", s.settings.TickMinutes),
		slog.Int("devices", len(s.settings.Devices)),
	)
	for {
		interval := s.currentInterval()
		now := s.clock.Now()
		next := now.Truncate(interval).Add(interval)

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.cancelActive()
			s.wg.Wait()
			return ctx.Err()
		case <-timer.C:
		}
		s.startTick(ctx, next)
	}
}

func (s *Scheduler) currentInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

func (s *Scheduler) cancelActive() {
	s.mu.Lock()
	if s.cancelRun != nil {
		s.cancelRun()
	}
	s.mu.Unlock()
}

// startTick launches one tick, cancelling any run still in flight from a
// previous tick.
func (s *Scheduler) startTick(ctx context.Context, tickTS time.Time) {
	s.mu.Lock()
	if s.cancelRun != nil {
		s.cancelRun()
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRun = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		s.finishTick(runCtx, tickTS, s.runTick(runCtx, tickTS))
	}()
}

// finishTick applies the backoff policy: cancelled runs are silent, repeated
// failures double the interval up to an hour, success resets it.
func (s *Scheduler) finishTick(ctx context.Context, tickTS time.Time, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	base := time.Duration(s.settings.TickMinutes) * time.Minute
	if err == nil {
		s.failures = 0
		s.interval = base
		return
	}

	s.failures++
	if s.failures >= backoffAfter {
		s.interval = min(s.interval*2, maxInterval)
	}
	log.Ctx(ctx).ErrorContext(
		ctx,
		"tick failed",
		slog.Time("tickTS", tickTS),
		slog.Int("consecutiveFailures", s.failures),
		slog.Duration("interval", s.interval),
		slog.Any("error", err),
	)
}

// runTick is one refresh -> optimize -> publish pass.
func (s *Scheduler) runTick(ctx context.Context, tickTS time.Time) error {
	grid := types.NewTimeGrid(tickTS)
	settings := s.currentSettings()
	ents := settings.Entities

	// a publication that failed last tick gets one retry before the new plan
	// is computed
	s.mu.Lock()
	retry := s.retryPlan
	s.retryPlan = nil
	s.mu.Unlock()
	if retry != nil {
		if err := s.sink.PublishPlan(ctx, *retry); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "publish retry failed", slog.Any("error", err))
		}
	}

	pvToday := s.readState(ctx, ents.PVToday)
	pvTomorrow := s.readState(ctx, ents.PVTomorrow)
	market := s.readState(ctx, ents.MarketPrice)

	var samples []source.Sample
	var histErr error
	if ents.LoadSensor != "" && s.history != nil {
		samples, histErr = s.history.ReadHistory(ctx, ents.LoadSensor, tickTS.Add(-24*time.Hour), tickTS)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	t0Key := uint64(grid.T0().Unix())
	pv, err := s.pvCache.Get(ctx, cache.Key(pvToday.Fingerprint(), pvTomorrow.Fingerprint(), t0Key), pvTTL,
		func(ctx context.Context) types.PvForecast {
			return forecast.FusePV(ctx, grid, pvToday, pvTomorrow)
		})
	if err != nil {
		return err
	}
	load, err := s.loadCache.Get(ctx, cache.Key(historyFingerprint(samples), t0Key), loadTTL,
		func(ctx context.Context) types.LoadForecast {
			return forecast.SynthesizeLoad(ctx, grid, samples, histErr, settings.Load)
		})
	if err != nil {
		return err
	}
	// the price series holds until the top of the next hour
	priceTTL := tickTS.Truncate(time.Hour).Add(time.Hour).Sub(tickTS)
	price, err := s.priceCache.Get(ctx, cache.Key(t0Key, market.Fingerprint(), s.paramsFP), priceTTL,
		func(ctx context.Context) types.PriceSeries {
			return s.calc.Prices(ctx, market, grid.T0())
		})
	if err != nil {
		return err
	}

	tags := types.MergeKinds(nil, pv.Tags...)
	tags = types.MergeKinds(tags, load.Tags...)
	tags = types.MergeKinds(tags, price.Tags...)

	inputFP := cache.Key(
		pvToday.Fingerprint(), pvTomorrow.Fingerprint(),
		market.Fingerprint(), historyFingerprint(samples),
	)
	s.mu.Lock()
	skip := len(tags) > 0 && inputFP == s.lastInputFP && s.snapshot != nil
	s.lastInputFP = inputFP
	s.mu.Unlock()
	if skip {
		record := types.TickRecord{
			TickTS:         tickTS,
			Skipped:        true,
			DegradedInputs: types.MergeKinds(tags, types.ErrSkippedTick),
		}
		s.storeRecord(ctx, record)
		log.Ctx(ctx).InfoContext(ctx, "skipping tick, degraded inputs unchanged", slog.Time("tickTS", tickTS))
		return nil
	}

	bat := settings.Battery
	bat.InitialSOC = s.readSOC(ctx, ents.BatterySOC, bat)

	inputs := sim.NewInputs(pv, load, price, bat, settings.Devices, settings.Weights)

	budget := time.Duration(settings.TickBudgetSeconds) * time.Second
	optCtx, cancel := context.WithTimeout(ctx, budget)
	best, metrics := optimizer.Run(optCtx, optimizer.FromSettings(settings), inputs)
	cancel()

	if err := ctx.Err(); err != nil {
		// a newer tick took over; discard without publishing
		return err
	}

	if math.IsInf(best.Result.Fitness, -1) {
		log.Ctx(ctx).WarnContext(ctx, "optimizer found no finite candidate, using rule-based schedule")
		best = optimizer.RuleBased(inputs)
	}

	plan := buildPlan(tickTS, grid, settings.Devices, best)

	if err := s.sink.PublishPlan(ctx, plan); err != nil {
		s.mu.Lock()
		s.retryPlan = &plan
		s.mu.Unlock()
		return fmt.Errorf("failed to publish plan: %w", err)
	}

	record := types.TickRecord{
		TickTS:             tickTS,
		BestFitness:        best.Result.Fitness,
		GenerationsRun:     metrics.GenerationsRun,
		DegradedInputs:     tags,
		PublishedFirstSlot: plan.Devices,
		PublishedBatteryKW: plan.BatteryKW,
	}

	snap := &Snapshot{
		Plan:    plan,
		Record:  record,
		Metrics: metrics,
		PV:      pv,
		Load:    load,
		Price:   price,
		Market:  market,
	}
	s.mu.Lock()
	s.snapshot = snap
	callbacks := s.onPublish
	s.mu.Unlock()
	for _, fn := range callbacks {
		fn(plan)
	}

	s.storeRecord(ctx, record)
	log.Ctx(ctx).InfoContext(
		ctx,
		"tick published",
		slog.Time("tickTS", tickTS),
		slog.Float64("bestFitness", best.Result.Fitness),
		slog.Int("generations", metrics.GenerationsRun),
		slog.Float64("batteryKW", plan.BatteryKW),
	)
	return nil
}

func (s *Scheduler) currentSettings() types.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// storeRecord persists the tick record on a best-effort basis.
func (s *Scheduler) storeRecord(ctx context.Context, record types.TickRecord) {
	s.mu.Lock()
	s.lastRecord = &record
	s.mu.Unlock()
	if s.db == nil {
		return
	}
	if err := s.db.InsertTickRecord(ctx, record); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to store tick record", slog.Any("error", err))
	}
}

// readState reads one entity, degrading to an empty state on any error.
func (s *Scheduler) readState(ctx context.Context, entityID string) source.State {
	if entityID == "" {
		return source.State{}
	}
	st, err := s.series.ReadSeries(ctx, entityID)
	if err != nil {
		log.Ctx(ctx).WarnContext(
			ctx,
			"failed to read entity",
			slog.String("entityID", entityID),
			slog.Any("error", err),
		)
		return source.State{}
	}
	return st
}

// readSOC reads the live battery state of charge as a percentage, falling
// back to 50% when the entity is missing or out of range.
func (s *Scheduler) readSOC(ctx context.Context, entityID string, bat types.BatterySpec) float64 {
	soc := 0.5
	if entityID != "" {
		st, err := s.series.ReadSeries(ctx, entityID)
		if err == nil {
			if v, perr := strconv.ParseFloat(st.State, 64); perr == nil && v >= 0 && v <= 100 {
				soc = v / 100
			}
		}
	}
	if soc < bat.SOCMin {
		soc = bat.SOCMin
	}
	if soc > bat.SOCMax {
		soc = bat.SOCMax
	}
	return soc
}

// buildPlan turns the best candidate into the published plan: the tick's slot
// is the commitment, the full rows are the advisory horizon.
func buildPlan(tickTS time.Time, grid types.TimeGrid, devices []types.DeviceSpec, best optimizer.Candidate) types.Plan {
	slot, ok := grid.SlotOf(tickTS)
	if !ok {
		slot = 0
	}

	plan := types.Plan{
		TickTS:    tickTS,
		Devices:   make(map[string]types.DeviceCommand, len(devices)),
		BatteryKW: best.Battery[slot],
		Horizon: types.Horizon{
			SlotStart: grid.SlotStart(0),
			Devices:   make(map[string][]float64, len(devices)),
			BatteryKW: append([]float64(nil), best.Battery...),
		},
	}
	for d, dev := range devices {
		row := best.Device[d*types.SlotsPerDay : (d+1)*types.SlotsPerDay]
		g := row[slot]
		cmd := types.DeviceCommand{On: g >= 0.5}
		if dev.Control == types.ControlFractional {
			cmd = types.DeviceCommand{On: g > 0, Fraction: g}
		}
		plan.Devices[dev.ID] = cmd
		plan.Horizon.Devices[dev.ID] = append([]float64(nil), row...)
	}
	return plan
}

// historyFingerprint hashes the recorder samples for cache keying and
// change detection.
func historyFingerprint(samples []source.Sample) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	for _, s := range samples {
		binary.BigEndian.PutUint64(buf[:], uint64(s.TS.UnixNano()))
		h.Write(buf[:])
		binary.BigEndian.PutUint64(buf[:], math.Float64bits(s.Value))
		h.Write(buf[:])
	}
	return h.Sum64()
}
