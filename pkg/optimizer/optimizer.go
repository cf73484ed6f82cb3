// Package optimizer searches for the day's best schedule with a genetic
// algorithm over a struct-of-arrays population. All randomness is drawn
// sequentially from one seeded PRNG; only the pure fitness evaluation runs on
// the worker pool, so results are reproducible regardless of worker count.
package optimizer

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand/v2"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/homeflux/homeflux/pkg/log"
	"github.com/homeflux/homeflux/pkg/sim"
	"github.com/homeflux/homeflux/pkg/types"
)

const tournamentK = 3

// Config holds the engine parameters. Zero values are not defaulted here;
// callers pass normalized settings.
type Config struct {
	PopulationSize int
	GenerationsMax int
	PCrossover     float64
	PMutation      float64
	EliteFrac      float64
	StallGens      int
	EpsImprove     float64
	Workers        int
	Seed           uint64
}

// FromSettings maps the site settings onto an engine config.
func FromSettings(s types.Settings) Config {
	return Config{
		PopulationSize: s.PopulationSize,
		GenerationsMax: s.GenerationsMax,
		PCrossover:     s.PCrossover,
		PMutation:      s.PMutation,
		EliteFrac:      s.EliteFrac,
		StallGens:      s.StallGens,
		EpsImprove:     s.EpsImprove,
		Workers:        s.Workers,
		Seed:           s.Seed,
	}
}

// Candidate is one schedule: a row-major device activity matrix and a battery
// power vector, plus its simulation result.
type Candidate struct {
	Device  []float64
	Battery []float64
	Result  sim.Result
}

// GenStats is one generation's fitness summary.
type GenStats struct {
	Best float64 `json:"best"`
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
}

// Stop reasons reported in RunMetrics.
const (
	StopMaxGenerations = "maxGenerations"
	StopStalled        = "stalled"
	StopBudget         = "budget"
	StopCancelled      = "cancelled"
)

// RunMetrics describes one optimization run. PerGen carries the monotone
// best-so-far fitness alongside each generation's mean and std.
type RunMetrics struct {
	GenerationsRun int           `json:"generationsRun"`
	BestFitness    float64       `json:"bestFitness"`
	StopReason     string        `json:"stopReason"`
	Elapsed        time.Duration `json:"elapsed"`
	PerGen         []GenStats    `json:"perGen,omitempty"`
}

// population is a struct-of-arrays candidate store: genes live in two
// contiguous buffers so evaluation walks memory linearly.
type population struct {
	n, d    int
	device  []float64 // n rows of d*96 genes
	battery []float64 // n rows of 96 genes
	fitness []float64
}

func newPopulation(n, d int) *population {
	return &population{
		n:       n,
		d:       d,
		device:  make([]float64, n*d*types.SlotsPerDay),
		battery: make([]float64, n*types.SlotsPerDay),
		fitness: make([]float64, n),
	}
}

func (p *population) deviceRow(i int) []float64 {
	w := p.d * types.SlotsPerDay
	return p.device[i*w : (i+1)*w]
}

func (p *population) batteryRow(i int) []float64 {
	return p.battery[i*types.SlotsPerDay : (i+1)*types.SlotsPerDay]
}

func (p *population) copyFrom(i int, src *population, j int) {
	copy(p.deviceRow(i), src.deviceRow(j))
	copy(p.batteryRow(i), src.batteryRow(j))
}

// Run executes one optimization. It always returns the best candidate seen;
// the caller decides what a cancelled run means (the scheduler discards it).
// The wall-clock budget is enforced through the context deadline.
func Run(ctx context.Context, cfg Config, in *sim.Inputs) (Candidate, RunMetrics) {
	start := time.Now()

	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	workers := cfg.Workers
	if workers <= 0 {
		workers = min(runtime.NumCPU(), 4)
	}

	n := cfg.PopulationSize
	d := len(in.Devices)
	cur := newPopulation(n, d)
	next := newPopulation(n, d)
	initPopulation(cur, in, rng)

	eliteCount := int(math.Ceil(cfg.EliteFrac * float64(n)))
	if eliteCount < 1 {
		eliteCount = 1
	}

	var metrics RunMetrics
	bestFitness := math.Inf(-1)
	bestDevice := make([]float64, d*types.SlotsPerDay)
	bestBattery := make([]float64, types.SlotsPerDay)
	stall := 0
	order := make([]int, n)

	metrics.StopReason = StopMaxGenerations
	for gen := 0; gen < cfg.GenerationsMax; gen++ {
		evaluate(cur, in, workers)
		metrics.GenerationsRun = gen + 1

		genBest, mean, std := stats(cur.fitness)
		if cur.fitness[genBest] > bestFitness+cfg.EpsImprove {
			bestFitness = cur.fitness[genBest]
			copy(bestDevice, cur.deviceRow(genBest))
			copy(bestBattery, cur.batteryRow(genBest))
			stall = 0
		} else {
			stall++
		}
		metrics.PerGen = append(metrics.PerGen, GenStats{Best: bestFitness, Mean: mean, Std: std})

		if stall >= cfg.StallGens {
			metrics.StopReason = StopStalled
			break
		}
		if gen+1 >= cfg.GenerationsMax {
			break
		}

		// generation boundary is the cooperative suspension point
		if err := ctx.Err(); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				metrics.StopReason = StopBudget
			} else {
				metrics.StopReason = StopCancelled
			}
			break
		}
		runtime.Gosched()

		// elitism: top candidates survive unchanged, stable on index
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(a, b int) bool {
			return cur.fitness[order[a]] > cur.fitness[order[b]]
		})
		for i := 0; i < eliteCount; i++ {
			next.copyFrom(i, cur, order[i])
		}

		for i := eliteCount; i < n; i += 2 {
			p1 := tournament(cur, rng)
			p2 := tournament(cur, rng)
			next.copyFrom(i, cur, p1)
			j := i + 1
			if j >= n {
				j = i // odd remainder: second child overwrites the first
			}
			next.copyFrom(j, cur, p2)

			if rng.Float64() < cfg.PCrossover {
				crossover(next, i, j, d, rng)
			}
			mutate(next, i, in, cfg.PMutation, rng)
			if j != i {
				mutate(next, j, in, cfg.PMutation, rng)
			}
		}
		cur, next = next, cur
	}

	metrics.BestFitness = bestFitness
	metrics.Elapsed = time.Since(start)

	best := Candidate{Device: bestDevice, Battery: bestBattery}
	best.Result = sim.Evaluate(in, best.Device, best.Battery)

	log.Ctx(ctx).DebugContext(
		ctx,
		"optimization finished",
		slog.Uint64("seed", seed),
		slog.Int("generations", metrics.GenerationsRun),
		slog.Float64("bestFitness", metrics.BestFitness),
		slog.String("stopReason", metrics.StopReason),
		slog.Duration("elapsed", metrics.Elapsed),
	)
	return best, metrics
}

// initPopulation seeds candidate genes: binary device genes Bernoulli(0.5),
// fractional device genes uniform in [0,1], both masked by their windows;
// battery genes uniform across the full power range.
func initPopulation(p *population, in *sim.Inputs, rng *rand.Rand) {
	for i := 0; i < p.n; i++ {
		row := p.deviceRow(i)
		for d, dev := range in.Devices {
			mask := in.Mask(d)
			for t := 0; t < types.SlotsPerDay; t++ {
				if !mask[t] {
					continue
				}
				switch dev.Control {
				case types.ControlFractional:
					row[d*types.SlotsPerDay+t] = rng.Float64()
				default:
					if rng.Float64() < 0.5 {
						row[d*types.SlotsPerDay+t] = 1
					}
				}
			}
		}
		brow := p.batteryRow(i)
		lo, hi := -in.Battery.MaxDischargeKW, in.Battery.MaxChargeKW
		for t := 0; t < types.SlotsPerDay; t++ {
			brow[t] = lo + rng.Float64()*(hi-lo)
		}
	}
}

// evaluate scores every candidate on the worker pool. Evaluation is pure, so
// splitting by index keeps results independent of pool size.
func evaluate(p *population, in *sim.Inputs, workers int) {
	if workers > p.n {
		workers = p.n
	}
	var wg sync.WaitGroup
	chunk := (p.n + workers - 1) / workers
	for w := 0; w < workers; w++ {
		lo := w * chunk
		hi := min(lo+chunk, p.n)
		if lo >= hi {
			break
		}
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			for i := lo; i < hi; i++ {
				p.fitness[i] = sim.Evaluate(in, p.deviceRow(i), p.batteryRow(i)).Fitness
			}
		}(lo, hi)
	}
	wg.Wait()
}

// tournament picks the best of k distinct candidates; ties go to the lower
// index.
func tournament(p *population, rng *rand.Rand) int {
	var picked [tournamentK]int
	for n := 0; n < tournamentK; {
		i := rng.IntN(p.n)
		dup := false
		for _, j := range picked[:n] {
			if j == i {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		picked[n] = i
		n++
	}
	best := picked[0]
	for _, i := range picked[1:] {
		if p.fitness[i] > p.fitness[best] || (p.fitness[i] == p.fitness[best] && i < best) {
			best = i
		}
	}
	return best
}

// crossover swaps gene tails between candidates a and b at one point shared
// by every device row and the battery row, preserving temporal coherence.
func crossover(p *population, a, b, d int, rng *rand.Rand) {
	point := 1 + rng.IntN(types.SlotsPerDay-1)
	ra, rb := p.deviceRow(a), p.deviceRow(b)
	for row := 0; row < d; row++ {
		off := row * types.SlotsPerDay
		for t := point; t < types.SlotsPerDay; t++ {
			ra[off+t], rb[off+t] = rb[off+t], ra[off+t]
		}
	}
	ba, bb := p.batteryRow(a), p.batteryRow(b)
	for t := point; t < types.SlotsPerDay; t++ {
		ba[t], bb[t] = bb[t], ba[t]
	}
}

// mutate perturbs each gene with probability pMut: binary genes flip,
// fractional genes take Gaussian noise then clamp to [0,1], battery genes
// take uniform noise of a fifth of the power range then clamp to the rates.
func mutate(p *population, i int, in *sim.Inputs, pMut float64, rng *rand.Rand) {
	row := p.deviceRow(i)
	for d, dev := range in.Devices {
		mask := in.Mask(d)
		for t := 0; t < types.SlotsPerDay; t++ {
			if !mask[t] || rng.Float64() >= pMut {
				continue
			}
			g := d*types.SlotsPerDay + t
			switch dev.Control {
			case types.ControlFractional:
				row[g] = clamp(row[g]+rng.NormFloat64()*0.1, 0, 1)
			default:
				row[g] = 1 - row[g]
			}
		}
	}

	brow := p.batteryRow(i)
	lo, hi := -in.Battery.MaxDischargeKW, in.Battery.MaxChargeKW
	amp := 0.2 * math.Max(in.Battery.MaxChargeKW, in.Battery.MaxDischargeKW)
	for t := 0; t < types.SlotsPerDay; t++ {
		if rng.Float64() >= pMut {
			continue
		}
		brow[t] = clamp(brow[t]+(rng.Float64()*2-1)*amp, lo, hi)
	}
}

func stats(fitness []float64) (bestIdx int, mean, std float64) {
	var sum float64
	finite := 0
	for i, f := range fitness {
		if f > fitness[bestIdx] {
			bestIdx = i
		}
		if !math.IsInf(f, -1) {
			sum += f
			finite++
		}
	}
	if finite == 0 {
		return bestIdx, math.Inf(-1), 0
	}
	mean = sum / float64(finite)
	var ss float64
	for _, f := range fitness {
		if math.IsInf(f, -1) {
			continue
		}
		ss += (f - mean) * (f - mean)
	}
	std = math.Sqrt(ss / float64(finite))
	return bestIdx, mean, std
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
