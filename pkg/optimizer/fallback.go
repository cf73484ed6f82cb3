package optimizer

import (
	"github.com/homeflux/homeflux/pkg/sim"
	"github.com/homeflux/homeflux/pkg/types"
)

// RuleBased builds a schedule without searching, for when an optimization
// cannot run at all. Devices run in their windows whenever PV generation is
// high and the price is below the daily average; the battery charges from PV
// surplus and discharges to cover deficit, within its rates.
func RuleBased(in *sim.Inputs) Candidate {
	c := Candidate{
		Device:  make([]float64, len(in.Devices)*types.SlotsPerDay),
		Battery: make([]float64, types.SlotsPerDay),
	}

	var avgPrice float64
	for _, p := range in.Price {
		avgPrice += p
	}
	avgPrice /= types.SlotsPerDay

	for d, dev := range in.Devices {
		mask := in.Mask(d)
		for t := 0; t < types.SlotsPerDay; t++ {
			if !mask[t] {
				continue
			}
			if in.PV[t] >= dev.PowerKW || in.Price[t] < avgPrice {
				c.Device[d*types.SlotsPerDay+t] = 1
			}
		}
	}

	for t := 0; t < types.SlotsPerDay; t++ {
		var deviceLoad float64
		for d, dev := range in.Devices {
			deviceLoad += c.Device[d*types.SlotsPerDay+t] * dev.PowerKW
		}
		surplus := in.PV[t] - in.Load[t] - deviceLoad
		if surplus > 0 {
			c.Battery[t] = min(surplus, in.Battery.MaxChargeKW)
		} else {
			c.Battery[t] = max(surplus, -in.Battery.MaxDischargeKW)
		}
	}

	c.Result = sim.Evaluate(in, c.Device, c.Battery)
	return c
}
