// Package tariff converts hourly wholesale market prices into the final
// per-slot retail price for an indexed tariff.
package tariff

import (
	"context"
	"log/slog"
	"time"

	"github.com/homeflux/homeflux/pkg/log"
	"github.com/homeflux/homeflux/pkg/source"
	"github.com/homeflux/homeflux/pkg/types"
)

// Calculator computes final consumer prices from wholesale market prices and
// the fixed regulatory components of an indexed tariff. It is a total
// function over its inputs: a missing or unreadable market source degrades to
// the configured fallback price, never an error.
type Calculator struct {
	params types.TariffParams
}

// New returns a Calculator for the given tariff parameters. The parameters
// are read-only after construction.
func New(params types.TariffParams) *Calculator {
	return &Calculator{params: params}
}

// Components is the per-hour breakdown of the final price, exposed for
// transparency on the API.
type Components struct {
	MarketEuroPerMWH float64 `json:"marketEuroPerMWH"`
	FP               float64 `json:"fp"`
	Q                float64 `json:"q"`
	TAE              float64 `json:"tae"`
	MFRR             float64 `json:"mfrr"`
	VAT              float64 `json:"vat"`
	TOU              float64 `json:"tou"`
	Season           float64 `json:"season"`
	FinalEuroPerKWH  float64 `json:"finalEuroPerKWH"`
}

// Prices converts a market price entity state into a 96-slot price series for
// the given day. Hourly prices expand to slots by nearest lower hour. When
// the market source is missing or its attributes match no recognized shape,
// every hour uses the configured fallback price and the series is tagged
// NoMarketPrice.
func (c *Calculator) Prices(ctx context.Context, st source.State, day time.Time) types.PriceSeries {
	var out types.PriceSeries

	hourly, kind := source.DecodeMarket(st)
	switch kind {
	case source.ShapeHourlyMap, source.ShapeArray24:
	default:
		for h := range hourly {
			hourly[h] = c.params.FallbackEuroPerMWH
		}
		out.Tags = types.MergeKinds(out.Tags, types.ErrNoMarketPrice)
		log.Ctx(ctx).WarnContext(
			ctx,
			"market price unavailable, using fallback",
			slog.String("shape", string(kind)),
			slog.Float64("fallbackEuroPerMWH", c.params.FallbackEuroPerMWH),
		)
	}

	for t := 0; t < types.SlotsPerDay; t++ {
		hour := t / 4
		out.EuroPerKWH[t] = c.priceAt(hourly[hour], hour, day.Month())
	}
	return out
}

// Breakdown returns the per-component decomposition for one hour of the day.
func (c *Calculator) Breakdown(st source.State, day time.Time, hour int) Components {
	hourly, kind := source.DecodeMarket(st)
	pm := hourly[hour]
	switch kind {
	case source.ShapeHourlyMap, source.ShapeArray24:
	default:
		pm = c.params.FallbackEuroPerMWH
	}
	p := c.params
	return Components{
		MarketEuroPerMWH: pm,
		FP:               p.FP,
		Q:                p.Q,
		TAE:              p.TAE,
		MFRR:             p.MFRR,
		VAT:              p.VAT,
		TOU:              c.touMultiplier(hour),
		Season:           c.seasonMultiplier(day.Month()),
		FinalEuroPerKWH:  c.priceAt(pm, hour, day.Month()),
	}
}

// priceAt applies the indexed tariff formula to one hourly market price,
// returning EUR/kWh.
func (c *Calculator) priceAt(marketEuroPerMWH float64, hour int, month time.Month) float64 {
	p := c.params
	base := marketEuroPerMWH*p.FP + p.Q + p.TAE + p.MFRR
	return base * p.VAT * c.touMultiplier(hour) * c.seasonMultiplier(month) / 1000
}

func (c *Calculator) touMultiplier(hour int) float64 {
	for _, h := range c.params.PeakHours {
		if h == hour {
			return c.params.PeakMultiplier
		}
	}
	for _, h := range c.params.OffPeakHours {
		if h == hour {
			return c.params.OffPeakMultiplier
		}
	}
	return c.params.ShoulderMultiplier
}

func (c *Calculator) seasonMultiplier(month time.Month) float64 {
	for _, m := range c.params.SummerMonths {
		if time.Month(m) == month {
			return c.params.SummerAdjustment
		}
	}
	return c.params.WinterAdjustment
}
