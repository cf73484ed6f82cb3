package types

import "time"

const (
	// SlotsPerDay is the number of scheduling slots in one day.
	SlotsPerDay = 96
	// SlotMinutes is the wall-clock length of one slot.
	SlotMinutes = 15
	// SlotHours is the slot duration in hours, used for kW<->kWh conversion.
	SlotHours = 0.25
)

// TimeGrid is the 96-slot, 15-minute daily frame anchored at the most recent
// local midnight. It is immutable and rebuilt once per control tick.
//
// DST days are still treated as 96 fixed slots: slots are derived from the
// wall-clock hour/minute, so during a fall-back transition both occurrences of
// an ambiguous time map to the same (earlier) slot, and spring-forward times
// that never occur on the wall clock resolve to the later slot via time.Date.
type TimeGrid struct {
	t0  time.Time
	loc *time.Location
}

// NewTimeGrid builds the grid for the day containing now, in now's location.
func NewTimeGrid(now time.Time) TimeGrid {
	loc := now.Location()
	t0 := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	return TimeGrid{t0: t0, loc: loc}
}

// T0 returns the local-midnight anchor of the grid.
func (g TimeGrid) T0() time.Time {
	return g.t0
}

// SlotOf maps a timestamp to its slot index. The second return is false when
// the timestamp falls outside the grid's day.
func (g TimeGrid) SlotOf(ts time.Time) (int, bool) {
	ts = ts.In(g.loc)
	if ts.Year() != g.t0.Year() || ts.YearDay() != g.t0.YearDay() {
		return 0, false
	}
	return ts.Hour()*4 + ts.Minute()/SlotMinutes, true
}

// SlotStart returns the wall-clock start of slot t.
func (g TimeGrid) SlotStart(t int) time.Time {
	return time.Date(g.t0.Year(), g.t0.Month(), g.t0.Day(), t/4, (t%4)*SlotMinutes, 0, 0, g.loc)
}

// SlotCenter returns the midpoint of slot t, used for forecast interpolation.
func (g TimeGrid) SlotCenter(t int) time.Time {
	return g.SlotStart(t).Add(SlotMinutes * time.Minute / 2)
}
