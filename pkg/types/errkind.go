package types

// ErrorKind tags a degraded result with the fallback that produced it.
// Input-layer kinds never surface as errors; they ride along on the result so
// operators can diagnose which inputs were substituted.
type ErrorKind string

const (
	// ErrNoPvData means both PV forecast sources were empty; PV is all zeros.
	ErrNoPvData ErrorKind = "noPvData"
	// ErrNoMarketPrice means the market price source was missing or
	// unparseable; the constant fallback price was used.
	ErrNoMarketPrice ErrorKind = "noMarketPrice"
	// ErrMalformedSample means one or more input samples failed type or range
	// checks and were discarded.
	ErrMalformedSample ErrorKind = "malformedSample"
	// ErrUnsupportedShape means an entity's attributes matched none of the
	// recognized shapes.
	ErrUnsupportedShape ErrorKind = "unsupportedShape"
	// ErrHistoryUnavailable means the recorder source was missing so the load
	// forecast fell back to the diurnal template or the constant floor.
	ErrHistoryUnavailable ErrorKind = "historyUnavailable"
	// ErrConstraintInfeasible means a device's required energy cannot be met
	// inside its window; recorded, never raised.
	ErrConstraintInfeasible ErrorKind = "constraintInfeasible"
	// ErrBudgetExhausted means the optimizer ran out of wall-clock budget and
	// returned its best-so-far plan. Normal termination.
	ErrBudgetExhausted ErrorKind = "budgetExhausted"
	// ErrCancelled means the run was superseded by a newer tick. Silent.
	ErrCancelled ErrorKind = "cancelled"
	// ErrSkippedTick means all inputs were degraded and unchanged so the
	// prior plan was kept.
	ErrSkippedTick ErrorKind = "skippedTick"
)

// HasKind reports whether tags contains kind.
func HasKind(tags []ErrorKind, kind ErrorKind) bool {
	for _, t := range tags {
		if t == kind {
			return true
		}
	}
	return false
}

// MergeKinds appends the kinds from b to a, skipping duplicates.
func MergeKinds(a []ErrorKind, b ...ErrorKind) []ErrorKind {
	for _, k := range b {
		if !HasKind(a, k) {
			a = append(a, k)
		}
	}
	return a
}
