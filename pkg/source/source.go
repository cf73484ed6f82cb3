// Package source holds the typed ports through which the core reads the
// outside world: entity states, recorder history, and the clock. Dynamic
// attribute shapes are resolved here at the edge; the rest of the system
// only ever sees typed series.
package source

import (
	"context"
	"errors"
	"hash/fnv"
	"strconv"
	"time"
)

// ErrNotFound is returned when an entity does not exist at the source.
var ErrNotFound = errors.New("entity not found")

// State is one entity snapshot from the time-series source.
type State struct {
	EntityID    string         `json:"entity_id"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes"`
	LastUpdated time.Time      `json:"last_updated"`
}

// Fingerprint identifies the state's content for cache keying. Two snapshots
// of the same entity share a fingerprint until the source updates it.
func (s State) Fingerprint() uint64 {
	h := fnv.New64a()
	h.Write([]byte(s.EntityID))
	h.Write([]byte{0})
	h.Write([]byte(s.State))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(s.LastUpdated.UnixNano(), 10)))
	return h.Sum64()
}

// Series reads entity states from the host platform.
type Series interface {
	ReadSeries(ctx context.Context, entityID string) (State, error)
}

// Sample is one recorded sensor value.
type Sample struct {
	TS    time.Time `json:"ts"`
	Value float64   `json:"value"`
}

// History reads significant recorded state changes for an entity.
type History interface {
	ReadHistory(ctx context.Context, entityID string, start, end time.Time) ([]Sample, error)
}

// Clock abstracts time.Now for deterministic tests.
type Clock interface {
	Now() time.Time
}

// RealClock is the wall clock.
type RealClock struct{}

// Now implements Clock.
func (RealClock) Now() time.Time { return time.Now() }
