// Package storage persists per-tick observability records. Persistence is
// best effort: the scheduler runs fine with the noop provider.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/homeflux/homeflux/pkg/types"
	"github.com/levenlabs/go-lflag"
)

// Database defines the interface for persisting tick records.
type Database interface {
	// InsertTickRecord stores one completed tick's record.
	InsertTickRecord(ctx context.Context, record types.TickRecord) error

	// GetTickRecord retrieves the record for one tick. The second return is
	// false when no record exists for that timestamp.
	GetTickRecord(ctx context.Context, tickTS time.Time) (types.TickRecord, bool, error)

	// GetTickRecords retrieves records with start <= tickTS < end.
	GetTickRecords(ctx context.Context, start, end time.Time) ([]types.TickRecord, error)

	// GetLatestTickTime returns the timestamp of the last stored record, or
	// the zero time when none exist.
	GetLatestTickTime(ctx context.Context) (time.Time, error)

	// Lifecycle
	Close() error
}

// Configured sets up the storage provider based on flags.
func Configured() Database {
	provider := lflag.String("storage-provider", "none", "Storage provider to use (available: none, firestore)")

	var p struct{ Database }

	fs := configuredFirestore()

	lflag.Do(func() {
		switch *provider {
		case "none":
			p.Database = Noop{}
		case "firestore":
			if err := fs.Validate(); err != nil {
				panic(fmt.Sprintf("firestore validation failed: %v", err))
			}
			p.Database = fs
			if err := fs.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("firestore init failed: %v", err))
			}
		default:
			panic(fmt.Sprintf("unknown storage provider: %s", *provider))
		}
	})

	return &p
}

// Noop discards records and returns empty history.
type Noop struct{}

var _ Database = Noop{}

func (Noop) InsertTickRecord(context.Context, types.TickRecord) error { return nil }

func (Noop) GetTickRecord(context.Context, time.Time) (types.TickRecord, bool, error) {
	return types.TickRecord{}, false, nil
}

func (Noop) GetTickRecords(context.Context, time.Time, time.Time) ([]types.TickRecord, error) {
	return nil, nil
}

func (Noop) GetLatestTickTime(context.Context) (time.Time, error) { return time.Time{}, nil }

func (Noop) Close() error { return nil }
