package source

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

// MockSeries is a testify mock for the Series port.
type MockSeries struct {
	mock.Mock
}

var _ Series = (*MockSeries)(nil)

func (m *MockSeries) ReadSeries(ctx context.Context, entityID string) (State, error) {
	args := m.Called(ctx, entityID)
	return args.Get(0).(State), args.Error(1)
}

// MockHistory is a testify mock for the History port.
type MockHistory struct {
	mock.Mock
}

var _ History = (*MockHistory)(nil)

func (m *MockHistory) ReadHistory(ctx context.Context, entityID string, start, end time.Time) ([]Sample, error) {
	args := m.Called(ctx, entityID, start, end)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Sample), args.Error(1)
}

// FakeClock is a settable clock for tests.
type FakeClock struct {
	TS time.Time
}

var _ Clock = (*FakeClock)(nil)

func (c *FakeClock) Now() time.Time { return c.TS }

// Advance moves the fake clock forward.
func (c *FakeClock) Advance(d time.Duration) { c.TS = c.TS.Add(d) }
