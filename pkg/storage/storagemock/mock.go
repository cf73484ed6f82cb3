// Package storagemock provides a testify mock of the storage Database.
package storagemock

import (
	"context"
	"time"

	"github.com/homeflux/homeflux/pkg/storage"
	"github.com/homeflux/homeflux/pkg/types"
	"github.com/stretchr/testify/mock"
)

type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) InsertTickRecord(ctx context.Context, record types.TickRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *MockDatabase) GetTickRecord(ctx context.Context, tickTS time.Time) (types.TickRecord, bool, error) {
	args := m.Called(ctx, tickTS)
	return args.Get(0).(types.TickRecord), args.Bool(1), args.Error(2)
}

func (m *MockDatabase) GetTickRecords(ctx context.Context, start, end time.Time) ([]types.TickRecord, error) {
	args := m.Called(ctx, start, end)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.TickRecord), args.Error(1)
}

func (m *MockDatabase) GetLatestTickTime(ctx context.Context) (time.Time, error) {
	args := m.Called(ctx)
	return args.Get(0).(time.Time), args.Error(1)
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	return args.Error(0)
}
