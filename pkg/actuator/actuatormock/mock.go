// Package actuatormock provides a testify mock of the actuator Sink.
package actuatormock

import (
	"context"

	"github.com/homeflux/homeflux/pkg/actuator"
	"github.com/homeflux/homeflux/pkg/types"
	"github.com/stretchr/testify/mock"
)

// Sink is a mock implementation of actuator.Sink.
type Sink struct {
	mock.Mock
}

var _ actuator.Sink = (*Sink)(nil)

func (s *Sink) PublishPlan(ctx context.Context, plan types.Plan) error {
	args := s.Called(ctx, plan)
	return args.Error(0)
}
