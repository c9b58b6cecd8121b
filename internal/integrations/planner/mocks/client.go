package mocks

import (
	"context"

	"github.com/BearBump/JourneyGuard/internal/integrations/planner"
	"github.com/BearBump/JourneyGuard/internal/models"
	"github.com/stretchr/testify/mock"
)

type MockClient struct {
	mock.Mock
}

func (m *MockClient) PlanRoute(ctx context.Context, from, to models.Position, mode models.RouteMode) (planner.PlannedRoute, error) {
	args := m.Called(ctx, from, to, mode)
	return args.Get(0).(planner.PlannedRoute), args.Error(1)
}
