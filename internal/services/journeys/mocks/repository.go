package mocks

import (
	"context"

	"github.com/BearBump/JourneyGuard/internal/models"
	"github.com/BearBump/JourneyGuard/internal/storage/pgjourney"
	"github.com/stretchr/testify/mock"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) CreateJourney(ctx context.Context, j *models.Journey) error {
	args := m.Called(ctx, j)
	return args.Error(0)
}

func (m *MockRepository) GetJourney(ctx context.Context, id string) (*models.Journey, error) {
	args := m.Called(ctx, id)
	var j *models.Journey
	if v := args.Get(0); v != nil {
		j = v.(*models.Journey)
	}
	return j, args.Error(1)
}

func (m *MockRepository) ApplyEvaluation(ctx context.Context, u pgjourney.EvaluationUpdate) (uint64, error) {
	args := m.Called(ctx, u)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *MockRepository) ListJourneyEvents(ctx context.Context, journeyID string, limit, offset int) ([]*models.JourneyEvent, error) {
	args := m.Called(ctx, journeyID, limit, offset)
	var out []*models.JourneyEvent
	if v := args.Get(0); v != nil {
		out = v.([]*models.JourneyEvent)
	}
	return out, args.Error(1)
}
