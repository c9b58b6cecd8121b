package planner

import (
	"context"
	"time"

	"github.com/BearBump/JourneyGuard/internal/models"
)

type PlannedRoute struct {
	Path     []models.Position
	Duration time.Duration
}

type Client interface {
	PlanRoute(ctx context.Context, from, to models.Position, mode models.RouteMode) (PlannedRoute, error)
}
