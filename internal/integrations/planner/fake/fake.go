package fake

import (
	"context"
	"math"
	"time"

	"github.com/BearBump/JourneyGuard/internal/integrations/planner"
	"github.com/BearBump/JourneyGuard/internal/models"
)

const earthRadiusKm = 6371.0

// скорость по режиму, км/ч
var speedKmh = map[models.RouteMode]float64{
	models.RouteModeWalking: 5,
	models.RouteModeCycling: 15,
	models.RouteModeDriving: 50,
	models.RouteModeTransit: 30,
}

// FakeClient строит прямой маршрут из двух точек, когда настоящего планировщика нет.
type FakeClient struct{}

func New() *FakeClient { return &FakeClient{} }

func (f *FakeClient) PlanRoute(ctx context.Context, from, to models.Position, mode models.RouteMode) (planner.PlannedRoute, error) {
	speed, ok := speedKmh[mode]
	if !ok {
		speed = speedKmh[models.RouteModeWalking]
	}

	hours := distanceKm(from, to) / speed
	d := time.Duration(hours * float64(time.Hour)).Round(time.Second)
	if d < time.Minute {
		d = time.Minute
	}

	return planner.PlannedRoute{
		Path:     []models.Position{from, to},
		Duration: d,
	}, nil
}

func distanceKm(a, b models.Position) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := lat2 - lat1
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}
