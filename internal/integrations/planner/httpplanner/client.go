package httpplanner

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/BearBump/JourneyGuard/internal/integrations/planner"
	"github.com/BearBump/JourneyGuard/internal/models"
	"github.com/pkg/errors"
)

type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

func New(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:9000"
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type respBody struct {
	Path            []models.Position `json:"path"`
	DurationSeconds float64           `json:"duration_seconds"`
}

func (c *Client) PlanRoute(ctx context.Context, from, to models.Position, mode models.RouteMode) (planner.PlannedRoute, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return planner.PlannedRoute{}, errors.Wrap(err, "parse base url")
	}
	u.Path = "/v1/route"
	q := u.Query()
	q.Set("from", formatPoint(from))
	q.Set("to", formatPoint(to))
	q.Set("mode", string(mode))
	if c.apiKey != "" {
		q.Set("apiKey", c.apiKey)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return planner.PlannedRoute{}, errors.Wrap(err, "new request")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return planner.PlannedRoute{}, errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return planner.PlannedRoute{}, fmt.Errorf("route planner rate limit (429)")
	}
	if resp.StatusCode/100 != 2 {
		return planner.PlannedRoute{}, fmt.Errorf("route planner http %d", resp.StatusCode)
	}

	var rb respBody
	if err := json.NewDecoder(resp.Body).Decode(&rb); err != nil {
		return planner.PlannedRoute{}, errors.Wrap(err, "decode")
	}
	if len(rb.Path) == 0 {
		return planner.PlannedRoute{}, errors.Wrap(models.ErrEmptyPath, "route planner")
	}

	return planner.PlannedRoute{
		Path:     rb.Path,
		Duration: time.Duration(rb.DurationSeconds * float64(time.Second)),
	}, nil
}

func formatPoint(p models.Position) string {
	return strconv.FormatFloat(p.Latitude, 'f', -1, 64) + "," + strconv.FormatFloat(p.Longitude, 'f', -1, 64)
}
