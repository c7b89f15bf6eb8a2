package planner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/wayfinder/internal/domain"
	"github.com/ashureev/wayfinder/internal/metrics"
	"github.com/ashureev/wayfinder/internal/route"
)

// DefaultAMapBaseURL is the AMap web service v5 endpoint.
const DefaultAMapBaseURL = "https://restapi.amap.com/v5"

var (
	// ErrNoRoutes is returned when the provider answers without any path.
	ErrNoRoutes = errors.New("no walking routes returned")
	errProvider = errors.New("map provider error")
)

// AMap plans walking routes with the AMap direction API.
type AMap struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewAMap creates an AMap planner. An empty baseURL uses DefaultAMapBaseURL.
func NewAMap(apiKey, baseURL string) *AMap {
	if baseURL == "" {
		baseURL = DefaultAMapBaseURL
	}
	return &AMap{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// number decodes AMap numeric fields, which arrive as strings or numbers.
type number int

func (n *number) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*n = 0
		return nil
	}
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("parse number %q: %w", b, err)
	}
	*n = number(f)
	return nil
}

type amapStep struct {
	Instruction  string `json:"instruction"`
	Distance     number `json:"distance"`
	StepDistance number `json:"step_distance"`
	Duration     number `json:"duration"`
	Polyline     string `json:"polyline"`
}

type amapPath struct {
	Distance number     `json:"distance"`
	Duration number     `json:"duration"`
	Polyline string     `json:"polyline"`
	Steps    []amapStep `json:"steps"`
}

type amapResponse struct {
	Status string `json:"status"`
	Info   string `json:"info"`
	Route  struct {
		Paths []amapPath `json:"paths"`
	} `json:"route"`
}

// PlanRoute implements the route planner collaborator.
func (a *AMap) PlanRoute(ctx context.Context, origin, destination domain.Point) ([]domain.RouteOption, error) {
	start := time.Now()
	defer func() { metrics.PlannerLatency.Observe(time.Since(start).Seconds()) }()

	q := url.Values{}
	q.Set("key", a.apiKey)
	q.Set("origin", lngLat(origin))
	q.Set("destination", lngLat(destination))
	q.Set("show_fields", "polyline,steps")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/direction/walking?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build walking request: %w", err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("walking request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: http status %d", errProvider, resp.StatusCode)
	}

	var body amapResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode walking response: %w", err)
	}
	if body.Status != "1" {
		return nil, fmt.Errorf("%w: %s", errProvider, body.Info)
	}
	if len(body.Route.Paths) == 0 {
		return nil, ErrNoRoutes
	}
	return toOptions(body.Route.Paths, origin, destination), nil
}

func toOptions(paths []amapPath, origin, destination domain.Point) []domain.RouteOption {
	out := make([]domain.RouteOption, 0, len(paths))
	for i, p := range paths {
		name := "Recommended route"
		if i > 0 {
			name = fmt.Sprintf("Alternative route %d", i)
		}

		steps := make([]domain.RouteStep, 0, len(p.Steps))
		stepPaths := make([]string, 0, len(p.Steps))
		for _, s := range p.Steps {
			d := s.Distance
			if d == 0 {
				d = s.StepDistance
			}
			poly := strings.TrimSpace(s.Polyline)
			steps = append(steps, domain.RouteStep{
				Instruction: s.Instruction,
				Distance:    int(d),
				Duration:    int(s.Duration),
				Path:        poly,
			})
			if poly != "" {
				stepPaths = append(stepPaths, poly)
			}
		}

		path := strings.TrimSpace(p.Polyline)
		if path == "" {
			path = strings.Join(stepPaths, ";")
		}
		if path == "" {
			path = route.FormatPath(Interpolate(origin, destination, MissingPathPoints))
		}

		out = append(out, domain.RouteOption{
			RouteID:            fmt.Sprintf("route_%d", i),
			Name:               name,
			Distance:           int(p.Distance),
			Duration:           int(p.Duration),
			Steps:              steps,
			AccessibilityScore: 85 - i*5,
			Path:               path,
		})
	}
	return out
}

func lngLat(p domain.Point) string {
	return strconv.FormatFloat(p.Lng, 'f', 6, 64) + "," + strconv.FormatFloat(p.Lat, 'f', 6, 64)
}
