// README: Order distance via the Google Maps Distance Matrix API, falling back to haversine.
package maps

import (
	"context"
	"fmt"
	"log"
	"math"

	"googlemaps.github.io/maps"

	"yisong/internal/types"
)

// matrixClient is satisfied by *maps.Client.
type matrixClient interface {
	DistanceMatrix(ctx context.Context, r *maps.DistanceMatrixRequest) (*maps.DistanceMatrixResponse, error)
}

// DistanceService answers driving distances. Without an API key, or when the API fails,
// it returns the straight-line distance.
type DistanceService struct {
	client matrixClient
}

// NewDistanceService creates the service; an empty apiKey selects haversine only.
func NewDistanceService(apiKey string) (*DistanceService, error) {
	if apiKey == "" {
		return &DistanceService{}, nil
	}
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &DistanceService{client: client}, nil
}

func (s *DistanceService) DistanceKm(ctx context.Context, from, to types.Point) (float64, error) {
	if !validPoint(from) || !validPoint(to) {
		return 0, fmt.Errorf("invalid coordinates %v -> %v", from, to)
	}
	if s.client != nil {
		km, err := s.drivingKm(ctx, from, to)
		if err == nil {
			return km, nil
		}
		log.Printf("maps: distance matrix failed, using haversine: %v", err)
	}
	return round2(HaversineKm(from, to)), nil
}

func (s *DistanceService) drivingKm(ctx context.Context, from, to types.Point) (float64, error) {
	r := &maps.DistanceMatrixRequest{
		Origins:      []string{latLng(from)},
		Destinations: []string{latLng(to)},
		Mode:         maps.TravelModeDriving,
		Language:     "zh-CN",
	}
	resp, err := s.client.DistanceMatrix(ctx, r)
	if err != nil {
		return 0, fmt.Errorf("maps api error: %w", err)
	}
	if len(resp.Rows) == 0 || len(resp.Rows[0].Elements) == 0 {
		return 0, fmt.Errorf("no route found")
	}
	el := resp.Rows[0].Elements[0]
	if el.Status != "OK" {
		return 0, fmt.Errorf("route status %s", el.Status)
	}
	return round2(float64(el.Distance.Meters) / 1000), nil
}

func latLng(p types.Point) string {
	return fmt.Sprintf("%.6f,%.6f", p.Lat, p.Lng)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
