package sim

import (
	"fmt"
	"math/rand"

	"vehicle-generator/internal/routes"
)

const (
	minSpeedKmHr = 20.0
	maxSpeedKmHr = 40.0
)

// Fleet is the set of vehicles simulated during one feed run. Membership and
// route assignment are fixed at construction.
type Fleet struct {
	agency   string
	routes   []*routes.Route
	vehicles []*Vehicle
	byID     map[string]*Vehicle
}

// NewFleet creates count vehicles spread round-robin over candidates, each
// with a random start position and a speed between 20 and 40 km/h.
func NewFleet(agency string, candidates []*routes.Route, count int, rng *rand.Rand) (*Fleet, error) {
	if len(candidates) == 0 {
		return nil, fmt.Errorf("fleet for %q: no routes", agency)
	}
	if count <= 0 {
		return nil, fmt.Errorf("fleet for %q: vehicle count must be positive, got %d", agency, count)
	}
	f := &Fleet{
		agency:   agency,
		routes:   candidates,
		vehicles: make([]*Vehicle, 0, count),
		byID:     make(map[string]*Vehicle, count),
	}
	for i := 0; i < count; i++ {
		r := candidates[i%len(candidates)]
		start := 0
		if n := len(r.Waypoints); n >= 2 {
			start = rng.Intn(n - 1)
		}
		v := &Vehicle{
			ID:            fmt.Sprintf("vehicle-%03d", i+1),
			Route:         r,
			WaypointIndex: start,
			Progress:      rng.Float64(),
			SpeedKmHr:     minSpeedKmHr + rng.Float64()*(maxSpeedKmHr-minSpeedKmHr),
		}
		v.UpdateHeading()
		f.vehicles = append(f.vehicles, v)
		f.byID[v.ID] = v
	}
	return f, nil
}

func (f *Fleet) Agency() string { return f.agency }

func (f *Fleet) Routes() []*routes.Route { return f.routes }

func (f *Fleet) Len() int { return len(f.vehicles) }

// Vehicles returns the fleet in creation order. Callers must not mutate the
// vehicles while a dispatch is reading them.
func (f *Fleet) Vehicles() []*Vehicle { return f.vehicles }

func (f *Fleet) Get(id string) (*Vehicle, bool) {
	v, ok := f.byID[id]
	return v, ok
}

// Advance moves every vehicle forward by dtSeconds, one at a time.
func (f *Fleet) Advance(dtSeconds float64) {
	for _, v := range f.vehicles {
		v.Advance(dtSeconds)
	}
}
