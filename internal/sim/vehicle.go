package sim

import "vehicle-generator/internal/routes"

// Vehicle is the mutable simulation state of one bus. Route is shared and
// never modified. Progress is the fraction of the current segment already
// covered and stays in [0,1) between calls to Advance.
type Vehicle struct {
	ID            string
	Route         *routes.Route
	WaypointIndex int
	Progress      float64
	SpeedKmHr     float64
	Heading       float64 // degrees, [0,360)
}

func (v *Vehicle) lastIndex() int { return len(v.Route.Waypoints) - 1 }

func (v *Vehicle) parked() bool { return v.WaypointIndex >= v.lastIndex() }

// Position interpolates linearly between the current and the next waypoint.
// A vehicle on an empty route reports (0,0).
func (v *Vehicle) Position() routes.Point {
	wps := v.Route.Waypoints
	if len(wps) == 0 {
		return routes.Point{}
	}
	if v.parked() {
		return wps[len(wps)-1]
	}
	a := wps[v.WaypointIndex]
	b := wps[v.WaypointIndex+1]
	return routes.Point{
		Lat: a.Lat + (b.Lat-a.Lat)*v.Progress,
		Lon: a.Lon + (b.Lon-a.Lon)*v.Progress,
	}
}

// UpdateHeading points the vehicle along its current segment.
func (v *Vehicle) UpdateHeading() {
	if v.parked() {
		return
	}
	wps := v.Route.Waypoints
	v.Heading = routes.Bearing(wps[v.WaypointIndex], wps[v.WaypointIndex+1])
}

// Advance moves the vehicle along its route for dtSeconds at its speed.
// Reaching the final waypoint restarts the route from the first one, except
// through a zero-length segment, which leaves the vehicle parked.
func (v *Vehicle) Advance(dtSeconds float64) {
	if len(v.Route.Waypoints) == 0 || v.parked() {
		return
	}
	distKm := v.SpeedKmHr / 3600 * dtSeconds
	wps := v.Route.Waypoints
	segKm := v.Route.Distance(wps[v.WaypointIndex], wps[v.WaypointIndex+1])
	if segKm == 0 {
		// Snapping onto the final waypoint parks the vehicle there.
		v.WaypointIndex++
		v.Progress = 0
		v.UpdateHeading()
		return
	}
	v.WaypointIndex, v.Progress = step(v.WaypointIndex, v.Progress+distKm/segKm, v.lastIndex())
	v.UpdateHeading()
}

// step normalises an (index, progress) pair: every whole unit of progress
// moves the index one waypoint forward, and arriving at last wraps to (0, 0).
func step(index int, progress float64, last int) (int, float64) {
	for progress >= 1.0 && index < last {
		progress -= 1.0
		index++
		if index >= last {
			return 0, 0
		}
	}
	return index, progress
}
