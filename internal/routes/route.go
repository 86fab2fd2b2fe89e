package routes

import "math"

// EarthRadiusKm is the mean Earth radius used by Distance.
const EarthRadiusKm = 6371.0

type Point struct {
	Lat float64
	Lon float64
}

// Route is an ordered, immutable list of waypoints. Vehicles hold a pointer
// to a catalog route and never modify it.
type Route struct {
	Tag       string
	Title     string
	Waypoints []Point
}

// Distance returns the great-circle distance between two points on the route's
// sphere, in km.
func (r *Route) Distance(a, b Point) float64 { return Distance(a, b) }

// Length is the summed segment distance of the route in km.
func (r *Route) Length() float64 {
	total := 0.0
	for i := 1; i < len(r.Waypoints); i++ {
		total += Distance(r.Waypoints[i-1], r.Waypoints[i])
	}
	return total
}

// Distance is the haversine distance in km.
func Distance(a, b Point) float64 {
	toRad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := toRad(b.Lat - a.Lat)
	dLon := toRad(b.Lon - a.Lon)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusKm * c
}

// Bearing returns the initial bearing from a to b in degrees, within [0,360).
func Bearing(a, b Point) float64 {
	toRad := func(d float64) float64 { return d * math.Pi / 180 }
	lat1 := toRad(a.Lat)
	lat2 := toRad(b.Lat)
	dLon := toRad(b.Lon - a.Lon)
	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	return math.Mod(math.Atan2(y, x)*180/math.Pi+360, 360)
}
