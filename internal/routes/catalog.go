package routes

// AllRoutes is the route filter value that selects every route of the catalog.
const AllRoutes = "all-routes"

type Agency struct {
	ID    string
	Title string
}

type Catalog struct {
	agencies []Agency
	routes   map[string][]*Route // agency id -> routes
	all      []*Route
}

// NewCatalog builds a catalog from agency/route pairs. Route order is kept.
func NewCatalog(entries map[Agency][]*Route, order []Agency) *Catalog {
	c := &Catalog{routes: make(map[string][]*Route, len(order))}
	for _, a := range order {
		rs := entries[a]
		c.agencies = append(c.agencies, a)
		c.routes[a.ID] = rs
		c.all = append(c.all, rs...)
	}
	return c
}

func (c *Catalog) Agencies() []Agency { return append([]Agency(nil), c.agencies...) }

// RoutesFor returns the routes run by agency, or nil if the agency is unknown.
func (c *Catalog) RoutesFor(agency string) []*Route {
	rs, ok := c.routes[agency]
	if !ok {
		return nil
	}
	return append([]*Route(nil), rs...)
}

func (c *Catalog) All() []*Route { return append([]*Route(nil), c.all...) }

// Select resolves a route filter into the candidate routes for a fleet.
// An empty filter or AllRoutes selects every route. A filter that matches no
// tag falls back to the first known route and reports fellBack.
func (c *Catalog) Select(filter string) (selected []*Route, fellBack bool) {
	if filter == "" || filter == AllRoutes {
		return c.All(), false
	}
	for _, r := range c.all {
		if r.Tag == filter {
			return []*Route{r}, false
		}
	}
	if len(c.all) == 0 {
		return nil, true
	}
	return []*Route{c.all[0]}, true
}

var demoTransit = Agency{ID: "demo-transit", Title: "Demo Transit Authority"}

// Demo returns the built-in catalog: one agency with three New York loops.
func Demo() *Catalog {
	manhattan := &Route{
		Tag:   "manhattan-loop",
		Title: "Manhattan Downtown Loop",
		Waypoints: []Point{
			{40.7128, -74.0060}, // City Hall
			{40.7505, -73.9934}, // Times Square
			{40.7829, -73.9654}, // Central Park
			{40.7614, -73.9776}, // Columbus Circle
			{40.7282, -73.9942}, // Greenwich Village
			{40.7128, -74.0060},
		},
	}
	brooklyn := &Route{
		Tag:   "brooklyn-express",
		Title: "Brooklyn Express",
		Waypoints: []Point{
			{40.6892, -73.9442},
			{40.6441, -73.9570}, // Park Slope
			{40.6195, -73.9776}, // Sunset Park
			{40.5795, -73.9707}, // Bay Ridge
			{40.6195, -73.9776},
			{40.6441, -73.9570},
			{40.6892, -73.9442},
		},
	}
	queens := &Route{
		Tag:   "queens-connector",
		Title: "Queens Connector",
		Waypoints: []Point{
			{40.7282, -73.7949}, // Long Island City
			{40.7505, -73.8370}, // Astoria
			{40.7682, -73.8370}, // East Elmhurst
			{40.7505, -73.8756}, // Jackson Heights
			{40.7282, -73.8370}, // Woodside
			{40.7282, -73.7949},
		},
	}
	return NewCatalog(
		map[Agency][]*Route{demoTransit: {manhattan, brooklyn, queens}},
		[]Agency{demoTransit},
	)
}
