package event

import (
	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"
)

const gtfsRealtimeVersion = "2.0"

// encodeGTFSRT renders p as a single-entity differential GTFS-Realtime feed.
func encodeGTFSRT(p Position, tick Tick) ([]byte, error) {
	ts := uint64(tick.At.Unix())
	feed := &gtfs.FeedMessage{
		Header: &gtfs.FeedHeader{
			GtfsRealtimeVersion: proto.String(gtfsRealtimeVersion),
			Incrementality:      gtfs.FeedHeader_DIFFERENTIAL.Enum(),
			Timestamp:           proto.Uint64(ts),
		},
		Entity: []*gtfs.FeedEntity{{
			Id: proto.String(p.VehicleID),
			Vehicle: &gtfs.VehiclePosition{
				Trip: &gtfs.TripDescriptor{
					RouteId: proto.String(p.RouteTag),
				},
				Vehicle: &gtfs.VehicleDescriptor{
					Id:    proto.String(p.VehicleID),
					Label: proto.String(p.Agency + "/" + p.VehicleID),
				},
				Position: &gtfs.Position{
					Latitude:  proto.Float32(float32(p.Lat)),
					Longitude: proto.Float32(float32(p.Lon)),
					Bearing:   proto.Float32(float32(p.Heading)),
					Speed:     proto.Float32(float32(p.SpeedKmHr / 3.6)), // m/s
				},
				Timestamp: proto.Uint64(ts),
			},
		}},
	}
	return proto.Marshal(feed)
}
