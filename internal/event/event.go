// Package event turns vehicle snapshots into serialized location events with
// CloudEvents 1.0 envelope metadata.
package event

import (
	"time"

	"github.com/goccy/go-json"
)

const (
	SpecVersion         = "1.0"
	TypeVehiclePosition = "vehicle.position"
	DefaultSource       = "vehicle-generator"

	ContentTypeJSON     = "application/json"
	ContentTypeProtobuf = "application/x-protobuf"
)

// Position is the event payload for one vehicle at one tick.
type Position struct {
	Agency      string  `json:"agency"`
	RouteTag    string  `json:"routeTag"`
	VehicleID   string  `json:"vehicleId"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	Heading     float64 `json:"heading"`
	SpeedKmHr   float64 `json:"speedKmHr"`
	Timestamp   string  `json:"timestamp"`
	Predictable bool    `json:"predictable"`
}

// Tick is the timestamp shared by every event of one dispatch.
type Tick struct {
	At  time.Time
	ISO string
}

func NewTick(at time.Time) Tick {
	at = at.UTC()
	return Tick{At: at, ISO: at.Format(time.RFC3339Nano)}
}

// Envelope carries the CloudEvents attributes of a message.
type Envelope struct {
	SpecVersion     string
	Type            string
	Source          string
	Subject         string
	ID              string
	Time            string
	DataContentType string
}

// Headers renders the envelope as binary-mode transport headers.
func (e Envelope) Headers() map[string]string {
	return map[string]string{
		"ce-specversion":     e.SpecVersion,
		"ce-type":            e.Type,
		"ce-source":          e.Source,
		"ce-subject":         e.Subject,
		"ce-id":              e.ID,
		"ce-time":            e.Time,
		"ce-datacontenttype": e.DataContentType,
	}
}

// Message is one encoded event ready to be added to a sink batch.
type Message struct {
	Position Position
	At       time.Time
	Envelope Envelope
	Body     []byte
}

// Size is the payload size a sink accounts for when filling a batch.
func (m *Message) Size() int { return len(m.Body) }

type structuredEvent struct {
	SpecVersion     string          `json:"specversion"`
	Type            string          `json:"type"`
	Source          string          `json:"source"`
	Subject         string          `json:"subject"`
	ID              string          `json:"id"`
	Time            string          `json:"time"`
	DataContentType string          `json:"datacontenttype"`
	Data            json.RawMessage `json:"data,omitempty"`
	DataBase64      []byte          `json:"data_base64,omitempty"`
}

// Structured renders the message in CloudEvents structured mode, for
// transports that have no header support.
func (m *Message) Structured() ([]byte, error) {
	se := structuredEvent{
		SpecVersion:     m.Envelope.SpecVersion,
		Type:            m.Envelope.Type,
		Source:          m.Envelope.Source,
		Subject:         m.Envelope.Subject,
		ID:              m.Envelope.ID,
		Time:            m.Envelope.Time,
		DataContentType: m.Envelope.DataContentType,
	}
	if m.Envelope.DataContentType == ContentTypeJSON {
		se.Data = json.RawMessage(m.Body)
	} else {
		se.DataBase64 = m.Body
	}
	return json.Marshal(se)
}
