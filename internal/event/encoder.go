package event

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

type Format string

const (
	FormatJSON   Format = "json"
	FormatGTFSRT Format = "gtfsrt"
)

func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatGTFSRT:
		return FormatGTFSRT, nil
	}
	return "", fmt.Errorf("unknown event format %q (want json or gtfsrt)", s)
}

// Encoder builds messages. It holds no mutable state and is safe for
// concurrent use.
type Encoder struct {
	source string
	format Format
	newID  func() string
}

func NewEncoder(source string, format Format) *Encoder {
	if source == "" {
		source = DefaultSource
	}
	if format == "" {
		format = FormatJSON
	}
	return &Encoder{source: source, format: format, newID: uuid.NewString}
}

func (e *Encoder) Format() Format { return e.format }

// Encode serializes p stamped with the tick time and wraps it in an envelope
// with a fresh correlation id.
func (e *Encoder) Encode(p Position, tick Tick) (*Message, error) {
	p.Timestamp = tick.ISO
	p.Predictable = true

	var (
		body        []byte
		contentType string
		err         error
	)
	switch e.format {
	case FormatGTFSRT:
		body, err = encodeGTFSRT(p, tick)
		contentType = ContentTypeProtobuf
	default:
		body, err = json.Marshal(p)
		contentType = ContentTypeJSON
	}
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", p.VehicleID, err)
	}
	return &Message{
		Position: p,
		At:       tick.At,
		Body:     body,
		Envelope: Envelope{
			SpecVersion:     SpecVersion,
			Type:            TypeVehiclePosition,
			Source:          e.source,
			Subject:         p.Agency + "/" + p.VehicleID,
			ID:              e.newID(),
			Time:            tick.ISO,
			DataContentType: contentType,
		},
	}, nil
}
