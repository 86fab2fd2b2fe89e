package sink

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

const mqttTimeout = 10 * time.Second

type MQTTOptions struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	QoS         byte
	Limits      Limits
}

// MQTT publishes structured-mode CloudEvents (MQTT 3.1.1 carries no headers)
// on {prefix}/{agency}/{vehicle}.
type MQTT struct {
	client mqtt.Client
	opts   MQTTOptions
	once   sync.Once
}

func NewMQTT(o MQTTOptions, m ConnMetrics) (*MQTT, error) {
	co := mqtt.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(mqttTimeout).
		SetOnConnectHandler(func(mqtt.Client) {
			if m != nil {
				m.SetConnected(true)
			}
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			if m != nil {
				m.SetConnected(false)
			}
			log.WithError(err).Warn("mqtt connection lost")
		})
	client := mqtt.NewClient(co)
	tok := client.Connect()
	if !tok.WaitTimeout(mqttTimeout) {
		return nil, fmt.Errorf("mqtt connect %s: timed out", o.Broker)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", o.Broker, err)
	}
	return &MQTT{client: client, opts: o}, nil
}

func (q *MQTT) OpenBatch(ctx context.Context) (Batch, error) {
	if !q.client.IsConnectionOpen() {
		return nil, errors.New("mqtt: not connected")
	}
	return newBoundedBatch(q.opts.Limits), nil
}

func (q *MQTT) SendBatch(ctx context.Context, b Batch) error {
	bb, err := asBounded(b)
	if err != nil {
		return err
	}
	tokens := make([]mqtt.Token, 0, bb.Len())
	for _, m := range bb.Messages() {
		payload, err := m.Structured()
		if err != nil {
			return err
		}
		topic := mqttTopic(q.opts.TopicPrefix, m.Position.Agency, m.Position.VehicleID)
		tokens = append(tokens, q.client.Publish(topic, q.opts.QoS, false, payload))
	}
	deadline := time.Now().Add(mqttTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	for _, tok := range tokens {
		if !tok.WaitTimeout(time.Until(deadline)) {
			return errors.New("mqtt publish: timed out")
		}
		if err := tok.Error(); err != nil {
			return fmt.Errorf("mqtt publish: %w", err)
		}
	}
	return nil
}

func (q *MQTT) Close() error {
	q.once.Do(func() {
		q.client.Disconnect(250)
	})
	return nil
}

func mqttTopic(prefix, agency, vehicleID string) string {
	// '+' and '#' are wildcards and may not appear in a publish topic
	clean := strings.NewReplacer("/", "_", "+", "_", "#", "_", " ", "_")
	return strings.TrimSuffix(prefix, "/") + "/" + clean.Replace(agency) + "/" + clean.Replace(vehicleID)
}
