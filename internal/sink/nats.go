package sink

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
)

const natsFlushTimeout = 5 * time.Second

type NATSOptions struct {
	SubjectPrefix string
	CredsFile     string
	LogSubjects   bool
	Limits        Limits
}

// NATS publishes every event as its own message on
// {prefix}.{agency}.{vehicle}, CloudEvents attributes in the headers. A batch
// is sent as a run of publishes followed by one flush.
type NATS struct {
	nc   *nats.Conn
	opts NATSOptions
	once sync.Once
}

func NewNATS(url string, o NATSOptions, m ConnMetrics) (*NATS, error) {
	natsOpts := []nats.Option{
		nats.Name("vehicle-generator"),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if m != nil {
				m.SetConnected(false)
			}
			log.WithError(err).Warn("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.SetConnected(true)
			}
			log.Info("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.SetConnected(false)
			}
			log.Info("nats closed")
		}),
	}
	if o.CredsFile != "" {
		natsOpts = append(natsOpts, nats.UserCredentials(o.CredsFile))
	}
	nc, err := nats.Connect(url, natsOpts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", url, err)
	}
	if m != nil {
		m.SetConnected(true)
	}
	return &NATS{nc: nc, opts: o}, nil
}

func (p *NATS) OpenBatch(ctx context.Context) (Batch, error) {
	if p.nc.IsClosed() {
		return nil, ErrClosed
	}
	return newBoundedBatch(p.opts.Limits), nil
}

func (p *NATS) SendBatch(ctx context.Context, b Batch) error {
	bb, err := asBounded(b)
	if err != nil {
		return err
	}
	for _, m := range bb.Messages() {
		subject := natsSubject(p.opts.SubjectPrefix, m.Position.Agency, m.Position.VehicleID)
		if p.opts.LogSubjects {
			log.Debugf("nats publish subject=%s", subject)
		}
		msg := nats.NewMsg(subject)
		msg.Data = m.Body
		for k, v := range m.Envelope.Headers() {
			msg.Header.Set(k, v)
		}
		if err := p.nc.PublishMsg(msg); err != nil {
			return fmt.Errorf("nats publish %s: %w", subject, err)
		}
	}
	fctx, cancel := context.WithTimeout(ctx, natsFlushTimeout)
	defer cancel()
	if err := p.nc.FlushWithContext(fctx); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}
	return nil
}

func (p *NATS) Close() error {
	p.once.Do(func() {
		if p.nc != nil {
			_ = p.nc.FlushTimeout(natsFlushTimeout)
			p.nc.Close()
		}
	})
	return nil
}

func natsSubject(prefix, agency, vehicleID string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = "_"
	}
	return fmt.Sprintf("%s.%s.%s", prefix, subjectToken(agency), subjectToken(vehicleID))
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
