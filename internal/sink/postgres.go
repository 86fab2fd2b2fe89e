package sink

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"vehicle-generator/internal/event"
)

var positionColumns = []string{
	"time",
	"event_id",
	"agency",
	"route_tag",
	"vehicle_id",
	"lat",
	"lon",
	"heading",
	"speed_km_hr",
	"payload",
}

// Postgres copies each batch into a position table with COPY.
type Postgres struct {
	pool   *pgxpool.Pool
	table  string
	limits Limits
	once   sync.Once
}

func NewPostgres(ctx context.Context, dsn, table string, limits Limits) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create db pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}
	if _, err := pool.Exec(ctx, createTableSQL(table)); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create table %s: %w", table, err)
	}
	return &Postgres{pool: pool, table: table, limits: limits}, nil
}

func (s *Postgres) OpenBatch(ctx context.Context) (Batch, error) {
	return newBoundedBatch(s.limits), nil
}

func (s *Postgres) SendBatch(ctx context.Context, b Batch) error {
	bb, err := asBounded(b)
	if err != nil {
		return err
	}
	if bb.Len() == 0 {
		return nil
	}
	rows := make([][]interface{}, bb.Len())
	for i, m := range bb.Messages() {
		rows[i] = positionRow(m)
	}
	_, err = s.pool.CopyFrom(ctx, pgx.Identifier{s.table}, positionColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("CopyFrom failed for batch of %d: %w", bb.Len(), err)
	}
	return nil
}

func (s *Postgres) Close() error {
	s.once.Do(s.pool.Close)
	return nil
}

func createTableSQL(table string) string {
	return `CREATE TABLE IF NOT EXISTS ` + pgx.Identifier{table}.Sanitize() + ` (
  time        timestamptz      NOT NULL,
  event_id    text             PRIMARY KEY,
  agency      text             NOT NULL,
  route_tag   text             NOT NULL,
  vehicle_id  text             NOT NULL,
  lat         double precision NOT NULL,
  lon         double precision NOT NULL,
  heading     double precision NOT NULL,
  speed_km_hr double precision NOT NULL,
  payload     bytea            NOT NULL
)`
}

func positionRow(m *event.Message) []interface{} {
	p := m.Position
	return []interface{}{
		m.At,
		m.Envelope.ID,
		p.Agency,
		p.RouteTag,
		p.VehicleID,
		p.Lat,
		p.Lon,
		p.Heading,
		p.SpeedKmHr,
		m.Body,
	}
}
