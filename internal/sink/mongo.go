package sink

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"vehicle-generator/internal/event"
)

// Mongo inserts each batch as one unordered InsertMany.
type Mongo struct {
	client     *mongo.Client
	collection *mongo.Collection
	limits     Limits
	once       sync.Once
}

func NewMongo(ctx context.Context, uri, database, collection string, limits Limits) (*Mongo, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo.Connect error: %w", err)
	}
	pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo.Ping error: %w", err)
	}
	return &Mongo{
		client:     client,
		collection: client.Database(database).Collection(collection),
		limits:     limits,
	}, nil
}

func (s *Mongo) OpenBatch(ctx context.Context) (Batch, error) {
	return newBoundedBatch(s.limits), nil
}

func (s *Mongo) SendBatch(ctx context.Context, b Batch) error {
	bb, err := asBounded(b)
	if err != nil {
		return err
	}
	if bb.Len() == 0 {
		return nil
	}
	docs := make([]interface{}, bb.Len())
	for i, m := range bb.Messages() {
		docs[i] = positionDocument(m)
	}
	if _, err := s.collection.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false)); err != nil {
		return fmt.Errorf("mongo insert (batch=%d): %w", bb.Len(), err)
	}
	return nil
}

func (s *Mongo) Close() error {
	var err error
	s.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = s.client.Disconnect(ctx)
	})
	return err
}

func positionDocument(m *event.Message) bson.M {
	p := m.Position
	return bson.M{
		"_id":         m.Envelope.ID,
		"time":        m.At,
		"source":      m.Envelope.Source,
		"type":        m.Envelope.Type,
		"subject":     m.Envelope.Subject,
		"agency":      p.Agency,
		"routeTag":    p.RouteTag,
		"vehicleId":   p.VehicleID,
		"location":    bson.M{"type": "Point", "coordinates": bson.A{p.Lon, p.Lat}},
		"heading":     p.Heading,
		"speedKmHr":   p.SpeedKmHr,
		"predictable": p.Predictable,
	}
}
