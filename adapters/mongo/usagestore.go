// Package mongo provides the MongoDB implementation of the usage store.
// It replaces the per-user usageHistory arrays of the original deployment
// with a single append-only usage_events collection, which keeps Append a
// pure insert.
package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/codelens/quotagate/domain/usage"
	"github.com/codelens/quotagate/ports"
)

const (
	defaultDatabase = "code-explainer"
	collectionName  = "usage_events"
)

// UsageStore implements ports.UsageStore using MongoDB.
type UsageStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

type eventDoc struct {
	ID        string    `bson:"_id"`
	Identity  string    `bson:"identity"`
	Kind      string    `bson:"kind"`
	Timestamp time.Time `bson:"timestamp"`
}

// Connect opens a MongoDB connection and prepares the usage_events
// collection. An empty database name falls back to the original product's
// database.
func Connect(ctx context.Context, uri, database string) (*UsageStore, error) {
	if database == "" {
		database = defaultDatabase
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("%w: connect: %v", ports.ErrStoreUnavailable, err)
	}

	s := &UsageStore{
		client: client,
		coll:   client.Database(database).Collection(collectionName),
	}

	// Range queries are always (identity, window).
	_, err = s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "identity", Value: 1}, {Key: "timestamp", Value: 1}},
	})
	if err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("%w: create index: %v", ports.ErrStoreUnavailable, err)
	}

	return s, nil
}

// Append durably stores one event. The driver acknowledges the write before
// returning, so success means the event is in the ledger.
func (s *UsageStore) Append(ctx context.Context, e usage.Event) error {
	_, err := s.coll.InsertOne(ctx, eventDoc{
		ID:        e.ID,
		Identity:  e.Identity,
		Kind:      e.Kind,
		Timestamp: e.Timestamp.UTC(),
	})
	if err != nil {
		return fmt.Errorf("%w: append: %v", ports.ErrStoreUnavailable, err)
	}
	return nil
}

// EventsInWindow returns the identity's events with start <= ts < end,
// ordered by timestamp.
func (s *UsageStore) EventsInWindow(ctx context.Context, identity string, start, end time.Time) ([]usage.Event, error) {
	filter := bson.M{
		"identity":  identity,
		"timestamp": bson.M{"$gte": start.UTC(), "$lt": end.UTC()},
	}
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}})

	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: query window: %v", ports.ErrStoreUnavailable, err)
	}
	defer cur.Close(ctx)

	events := make([]usage.Event, 0)
	for cur.Next(ctx) {
		var doc eventDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("%w: decode event: %v", ports.ErrStoreUnavailable, err)
		}
		events = append(events, usage.Event{
			ID:        doc.ID,
			Identity:  doc.Identity,
			Kind:      doc.Kind,
			Timestamp: doc.Timestamp,
		})
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate events: %v", ports.ErrStoreUnavailable, err)
	}

	return events, nil
}

// Ping reports whether the server is reachable.
func (s *UsageStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("%w: ping: %v", ports.ErrStoreUnavailable, err)
	}
	return nil
}

// Close disconnects from the server.
func (s *UsageStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Ensure interface compliance.
var (
	_ ports.UsageStore = (*UsageStore)(nil)
	_ ports.Pinger     = (*UsageStore)(nil)
)
