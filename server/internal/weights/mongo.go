package weights

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/fleetscore/fleetscore/pkg/types"
)

const mongoPingTimeout = 5 * time.Second

// profileDoc is the stored shape of a WeightProfile, keyed by device id.
type profileDoc struct {
	DeviceID       string    `bson:"_id"`
	AccuracyWeight float64   `bson:"accuracy_weight"`
	LatencyWeight  float64   `bson:"latency_weight"`
	EnergyWeight   float64   `bson:"energy_weight"`
	Description    string    `bson:"description"`
	LastUpdated    time.Time `bson:"last_updated"`
}

// MongoStore keeps weight profiles in one MongoDB collection.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// NewMongoStore connects to uri and verifies the connection with a ping.
func NewMongoStore(ctx context.Context, uri, database, collection string) (*MongoStore, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("weights: connect mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, mongoPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("weights: ping mongo: %w", err)
	}

	slog.Info("weights: mongo store ready", "database", database, "collection", collection)
	return &MongoStore{
		client:     client,
		collection: client.Database(database).Collection(collection),
	}, nil
}

// Load reads every stored profile.
func (s *MongoStore) Load(ctx context.Context) ([]types.WeightProfile, error) {
	cur, err := s.collection.Find(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("find profiles: %w", err)
	}
	defer cur.Close(ctx)

	var docs []profileDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode profiles: %w", err)
	}
	out := make([]types.WeightProfile, 0, len(docs))
	for _, d := range docs {
		out = append(out, fromDoc(d))
	}
	return out, nil
}

// Save upserts p by device id.
func (s *MongoStore) Save(ctx context.Context, p types.WeightProfile) error {
	_, err := s.collection.ReplaceOne(ctx,
		bson.D{{Key: "_id", Value: p.DeviceID}},
		toDoc(p),
		options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert profile %q: %w", p.DeviceID, err)
	}
	return nil
}

// Close disconnects the client.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func toDoc(p types.WeightProfile) profileDoc {
	return profileDoc{
		DeviceID:       p.DeviceID,
		AccuracyWeight: p.AccuracyWeight,
		LatencyWeight:  p.LatencyWeight,
		EnergyWeight:   p.EnergyWeight,
		Description:    p.Description,
		LastUpdated:    p.LastUpdated.UTC(),
	}
}

func fromDoc(d profileDoc) types.WeightProfile {
	return types.WeightProfile{
		DeviceID:       d.DeviceID,
		AccuracyWeight: d.AccuracyWeight,
		LatencyWeight:  d.LatencyWeight,
		EnergyWeight:   d.EnergyWeight,
		Description:    d.Description,
		LastUpdated:    d.LastUpdated,
	}
}
