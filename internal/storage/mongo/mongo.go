// Package mongo stores promotions and customers in MongoDB using the
// document layout of the legacy promotion service.
package mongo

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	promotionsCollection = "promotions"
	usersCollection      = "users"
)

// DB is a connected MongoDB database handle.
type DB struct {
	Client   *mongo.Client
	Database *mongo.Database
}

// Connect dials uri, verifies the primary is reachable and selects database.
func Connect(ctx context.Context, uri, database string) (*DB, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrap(err, "connect")
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errors.Wrap(err, "ping")
	}

	return &DB{Client: client, Database: client.Database(database)}, nil
}

// Ping checks the primary is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.Client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client.
func (db *DB) Close(ctx context.Context) error {
	return db.Client.Disconnect(ctx)
}

// EnsureIndexes creates the unique code index and the active listing index.
func (db *DB) EnsureIndexes(ctx context.Context) error {
	_, err := db.Database.Collection(promotionsCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "code", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "isActive", Value: 1}, {Key: "createdAt", Value: -1}},
		},
	})
	if err != nil {
		return errors.Wrap(err, "create promotion indexes")
	}
	return nil
}
