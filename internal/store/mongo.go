// Package store persists every document this system owns in MongoDB.
// The hierarchy the client used (users/{uid}/profiles/{p}/...) is
// flattened into top-level collections filtered and indexed by
// uid+profile; the username reservation map keeps its own collection
// keyed by the normalized name.
package store

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	UsersCollection         = "users"
	UsernamesCollection     = "users_by_username"
	SessionsCollection      = "sessions"
	ProfilesCollection      = "profiles"
	TransactionsCollection  = "transactions"
	CategoriesCollection    = "categories"
	CollaboratorsCollection = "collaborators"
)

// Connect establishes a MongoDB connection and verifies it with a ping.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("ping MongoDB: %w", err)
	}
	return client, nil
}

// EnsureIndexes creates the indexes the repository's queries rely on.
// Safe to call on every startup.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	scoped := mongo.IndexModel{
		Keys: bson.D{{Key: "uid", Value: 1}, {Key: "profileType", Value: 1}, {Key: "date", Value: -1}},
	}
	if _, err := db.Collection(TransactionsCollection).Indexes().CreateOne(ctx, scoped); err != nil {
		return fmt.Errorf("create transactions index: %w", err)
	}

	byProfile := mongo.IndexModel{
		Keys: bson.D{{Key: "uid", Value: 1}, {Key: "profileType", Value: 1}},
	}
	for _, name := range []string{CategoriesCollection, CollaboratorsCollection, ProfilesCollection} {
		if _, err := db.Collection(name).Indexes().CreateOne(ctx, byProfile); err != nil {
			return fmt.Errorf("create %s index: %w", name, err)
		}
	}

	session := mongo.IndexModel{
		Keys:    bson.D{{Key: "refreshToken", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := db.Collection(SessionsCollection).Indexes().CreateOne(ctx, session); err != nil {
		return fmt.Errorf("create sessions index: %w", err)
	}
	return nil
}
