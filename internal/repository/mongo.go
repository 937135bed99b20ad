package repository

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	usersCollection         = "users"
	conversationsCollection = "conversations"
	messagesCollection      = "messages"

	opTimeout = 5 * time.Second
)

// ConnectMongo dials the deployment at uri and verifies it with a ping.
func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return client, nil
}

// NewMongoStore wires the Mongo-backed repositories on db.
func NewMongoStore(db *mongo.Database) *Store {
	return &Store{
		Users:         NewMongoUsers(db),
		Conversations: NewMongoConversations(db),
		Messages:      NewMongoMessages(db),
	}
}

// EnsureIndexes creates the indexes the queries in this package rely on.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	indexes := map[string][]mongo.IndexModel{
		usersCollection: {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true).SetName("email_unique")},
		},
		conversationsCollection: {
			{Keys: bson.D{{Key: "members", Value: 1}}, Options: options.Index().SetName("members_idx")},
			{Keys: bson.D{{Key: "updatedAt", Value: -1}}, Options: options.Index().SetName("updated_idx")},
		},
		messagesCollection: {
			{
				Keys:    bson.D{{Key: "conversationId", Value: 1}, {Key: "createdAt", Value: 1}},
				Options: options.Index().SetName("conversation_created_idx"),
			},
		},
	}
	for coll, models := range indexes {
		if _, err := db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("failed to create indexes on %s: %w", coll, err)
		}
	}
	return nil
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, opTimeout)
}
