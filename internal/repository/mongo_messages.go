package repository

import (
	"context"
	"errors"
	"time"

	"github.com/mossy-p/conversa/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoMessages struct {
	coll *mongo.Collection
}

func NewMongoMessages(db *mongo.Database) *MongoMessages {
	return &MongoMessages{coll: db.Collection(messagesCollection)}
}

func (r *MongoMessages) Create(ctx context.Context, m *models.Message) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	now := time.Now().UTC()
	if m.ID.IsZero() {
		m.ID = primitive.NewObjectID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	if m.SeenBy == nil {
		m.SeenBy = []models.SeenEntry{}
	}
	if m.DeletedFrom == nil {
		m.DeletedFrom = []primitive.ObjectID{}
	}

	_, err := r.coll.InsertOne(ctx, m)
	return err
}

func (r *MongoMessages) GetByID(ctx context.Context, id primitive.ObjectID) (*models.Message, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var m models.Message
	if err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&m); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (r *MongoMessages) ListVisible(ctx context.Context, conversationID, userID primitive.ObjectID) ([]*models.Message, error) {
	filter := bson.M{"conversationId": conversationID, "deletedFrom": bson.M{"$ne": userID}}
	return r.find(ctx, filter, options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}))
}

func (r *MongoMessages) Recent(ctx context.Context, conversationID primitive.ObjectID, limit int64) ([]*models.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}).SetLimit(limit)
	return r.find(ctx, bson.M{"conversationId": conversationID}, opts)
}

func (r *MongoMessages) MarkSeen(ctx context.Context, ids []primitive.ObjectID, userID primitive.ObjectID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	filter := bson.M{"_id": bson.M{"$in": ids}, "seenBy.user": bson.M{"$ne": userID}}
	update := bson.M{"$push": bson.M{"seenBy": models.SeenEntry{User: userID, SeenAt: at}}}
	_, err := r.coll.UpdateMany(ctx, filter, update)
	return err
}

func (r *MongoMessages) AddDeletedFrom(ctx context.Context, id primitive.ObjectID, users []primitive.ObjectID) (*models.Message, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	update := bson.M{
		"$addToSet": bson.M{"deletedFrom": bson.M{"$each": nonNil(users)}},
		"$set":      bson.M{"updatedAt": time.Now().UTC()},
	}
	var m models.Message
	err := r.coll.FindOneAndUpdate(ctx, bson.M{"_id": id}, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&m)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (r *MongoMessages) DeleteByConversation(ctx context.Context, conversationID primitive.ObjectID) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := r.coll.DeleteMany(ctx, bson.M{"conversationId": conversationID})
	return err
}

func (r *MongoMessages) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*models.Message, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	out := []*models.Message{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
