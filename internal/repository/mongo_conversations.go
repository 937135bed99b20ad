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

type MongoConversations struct {
	coll *mongo.Collection
}

func NewMongoConversations(db *mongo.Database) *MongoConversations {
	return &MongoConversations{coll: db.Collection(conversationsCollection)}
}

func (r *MongoConversations) Create(ctx context.Context, c *models.Conversation) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	now := time.Now().UTC()
	if c.ID.IsZero() {
		c.ID = primitive.NewObjectID()
	}
	c.CreatedAt, c.UpdatedAt = now, now
	normalizeConversation(c)

	_, err := r.coll.InsertOne(ctx, c)
	return err
}

func (r *MongoConversations) GetByID(ctx context.Context, id primitive.ObjectID) (*models.Conversation, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *MongoConversations) FindDirect(ctx context.Context, ids []primitive.ObjectID) (*models.Conversation, error) {
	return r.findOne(ctx, bson.M{"isGroup": false, "members": bson.M{"$all": ids}})
}

func (r *MongoConversations) findOne(ctx context.Context, filter bson.M) (*models.Conversation, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var c models.Conversation
	if err := r.coll.FindOne(ctx, filter).Decode(&c); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *MongoConversations) ListForUser(ctx context.Context, userID primitive.ObjectID) ([]*models.Conversation, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "updatedAt", Value: -1}})
	cur, err := r.coll.Find(ctx, bson.M{"members": userID}, opts)
	if err != nil {
		return nil, err
	}
	out := []*models.Conversation{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *MongoConversations) Save(ctx context.Context, c *models.Conversation, touch bool) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	updatedAt := c.UpdatedAt
	if touch {
		c.UpdatedAt = time.Now().UTC()
	}
	normalizeConversation(c)

	// Documents written before versioning carry no version field.
	filter := bson.M{"_id": c.ID, "version": c.Version}
	if c.Version == 0 {
		filter["version"] = bson.M{"$in": bson.A{0, nil}}
	}
	c.Version++
	res, err := r.coll.ReplaceOne(ctx, filter, c)
	if err == nil && res.MatchedCount == 1 {
		return nil
	}
	c.Version--
	c.UpdatedAt = updatedAt
	if err != nil {
		return err
	}

	n, err := r.coll.CountDocuments(ctx, bson.M{"_id": c.ID}, options.Count().SetLimit(1))
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return ErrStale
}

func (r *MongoConversations) RecordMessage(ctx context.Context, id primitive.ObjectID, preview string, unread []primitive.ObjectID, touch bool) (*models.Conversation, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	set := bson.M{"latestmessage": preview}
	if touch {
		set["updatedAt"] = time.Now().UTC()
	}
	inc := bson.M{"version": 1}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	if len(unread) > 0 {
		inc["unreadCounts.$[u].count"] = 1
		opts.SetArrayFilters(options.ArrayFilters{
			Filters: []interface{}{bson.M{"u.userId": bson.M{"$in": unread}}},
		})
	}

	var c models.Conversation
	err := r.coll.FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": set, "$inc": inc}, opts).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *MongoConversations) ResetUnread(ctx context.Context, id, userID primitive.ObjectID) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": id, "unreadCounts.userId": userID},
		bson.M{
			"$set": bson.M{"unreadCounts.$.count": 0},
			"$inc": bson.M{"version": 1},
		},
	)
	return err
}

func (r *MongoConversations) Delete(ctx context.Context, id primitive.ObjectID) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := r.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// normalizeConversation keeps array fields as empty arrays rather than null
// so $all/$in queries and clients see a consistent shape.
func normalizeConversation(c *models.Conversation) {
	if c.Members == nil {
		c.Members = []primitive.ObjectID{}
	}
	if c.Admins == nil {
		c.Admins = []primitive.ObjectID{}
	}
	if c.UnreadCounts == nil {
		c.UnreadCounts = []models.UnreadCount{}
	}
}
