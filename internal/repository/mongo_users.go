package repository

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/mossy-p/conversa/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoUsers struct {
	coll *mongo.Collection
}

func NewMongoUsers(db *mongo.Database) *MongoUsers {
	return &MongoUsers{coll: db.Collection(usersCollection)}
}

func (r *MongoUsers) Create(ctx context.Context, u *models.User) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	now := time.Now().UTC()
	if u.ID.IsZero() {
		u.ID = primitive.NewObjectID()
	}
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	u.CreatedAt, u.UpdatedAt = now, now
	if u.BlockedUsers == nil {
		u.BlockedUsers = []primitive.ObjectID{}
	}

	if _, err := r.coll.InsertOne(ctx, u); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

func (r *MongoUsers) GetByID(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *MongoUsers) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.findOne(ctx, bson.M{"email": strings.ToLower(strings.TrimSpace(email))})
}

func (r *MongoUsers) findOne(ctx context.Context, filter bson.M) (*models.User, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var u models.User
	if err := r.coll.FindOne(ctx, filter).Decode(&u); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (r *MongoUsers) GetMany(ctx context.Context, ids []primitive.ObjectID) ([]*models.User, error) {
	if len(ids) == 0 {
		return []*models.User{}, nil
	}
	return r.find(ctx, bson.M{"_id": bson.M{"$in": ids}}, options.Find())
}

func (r *MongoUsers) Update(ctx context.Context, id primitive.ObjectID, upd UserUpdate) (*models.User, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	set := bson.M{"updatedAt": time.Now().UTC()}
	if upd.Name != nil {
		set["name"] = *upd.Name
	}
	if upd.Username != nil {
		set["username"] = strings.ToLower(*upd.Username)
	}
	if upd.About != nil {
		set["about"] = *upd.About
	}
	if upd.Phone != nil {
		set["phone"] = *upd.Phone
	}
	if upd.ProfilePic != nil {
		set["profilePic"] = *upd.ProfilePic
	}
	if upd.CoverPhoto != nil {
		set["coverPhoto"] = *upd.CoverPhoto
	}
	if upd.Privacy != nil {
		set["privacy"] = *upd.Privacy
	}
	if upd.ThemePreference != nil {
		set["themePreference"] = *upd.ThemePreference
	}

	var u models.User
	err := r.coll.FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&u)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (r *MongoUsers) SetOnline(ctx context.Context, id primitive.ObjectID, online bool, lastSeen time.Time) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	set := bson.M{"isOnline": online}
	if !online {
		set["lastSeen"] = lastSeen
	}
	res, err := r.coll.UpdateByID(ctx, id, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoUsers) Search(ctx context.Context, query string, exclude []primitive.ObjectID, limit int64) ([]*models.User, error) {
	pattern := primitive.Regex{Pattern: regexp.QuoteMeta(strings.TrimSpace(query)), Options: "i"}
	filter := bson.M{
		"_id": bson.M{"$nin": nonNil(exclude)},
		"$or": []bson.M{
			{"name": pattern},
			{"username": pattern},
			{"email": pattern},
		},
	}
	return r.find(ctx, filter, options.Find().SetLimit(limit).SetSort(bson.D{{Key: "name", Value: 1}}))
}

func (r *MongoUsers) ListExcept(ctx context.Context, exclude []primitive.ObjectID, limit int64) ([]*models.User, error) {
	filter := bson.M{"_id": bson.M{"$nin": nonNil(exclude)}}
	return r.find(ctx, filter, options.Find().SetLimit(limit).SetSort(bson.D{{Key: "name", Value: 1}}))
}

func (r *MongoUsers) SetBlocked(ctx context.Context, id, target primitive.ObjectID, blocked bool) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	op := "$pull"
	if blocked {
		op = "$addToSet"
	}
	res, err := r.coll.UpdateByID(ctx, id, bson.M{op: bson.M{"blockedUsers": target}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoUsers) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*models.User, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	out := []*models.User{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func nonNil(ids []primitive.ObjectID) []primitive.ObjectID {
	if ids == nil {
		return []primitive.ObjectID{}
	}
	return ids
}
