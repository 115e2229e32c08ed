package user

import (
	"context"
	"errors"
	"time"

	"enigma/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type (
	UserRepo struct {
		collection *mongo.Collection
	}
)

func NewUserRepo(db *mongo.Database) *UserRepo {
	return &UserRepo{
		collection: db.Collection("users"),
	}
}

// EnsureIndexes makes name unique, so two publishers can't both claim it.
func (r *UserRepo) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "name", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

// GetByName returns nil, nil when no user has that name.
func (r *UserRepo) GetByName(ctx context.Context, name string) (*model.User, error) {
	filter := bson.M{
		"name": name,
	}

	var user model.User
	err := r.collection.FindOne(ctx, filter).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return &user, nil
}

func (r *UserRepo) Available(ctx context.Context, name string) (bool, error) {
	n, err := r.collection.CountDocuments(ctx, bson.M{"name": name}, options.Count().SetLimit(1))
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

// PutBundle creates the user on first publish and replaces its bundle after.
func (r *UserRepo) PutBundle(ctx context.Context, name string, bundle []byte) error {
	now := time.Now().UTC()
	_, err := r.collection.UpdateOne(ctx,
		bson.M{"name": name},
		bson.M{
			"$set":         bson.M{"bundle": bundle, "updated_at": now},
			"$setOnInsert": bson.M{"name": name, "created_at": now},
		},
		options.Update().SetUpsert(true),
	)
	return err
}
