package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type (
	// User is a directory entry: a registered name and its published bundle.
	User struct {
		ID        primitive.ObjectID `bson:"_id,omitempty"`
		Name      string             `bson:"name"`
		Bundle    []byte             `bson:"bundle"`
		CreatedAt time.Time          `bson:"created_at"`
		UpdatedAt time.Time          `bson:"updated_at"`
	}

	// Account is the local, private account record.
	Account struct {
		Name      string       `json:"name"`
		Keys      IdentityKeys `json:"keys"`
		CreatedAt time.Time    `json:"created_at"`
	}
)
