// Package kv is the storage collaborator of the session layer: a durable
// byte store keyed by string. A Set that returns nil must survive a restart.
package kv

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("kv: key not found")

type (
	Store interface {
		Get(ctx context.Context, key string) ([]byte, error)
		Set(ctx context.Context, key string, value []byte) error
		Delete(ctx context.Context, key string) error
	}
)
