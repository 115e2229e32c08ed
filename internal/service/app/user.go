package app

import (
	"context"
	"errors"
	"fmt"

	"enigma/internal/model"
	"enigma/internal/repository/account"
	"enigma/internal/utils/log"

	"go.uber.org/zap"
)

// getAccountAndCreateIfNotExist loads the local account, creating it when
// the name is still free on the directory, and (re)publishes its bundle.
func (c *App) getAccountAndCreateIfNotExist(ctx context.Context, name string) (*model.Account, error) {
	_, err := c.accounts.Get(ctx, name)
	switch {
	case errors.Is(err, account.ErrNotFound):
		free, err := c.api.available(ctx, name)
		if err != nil {
			return nil, err
		}
		if !free {
			return nil, fmt.Errorf("%s: %w", name, ErrNameTaken)
		}
	case err != nil:
		return nil, err
	}

	acc, created, err := c.accounts.LoadOrCreate(ctx, c.rand, name)
	if err != nil {
		return nil, err
	}
	if err := c.api.publishBundle(ctx, name, &acc.Keys.Bundle); err != nil {
		return nil, err
	}

	log.Info("account ready",
		zap.String("name", name),
		zap.Bool("created", created),
		zap.String("fingerprint", acc.Keys.Bundle.Fingerprint()))
	return acc, nil
}
