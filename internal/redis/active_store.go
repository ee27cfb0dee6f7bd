package redis

import (
	"context"
	"errors"
	"fmt"
)

const activeKeyPrefix = "relay:active:"

// ActiveStore keeps each account's active character in redis so it survives
// restarts and is shared by every relay instance.
type ActiveStore struct {
	client *Client
}

func NewActiveStore(client *Client) *ActiveStore {
	return &ActiveStore{client: client}
}

func (s *ActiveStore) Active(ctx context.Context, account string) (string, bool, error) {
	name, err := s.client.Get(ctx, activeKeyPrefix+account)
	if errors.Is(err, ErrCacheMiss) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get active character: %w", err)
	}
	return name, name != "", nil
}

func (s *ActiveStore) SetActive(ctx context.Context, account, character string) error {
	if err := s.client.Set(ctx, activeKeyPrefix+account, character, 0); err != nil {
		return fmt.Errorf("set active character: %w", err)
	}
	return nil
}
