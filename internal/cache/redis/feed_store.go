package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/urbanium/internal/domain"
)

// FeedStore implements domain.FeedStore using Redis hashes.
// Each feed account is stored at key "feed:{id}" with fields "owner" (hex
// identity of the publishing authority) and "data" (raw account bytes).
type FeedStore struct {
	rdb *redis.Client
}

// NewFeedStore creates a FeedStore backed by the given Client.
func NewFeedStore(c *Client) *FeedStore {
	return &FeedStore{rdb: c.Underlying()}
}

func feedKey(id domain.ID) string {
	return "feed:" + id.Hex()
}

// Store writes the feed account, replacing both fields.
func (fs *FeedStore) Store(ctx context.Context, acct domain.FeedAccount) error {
	key := feedKey(acct.ID)
	if err := fs.rdb.HSet(ctx, key, "owner", acct.Owner.Hex(), "data", acct.Data).Err(); err != nil {
		return fmt.Errorf("redis: store feed %s: %w", acct.ID, err)
	}
	return nil
}

// Load reads a feed account. It returns domain.ErrNotFound when the key
// does not exist.
func (fs *FeedStore) Load(ctx context.Context, id domain.ID) (domain.FeedAccount, error) {
	vals, err := fs.rdb.HGetAll(ctx, feedKey(id)).Result()
	if err != nil {
		return domain.FeedAccount{}, fmt.Errorf("redis: load feed %s: %w", id, err)
	}
	if len(vals) == 0 {
		return domain.FeedAccount{}, fmt.Errorf("redis: load feed %s: %w", id, domain.ErrNotFound)
	}
	owner, err := domain.ParseID(vals["owner"])
	if err != nil {
		return domain.FeedAccount{}, fmt.Errorf("redis: load feed %s: owner: %w", id, err)
	}
	return domain.FeedAccount{ID: id, Owner: owner, Data: []byte(vals["data"])}, nil
}

// Compile-time interface check.
var _ domain.FeedStore = (*FeedStore)(nil)
