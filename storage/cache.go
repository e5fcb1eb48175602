package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"sprint-board/domain"
)

type backend interface {
	FetchByParent(ctx context.Context, sprintID string) ([]domain.WorkItem, error)
	FetchDeveloper(ctx context.Context, subject string) (domain.Member, error)
	EnqueueCommit(ctx context.Context, env domain.CommitEnvelope) error
}

// Cache wraps a Storage instance with Redis-backed caching for read operations.
type Cache struct {
	*Storage
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching Storage wrapper using the provided Redis client and TTL.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}

	c := &Cache{
		base:  base,
		redis: client,
		ttl:   ttl,
	}
	if s, ok := base.(*Storage); ok {
		c.Storage = s
	}
	return c
}

func (c *Cache) FetchByParent(ctx context.Context, sprintID string) ([]domain.WorkItem, error) {
	if items, ok := c.loadBoardFromCache(ctx, sprintID); ok {
		return items, nil
	}

	items, err := c.base.FetchByParent(ctx, sprintID)
	if err != nil {
		return nil, err
	}

	c.storeJSON(ctx, boardCacheKey(sprintID), items)
	return items, nil
}

func (c *Cache) FetchDeveloper(ctx context.Context, subject string) (domain.Member, error) {
	if m, ok := c.loadDeveloperFromCache(ctx, subject); ok {
		return m, nil
	}

	m, err := c.base.FetchDeveloper(ctx, subject)
	if err != nil {
		return domain.Member{}, err
	}

	c.storeJSON(ctx, developerCacheKey(subject), m)
	return m, nil
}

// EnqueueCommit forwards the commit and drops the cached board so readers do
// not keep serving the pre-commit order.
func (c *Cache) EnqueueCommit(ctx context.Context, env domain.CommitEnvelope) error {
	if err := c.base.EnqueueCommit(ctx, env); err != nil {
		return err
	}

	c.evict(ctx, env.SprintID)
	return nil
}

// RefreshBoard reloads the sprint's board from storage into the cache.
func (c *Cache) RefreshBoard(ctx context.Context, sprintID string) ([]domain.WorkItem, error) {
	items, err := c.base.FetchByParent(ctx, sprintID)
	if err != nil {
		return nil, err
	}
	c.storeJSON(ctx, boardCacheKey(sprintID), items)
	return items, nil
}

func (c *Cache) loadBoardFromCache(ctx context.Context, sprintID string) ([]domain.WorkItem, bool) {
	var items []domain.WorkItem
	if !c.loadJSON(ctx, boardCacheKey(sprintID), &items) {
		return nil, false
	}
	return items, true
}

func (c *Cache) loadDeveloperFromCache(ctx context.Context, subject string) (domain.Member, bool) {
	var m domain.Member
	if !c.loadJSON(ctx, developerCacheKey(subject), &m) {
		return domain.Member{}, false
	}
	return m, true
}

func (c *Cache) loadJSON(ctx context.Context, key string, dst any) bool {
	if c.redis == nil {
		return false
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, key).Err()
		}
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return false
	}
	return true
}

func (c *Cache) storeJSON(ctx context.Context, key string, v any) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context, sprintID string) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.Del(ctx, boardCacheKey(sprintID)).Result()
}

func boardCacheKey(sprintID string) string {
	return "board:" + sprintID
}

func developerCacheKey(subject string) string {
	return "developer:" + subject
}
