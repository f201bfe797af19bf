package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"kanban-api/domain"
)

type backend interface {
	GetBoardWithOrder(ctx context.Context, boardID string, includeClosed bool) (*domain.BoardAggregate, error)
	SetListOrder(ctx context.Context, boardID string, order domain.OrderedIDs) error
	SetCardOrder(ctx context.Context, boardID, listID string, order domain.OrderedIDs) error
	SetCardListID(ctx context.Context, boardID, cardID, newListID string) error
	ApplyCardMove(ctx context.Context, boardID string, plan domain.MovePlan) error
	Repair(ctx context.Context, boardID string) (bool, error)
	CreateBoard(ctx context.Context, board domain.Board) error
	CreateList(ctx context.Context, list domain.List) error
	CreateCard(ctx context.Context, card domain.Card) error
	DeleteList(ctx context.Context, boardID, listID string, hard bool) error
	DeleteCard(ctx context.Context, boardID, cardID string, hard bool) error
	ReopenList(ctx context.Context, boardID, listID string) error
	ReopenCard(ctx context.Context, boardID, cardID string) error
}

// Cache wraps a Storage instance with Redis-backed caching of board reads.
// Every mutation evicts the board's cached aggregate, so readers only ever
// see a snapshot the backing table served at some point.
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

func (c *Cache) GetBoardWithOrder(ctx context.Context, boardID string, includeClosed bool) (*domain.BoardAggregate, error) {
	// Only the open view is cached; admin reads with closed items included
	// always hit the table.
	if includeClosed {
		return c.base.GetBoardWithOrder(ctx, boardID, true)
	}

	if agg, ok := c.loadBoardFromCache(ctx, boardID); ok {
		return agg, nil
	}

	agg, err := c.base.GetBoardWithOrder(ctx, boardID, false)
	if err != nil {
		return nil, err
	}

	c.storeBoard(ctx, boardID, agg)
	return agg, nil
}

func (c *Cache) SetListOrder(ctx context.Context, boardID string, order domain.OrderedIDs) error {
	if err := c.base.SetListOrder(ctx, boardID, order); err != nil {
		return err
	}
	c.evict(ctx, boardID)
	return nil
}

func (c *Cache) SetCardOrder(ctx context.Context, boardID, listID string, order domain.OrderedIDs) error {
	if err := c.base.SetCardOrder(ctx, boardID, listID, order); err != nil {
		return err
	}
	c.evict(ctx, boardID)
	return nil
}

func (c *Cache) SetCardListID(ctx context.Context, boardID, cardID, newListID string) error {
	if err := c.base.SetCardListID(ctx, boardID, cardID, newListID); err != nil {
		return err
	}
	c.evict(ctx, boardID)
	return nil
}

func (c *Cache) ApplyCardMove(ctx context.Context, boardID string, plan domain.MovePlan) error {
	if err := c.base.ApplyCardMove(ctx, boardID, plan); err != nil {
		return err
	}
	c.evict(ctx, boardID)
	return nil
}

func (c *Cache) Repair(ctx context.Context, boardID string) (bool, error) {
	changed, err := c.base.Repair(ctx, boardID)
	if changed {
		c.evict(ctx, boardID)
	}
	return changed, err
}

func (c *Cache) CreateBoard(ctx context.Context, board domain.Board) error {
	if err := c.base.CreateBoard(ctx, board); err != nil {
		return err
	}
	c.evict(ctx, board.ID)
	return nil
}

func (c *Cache) CreateList(ctx context.Context, list domain.List) error {
	if err := c.base.CreateList(ctx, list); err != nil {
		return err
	}
	c.evict(ctx, list.BoardID)
	return nil
}

func (c *Cache) CreateCard(ctx context.Context, card domain.Card) error {
	if err := c.base.CreateCard(ctx, card); err != nil {
		return err
	}
	c.evict(ctx, card.BoardID)
	return nil
}

func (c *Cache) DeleteList(ctx context.Context, boardID, listID string, hard bool) error {
	if err := c.base.DeleteList(ctx, boardID, listID, hard); err != nil {
		return err
	}
	c.evict(ctx, boardID)
	return nil
}

func (c *Cache) DeleteCard(ctx context.Context, boardID, cardID string, hard bool) error {
	if err := c.base.DeleteCard(ctx, boardID, cardID, hard); err != nil {
		return err
	}
	c.evict(ctx, boardID)
	return nil
}

func (c *Cache) ReopenList(ctx context.Context, boardID, listID string) error {
	if err := c.base.ReopenList(ctx, boardID, listID); err != nil {
		return err
	}
	c.evict(ctx, boardID)
	return nil
}

func (c *Cache) ReopenCard(ctx context.Context, boardID, cardID string) error {
	if err := c.base.ReopenCard(ctx, boardID, cardID); err != nil {
		return err
	}
	c.evict(ctx, boardID)
	return nil
}

func (c *Cache) loadBoardFromCache(ctx context.Context, boardID string) (*domain.BoardAggregate, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, boardCacheKey(boardID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, boardCacheKey(boardID)).Err()
		}
		return nil, false
	}
	var agg domain.BoardAggregate
	if err := json.Unmarshal(data, &agg); err != nil {
		_ = c.redis.Del(ctx, boardCacheKey(boardID)).Err()
		return nil, false
	}
	return &agg, true
}

func (c *Cache) storeBoard(ctx context.Context, boardID string, agg *domain.BoardAggregate) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(agg)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, boardCacheKey(boardID), data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context, boardID string) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.Del(ctx, boardCacheKey(boardID)).Result()
}

func boardCacheKey(boardID string) string {
	return "board:" + boardID
}
