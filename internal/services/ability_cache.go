package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	rbacrepo "github.com/kryptonit/mes-backend/internal/data/repos/rbac"
	"github.com/kryptonit/mes-backend/internal/platform/logger"
)

const (
	defaultAbilityTTL    = 5 * time.Minute
	abilityCacheKeyspace = "mes:abilities:"
)

// AbilityCache resolves role names to ability codes. Entries live in memory
// for the TTL and, when a Redis client is given, are shared across instances.
type AbilityCache interface {
	Abilities(ctx context.Context, role string) ([]string, error)
	Invalidate(ctx context.Context, roles ...string)
	InvalidateAll(ctx context.Context)
}

type abilityEntry struct {
	codes     []string
	expiresAt time.Time
}

type abilityCache struct {
	log   *logger.Logger
	roles rbacrepo.RoleRepo
	rdb   *goredis.Client
	ttl   time.Duration
	now   func() time.Time

	mu      sync.RWMutex
	entries map[string]abilityEntry
	group   singleflight.Group
}

func NewAbilityCache(log *logger.Logger, roles rbacrepo.RoleRepo, rdb *goredis.Client, ttl time.Duration) AbilityCache {
	if ttl <= 0 {
		ttl = defaultAbilityTTL
	}
	return &abilityCache{
		log:     log.With("service", "AbilityCache"),
		roles:   roles,
		rdb:     rdb,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]abilityEntry),
	}
}

func (c *abilityCache) Abilities(ctx context.Context, role string) ([]string, error) {
	if codes, ok := c.lookup(role); ok {
		return codes, nil
	}
	v, err, _ := c.group.Do(role, func() (any, error) {
		if codes, ok := c.lookup(role); ok {
			return codes, nil
		}
		if codes, ok := c.fromRedis(ctx, role); ok {
			c.store(role, codes)
			return codes, nil
		}
		codes, err := c.roles.AbilityCodes(ctx, nil, role)
		if err != nil {
			return nil, err
		}
		if codes == nil {
			codes = []string{}
		}
		c.store(role, codes)
		c.toRedis(ctx, role, codes)
		return codes, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

func (c *abilityCache) lookup(role string) ([]string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[role]
	if !ok || !c.now().Before(e.expiresAt) {
		return nil, false
	}
	return e.codes, true
}

func (c *abilityCache) store(role string, codes []string) {
	c.mu.Lock()
	c.entries[role] = abilityEntry{codes: codes, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

func (c *abilityCache) fromRedis(ctx context.Context, role string) ([]string, bool) {
	if c.rdb == nil {
		return nil, false
	}
	raw, err := c.rdb.Get(ctx, abilityCacheKeyspace+role).Bytes()
	if err != nil {
		if err != goredis.Nil {
			c.log.Warn("ability cache redis get failed", "role", role, "error", err)
		}
		return nil, false
	}
	var codes []string
	if err := json.Unmarshal(raw, &codes); err != nil {
		return nil, false
	}
	return codes, true
}

func (c *abilityCache) toRedis(ctx context.Context, role string, codes []string) {
	if c.rdb == nil {
		return
	}
	raw, _ := json.Marshal(codes)
	if err := c.rdb.Set(ctx, abilityCacheKeyspace+role, raw, c.ttl).Err(); err != nil {
		c.log.Warn("ability cache redis set failed", "role", role, "error", err)
	}
}

func (c *abilityCache) Invalidate(ctx context.Context, roles ...string) {
	c.mu.Lock()
	for _, r := range roles {
		delete(c.entries, r)
	}
	c.mu.Unlock()
	if c.rdb == nil || len(roles) == 0 {
		return
	}
	keys := make([]string, 0, len(roles))
	for _, r := range roles {
		keys = append(keys, abilityCacheKeyspace+r)
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		c.log.Warn("ability cache redis delete failed", "error", err)
	}
}

func (c *abilityCache) InvalidateAll(ctx context.Context) {
	c.mu.Lock()
	c.entries = make(map[string]abilityEntry)
	c.mu.Unlock()

	if c.rdb == nil {
		return
	}
	iter := c.rdb.Scan(ctx, 0, abilityCacheKeyspace+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.log.Warn("ability cache redis scan failed", "error", err)
	}
	if len(keys) > 0 {
		_ = c.rdb.Del(ctx, keys...).Err()
	}
}
