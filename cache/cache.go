// Package cache is a Redis-backed read-through cache. Entries are keyed by
// (resource, scope) with an explicit per-resource TTL and explicit
// invalidation hooks; there is no shared "global" namespace. When Redis is
// unreachable the cache degrades to calling the fallback directly.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"engage-router/store"
)

const (
	conversationTTL = 30 * time.Second
	profileTTL      = 24 * time.Hour
)

type Cache struct {
	client  *redis.Client
	enabled bool
	group   singleflight.Group
}

// New connects to Redis. A failed connection disables caching rather than
// failing startup.
func New(addr, username, password string) *Cache {
	if addr == "" {
		log.Printf("💡 No Redis address configured, cache disabled")
		return &Cache{}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Username: username,
		Password: password,
	})

	if _, err := client.Ping(context.Background()).Result(); err != nil {
		log.Printf("⚠️ Redis connection failed, cache disabled: %v", err)
		return &Cache{}
	}

	log.Printf("✅ Redis connected")
	return &Cache{client: client, enabled: true}
}

func key(resource, scope string) string {
	return fmt.Sprintf("%s:%s", resource, scope)
}

// GetConversations returns the cached conversation list for an account, or
// falls back to fetch. Concurrent misses for the same account are collapsed
// into one fetch via singleflight.
func (c *Cache) GetConversations(ctx context.Context, accountID string, fetch func() ([]store.Conversation, error)) ([]store.Conversation, error) {
	if !c.enabled {
		return fetch()
	}

	k := key("conversations", accountID)
	if data, err := c.client.Get(ctx, k).Bytes(); err == nil {
		var convs []store.Conversation
		if err := json.Unmarshal(data, &convs); err == nil {
			log.Printf("🎯 Cache hit for conversations:%s", accountID)
			return convs, nil
		}
	}

	result, err, _ := c.group.Do(k, func() (interface{}, error) {
		convs, err := fetch()
		if err != nil {
			return nil, err
		}
		if data, err := json.Marshal(convs); err == nil {
			if err := c.client.Set(ctx, k, data, conversationTTL).Err(); err != nil {
				log.Printf("⚠️ Failed to cache conversations for %s: %v", accountID, err)
			}
		}
		return convs, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]store.Conversation), nil
}

// InvalidateConversations drops the cached list after a write.
func (c *Cache) InvalidateConversations(ctx context.Context, accountID string) {
	if !c.enabled {
		return
	}
	if err := c.client.Del(ctx, key("conversations", accountID)).Err(); err != nil {
		log.Printf("⚠️ Failed to invalidate conversations cache for %s: %v", accountID, err)
	}
}

// GetProfileName caches platform profile names, which change rarely.
func (c *Cache) GetProfileName(ctx context.Context, userID string, fetch func() (string, error)) (string, error) {
	if !c.enabled {
		return fetch()
	}

	k := key("profile", userID)
	if name, err := c.client.Get(ctx, k).Result(); err == nil {
		return name, nil
	}

	result, err, _ := c.group.Do(k, func() (interface{}, error) {
		name, err := fetch()
		if err != nil {
			return nil, err
		}
		if err := c.client.Set(ctx, k, name, profileTTL).Err(); err != nil {
			log.Printf("⚠️ Failed to cache profile name for %s: %v", userID, err)
		}
		return name, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// InvalidateProfile drops a cached profile name.
func (c *Cache) InvalidateProfile(ctx context.Context, userID string) {
	if !c.enabled {
		return
	}
	if err := c.client.Del(ctx, key("profile", userID)).Err(); err != nil {
		log.Printf("⚠️ Failed to invalidate profile cache for %s: %v", userID, err)
	}
}
