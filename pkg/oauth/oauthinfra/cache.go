package oauthinfra

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lanonasis/authgate/pkg/kernel"
	"github.com/lanonasis/authgate/pkg/oauth"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisCache implements oauth.Cache. Every operation is best-effort: a Redis
// failure degrades to a miss and the caller falls back to Postgres.
type RedisCache struct {
	rdb       *redis.Client
	clientTTL time.Duration
}

// NewRedisCache creates the advisory cache. Clients default to a 1 hour TTL.
func NewRedisCache(rdb *redis.Client) *RedisCache {
	return &RedisCache{rdb: rdb, clientTTL: time.Hour}
}

func clientKey(id kernel.ClientID) string { return fmt.Sprintf("oauth:client:%s", id.String()) }
func codeKey(lookupHash string) string    { return fmt.Sprintf("oauth:code:%s", lookupHash) }

func (c *RedisCache) GetClient(ctx context.Context, clientID kernel.ClientID) (*oauth.Client, bool) {
	data, err := c.rdb.Get(ctx, clientKey(clientID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Debug().Err(err).Str("client_id", clientID.String()).Msg("client cache read failed")
		}
		return nil, false
	}
	var client oauth.Client
	if err := json.Unmarshal(data, &client); err != nil {
		c.InvalidateClient(ctx, clientID)
		return nil, false
	}
	return &client, true
}

func (c *RedisCache) SetClient(ctx context.Context, client *oauth.Client) {
	data, err := json.Marshal(client)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, clientKey(client.ClientID), data, c.clientTTL).Err(); err != nil {
		log.Debug().Err(err).Str("client_id", client.ClientID.String()).Msg("client cache write failed")
	}
}

func (c *RedisCache) InvalidateClient(ctx context.Context, clientID kernel.ClientID) {
	if err := c.rdb.Del(ctx, clientKey(clientID)).Err(); err != nil {
		log.Debug().Err(err).Str("client_id", clientID.String()).Msg("client cache invalidation failed")
	}
}

// GetCode returns a cached authorization code record. Expired entries are
// dropped on read; the consume path still runs against Postgres so a cache
// hit never bypasses the one-time check.
func (c *RedisCache) GetCode(ctx context.Context, lookupHash string) (*oauth.AuthorizationCode, bool) {
	data, err := c.rdb.Get(ctx, codeKey(lookupHash)).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Debug().Err(err).Msg("code cache read failed")
		}
		return nil, false
	}
	var code oauth.AuthorizationCode
	if err := json.Unmarshal(data, &code); err != nil {
		c.DropCode(ctx, lookupHash)
		return nil, false
	}
	if code.IsExpired() {
		c.DropCode(ctx, lookupHash)
		return nil, false
	}
	return &code, true
}

func (c *RedisCache) SetCode(ctx context.Context, code *oauth.AuthorizationCode) {
	ttl := time.Until(code.ExpiresAt)
	if ttl <= 0 {
		return
	}
	data, err := json.Marshal(code)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, codeKey(code.LookupHash), data, ttl).Err(); err != nil {
		log.Debug().Err(err).Msg("code cache write failed")
	}
}

func (c *RedisCache) DropCode(ctx context.Context, lookupHash string) {
	if err := c.rdb.Del(ctx, codeKey(lookupHash)).Err(); err != nil {
		log.Debug().Err(err).Msg("code cache drop failed")
	}
}
