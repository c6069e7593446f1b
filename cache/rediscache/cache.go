// Package rediscache is a PermissionCache shared by every instance through
// Redis.
//
// Layout, with the default prefix:
//
//	identity:perm:gen              generation counter, INCR on invalidation
//	identity:perm:{gen}:{principal} JSON array of permission names
//
// Entries of older generations are never read again. InvalidateAll removes
// them on a best effort basis.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	identity "github.com/goliatone/go-identity"
	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "identity"

// putScript writes the entry only while the generation it was resolved
// under is still current.
var putScript = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
if current == false then current = "0" end
if current ~= ARGV[1] then return 0 end
redis.call("SET", KEYS[2], ARGV[2])
return 1
`)

// Cache implements identity.PermissionCache.
type Cache struct {
	client redis.UniversalClient
	prefix string
	logger identity.Logger
}

var _ identity.PermissionCache = (*Cache)(nil)

// Option configures a Cache instance.
type Option func(*Cache)

// WithPrefix namespaces every key, defaults to "identity".
func WithPrefix(prefix string) Option {
	return func(c *Cache) {
		if prefix != "" {
			c.prefix = prefix
		}
	}
}

func WithLogger(logger identity.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New wraps client, whose lifecycle stays with the caller.
func New(client redis.UniversalClient, opts ...Option) *Cache {
	c := &Cache{
		client: client,
		prefix: defaultPrefix,
		logger: identity.DefaultLogger(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Connect parses a redis:// URL and pings the server.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

func (c *Cache) Generation(ctx context.Context) (uint64, error) {
	gen, err := c.client.Get(ctx, c.generationKey()).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return gen, nil
}

func (c *Cache) Get(ctx context.Context, generation uint64, principal string) (identity.PermissionSet, bool, error) {
	raw, err := c.client.Get(ctx, c.entryKey(generation, principal)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var names []string
	if err := json.Unmarshal(raw, &names); err != nil {
		c.logger.Warn("rediscache: dropping unreadable entry for %s: %v", principal, err)
		return nil, false, nil
	}

	perms := make([]identity.Permission, len(names))
	for i, name := range names {
		perms[i] = identity.Permission(name)
	}
	return identity.NewPermissionSet(perms...), true, nil
}

func (c *Cache) Put(ctx context.Context, generation uint64, principal string, perms identity.PermissionSet) error {
	raw, err := json.Marshal(perms.Strings())
	if err != nil {
		return err
	}

	keys := []string{c.generationKey(), c.entryKey(generation, principal)}
	return putScript.Run(ctx, c.client, keys, strconv.FormatUint(generation, 10), raw).Err()
}

// InvalidateAll bumps the generation and then clears the entries of the
// previous one.
func (c *Cache) InvalidateAll(ctx context.Context) error {
	gen, err := c.client.Incr(ctx, c.generationKey()).Uint64()
	if err != nil {
		return err
	}

	if gen == 0 {
		return nil
	}
	if err := c.purge(ctx, gen-1); err != nil {
		c.logger.Warn("rediscache: purge of generation %d failed: %v", gen-1, err)
	}
	return nil
}

func (c *Cache) purge(ctx context.Context, generation uint64) error {
	pattern := fmt.Sprintf("%s:perm:%d:*", c.prefix, generation)
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()

	pipe := c.client.Pipeline()
	for iter.Next(ctx) {
		pipe.Del(ctx, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if pipe.Len() == 0 {
		return nil
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (c *Cache) generationKey() string {
	return c.prefix + ":perm:gen"
}

func (c *Cache) entryKey(generation uint64, principal string) string {
	return fmt.Sprintf("%s:perm:%d:%s", c.prefix, generation, principal)
}
