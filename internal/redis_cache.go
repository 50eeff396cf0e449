package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/lychee-technology/resource"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// NewRedisClient connects to Redis and checks the connection.
func NewRedisClient(ctx context.Context, cfg resource.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// RedisAttributeCache is a shared cache-aside layer in front of an
// AttributeGetter. Entries hold the physical values of one retrieval
// operation of one entity and expire after the TTL; writes through the
// matching setter drop every entry of the entity. Redis failures are logged
// and the collaborator is called directly.
type RedisAttributeCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisAttributeCache(client *redis.Client, prefix string, ttl time.Duration) *RedisAttributeCache {
	return &RedisAttributeCache{client: client, prefix: prefix, ttl: ttl}
}

// cachedGroup is the stored form of one fetch. Ids lists every id the
// collaborator was asked for, so absent values are cached too.
type cachedGroup struct {
	IDs    []resource.AttributeID               `json:"ids"`
	Values map[resource.AttributeID]cachedValue `json:"values"`
}

// cachedValue tags a physical value with its Go type so codecs see the
// same type on a cache hit as on a remote fetch.
type cachedValue struct {
	Type  string          `json:"t"`
	Value json.RawMessage `json:"v"`
}

// entityPattern matches every group key of id. Prefix and kind are
// literal text in the pattern.
func (c *RedisAttributeCache) entityPattern(id resource.Identity) string {
	return fmt.Sprintf("%s%s/%s:*", globEscaper.Replace(c.prefix), globEscaper.Replace(id.Kind), id.Key)
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func (c *RedisAttributeCache) key(id resource.Identity, op resource.OperationID) string {
	return fmt.Sprintf("%s%s/%s:%s", c.prefix, id.Kind, id.Key, op)
}

func (c *RedisAttributeCache) load(ctx context.Context, key string) (*cachedGroup, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var g cachedGroup
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("decode cache entry %s: %w", key, err)
	}
	return &g, nil
}

func (c *RedisAttributeCache) store(ctx context.Context, key string, g *cachedGroup) error {
	data, err := json.Marshal(g)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, c.ttl).Err()
}

// Invalidate drops every cached group of an entity.
func (c *RedisAttributeCache) Invalidate(ctx context.Context, id resource.Identity) error {
	iter := c.client.Scan(ctx, 0, c.entityPattern(id), 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}

// Getter wraps next with the cache.
func (c *RedisAttributeCache) Getter(next resource.AttributeGetter) resource.AttributeGetter {
	return &cachingGetter{cache: c, next: next}
}

// Setter wraps next so every apply invalidates the entity's cached groups.
func (c *RedisAttributeCache) Setter(next resource.AttributeSetter) resource.AttributeSetter {
	return &invalidatingSetter{cache: c, next: next}
}

type cachingGetter struct {
	cache *RedisAttributeCache
	next  resource.AttributeGetter
}

func (g *cachingGetter) Fetch(ctx context.Context, id resource.Identity, op resource.OperationID, ids []resource.AttributeID) (map[resource.AttributeID]any, error) {
	key := g.cache.key(id, op)
	cached, err := g.cache.load(ctx, key)
	if err != nil {
		zap.S().Warnw("attribute cache read failed", "key", key, "error", err)
	}
	if cached != nil {
		if out, ok := cached.lookup(ids); ok {
			return out, nil
		}
	}

	values, err := g.next.Fetch(ctx, id, op, ids)
	if err != nil {
		return nil, err
	}
	merged := cached
	if merged == nil {
		merged = &cachedGroup{Values: make(map[resource.AttributeID]cachedValue)}
	}
	if err := merged.merge(ids, values); err != nil {
		zap.S().Debugw("attribute group not cacheable", "key", key, "error", err)
		return values, nil
	}
	if err := g.cache.store(ctx, key, merged); err != nil {
		zap.S().Warnw("attribute cache write failed", "key", key, "error", err)
	}
	return values, nil
}

func (g *cachedGroup) lookup(ids []resource.AttributeID) (map[resource.AttributeID]any, bool) {
	out := make(map[resource.AttributeID]any, len(ids))
	for _, id := range ids {
		if !slices.Contains(g.IDs, id) {
			return nil, false
		}
		cv, ok := g.Values[id]
		if !ok {
			continue
		}
		v, err := cv.decode()
		if err != nil {
			return nil, false
		}
		out[id] = v
	}
	return out, true
}

func (g *cachedGroup) merge(ids []resource.AttributeID, values map[resource.AttributeID]any) error {
	encoded := make(map[resource.AttributeID]cachedValue, len(values))
	for id, v := range values {
		cv, err := encodeCachedValue(v)
		if err != nil {
			return fmt.Errorf("attribute %s: %w", id, err)
		}
		encoded[id] = cv
	}
	if g.Values == nil {
		g.Values = make(map[resource.AttributeID]cachedValue)
	}
	for _, id := range ids {
		delete(g.Values, id)
		if !slices.Contains(g.IDs, id) {
			g.IDs = append(g.IDs, id)
		}
	}
	for id, cv := range encoded {
		g.Values[id] = cv
	}
	return nil
}

func encodeCachedValue(v any) (cachedValue, error) {
	var tag string
	switch v.(type) {
	case string:
		tag = "string"
	case bool:
		tag = "bool"
	case int:
		tag = "int"
	case int16:
		tag = "int16"
	case int32:
		tag = "int32"
	case int64:
		tag = "int64"
	case float64:
		tag = "float64"
	case []byte:
		tag = "bytes"
	case time.Time:
		tag = "time"
	case []string:
		tag = "strings"
	default:
		return cachedValue{}, fmt.Errorf("unsupported physical type %T", v)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return cachedValue{}, err
	}
	return cachedValue{Type: tag, Value: raw}, nil
}

func (cv cachedValue) decode() (any, error) {
	switch cv.Type {
	case "string":
		return decodeAs[string](cv.Value)
	case "bool":
		return decodeAs[bool](cv.Value)
	case "int":
		return decodeAs[int](cv.Value)
	case "int16":
		return decodeAs[int16](cv.Value)
	case "int32":
		return decodeAs[int32](cv.Value)
	case "int64":
		return decodeAs[int64](cv.Value)
	case "float64":
		return decodeAs[float64](cv.Value)
	case "bytes":
		return decodeAs[[]byte](cv.Value)
	case "time":
		return decodeAs[time.Time](cv.Value)
	case "strings":
		return decodeAs[[]string](cv.Value)
	}
	return nil, fmt.Errorf("unknown cached type %q", cv.Type)
}

func decodeAs[T any](raw json.RawMessage) (any, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

type invalidatingSetter struct {
	cache *RedisAttributeCache
	next  resource.AttributeSetter
}

// Apply invalidates the entity's cached groups whatever the outcome of the call.
func (s *invalidatingSetter) Apply(ctx context.Context, id resource.Identity, op resource.OperationID, values []resource.PhysicalValue) error {
	err := s.next.Apply(ctx, id, op, values)
	if ierr := s.cache.Invalidate(context.WithoutCancel(ctx), id); ierr != nil {
		zap.S().Warnw("attribute cache invalidation failed", "resource", id.String(), "error", ierr)
	}
	return err
}
