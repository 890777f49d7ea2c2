package storage

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const (
	OpAdd    = "add"
	OpUpdate = "update"
	OpDelete = "delete"
)

type backend interface {
	AddDocument(ctx context.Context, collection string, fields map[string]any) (string, error)
	ListDocuments(ctx context.Context, collection string) ([]Document, error)
	UpdateDocument(ctx context.Context, collection, id string, fields map[string]any) error
	DeleteDocument(ctx context.Context, collection, id string) error
}

// Change is published after every successful write.
type Change struct {
	Origin     string `json:"origin"`
	Collection string `json:"collection"`
	ID         string `json:"id"`
	Op         string `json:"op"`
}

// Cache wraps a document store with a Redis-backed cache for listings.
// Writes go to the backing store, bump the collection version, evict the
// listing and, when notifications are enabled, publish a Change. A listing is
// cached only if no write bumped the version while it was being read.
type Cache struct {
	base    backend
	redis   *redis.Client
	ttl     time.Duration
	channel string
	origin  string
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

// WithNotifications publishes changes on channel, tagged with origin.
func (c *Cache) WithNotifications(channel, origin string) *Cache {
	c.channel = channel
	c.origin = origin
	return c
}

func (c *Cache) ListDocuments(ctx context.Context, collection string) ([]Document, error) {
	if docs, ok := c.load(ctx, collection); ok {
		return docs, nil
	}

	version, versionOK := c.version(ctx, collection)
	docs, err := c.base.ListDocuments(ctx, collection)
	if err != nil {
		return nil, err
	}

	if versionOK {
		c.store(ctx, collection, docs, version)
	}
	return docs, nil
}

func (c *Cache) AddDocument(ctx context.Context, collection string, fields map[string]any) (string, error) {
	id, err := c.base.AddDocument(ctx, collection, fields)
	if err != nil {
		return "", err
	}
	c.changed(ctx, collection, id, OpAdd)
	return id, nil
}

func (c *Cache) UpdateDocument(ctx context.Context, collection, id string, fields map[string]any) error {
	if err := c.base.UpdateDocument(ctx, collection, id, fields); err != nil {
		return err
	}
	c.changed(ctx, collection, id, OpUpdate)
	return nil
}

func (c *Cache) DeleteDocument(ctx context.Context, collection, id string) error {
	if err := c.base.DeleteDocument(ctx, collection, id); err != nil {
		return err
	}
	c.changed(ctx, collection, id, OpDelete)
	return nil
}

func (c *Cache) load(ctx context.Context, collection string) ([]Document, bool) {
	if c.redis == nil {
		return nil, false
	}
	key := documentsCacheKey(collection)
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.WithError(err).WithField("collection", collection).Warn("document cache read failed")
			_ = c.redis.Del(ctx, key).Err()
		}
		return nil, false
	}
	var entities []sonic.NoCopyRawMessage
	if err := sonic.Unmarshal(data, &entities); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return nil, false
	}
	docs := make([]Document, 0, len(entities))
	for _, e := range entities {
		doc, err := decodeEntity(e)
		if err != nil {
			_ = c.redis.Del(ctx, key).Err()
			return nil, false
		}
		docs = append(docs, doc)
	}
	return docs, true
}

// version returns the collection's write counter; a missing counter is "".
func (c *Cache) version(ctx context.Context, collection string) (string, bool) {
	if c.redis == nil || c.ttl == 0 {
		return "", false
	}
	v, err := c.redis.Get(ctx, versionCacheKey(collection)).Result()
	if err == redis.Nil {
		return "", true
	}
	if err != nil {
		log.WithError(err).WithField("collection", collection).Warn("document cache version read failed")
		return "", false
	}
	return v, true
}

// store caches docs unless the collection version moved past version.
func (c *Cache) store(ctx context.Context, collection string, docs []Document, version string) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	entities := make([]sonic.NoCopyRawMessage, 0, len(docs))
	for _, d := range docs {
		e, err := encodeEntity(collection, d.ID, d.Fields)
		if err != nil {
			return
		}
		entities = append(entities, e)
	}
	data, err := sonic.Marshal(entities)
	if err != nil {
		return
	}
	verKey := versionCacheKey(collection)
	err = c.redis.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, verKey).Result()
		if err != nil && err != redis.Nil {
			return err
		}
		if cur != version {
			log.WithField("collection", collection).Debug("document cache fill skipped: collection changed")
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, documentsCacheKey(collection), data, c.ttl)
			return nil
		})
		return err
	}, verKey)
	switch {
	case err == redis.TxFailedErr:
		log.WithField("collection", collection).Debug("document cache fill skipped: collection changed")
	case err != nil:
		log.WithError(err).WithField("collection", collection).Warn("document cache write failed")
	}
}

func (c *Cache) changed(ctx context.Context, collection, id, op string) {
	if c.redis == nil {
		return
	}
	if err := c.redis.Incr(ctx, versionCacheKey(collection)).Err(); err != nil {
		log.WithError(err).WithField("collection", collection).Warn("document cache version bump failed")
	}
	if err := c.redis.Del(ctx, documentsCacheKey(collection)).Err(); err != nil {
		log.WithError(err).WithField("collection", collection).Warn("document cache evict failed")
	}
	if c.channel == "" {
		return
	}
	payload, err := sonic.Marshal(Change{Origin: c.origin, Collection: collection, ID: id, Op: op})
	if err != nil {
		return
	}
	if err := c.redis.Publish(ctx, c.channel, payload).Err(); err != nil {
		log.Errorf("Unable to publish %s of %s/%s to %s", op, collection, id, c.channel)
	}
}

func documentsCacheKey(collection string) string {
	return "docs:" + collection
}

func versionCacheKey(collection string) string {
	return "docs:" + collection + ":version"
}
