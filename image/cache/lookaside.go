package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const lookasideKeyPrefix = "imagesvc:cache:"

// Lookaside is a redis layer in front of the persistence adapter. Exact
// matches are served from redis when present, sparing the database a query.
// Every redis failure degrades to a miss.
type Lookaside struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewLookaside creates the layer. ttl <= 0 defaults to one hour.
func NewLookaside(client *redis.Client, ttl time.Duration, logger *zap.Logger) *Lookaside {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Lookaside{
		client: client,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "cache_lookaside")),
	}
}

func lookasideKey(hash, provider string) string {
	return lookasideKeyPrefix + hash + ":" + provider
}

// Get returns the cached entry or nil on miss or redis failure.
func (l *Lookaside) Get(ctx context.Context, hash, provider string) *Entry {
	data, err := l.client.Get(ctx, lookasideKey(hash, provider)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			l.logger.Warn("redis get failed, falling through to adapter", zap.Error(err))
		}
		return nil
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		l.logger.Warn("corrupt lookaside entry, dropping", zap.Error(err))
		l.Delete(ctx, hash, provider)
		return nil
	}
	return &entry
}

// Set stores the entry under the fingerprint key. Failures are logged only.
func (l *Lookaside) Set(ctx context.Context, entry *Entry) {
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := l.client.Set(ctx, lookasideKey(entry.PromptHash, entry.Provider), data, l.ttl).Err(); err != nil {
		l.logger.Warn("redis set failed", zap.Error(err))
	}
}

// Delete removes one key. Failures are logged only.
func (l *Lookaside) Delete(ctx context.Context, hash, provider string) {
	if err := l.client.Del(ctx, lookasideKey(hash, provider)).Err(); err != nil {
		l.logger.Warn("redis del failed", zap.Error(err))
	}
}
