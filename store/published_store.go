package store

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// PublishedUrlStore caches which canonical URLs an account has recently
// published, so the duplicate pre-check on the submit path doesn't need a
// database round trip. The database remains the source of truth; a cache
// miss falls through to RunStore.FindDuplicate.
type PublishedUrlStore struct {
	inner     *redis.Client
	keyParser redisKeyParser
	ttl       time.Duration
}

const (
	// Redis only has string type, there is no boolean or int, so we use "1"
	// to represent true
	redisTrue = "1"

	publishedUrlTTL = 30 * 24 * time.Hour
)

var ctx = context.Background()

func GetPublishedUrlStore() (*PublishedUrlStore, error) {
	redisClient := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", os.Getenv("REDIS_HOST"), os.Getenv("REDIS_PORT")),
		Password: os.Getenv("REDIS_PASSWD"),
		DB:       0, // use default DB
	})
	_, err := redisClient.Ping(ctx).Result()
	if err != nil {
		return nil, err
	}
	return &PublishedUrlStore{
		inner:     redisClient,
		keyParser: redisKeyParser{delimiter: "__"},
		ttl:       publishedUrlTTL,
	}, nil
}

type redisKeyParser struct {
	delimiter string
}

func (r redisKeyParser) validateId(id string) bool {
	return !strings.Contains(id, r.delimiter)
}

func (r redisKeyParser) encodeUrlKey(accountId string, canonicalUrl string) (string, error) {
	if !r.validateId(accountId) {
		return "", fmt.Errorf("invalid accountId: %s", accountId)
	}
	return fmt.Sprintf("published%s%s%s%s", r.delimiter, accountId, r.delimiter, canonicalUrl), nil
}

// MarkPublished records that the account published the canonical URL.
func (s *PublishedUrlStore) MarkPublished(accountId string, canonicalUrl string) error {
	key, err := s.keyParser.encodeUrlKey(accountId, canonicalUrl)
	if err != nil {
		return err
	}
	return s.inner.Set(ctx, key, redisTrue, s.ttl).Err()
}

// WasPublished returns true iff the account recently published the URL.
// Errors degrade to false so the caller falls back to the database check.
func (s *PublishedUrlStore) WasPublished(accountId string, canonicalUrl string) bool {
	key, err := s.keyParser.encodeUrlKey(accountId, canonicalUrl)
	if err != nil {
		return false
	}
	val, err := s.inner.Get(ctx, key).Result()
	if err != nil {
		return false
	}
	return val == redisTrue
}
