package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"mrtdreader/internal/mrtd/models"
	"mrtdreader/internal/sentinel"
	"mrtdreader/pkg/domain"
)

const redisKeyPrefix = "mrtd:result:"

// Redis stores sealed results with a key TTL, so expiry needs no sweeping.
type Redis struct {
	client redis.Cmdable
	ttl    time.Duration
	codec  codec
}

// NewRedis creates a Redis-backed store. Results are always sealed here.
func NewRedis(client redis.Cmdable, sealer *Sealer, ttl time.Duration) (*Redis, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if sealer == nil {
		return nil, errors.New("redis result store requires a sealer")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{client: client, ttl: ttl, codec: codec{sealer: sealer}}, nil
}

func redisKey(id domain.ScanID) string {
	return redisKeyPrefix + id.String()
}

func (s *Redis) Save(ctx context.Context, id domain.ScanID, result *models.ScanResult) error {
	data, err := s.codec.encode(id, result)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, redisKey(id), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save scan result: %w", errors.Join(sentinel.ErrUnavailable, err))
	}
	return nil
}

func (s *Redis) Find(ctx context.Context, id domain.ScanID) (*models.ScanResult, error) {
	data, err := s.client.Get(ctx, redisKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find scan result: %w", errors.Join(sentinel.ErrUnavailable, err))
	}
	return s.codec.decode(id, data)
}
