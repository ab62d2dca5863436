package sequence

import (
	"context"
	"errors"

	redis "github.com/redis/go-redis/v9"

	"github.com/amintahir16/lpg-gas-app-sub004/internal/domain"
)

// RedisCounter keeps counters as plain redis integers and relies on INCR
// creating missing keys at zero. Counters must survive restarts, so the
// redis instance needs persistence enabled.
type RedisCounter struct {
	client *redis.Client
}

func NewRedisCounter(addr string, password string, db int) *RedisCounter {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisCounter{client: client}
}

func (c *RedisCounter) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCounter) Close() error {
	return c.client.Close()
}

func (c *RedisCounter) NextSequence(ctx context.Context, key domain.SequenceKey) (int64, error) {
	return c.client.Incr(ctx, redisKey(key)).Result()
}

// CurrentSequence returns the last issued value for key, or zero when none was issued.
func (c *RedisCounter) CurrentSequence(ctx context.Context, key domain.SequenceKey) (int64, error) {
	val, err := c.client.Get(ctx, redisKey(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}

func redisKey(key domain.SequenceKey) string {
	return "lpg:seq:" + key.Kind + ":" + key.Day
}
