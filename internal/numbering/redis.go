package numbering

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

const floorFieldPrefix = "floor:"

// RedisRegistry keeps the allocation cursors in a Redis hash per key
// so a pool of worker processes shares one sequence. Callers are
// expected to hold the global Lock around allocation; the registry
// itself only guarantees that a cursor never moves backwards.
type RedisRegistry struct {
	client *redis.Client
	prefix string
}

// NewRedisRegistry constructs a registry storing cursors under the
// given key prefix.
func NewRedisRegistry(client *redis.Client, prefix string) *RedisRegistry {
	if prefix == "" {
		prefix = "numbering"
	}
	return &RedisRegistry{client: client, prefix: prefix}
}

func (r *RedisRegistry) hashKey(key Key) string {
	return r.prefix + ":" + string(key)
}

func (r *RedisRegistry) SetMinimum(ctx context.Context, key Key, floor int64, source string) error {
	hash := r.hashKey(key)
	last, ok, err := r.readCursor(ctx, hash)
	if err != nil {
		return err
	}
	if !ok || floor > last {
		if err := r.client.HSet(ctx, hash, "last", floor).Err(); err != nil {
			return fmt.Errorf("numbering: set minimum: %w", err)
		}
	}
	field := floorFieldPrefix + source
	existing, err := r.client.HGet(ctx, hash, field).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("numbering: read floor: %w", err)
	}
	if errors.Is(err, redis.Nil) || floor > existing {
		if err := r.client.HSet(ctx, hash, field, floor).Err(); err != nil {
			return fmt.Errorf("numbering: set floor: %w", err)
		}
	}
	return nil
}

func (r *RedisRegistry) Next(ctx context.Context, key Key, step, ceiling int64) (int64, error) {
	if step <= 0 {
		step = 1
	}
	hash := r.hashKey(key)
	last, ok, err := r.readCursor(ctx, hash)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrUnknownKey
	}
	next := last + step
	if ceiling > 0 && next > ceiling {
		floors, err := r.readFloors(ctx, hash)
		if err != nil {
			return 0, err
		}
		return 0, &RangeExhaustedError{Key: key, Attempted: next, Ceiling: ceiling, Floors: floors}
	}
	if err := r.client.HSet(ctx, hash, "last", next).Err(); err != nil {
		return 0, fmt.Errorf("numbering: advance cursor: %w", err)
	}
	return next, nil
}

func (r *RedisRegistry) readCursor(ctx context.Context, hash string) (int64, bool, error) {
	val, err := r.client.HGet(ctx, hash, "last").Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("numbering: read cursor: %w", err)
	}
	last, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("numbering: corrupt cursor %q: %w", val, err)
	}
	return last, true, nil
}

func (r *RedisRegistry) readFloors(ctx context.Context, hash string) (map[string]int64, error) {
	fields, err := r.client.HGetAll(ctx, hash).Result()
	if err != nil {
		return nil, fmt.Errorf("numbering: read floors: %w", err)
	}
	floors := make(map[string]int64)
	for field, val := range fields {
		if !strings.HasPrefix(field, floorFieldPrefix) {
			continue
		}
		floor, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			continue
		}
		floors[strings.TrimPrefix(field, floorFieldPrefix)] = floor
	}
	return floors, nil
}
