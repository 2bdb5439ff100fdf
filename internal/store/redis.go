package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ashureev/natal-chart/internal/domain"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "natal:birth_record:"

// RedisStore keeps birth records as JSON documents in Redis.
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

var _ Repository = (*RedisStore)(nil)

// NewRedis builds a Redis-backed repository.
func NewRedis(addr, password string, db int) *RedisStore {
	return &RedisStore{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		now: time.Now,
	}
}

func redisKey(userID string) string {
	return redisKeyPrefix + userID
}

// Ping verifies Redis connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// GetBirthRecord retrieves the record for userID, or nil if there is none.
func (s *RedisStore) GetBirthRecord(ctx context.Context, userID string) (*domain.BirthRecord, error) {
	return getRecord(ctx, s.client, userID)
}

func getRecord(ctx context.Context, c redis.Cmdable, userID string) (*domain.BirthRecord, error) {
	data, err := c.Get(ctx, redisKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get birth record: %w", err)
	}
	var rec domain.BirthRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode birth record: %w", err)
	}
	return &rec, nil
}

// UpsertBirthRecord creates or replaces a birth record, keeping the original creation time.
func (s *RedisStore) UpsertBirthRecord(ctx context.Context, rec *domain.BirthRecord) error {
	key := redisKey(rec.UserID)
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		prev, err := getRecord(ctx, tx, rec.UserID)
		if err != nil {
			return err
		}

		next := rec.Clone()
		now := s.now().UTC()
		switch {
		case prev != nil && !prev.CreatedAt.IsZero():
			next.CreatedAt = prev.CreatedAt
		case next.CreatedAt.IsZero():
			next.CreatedAt = now
		}
		next.UpdatedAt = now

		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode birth record: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}, key)
	if err != nil {
		return fmt.Errorf("upsert birth record: %w", err)
	}
	return nil
}

// SaveChartText caches the rendered chart on an existing record.
func (s *RedisStore) SaveChartText(ctx context.Context, userID, text string) error {
	key := redisKey(userID)
	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		rec, err := getRecord(ctx, tx, userID)
		if err != nil {
			return err
		}
		if rec == nil {
			return ErrNotFound
		}
		rec.ChartText = text
		rec.UpdatedAt = s.now().UTC()

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode birth record: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, data, 0)
			return nil
		})
		if err != nil {
			return fmt.Errorf("save chart text: %w", err)
		}
		return nil
	}, key)
}

// DeleteBirthRecord removes the user's record.
func (s *RedisStore) DeleteBirthRecord(ctx context.Context, userID string) (bool, error) {
	n, err := s.client.Del(ctx, redisKey(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("delete birth record: %w", err)
	}
	return n > 0, nil
}
