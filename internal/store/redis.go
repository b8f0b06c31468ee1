package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// scanBatch 每次 SCAN 建议返回的数量
const scanBatch = 256

// RedisStore 基于 go-redis 的 Store 实现
type RedisStore struct {
	redisClient redis.UniversalClient
}

// NewRedisStore 创建 Redis 存储
func NewRedisStore(redisClient redis.UniversalClient) *RedisStore {
	return &RedisStore{
		redisClient: redisClient,
	}
}

// Close 关闭 Redis 连接
func (s *RedisStore) Close() error {
	return s.redisClient.Close()
}

// Ping 测试 Redis 连接
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.redisClient.Ping(ctx).Err()
}

// GetRedisClient 获取原始 Redis 客户端（用于高级操作）
func (s *RedisStore) GetRedisClient() redis.UniversalClient {
	return s.redisClient
}

// Get 读取字符串值
func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := s.redisClient.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("读取键 %s 失败: %w", key, err)
	}
	return value, true, nil
}

// SetWithTTL 写入字符串值并设置过期时间
func (s *RedisStore) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := s.redisClient.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("写入键 %s 失败: %w", key, err)
	}
	return nil
}

// Delete 删除键
func (s *RedisStore) Delete(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := s.redisClient.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("删除键失败: %w", err)
	}
	return n, nil
}

// Scan 使用 SCAN 游标遍历匹配的键，避免 KEYS 阻塞服务端
func (s *RedisStore) Scan(ctx context.Context, pattern string) ([]string, error) {
	var (
		cursor uint64
		keys   []string
	)
	for {
		batch, next, err := s.redisClient.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return nil, fmt.Errorf("扫描键 %s 失败: %w", pattern, err)
		}
		keys = append(keys, batch...)
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}

// ZAdd 添加有序集合成员
func (s *RedisStore) ZAdd(ctx context.Context, key, member string, score float64) error {
	err := s.redisClient.ZAdd(ctx, key, redis.Z{
		Score:  score,
		Member: member,
	}).Err()
	if err != nil {
		return fmt.Errorf("写入有序索引 %s 失败: %w", key, err)
	}
	return nil
}

// ZRange 按升序读取有序集合区间
func (s *RedisStore) ZRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	members, err := s.redisClient.ZRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("读取有序索引 %s 失败: %w", key, err)
	}
	return members, nil
}

// ZRem 移除有序集合成员
func (s *RedisStore) ZRem(ctx context.Context, key string, members ...string) (int64, error) {
	if len(members) == 0 {
		return 0, nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	n, err := s.redisClient.ZRem(ctx, key, args...).Result()
	if err != nil {
		return 0, fmt.Errorf("移除有序索引成员失败: %w", err)
	}
	return n, nil
}

// ZCard 获取有序集合基数
func (s *RedisStore) ZCard(ctx context.Context, key string) (int64, error) {
	n, err := s.redisClient.ZCard(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("读取有序索引长度失败: %w", err)
	}
	return n, nil
}
