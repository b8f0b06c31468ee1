// Package redis 按配置创建 Redis 客户端
package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/minhyannv/taskflow/internal/config"
)

// NewClient 创建 Redis 客户端并测试连接，连接失败时关闭客户端
func NewClient(ctx context.Context, cfg config.RedisConfig) (redis.UniversalClient, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := Ping(ctx, rdb); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return rdb, nil
}

// Ping 测试 Redis 连接
func Ping(ctx context.Context, rdb redis.UniversalClient) error {
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("Redis连接失败: %w", err)
	}
	return nil
}
