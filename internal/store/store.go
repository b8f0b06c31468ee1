// Package store 定义持久化队列所依赖的远端 KV 能力集合。
// 任何提供 get / set-with-TTL / delete / pattern-scan 以及有序集合
// add / range / remove / cardinality 的存储都可以替换默认的 Redis 实现。
package store

import (
	"context"
	"time"
)

// Store 远端 KV 存储能力
type Store interface {
	// Get 读取键值，键不存在时 found 为 false 且 err 为 nil
	Get(ctx context.Context, key string) (value string, found bool, err error)
	// SetWithTTL 写入键值并设置过期时间，ttl<=0 表示不过期
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error
	// Delete 删除键，返回实际删除数量
	Delete(ctx context.Context, keys ...string) (int64, error)
	// Scan 按通配符模式列出全部匹配的键
	Scan(ctx context.Context, pattern string) ([]string, error)

	// ZAdd 向有序集合添加成员
	ZAdd(ctx context.Context, key, member string, score float64) error
	// ZRange 按 (score, member) 升序返回 [start, stop] 区间的成员
	ZRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	// ZRem 移除成员，返回实际移除数量
	ZRem(ctx context.Context, key string, members ...string) (int64, error)
	// ZCard 有序集合基数
	ZCard(ctx context.Context, key string) (int64, error)

	Ping(ctx context.Context) error
}
