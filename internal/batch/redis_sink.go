package batch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/minhyannv/taskflow/internal/constants"
)

// RedisListSink 把整批元素用一个 pipeline RPUSH 到 Redis 列表，
// 每项结果为写入后列表长度。pipeline 整体失败即整批失败。
type RedisListSink[T any] struct {
	redisClient redis.UniversalClient
	key         string
}

// NewRedisListSink 创建 Redis 列表落地处理器
func NewRedisListSink[T any](redisClient redis.UniversalClient, key string) *RedisListSink[T] {
	if key == "" {
		key = constants.DefaultSinkKey
	}
	return &RedisListSink[T]{
		redisClient: redisClient,
		key:         key,
	}
}

// Key 目标列表键
func (s *RedisListSink[T]) Key() string { return s.key }

// Process 实现 Processor
func (s *RedisListSink[T]) Process(ctx context.Context, items []*Item[T, int64]) ([]int64, error) {
	pipe := s.redisClient.Pipeline()
	cmds := make([]*redis.IntCmd, len(items))
	for i, item := range items {
		data, err := json.Marshal(item.Payload)
		if err != nil {
			return nil, fmt.Errorf("序列化元素 %s 失败: %w", item.ID, err)
		}
		cmds[i] = pipe.RPush(ctx, s.key, data)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("批量写入 %s 失败: %w", s.key, err)
	}

	results := make([]int64, len(cmds))
	for i, cmd := range cmds {
		results[i] = cmd.Val()
	}
	return results, nil
}
