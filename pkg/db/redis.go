package db

import (
	"fmt"

	"github.com/iceymoss/go-sched/internal/conf"

	"github.com/go-redis/redis/v8"
)

// OpenRedis 打开 Redis 连接，未配置 host 时返回 nil（调用方按可选能力处理）
func OpenRedis(cfg conf.RedisConfig) *redis.Client {
	if cfg.Host == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       0,
	})
}
