package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"melodify/config"
)

// RedisClient 是全局Redis客户端。未配置 Redis 时保持为 nil，
// 缓存读写全部降级为未命中。
var RedisClient *redis.Client

// Connect 初始化Redis连接。cfg.RedisHost 为空视为显式关闭缓存。
func Connect(cfg *config.Config) error {
	if cfg.RedisHost == "" {
		return nil
	}

	RedisClient = redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := RedisClient.Ping(ctx).Result(); err != nil {
		RedisClient = nil
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return nil
}

// Close 关闭Redis连接
func Close() error {
	if RedisClient != nil {
		return RedisClient.Close()
	}
	return nil
}
