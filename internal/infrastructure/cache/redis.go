package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/Mupaky/topreach-sub001/internal/config"
	"github.com/Mupaky/topreach-sub001/internal/logger"

	"github.com/go-redis/redis/v8"
)

// InitRedis Host 未配置时返回 nil，缓存和咨询锁随之关闭
func InitRedis(cfg *config.RedisConfig) *redis.Client {
	if cfg.Host == "" {
		logger.Warn("未配置 Redis，余额缓存与预占咨询锁关闭")
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Fatal("连接 Redis 失败", "error", err)
	}

	logger.Info("Redis 连接成功")
	return client
}
