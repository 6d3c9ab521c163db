package driver

import (
	"context"
	"fmt"
	"time"

	"chat-backend/internal/platform/config"
	"chat-backend/internal/platform/logger"

	"github.com/redis/go-redis/v9"
)

var redisClient *redis.Client

// ConnectRedis 連接 Redis.
func ConnectRedis() error {
	cfg := config.Get()
	if cfg == nil {
		return fmt.Errorf("配置未載入")
	}

	return InitRedis(cfg.Database.Redis)
}

// InitRedis 初始化 Redis 連接（會話事件匯流排）.
func InitRedis(cfg config.RedisConfig) error {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}

	redisClient = client

	logger.LogInfof("Redis connected successfully")
	return nil
}

// GetRedisClient 獲取 Redis 客戶端實例.
func GetRedisClient() *redis.Client {
	return redisClient
}

// IsRedisConnected 檢查 Redis 是否已連接.
func IsRedisConnected() bool {
	return redisClient != nil
}

// Publish 發布事件到指定頻道.
func Publish(ctx context.Context, channel string, payload []byte) error {
	if redisClient == nil {
		return fmt.Errorf("redis client is not initialized")
	}
	return redisClient.Publish(ctx, channel, payload).Err()
}

// Subscribe 訂閱一個或多個頻道.
func Subscribe(ctx context.Context, channels ...string) *redis.PubSub {
	return redisClient.Subscribe(ctx, channels...)
}

// CloseRedis 關閉 Redis 連接.
func CloseRedis() error {
	if redisClient != nil {
		return redisClient.Close()
	}
	return nil
}
