package db

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"example.com/storefront-orders/pkg/config"
)

// ConnectRedis создаёт клиент Redis и проверяет соединение.
// Redis для сервиса не критичен (rate limit и защита от повторов работают fail-open),
// поэтому ошибка ping возвращается вместе с рабочим клиентом.
func ConnectRedis(cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return rdb, fmt.Errorf("ошибка ping Redis: %w", err)
	}

	return rdb, nil
}
