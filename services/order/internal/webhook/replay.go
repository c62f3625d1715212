package webhook

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"example.com/storefront-orders/pkg/logger"
)

// DefaultReplayTTL — сколько хранится отметка о доставленном событии.
const DefaultReplayTTL = 24 * time.Hour

const replayKeyPrefix = "webhook:event:"

// ReplayGuard отмечает уже обработанные доставки вебхуков.
type ReplayGuard interface {
	// MarkSeen возвращает true, если событие пришло впервые.
	MarkSeen(ctx context.Context, eventID string) (bool, error)
	// Forget снимает отметку, чтобы повторная доставка была обработана.
	Forget(ctx context.Context, eventID string)
}

// RedisReplayGuard хранит отметки в Redis через SETNX.
type RedisReplayGuard struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisReplayGuard создаёт guard. ttl <= 0 заменяется DefaultReplayTTL.
func NewRedisReplayGuard(client redis.UniversalClient, ttl time.Duration) *RedisReplayGuard {
	if ttl <= 0 {
		ttl = DefaultReplayTTL
	}
	return &RedisReplayGuard{client: client, ttl: ttl}
}

func (g *RedisReplayGuard) MarkSeen(ctx context.Context, eventID string) (bool, error) {
	return g.client.SetNX(ctx, replayKeyPrefix+eventID, 1, g.ttl).Result()
}

func (g *RedisReplayGuard) Forget(ctx context.Context, eventID string) {
	if err := g.client.Del(ctx, replayKeyPrefix+eventID).Err(); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Str("event_id", eventID).Msg("Не удалось снять отметку вебхука")
	}
}
