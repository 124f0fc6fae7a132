// Package idempotency — быстрая проверка повторной доставки событий саги через Redis.
//
// Ключ захватывается SETNX с TTL до выполнения шага. Это только ускорение:
// гарантию «не более одного эффекта» дают уникальные индексы БД участника.
package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "saga:idempotency:"

// DefaultTTL — окно, в течение которого повторная доставка считается дубликатом.
const DefaultTTL = 24 * time.Hour

// Guard захватывает ключи (order, transaction) для одного участника.
type Guard struct {
	rdb   *redis.Client
	scope string
	ttl   time.Duration
}

// NewGuard создаёт Guard. scope отделяет ключи разных сервисов.
func NewGuard(rdb *redis.Client, scope string, ttl time.Duration) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Guard{rdb: rdb, scope: scope, ttl: ttl}
}

// Key возвращает ключ Redis: saga:idempotency:<scope>:<orderId>:<transactionId>.
func (g *Guard) Key(orderID, transactionID string) string {
	return fmt.Sprintf("%s%s:%s:%s", keyPrefix, g.scope, orderID, transactionID)
}

// Claim возвращает true, если ключ захвачен этим вызовом.
// false — ключ уже занят: событие доставлено повторно.
func (g *Guard) Claim(ctx context.Context, orderID, transactionID string) (bool, error) {
	ok, err := g.rdb.SetNX(ctx, g.Key(orderID, transactionID), time.Now().UTC().Format(time.RFC3339Nano), g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("ошибка захвата ключа идемпотентности: %w", err)
	}
	return ok, nil
}

// Release освобождает ключ после непредвиденного сбоя шага.
func (g *Guard) Release(ctx context.Context, orderID, transactionID string) error {
	if err := g.rdb.Del(ctx, g.Key(orderID, transactionID)).Err(); err != nil {
		return fmt.Errorf("ошибка освобождения ключа идемпотентности: %w", err)
	}
	return nil
}
