// Package healthcheck содержит проверки готовности для /readyz.
package healthcheck

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"gorm.io/gorm"
)

// Check — одна проверка зависимости.
type Check func(ctx context.Context) error

// DB пингует пул соединений GORM.
func DB(db *gorm.DB) Check {
	return func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return fmt.Errorf("db: %w", err)
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			return fmt.Errorf("db ping: %w", err)
		}
		return nil
	}
}

// Redis пингует Redis. nil-клиент (Redis выключен) считается здоровым.
func Redis(rdb *redis.Client) Check {
	return func(ctx context.Context) error {
		if rdb == nil {
			return nil
		}
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		return nil
	}
}

// Kafka проверяет, что хотя бы один брокер принимает соединение.
func Kafka(brokers []string) Check {
	return func(ctx context.Context) error {
		var lastErr error
		for _, broker := range brokers {
			conn, err := kafka.DialContext(ctx, "tcp", broker)
			if err != nil {
				lastErr = err
				continue
			}
			_ = conn.Close()
			return nil
		}
		return fmt.Errorf("kafka недоступна: %w", lastErr)
	}
}

// Composite выполняет проверки по порядку и возвращает первую ошибку.
func Composite(checks ...Check) Check {
	return func(ctx context.Context) error {
		for _, check := range checks {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}
