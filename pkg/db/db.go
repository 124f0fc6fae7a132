// Package db открывает локальное хранилище сервиса через GORM.
// Драйвер выбирается конфигурацией: mysql, postgres или sqlite.
package db

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"example.com/saga-choreography/pkg/config"
)

// Dialector возвращает gorm.Dialector для драйвера из конфигурации.
func Dialector(cfg config.DatabaseConfig) (gorm.Dialector, error) {
	dsn, err := cfg.DSN()
	if err != nil {
		return nil, err
	}

	switch cfg.Driver {
	case config.DriverMySQL:
		return mysql.Open(dsn), nil
	case config.DriverPostgres:
		return postgres.Open(dsn), nil
	case config.DriverSQLite:
		return sqlite.Open(dsn), nil
	default:
		return nil, fmt.Errorf("неизвестный драйвер БД: %q", cfg.Driver)
	}
}

// Connect открывает соединение, проверяет его ping'ом и настраивает пул.
// TranslateError включён, чтобы нарушения уникальных индексов
// приходили как gorm.ErrDuplicatedKey независимо от драйвера.
func Connect(cfg config.DatabaseConfig, debug bool) (*gorm.DB, error) {
	dialector, err := Dialector(cfg)
	if err != nil {
		return nil, err
	}

	logLevel := gormlogger.Silent
	if debug {
		logLevel = gormlogger.Info
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormlogger.Default.LogMode(logLevel),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к %s: %w", cfg.Driver, err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("ошибка получения sql.DB: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ошибка ping %s: %w", cfg.Driver, err)
	}

	// sqlite не поддерживает параллельную запись из нескольких соединений.
	if cfg.Driver == config.DriverSQLite {
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return gdb, nil
}

// Migrate создаёт таблицы моделей, если включено DB_AUTO_MIGRATE.
func Migrate(gdb *gorm.DB, cfg config.DatabaseConfig, models ...any) error {
	if !cfg.AutoMigrate {
		return nil
	}
	if err := gdb.AutoMigrate(models...); err != nil {
		return fmt.Errorf("ошибка миграции: %w", err)
	}
	return nil
}

// Close закрывает пул соединений.
func Close(gdb *gorm.DB) error {
	sqlDB, err := gdb.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
