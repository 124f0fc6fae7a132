// Package logger — структурированное логирование участников саги на базе zerolog.
// JSON в production, цветной консольный вывод при LOG_PRETTY=true.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var log zerolog.Logger

// Config задаёт параметры глобального логгера.
type Config struct {
	// Level: trace, debug, info, warn, error. Неизвестное значение — info.
	Level string

	// Pretty включает zerolog.ConsoleWriter.
	Pretty bool

	// Service добавляется в каждую запись полем "service".
	Service string

	// Output по умолчанию os.Stdout.
	Output io.Writer
}

func init() {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "info"
	}

	Init(Config{
		Level:  level,
		Pretty: strings.EqualFold(os.Getenv("LOG_PRETTY"), "true"),
	})
}

// Init пересоздаёт глобальный логгер.
// Вызывается из main каждого сервиса сразу после загрузки конфигурации.
func Init(cfg Config) {
	var output io.Writer = os.Stdout
	if cfg.Output != nil {
		output = cfg.Output
	}

	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	level := parseLevel(cfg.Level)

	lc := zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Caller()
	if cfg.Service != "" {
		lc = lc.Str("service", cfg.Service)
	}
	log = lc.Logger()

	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// Debug — детали обработки отдельных сообщений.
func Debug() *zerolog.Event {
	return log.Debug()
}

// Info — нормальный ход саги: шаг выполнен, событие опубликовано.
func Info() *zerolog.Event {
	return log.Info()
}

// Warn — отказ шага, компенсация, повтор публикации.
func Warn() *zerolog.Event {
	return log.Warn()
}

// Error — ошибки инфраструктуры, не останавливающие процесс.
func Error() *zerolog.Event {
	return log.Error()
}

// Fatal завершает процесс после записи. Только для main.
func Fatal() *zerolog.Event {
	return log.Fatal()
}

// With возвращает контекст для построения дочернего логгера.
func With() zerolog.Context {
	return log.With()
}

// Logger возвращает копию глобального логгера.
func Logger() zerolog.Logger {
	return log
}

// SetGlobalLogger подменяет глобальный логгер (используется в тестах).
func SetGlobalLogger(l zerolog.Logger) {
	log = l
}
