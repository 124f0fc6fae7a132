package logger

import (
	"context"

	"github.com/rs/zerolog"
)

type ctxKey string

const (
	traceIDKey       ctxKey = "trace_id"
	correlationIDKey ctxKey = "correlation_id"
	orderIDKey       ctxKey = "order_id"
	transactionIDKey ctxKey = "transaction_id"
	loggerKey        ctxKey = "logger"
)

// WithTraceID кладёт trace_id в контекст.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceIDFromContext возвращает trace_id или пустую строку.
func TraceIDFromContext(ctx context.Context) string {
	return stringValue(ctx, traceIDKey)
}

// WithCorrelationID кладёт correlation_id в контекст.
// Для событий саги correlation_id совпадает с transactionId.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, correlationIDKey, correlationID)
}

// CorrelationIDFromContext возвращает correlation_id или пустую строку.
func CorrelationIDFromContext(ctx context.Context) string {
	return stringValue(ctx, correlationIDKey)
}

// WithSaga кладёт идентификаторы саги в контекст, чтобы все записи
// одного шага можно было найти по order_id и transaction_id.
func WithSaga(ctx context.Context, orderID, transactionID string) context.Context {
	if orderID != "" {
		ctx = context.WithValue(ctx, orderIDKey, orderID)
	}
	if transactionID != "" {
		ctx = context.WithValue(ctx, transactionIDKey, transactionID)
	}
	return ctx
}

// OrderIDFromContext возвращает order_id саги или пустую строку.
func OrderIDFromContext(ctx context.Context) string {
	return stringValue(ctx, orderIDKey)
}

// WithLogger кладёт заранее настроенный логгер в контекст.
func WithLogger(ctx context.Context, l zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext возвращает логгер из контекста (или глобальный)
// с полями trace_id, correlation_id, order_id, transaction_id, если они заданы.
func FromContext(ctx context.Context) zerolog.Logger {
	l, ok := ctx.Value(loggerKey).(zerolog.Logger)
	if !ok {
		l = log
	}

	lc := l.With()
	for _, key := range []ctxKey{traceIDKey, correlationIDKey, orderIDKey, transactionIDKey} {
		if v := stringValue(ctx, key); v != "" {
			lc = lc.Str(string(key), v)
		}
	}
	return lc.Logger()
}

// Ctx — то же, что FromContext, но возвращает указатель (как zerolog.Ctx).
func Ctx(ctx context.Context) *zerolog.Logger {
	l := FromContext(ctx)
	return &l
}

// NewContextWithIDs восстанавливает trace_id и correlation_id,
// например, из заголовков сообщения Kafka.
func NewContextWithIDs(ctx context.Context, traceID, correlationID string) context.Context {
	if traceID != "" {
		ctx = WithTraceID(ctx, traceID)
	}
	if correlationID != "" {
		ctx = WithCorrelationID(ctx, correlationID)
	}
	return ctx
}

func stringValue(ctx context.Context, key ctxKey) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}
