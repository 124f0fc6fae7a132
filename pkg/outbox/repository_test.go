package outbox

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err, "Ошибка создания sqlmock")

	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      db,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err, "Ошибка инициализации GORM")

	return gormDB, mock, func() { _ = db.Close() }
}

func TestRepository_Create(t *testing.T) {
	gormDB, mock, cleanup := setupMockDB(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `outbox`")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	record := &Record{
		ID:         "outbox-1",
		Topic:      "payment-start",
		MessageKey: "tx-1",
		Payload:    []byte(`{"orderId":"o-1"}`),
		Headers:    map[string]string{"trace_id": "t-1"},
	}

	err := NewRepository(gormDB, "product-validation-service").Create(context.Background(), record)

	require.NoError(t, err)
	assert.Equal(t, "product-validation-service", record.Service)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_Create_Error(t *testing.T) {
	gormDB, mock, cleanup := setupMockDB(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `outbox`")).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := NewRepository(gormDB, "svc").Create(context.Background(), &Record{ID: "x", Payload: []byte(`{}`)})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestRepository_GetUnprocessed(t *testing.T) {
	gormDB, mock, cleanup := setupMockDB(t)
	defer cleanup()

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "service", "order_id", "transaction_id", "topic", "message_key",
		"payload", "headers", "created_at", "processed_at", "retry_count", "last_error",
	}).AddRow("outbox-1", "payment-service", "o-1", "tx-1", "inventory-start", "tx-1",
		[]byte(`{"orderId":"o-1"}`), []byte(`{"trace_id":"t-1"}`), now, nil, 1, nil)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `outbox` WHERE service = ? AND processed_at IS NULL ORDER BY retry_count ASC, created_at ASC")).
		WillReturnRows(rows)

	records, err := NewRepository(gormDB, "payment-service").GetUnprocessed(context.Background(), 50)

	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "inventory-start", records[0].Topic)
	assert.Equal(t, "t-1", records[0].Headers["trace_id"])
	assert.Equal(t, 1, records[0].RetryCount)
	assert.JSONEq(t, `{"orderId":"o-1"}`, string(records[0].Payload))
}

func TestRepository_MarkProcessed(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		wantErr  error
	}{
		{"запись найдена", 1, nil},
		{"запись не найдена", 0, ErrRecordNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gormDB, mock, cleanup := setupMockDB(t)
			defer cleanup()

			mock.ExpectBegin()
			mock.ExpectExec(regexp.QuoteMeta("UPDATE `outbox` SET `processed_at`=? WHERE id = ?")).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))
			mock.ExpectCommit()

			err := NewRepository(gormDB, "svc").MarkProcessed(context.Background(), "outbox-1")

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestRepository_MarkFailed(t *testing.T) {
	gormDB, mock, cleanup := setupMockDB(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE `outbox` SET")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := NewRepository(gormDB, "svc").MarkFailed(context.Background(), "outbox-1", errors.New("timeout"))

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_DeleteProcessedBefore(t *testing.T) {
	gormDB, mock, cleanup := setupMockDB(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM `outbox`")).
		WillReturnResult(sqlmock.NewResult(0, 7))
	mock.ExpectCommit()

	deleted, err := NewRepository(gormDB, "svc").DeleteProcessedBefore(context.Background(), time.Now())

	require.NoError(t, err)
	assert.Equal(t, int64(7), deleted)
}
