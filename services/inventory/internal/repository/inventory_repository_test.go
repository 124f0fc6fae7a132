package repository

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"example.com/saga-choreography/pkg/config"
	dbpkg "example.com/saga-choreography/pkg/db"
	"example.com/saga-choreography/pkg/saga"
	"example.com/saga-choreography/services/inventory/internal/domain"
)

// =============================================================================
// Вспомогательные функции
// =============================================================================

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err, "Ошибка создания sqlmock")

	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      db,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err, "Ошибка инициализации GORM")

	return gormDB, mock, func() { _ = db.Close() }
}

// setupSQLite открывает настоящую БД во временном каталоге.
func setupSQLite(t *testing.T) *gorm.DB {
	t.Helper()
	cfg := config.DatabaseConfig{
		Driver:          config.DriverSQLite,
		Path:            filepath.Join(t.TempDir(), "inventory.db"),
		ConnMaxLifetime: time.Minute,
		AutoMigrate:     true,
	}
	gdb, err := dbpkg.Connect(cfg, false)
	require.NoError(t, err)
	require.NoError(t, dbpkg.Migrate(gdb, cfg, &InventoryModel{}, &OrderInventoryModel{}))
	t.Cleanup(func() { _ = dbpkg.Close(gdb) })
	return gdb
}

func available(t *testing.T, repo InventoryRepository, code string) int {
	t.Helper()
	inv, err := repo.FindByProductCode(context.Background(), code)
	require.NoError(t, err)
	return inv.Available
}

func reserve(t *testing.T, repo InventoryRepository, orderID, txID, code string, qty int) ([]*domain.OrderInventory, error) {
	t.Helper()
	inv, err := repo.FindByProductCode(context.Background(), code)
	require.NoError(t, err)
	row, err := inv.Reserve(orderID, txID, qty)
	require.NoError(t, err)
	rows := []*domain.OrderInventory{row}
	return rows, repo.Reserve(context.Background(), rows)
}

// =============================================================================
// sqlmock
// =============================================================================

func TestFindByProductCode_NotFound(t *testing.T) {
	gormDB, mock, cleanup := setupMockDB(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `inventories` WHERE product_code = ?")).
		WillReturnError(gorm.ErrRecordNotFound)

	_, err := NewInventoryRepository(gormDB).FindByProductCode(context.Background(), "UNKNOWN")

	assert.ErrorIs(t, err, domain.ErrInventoryNotFound)
}

func TestReserve_OutOfStockRollsBack(t *testing.T) {
	gormDB, mock, cleanup := setupMockDB(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `order_inventories`")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE `inventories` SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := NewInventoryRepository(gormDB).Reserve(context.Background(), []*domain.OrderInventory{
		{InventoryID: "inv-1", OrderID: "o-1", TransactionID: "tx-1", OrderQuantity: 3},
	})

	assert.ErrorIs(t, err, domain.ErrOutOfStock)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReserve_Duplicate(t *testing.T) {
	gormDB, mock, cleanup := setupMockDB(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `order_inventories`")).
		WillReturnError(errors.New("Error 1062: Duplicate entry"))
	mock.ExpectRollback()

	err := NewInventoryRepository(gormDB).Reserve(context.Background(), []*domain.OrderInventory{
		{InventoryID: "inv-1", OrderID: "o-1", TransactionID: "tx-1", OrderQuantity: 1},
	})

	assert.ErrorIs(t, err, domain.ErrDuplicateReservation)
	assert.ErrorIs(t, err, saga.ErrDuplicateTransaction)
}

func TestExistsByOrderIDAndTransactionID(t *testing.T) {
	gormDB, mock, cleanup := setupMockDB(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT count(*) FROM `order_inventories` WHERE order_id = ? AND transaction_id = ?")).
		WithArgs("o-1", "tx-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	exists, err := NewInventoryRepository(gormDB).ExistsByOrderIDAndTransactionID(context.Background(), "o-1", "tx-1")

	require.NoError(t, err)
	assert.True(t, exists)
}

// =============================================================================
// sqlite
// =============================================================================

func TestReserveAndRestore_Conservation(t *testing.T) {
	// Arrange
	ctx := context.Background()
	repo := NewInventoryRepository(setupSQLite(t))
	require.NoError(t, repo.Seed(ctx, []domain.Inventory{
		{ProductCode: "BOOKS", Available: 10},
		{ProductCode: "MOVIES", Available: 7},
	}))

	// Act: заказ A резервирует BOOKS, параллельный заказ B — MOVIES.
	rowsA, err := reserve(t, repo, "order-a", "tx-a", "BOOKS", 4)
	require.NoError(t, err)
	_, err = reserve(t, repo, "order-b", "tx-b", "MOVIES", 2)
	require.NoError(t, err)

	assert.Equal(t, 6, available(t, repo, "BOOKS"))

	restored, err := repo.Restore(ctx, rowsA)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 1, restored)
	assert.Equal(t, 10, available(t, repo, "BOOKS"), "остаток вернулся к значению до резервирования")
	assert.Equal(t, 5, available(t, repo, "MOVIES"), "чужой заказ не затронут")
}

func TestRestore_Twice(t *testing.T) {
	ctx := context.Background()
	repo := NewInventoryRepository(setupSQLite(t))
	require.NoError(t, repo.Seed(ctx, []domain.Inventory{{ProductCode: "BOOKS", Available: 10}}))

	_, err := reserve(t, repo, "o-1", "tx-1", "BOOKS", 3)
	require.NoError(t, err)

	rows, err := repo.FindByOrderIDAndTransactionID(ctx, "o-1", "tx-1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 10, rows[0].OldQuantity)
	assert.Equal(t, 7, rows[0].NewQuantity)

	first, err := repo.Restore(ctx, rows)
	require.NoError(t, err)
	second, err := repo.Restore(ctx, rows)
	require.NoError(t, err)

	assert.Equal(t, 1, first)
	assert.Equal(t, 0, second, "строка уже откачена")
	assert.Equal(t, 10, available(t, repo, "BOOKS"))
}

func TestReserve_ConcurrentOrderTookStock(t *testing.T) {
	ctx := context.Background()
	repo := NewInventoryRepository(setupSQLite(t))
	require.NoError(t, repo.Seed(ctx, []domain.Inventory{{ProductCode: "BOOKS", Available: 5}}))

	// Оба заказа прочитали остаток 5 до списания.
	inv, err := repo.FindByProductCode(ctx, "BOOKS")
	require.NoError(t, err)
	rowA, err := inv.Reserve("o-a", "tx-a", 4)
	require.NoError(t, err)
	rowB, err := inv.Reserve("o-b", "tx-b", 4)
	require.NoError(t, err)

	require.NoError(t, repo.Reserve(ctx, []*domain.OrderInventory{rowA}))
	err = repo.Reserve(ctx, []*domain.OrderInventory{rowB})

	assert.ErrorIs(t, err, domain.ErrOutOfStock)
	assert.Equal(t, 1, available(t, repo, "BOOKS"))

	exists, err := repo.ExistsByOrderIDAndTransactionID(ctx, "o-b", "tx-b")
	require.NoError(t, err)
	assert.False(t, exists, "журнал отклонённого заказа откатился вместе с транзакцией")
}

func TestReserve_DuplicateTransaction(t *testing.T) {
	ctx := context.Background()
	repo := NewInventoryRepository(setupSQLite(t))
	require.NoError(t, repo.Seed(ctx, []domain.Inventory{{ProductCode: "BOOKS", Available: 10}}))

	_, err := reserve(t, repo, "o-1", "tx-1", "BOOKS", 1)
	require.NoError(t, err)
	_, err = reserve(t, repo, "o-1", "tx-1", "BOOKS", 1)

	assert.ErrorIs(t, err, saga.ErrDuplicateTransaction)
	assert.Equal(t, 9, available(t, repo, "BOOKS"))
}

func TestSeed_KeepsExisting(t *testing.T) {
	ctx := context.Background()
	repo := NewInventoryRepository(setupSQLite(t))

	require.NoError(t, repo.Seed(ctx, []domain.Inventory{{ProductCode: "BOOKS", Available: 10}}))
	_, err := reserve(t, repo, "o-1", "tx-1", "BOOKS", 2)
	require.NoError(t, err)
	require.NoError(t, repo.Seed(ctx, []domain.Inventory{{ProductCode: "BOOKS", Available: 10}}))

	assert.Equal(t, 8, available(t, repo, "BOOKS"))
}
