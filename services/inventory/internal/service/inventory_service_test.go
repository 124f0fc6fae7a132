package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/saga-choreography/pkg/kafka"
	"example.com/saga-choreography/pkg/saga"
	"example.com/saga-choreography/services/inventory/internal/domain"
)

// =============================================================================
// Мок репозитория
// =============================================================================

type mockInventoryRepository struct {
	mu     sync.Mutex
	stock  map[string]*domain.Inventory
	ledger []*domain.OrderInventory
}

func newMockRepo(stock map[string]int) *mockInventoryRepository {
	m := &mockInventoryRepository{stock: make(map[string]*domain.Inventory)}
	for code, qty := range stock {
		m.stock[code] = &domain.Inventory{ID: "inv-" + code, ProductCode: code, Available: qty}
	}
	return m
}

func (m *mockInventoryRepository) FindByProductCode(_ context.Context, code string) (*domain.Inventory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inv, ok := m.stock[code]
	if !ok {
		return nil, domain.ErrInventoryNotFound
	}
	cp := *inv
	return &cp, nil
}

func (m *mockInventoryRepository) ExistsByOrderIDAndTransactionID(_ context.Context, orderID, transactionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, row := range m.ledger {
		if row.OrderID == orderID && row.TransactionID == transactionID {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockInventoryRepository) FindByOrderIDAndTransactionID(_ context.Context, orderID, transactionID string) ([]*domain.OrderInventory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var rows []*domain.OrderInventory
	for _, row := range m.ledger {
		if row.OrderID == orderID && row.TransactionID == transactionID {
			cp := *row
			rows = append(rows, &cp)
		}
	}
	return rows, nil
}

func (m *mockInventoryRepository) Reserve(_ context.Context, rows []*domain.OrderInventory) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	byID := make(map[string]*domain.Inventory, len(m.stock))
	for _, inv := range m.stock {
		byID[inv.ID] = inv
	}

	// Всё или ничего, как транзакция БД.
	for _, row := range rows {
		if byID[row.InventoryID].Available < row.OrderQuantity {
			return domain.ErrOutOfStock
		}
		for _, existing := range m.ledger {
			if existing.OrderID == row.OrderID && existing.TransactionID == row.TransactionID && existing.InventoryID == row.InventoryID {
				return domain.ErrDuplicateReservation
			}
		}
	}
	for _, row := range rows {
		byID[row.InventoryID].Available -= row.OrderQuantity
		cp := *row
		cp.ID = uuid.New().String()
		m.ledger = append(m.ledger, &cp)
	}
	return nil
}

func (m *mockInventoryRepository) Restore(_ context.Context, rows []*domain.OrderInventory) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	restored := 0
	for _, row := range rows {
		for _, stored := range m.ledger {
			if stored.ID != row.ID || stored.Restored() {
				continue
			}
			now := time.Now()
			stored.RestoredAt = &now
			for _, inv := range m.stock {
				if inv.ID == stored.InventoryID {
					inv.Available += stored.OrderQuantity
				}
			}
			restored++
		}
	}
	return restored, nil
}

func (m *mockInventoryRepository) Seed(context.Context, []domain.Inventory) error {
	return nil
}

func (m *mockInventoryRepository) available(code string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stock[code].Available
}

// =============================================================================
// Хелперы
// =============================================================================

type capturePublisher struct {
	topics []string
	events []*saga.Event
}

func (c *capturePublisher) Publish(_ context.Context, topic string, _, value []byte) error {
	ev, err := saga.DecodeEvent(value)
	if err != nil {
		return err
	}
	c.topics = append(c.topics, topic)
	c.events = append(c.events, ev)
	return nil
}

func (c *capturePublisher) last(t *testing.T) (string, *saga.Event) {
	t.Helper()
	require.NotEmpty(t, c.events, "событие не опубликовано")
	return c.topics[len(c.topics)-1], c.events[len(c.events)-1]
}

func newEvent(products ...saga.OrderProduct) *saga.Event {
	return &saga.Event{
		ID:            "ev-1",
		OrderID:       "order-1",
		TransactionID: "1700000000000_tx",
		Source:        saga.SourcePayment,
		Status:        saga.StatusSuccess,
		Payload:       &saga.Order{ID: "order-1", TransactionID: "1700000000000_tx", Products: products},
		History: []saga.History{
			{Source: saga.SourceOrder, Status: saga.StatusSuccess, Message: "Сага запущена"},
			{Source: saga.SourceProductValidation, Status: saga.StatusSuccess, Message: "Товары проверены"},
			{Source: saga.SourcePayment, Status: saga.StatusSuccess, Message: "Платёж проведён"},
		},
	}
}

func product(code string, qty int) saga.OrderProduct {
	return saga.OrderProduct{Product: saga.Product{Code: code, UnitValue: 10}, Quantity: qty}
}

func setupParticipant(t *testing.T, stock map[string]int) (*mockInventoryRepository, *capturePublisher, *saga.Participant) {
	t.Helper()
	repo := newMockRepo(stock)
	pub := &capturePublisher{}

	topics, err := saga.DefaultTopics(saga.SourceInventory)
	require.NoError(t, err)
	router := saga.NewRouter("inventory-service", topics, pub, saga.WithPublishRetries(0, time.Millisecond))

	return repo, pub, saga.NewParticipant(saga.SourceInventory, NewInventoryService(repo), repo, router, Messages)
}

// =============================================================================
// Execute
// =============================================================================

func TestInventoryService_Execute_Success(t *testing.T) {
	// Arrange
	repo, pub, p := setupParticipant(t, map[string]int{"BOOKS": 10, "MOVIES": 5})
	ev := newEvent(product("BOOKS", 3), product("MOVIES", 5))

	// Act
	require.NoError(t, p.Execute(context.Background(), ev))

	// Assert
	topic, out := pub.last(t)
	assert.Equal(t, kafka.TopicNotifyEnding, topic)
	assert.Equal(t, saga.StatusSuccess, out.Status)
	assert.Equal(t, saga.SourceInventory, out.Source)
	assert.Len(t, out.History, 4)
	assert.Equal(t, 7, repo.available("BOOKS"))
	assert.Equal(t, 0, repo.available("MOVIES"))
}

func TestInventoryService_Execute_OutOfStock(t *testing.T) {
	repo, pub, p := setupParticipant(t, map[string]int{"BOOKS": 5})
	ev := newEvent(product("BOOKS", 10))

	require.NoError(t, p.Execute(context.Background(), ev))

	topic, out := pub.last(t)
	assert.Equal(t, kafka.TopicInventoryFail, topic)
	assert.Equal(t, saga.StatusRollbackPending, out.Status)
	require.Len(t, out.History, len(ev.History)+1, "ровно одна запись об ошибке")
	assert.Contains(t, out.History[len(out.History)-1].Message, Messages.Failure)
	assert.Equal(t, 5, repo.available("BOOKS"), "остаток не изменился")
	assert.Empty(t, repo.ledger)
}

func TestInventoryService_Execute_PartialOutOfStockChangesNothing(t *testing.T) {
	repo, pub, p := setupParticipant(t, map[string]int{"BOOKS": 10, "MOVIES": 1})

	require.NoError(t, p.Execute(context.Background(), newEvent(product("BOOKS", 2), product("MOVIES", 3))))

	_, out := pub.last(t)
	assert.Equal(t, saga.StatusRollbackPending, out.Status)
	assert.Equal(t, 10, repo.available("BOOKS"))
	assert.Equal(t, 1, repo.available("MOVIES"))
}

func TestInventoryService_Execute_SameProductTwiceIsSummed(t *testing.T) {
	repo, pub, p := setupParticipant(t, map[string]int{"BOOKS": 5})

	require.NoError(t, p.Execute(context.Background(), newEvent(product("BOOKS", 3), product("BOOKS", 3))))

	_, out := pub.last(t)
	assert.Equal(t, saga.StatusRollbackPending, out.Status)
	assert.Equal(t, 5, repo.available("BOOKS"))
}

func TestInventoryService_Execute_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		products []saga.OrderProduct
	}{
		{"пустой заказ", nil},
		{"неизвестный товар", []saga.OrderProduct{product("UNKNOWN", 1)}},
		{"пустой код", []saga.OrderProduct{product("", 1)}},
		{"нулевое количество", []saga.OrderProduct{product("BOOKS", 0)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, pub, p := setupParticipant(t, map[string]int{"BOOKS": 5})

			require.NoError(t, p.Execute(context.Background(), newEvent(tt.products...)))

			_, out := pub.last(t)
			assert.Equal(t, saga.StatusRollbackPending, out.Status)
			assert.Equal(t, 5, repo.available("BOOKS"))
		})
	}
}

func TestInventoryService_Execute_Idempotency(t *testing.T) {
	repo, pub, p := setupParticipant(t, map[string]int{"BOOKS": 10})
	ev := newEvent(product("BOOKS", 2))

	require.NoError(t, p.Execute(context.Background(), ev))
	require.NoError(t, p.Execute(context.Background(), ev))

	assert.Len(t, repo.ledger, 1)
	assert.Equal(t, 8, repo.available("BOOKS"), "повтор не списывает второй раз")

	_, out := pub.last(t)
	assert.Equal(t, saga.StatusRollbackPending, out.Status)
}

// =============================================================================
// Compensate
// =============================================================================

func TestInventoryService_Conservation(t *testing.T) {
	// Arrange
	repo, pub, p := setupParticipant(t, map[string]int{"BOOKS": 10, "MOVIES": 5})
	ev := newEvent(product("BOOKS", 4))
	require.NoError(t, p.Execute(context.Background(), ev))

	// Параллельный заказ на другой товар.
	other := newEvent(product("MOVIES", 2))
	other.OrderID, other.TransactionID = "order-2", "1700000000001_tx"
	require.NoError(t, p.Execute(context.Background(), other))

	// Act
	require.NoError(t, p.Compensate(context.Background(), ev))

	// Assert
	topic, out := pub.last(t)
	assert.Equal(t, kafka.TopicPaymentFail, topic)
	assert.Equal(t, saga.StatusFail, out.Status)
	assert.Equal(t, Messages.RollbackExecuted, out.History[len(out.History)-1].Message)
	assert.Equal(t, 10, repo.available("BOOKS"))
	assert.Equal(t, 3, repo.available("MOVIES"))
}

func TestInventoryService_Compensate_Twice(t *testing.T) {
	repo, _, p := setupParticipant(t, map[string]int{"BOOKS": 10})
	ev := newEvent(product("BOOKS", 4))
	require.NoError(t, p.Execute(context.Background(), ev))

	require.NoError(t, p.Compensate(context.Background(), ev))
	require.NoError(t, p.Compensate(context.Background(), ev))

	assert.Equal(t, 10, repo.available("BOOKS"), "повторный откат не возвращает товар второй раз")
}

func TestInventoryService_Compensate_NothingToUndo(t *testing.T) {
	repo, pub, p := setupParticipant(t, map[string]int{"BOOKS": 5})

	require.NoError(t, p.Compensate(context.Background(), newEvent(product("BOOKS", 10))))

	topic, out := pub.last(t)
	assert.Equal(t, kafka.TopicPaymentFail, topic)
	assert.Equal(t, saga.StatusFail, out.Status)
	assert.Equal(t, Messages.RollbackExecuted, out.History[len(out.History)-1].Message)
	assert.Equal(t, 5, repo.available("BOOKS"))
}

func TestInventoryService_OutOfStockThenCompensate(t *testing.T) {
	// Arrange
	repo, pub, p := setupParticipant(t, map[string]int{"BOOKS": 5})
	require.NoError(t, p.Execute(context.Background(), newEvent(product("BOOKS", 10))))
	_, rejected := pub.last(t)
	require.Equal(t, saga.StatusRollbackPending, rejected.Status)

	// Act
	require.NoError(t, p.Compensate(context.Background(), rejected))

	// Assert
	topic, out := pub.last(t)
	assert.Equal(t, kafka.TopicPaymentFail, topic)
	assert.Equal(t, saga.StatusFail, out.Status)
	require.Len(t, out.History, len(rejected.History)+1)
	assert.Equal(t, Messages.RollbackExecuted, out.History[len(out.History)-1].Message)
	assert.Equal(t, 5, repo.available("BOOKS"))
}
