package saga

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEvent() *Event {
	return &Event{
		ID:            "ev-1",
		OrderID:       "order-1",
		TransactionID: "1700000000000_tx",
		Status:        StatusSuccess,
		Source:        SourceOrder,
		CreatedAt:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Payload: &Order{
			ID:            "order-1",
			TransactionID: "1700000000000_tx",
			Products: []OrderProduct{
				{Product: Product{Code: "COMIC_BOOKS", UnitValue: 10.0}, Quantity: 2},
				{Product: Product{Code: "BOOKS", UnitValue: 5.0}, Quantity: 1},
			},
		},
		History: []History{{Source: SourceOrder, Status: StatusSuccess, Message: "Сага запущена"}},
	}
}

func TestOrder_Totals(t *testing.T) {
	tests := []struct {
		name       string
		order      *Order
		wantAmount float64
		wantItems  int
	}{
		{"два продукта", sampleEvent().Payload, 25.0, 3},
		{"нулевая цена", &Order{Products: []OrderProduct{{Product: Product{Code: "X", UnitValue: 0}, Quantity: 1}}}, 0, 1},
		{"пустой заказ", &Order{}, 0, 0},
		{"nil заказ", nil, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			amount, items := tt.order.Totals()
			assert.InDelta(t, tt.wantAmount, amount, 1e-9)
			assert.Equal(t, tt.wantItems, items)
		})
	}
}

func TestEvent_AddHistory_UsesCurrentSourceAndStatus(t *testing.T) {
	ev := sampleEvent()
	ev.Source = SourcePayment
	ev.Status = StatusRollbackPending

	ev.AddHistory("Ошибка платежа: сумма меньше минимальной")

	require.Len(t, ev.History, 2)
	last := ev.History[1]
	assert.Equal(t, SourcePayment, last.Source)
	assert.Equal(t, StatusRollbackPending, last.Status)
	assert.Equal(t, "Ошибка платежа: сумма меньше минимальной", last.Message)
	assert.False(t, last.CreatedAt.IsZero())
}

func TestEvent_Clone_IsDeep(t *testing.T) {
	orig := sampleEvent()

	c := orig.Clone()
	c.Payload.Products[0].Quantity = 100
	c.Payload.TotalAmount = 99
	c.AddHistory("изменено в копии")
	c.Status = StatusFail

	assert.Equal(t, 2, orig.Payload.Products[0].Quantity)
	assert.Zero(t, orig.Payload.TotalAmount)
	assert.Len(t, orig.History, 1)
	assert.Equal(t, StatusSuccess, orig.Status)
}

func TestEvent_Clone_Nil(t *testing.T) {
	var ev *Event
	assert.Nil(t, ev.Clone())
}

func TestEncodeDecode_WireFormat(t *testing.T) {
	data, err := sampleEvent().Encode()
	require.NoError(t, err)

	assert.Contains(t, string(data), `"orderId":"order-1"`)
	assert.Contains(t, string(data), `"transactionId":"1700000000000_tx"`)
	assert.Contains(t, string(data), `"unitValue":10`)

	decoded, err := DecodeEvent(data)
	require.NoError(t, err)
	assert.Equal(t, "order-1", decoded.OrderID)
	assert.Equal(t, StatusSuccess, decoded.Status)
	require.NotNil(t, decoded.Payload)
	assert.Len(t, decoded.Payload.Products, 2)
}

func TestDecodeEvent_Errors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"битый JSON", `{"orderId":`, ErrInvalidEvent},
		{"неизвестный статус", `{"orderId":"o","status":"DONE"}`, ErrUnknownStatus},
		{"пустой статус", `{"orderId":"o"}`, ErrUnknownStatus},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeEvent([]byte(tt.input))
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr))
		})
	}
}

func TestEvent_LogID(t *testing.T) {
	assert.Equal(t,
		"ORDER ID: order-1 | TRANSACTION ID: 1700000000000_tx | EVENT ID: ev-1",
		sampleEvent().LogID())
}

func TestSource_Service(t *testing.T) {
	assert.Equal(t, "inventory-service", SourceInventory.Service())
	assert.Equal(t, "order-service", SourceOrder.Service())
}
