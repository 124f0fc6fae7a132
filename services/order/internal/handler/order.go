// Package handler содержит HTTP обработчики Order Service.
package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"example.com/saga-choreography/pkg/logger"
	"example.com/saga-choreography/pkg/saga"
	"example.com/saga-choreography/services/order/internal/domain"
)

// OrderService — то, что обработчикам нужно от service.OrderService.
type OrderService interface {
	CreateOrder(ctx context.Context, products []saga.OrderProduct) (*domain.Order, *domain.Event, error)
	FindOrder(ctx context.Context, id string) (*domain.Order, error)
	FindAll(ctx context.Context) ([]*domain.Event, error)
	FindByFilter(ctx context.Context, orderID, transactionID string) (*domain.Event, error)
}

type OrderHandler struct {
	orders OrderService
}

func NewOrderHandler(orders OrderService) *OrderHandler {
	return &OrderHandler{orders: orders}
}

// === Request/Response DTOs ===

type CreateOrderRequest struct {
	Products []OrderProductRequest `json:"products" binding:"required,min=1,dive"`
}

type OrderProductRequest struct {
	Product  ProductRequest `json:"product" binding:"required"`
	Quantity int            `json:"quantity" binding:"required,min=1"`
}

type ProductRequest struct {
	Code      string  `json:"code" binding:"required"`
	UnitValue float64 `json:"unitValue" binding:"min=0"`
}

type OrderResponse struct {
	ID            string              `json:"id"`
	TransactionID string              `json:"transactionId"`
	Status        string              `json:"status"`
	Products      []saga.OrderProduct `json:"products"`
	CreatedAt     time.Time           `json:"createdAt"`
	UpdatedAt     time.Time           `json:"updatedAt"`
}

// CreateOrderResponse — заказ и id первого события саги.
type CreateOrderResponse struct {
	OrderResponse
	EventID string `json:"eventId"`
}

func toOrderResponse(o *domain.Order) OrderResponse {
	return OrderResponse{
		ID:            o.ID,
		TransactionID: o.TransactionID,
		Status:        string(o.Status),
		Products:      o.Products,
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
}

// === Handlers ===

// CreateOrder создаёт заказ и запускает сагу.
// POST /api/v1/orders
func (h *OrderHandler) CreateOrder(c *gin.Context) {
	ctx := c.Request.Context()

	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Ctx(ctx).Debug().Err(err).Msg("Невалидный запрос на создание заказа")
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Невалидные данные запроса",
		})
		return
	}

	products := make([]saga.OrderProduct, len(req.Products))
	for i, p := range req.Products {
		products[i] = saga.OrderProduct{
			Product:  saga.Product{Code: p.Product.Code, UnitValue: p.Product.UnitValue},
			Quantity: p.Quantity,
		}
	}

	order, ev, err := h.orders.CreateOrder(ctx, products)
	if err != nil {
		HandleError(c, err, "CreateOrder")
		return
	}

	c.JSON(http.StatusCreated, CreateOrderResponse{
		OrderResponse: toOrderResponse(order),
		EventID:       ev.ID,
	})
}

// GetOrder возвращает заказ и его текущий статус.
// GET /api/v1/orders/:id
func (h *OrderHandler) GetOrder(c *gin.Context) {
	order, err := h.orders.FindOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		HandleError(c, err, "GetOrder")
		return
	}
	c.JSON(http.StatusOK, toOrderResponse(order))
}

// ListEvents возвращает все события, новые первыми.
// GET /api/v1/events
func (h *OrderHandler) ListEvents(c *gin.Context) {
	events, err := h.orders.FindAll(c.Request.Context())
	if err != nil {
		HandleError(c, err, "ListEvents")
		return
	}
	if events == nil {
		events = []*domain.Event{}
	}
	c.JSON(http.StatusOK, events)
}

// FindEvent возвращает последнее событие по orderId или transactionId.
// GET /api/v1/events/filter?orderId=&transactionId=
func (h *OrderHandler) FindEvent(c *gin.Context) {
	ev, err := h.orders.FindByFilter(c.Request.Context(), c.Query("orderId"), c.Query("transactionId"))
	if err != nil {
		HandleError(c, err, "FindEvent")
		return
	}
	c.JSON(http.StatusOK, ev)
}

// ErrorResponse — стандартный формат ошибки API.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// HandleError переводит доменную ошибку в HTTP ответ.
func HandleError(c *gin.Context, err error, method string) {
	var (
		status int
		code   string
	)

	switch {
	case errors.Is(err, domain.ErrEmptyProducts),
		errors.Is(err, domain.ErrInvalidProductCode),
		errors.Is(err, domain.ErrInvalidQuantity),
		errors.Is(err, domain.ErrInvalidUnitValue),
		errors.Is(err, domain.ErrEmptyFilter):
		status, code = http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, domain.ErrOrderNotFound), errors.Is(err, domain.ErrEventNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrDuplicateOrder):
		status, code = http.StatusConflict, "already_exists"
	default:
		logger.Ctx(c.Request.Context()).Error().Err(err).Str("method", method).Msg("Внутренняя ошибка")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Внутренняя ошибка сервера",
		})
		return
	}

	c.JSON(status, ErrorResponse{Error: code, Message: err.Error()})
}
