// Package service содержит бизнес-логику Inventory Service: резервирование
// товара по заказу и возврат товара на склад при откате саги.
package service

import (
	"context"
	"errors"
	"fmt"

	"example.com/saga-choreography/pkg/logger"
	"example.com/saga-choreography/pkg/saga"
	"example.com/saga-choreography/services/inventory/internal/domain"
	"example.com/saga-choreography/services/inventory/internal/repository"
)

// Messages — записи истории, которые добавляет inventory-service.
var Messages = saga.Messages{
	Success:             "Остатки обновлены успешно",
	Failure:             "Не удалось обновить остатки: ",
	RollbackExecuted:    "Откат остатков выполнен",
	RollbackNotExecuted: "Откат остатков не выполнен: ",
}

// DefaultStock — начальные остатки, которые добавляются при старте, если их нет.
var DefaultStock = []domain.Inventory{
	{ProductCode: "COMIC_BOOKS", Available: 10},
	{ProductCode: "BOOKS", Available: 2},
	{ProductCode: "MOVIES", Available: 5},
	{ProductCode: "MUSIC", Available: 9},
}

// InventoryService реализует saga.Step.
type InventoryService struct {
	repo repository.InventoryRepository
}

func NewInventoryService(repo repository.InventoryRepository) *InventoryService {
	return &InventoryService{repo: repo}
}

// Execute проверяет остатки по всем товарам заказа и, если хватает всех,
// списывает их вместе с журналом в одной транзакции.
func (s *InventoryService) Execute(ctx context.Context, ev *saga.Event) (saga.Result, error) {
	log := logger.Ctx(ctx)

	quantities, codes, err := orderQuantities(ev.Payload)
	if err != nil {
		return saga.Rejected(err.Error()), nil
	}

	rows := make([]*domain.OrderInventory, 0, len(codes))
	for _, code := range codes {
		inv, err := s.repo.FindByProductCode(ctx, code)
		if err != nil {
			if errors.Is(err, domain.ErrInventoryNotFound) {
				return saga.Rejectedf("%s: %v", code, err), nil
			}
			return saga.Result{}, fmt.Errorf("ошибка чтения остатка %s: %w", code, err)
		}

		row, err := inv.Reserve(ev.OrderID, ev.TransactionID, quantities[code])
		if err != nil {
			log.Warn().
				Str("product_code", code).
				Int("available", inv.Available).
				Int("requested", quantities[code]).
				Msg("Недостаточно товара на складе")
			return saga.Rejectedf("%s: %v (доступно %d, заказано %d)", code, err, inv.Available, quantities[code]), nil
		}
		rows = append(rows, row)
	}

	if err := s.repo.Reserve(ctx, rows); err != nil {
		if errors.Is(err, domain.ErrOutOfStock) {
			return saga.Rejected(err.Error()), nil
		}
		return saga.Result{}, err
	}

	for _, row := range rows {
		log.Info().
			Str("product_code", row.ProductCode).
			Int("old_quantity", row.OldQuantity).
			Int("new_quantity", row.NewQuantity).
			Msg("Товар зарезервирован")
	}
	return saga.Ok(), nil
}

// Compensate возвращает товар по журналу резервирования.
// Пустой журнал — откатывать нечего, откат считается выполненным.
func (s *InventoryService) Compensate(ctx context.Context, ev *saga.Event) (saga.Compensation, error) {
	log := logger.Ctx(ctx)

	rows, err := s.repo.FindByOrderIDAndTransactionID(ctx, ev.OrderID, ev.TransactionID)
	if err != nil {
		return saga.Compensation{}, fmt.Errorf("ошибка чтения журнала резервирования: %w", err)
	}
	if len(rows) == 0 {
		log.Info().Msg("Резервирование для отката не найдено, возвращать нечего")
		return saga.Compensated(), nil
	}

	restored, err := s.repo.Restore(ctx, rows)
	if err != nil {
		return saga.Compensation{}, fmt.Errorf("ошибка возврата товара: %w", err)
	}

	log.Info().Int("restored", restored).Int("rows", len(rows)).Msg("Товар возвращён на склад")
	return saga.Compensated(), nil
}

// orderQuantities суммирует количество по коду товара, сохраняя порядок первых появлений.
func orderQuantities(order *saga.Order) (map[string]int, []string, error) {
	if order == nil || len(order.Products) == 0 {
		return nil, nil, domain.ErrEmptyOrder
	}

	quantities := make(map[string]int, len(order.Products))
	codes := make([]string, 0, len(order.Products))
	for _, p := range order.Products {
		if p.Product.Code == "" {
			return nil, nil, fmt.Errorf("не указан код товара")
		}
		if _, seen := quantities[p.Product.Code]; !seen {
			codes = append(codes, p.Product.Code)
		}
		quantities[p.Product.Code] += p.Quantity
	}
	return quantities, codes, nil
}
