// Package service содержит бизнес-логику Product Validation Service:
// проверка, что все товары заказа есть в каталоге, и откат проверки.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"example.com/saga-choreography/pkg/logger"
	"example.com/saga-choreography/pkg/saga"
	"example.com/saga-choreography/services/product-validation/internal/domain"
	"example.com/saga-choreography/services/product-validation/internal/repository"
)

// Messages — записи истории, которые добавляет product-validation-service.
var Messages = saga.Messages{
	Success:             "Товары проверены успешно",
	Failure:             "Не удалось проверить товары: ",
	RollbackExecuted:    "Откат проверки товаров выполнен",
	RollbackNotExecuted: "Откат проверки товаров не выполнен: ",
}

// DefaultCatalog — коды, которые добавляются в каталог при старте, если их нет.
var DefaultCatalog = []string{"COMIC_BOOKS", "BOOKS", "MOVIES", "MUSIC"}

// ValidationService реализует saga.Step.
type ValidationService struct {
	products    repository.ProductRepository
	validations repository.ValidationRepository
}

func NewValidationService(products repository.ProductRepository, validations repository.ValidationRepository) *ValidationService {
	return &ValidationService{products: products, validations: validations}
}

// Execute проверяет заказ и каталог; при успехе сохраняет проверку success=true.
// Отклонённая проверка не сохраняется: запись появится при откате.
func (s *ValidationService) Execute(ctx context.Context, ev *saga.Event) (saga.Result, error) {
	if err := domain.CheckOrder(ev); err != nil {
		return saga.Rejected(err.Error()), nil
	}

	for _, p := range ev.Payload.Products {
		exists, err := s.products.ExistsByCode(ctx, p.Product.Code)
		if err != nil {
			return saga.Result{}, fmt.Errorf("ошибка чтения каталога: %w", err)
		}
		if !exists {
			logger.Ctx(ctx).Warn().Str("product_code", p.Product.Code).Msg("Товар не найден в каталоге")
			return saga.Rejectedf("%s: %v", p.Product.Code, domain.ErrProductNotFound), nil
		}
	}

	if err := s.validations.Create(ctx, newValidation(ev, true)); err != nil {
		return saga.Result{}, fmt.Errorf("ошибка сохранения проверки: %w", err)
	}

	logger.Ctx(ctx).Info().Int("products", len(ev.Payload.Products)).Msg("Товары заказа проверены")
	return saga.Ok(), nil
}

// Compensate помечает проверку неуспешной. Если проверки нет, создаёт запись
// success=false и сообщает, что откатывать было нечего: у этого шага
// цель отката есть всегда, её отсутствие — ошибка.
func (s *ValidationService) Compensate(ctx context.Context, ev *saga.Event) (saga.Compensation, error) {
	log := logger.Ctx(ctx)

	v, err := s.validations.FindByOrderIDAndTransactionID(ctx, ev.OrderID, ev.TransactionID)
	switch {
	case err == nil:
		if err := s.validations.MarkFailed(ctx, v.ID); err != nil {
			return saga.Compensation{}, fmt.Errorf("ошибка обновления проверки: %w", err)
		}
		log.Info().Str("validation_id", v.ID).Msg("Проверка помечена неуспешной")
		return saga.Compensated(), nil

	case errors.Is(err, domain.ErrValidationNotFound):
		if err := s.validations.Create(ctx, newValidation(ev, false)); err != nil && !errors.Is(err, domain.ErrDuplicateValidation) {
			return saga.Compensation{}, fmt.Errorf("ошибка сохранения проверки: %w", err)
		}
		log.Warn().Msg("Проверка для отката не найдена, создана неуспешная запись")
		return saga.NotCompensated(domain.ErrValidationNotFound.Error() + ", создана запись об ошибке"), nil

	default:
		return saga.Compensation{}, fmt.Errorf("ошибка поиска проверки: %w", err)
	}
}

func newValidation(ev *saga.Event, success bool) *domain.Validation {
	now := time.Now().UTC()
	return &domain.Validation{
		ID:            uuid.New().String(),
		OrderID:       ev.OrderID,
		TransactionID: ev.TransactionID,
		Success:       success,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}
