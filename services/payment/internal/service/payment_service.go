// Package service содержит бизнес-логику Payment Service: шаг саги
// «провести платёж» и его компенсацию «вернуть платёж».
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"example.com/saga-choreography/pkg/logger"
	"example.com/saga-choreography/pkg/saga"
	"example.com/saga-choreography/services/payment/internal/domain"
	"example.com/saga-choreography/services/payment/internal/repository"
)

// Messages — записи истории, которые добавляет payment-service.
var Messages = saga.Messages{
	Success:             "Платёж проведён успешно",
	Failure:             "Не удалось провести платёж: ",
	RollbackExecuted:    "Откат платежа выполнен: платёж возвращён",
	RollbackNotExecuted: "Откат платежа не выполнен: ",
}

// PaymentService реализует saga.Step.
type PaymentService struct {
	repo repository.PaymentRepository
}

// NewPaymentService создаёт сервис платежей.
func NewPaymentService(repo repository.PaymentRepository) *PaymentService {
	return &PaymentService{repo: repo}
}

// Execute считает сумму заказа, сохраняет платёж в PENDING и проводит его,
// если сумма не меньше минимальной. Итоги записываются в payload события.
//
// Отклонённый по сумме платёж остаётся в PENDING: запись нужна
// для проверки идемпотентности и последующей компенсации.
func (s *PaymentService) Execute(ctx context.Context, ev *saga.Event) (saga.Result, error) {
	log := logger.Ctx(ctx)

	amount, items := ev.Payload.Totals()

	now := time.Now().UTC()
	payment := &domain.Payment{
		ID:            uuid.New().String(),
		OrderID:       ev.OrderID,
		TransactionID: ev.TransactionID,
		TotalItems:    items,
		TotalAmount:   amount,
		Status:        domain.PaymentStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.repo.Create(ctx, payment); err != nil {
		return saga.Result{}, fmt.Errorf("ошибка сохранения платежа: %w", err)
	}

	if err := payment.ValidateAmount(); err != nil {
		log.Warn().
			Float64("total_amount", amount).
			Int("total_items", items).
			Msg("Платёж отклонён: сумма меньше минимальной")
		return saga.Rejected(err.Error()), nil
	}

	if err := payment.Settle(); err != nil {
		return saga.Result{}, err
	}
	if err := s.repo.Update(ctx, payment); err != nil {
		return saga.Result{}, fmt.Errorf("ошибка обновления платежа: %w", err)
	}

	if ev.Payload != nil {
		ev.Payload.TotalAmount = amount
		ev.Payload.TotalItems = items
	}

	log.Info().
		Str("payment_id", payment.ID).
		Float64("total_amount", amount).
		Int("total_items", items).
		Msg("Платёж проведён")

	return saga.Ok(), nil
}

// Compensate переводит платёж в REFUND. Отсутствие платежа — откат выполнен, возвращать нечего.
func (s *PaymentService) Compensate(ctx context.Context, ev *saga.Event) (saga.Compensation, error) {
	log := logger.Ctx(ctx)

	payment, err := s.repo.FindByOrderIDAndTransactionID(ctx, ev.OrderID, ev.TransactionID)
	if err != nil {
		if errors.Is(err, domain.ErrPaymentNotFound) {
			log.Info().Msg("Платёж для отката не найден, возвращать нечего")
			return saga.Compensated(), nil
		}
		return saga.Compensation{}, fmt.Errorf("ошибка поиска платежа: %w", err)
	}

	if !payment.Status.IsTerminal() {
		if err := payment.Refund(); err != nil {
			return saga.Compensation{}, err
		}
		if err := s.repo.Update(ctx, payment); err != nil {
			return saga.Compensation{}, fmt.Errorf("ошибка обновления платежа: %w", err)
		}
	}

	if ev.Payload != nil {
		ev.Payload.TotalAmount = payment.TotalAmount
		ev.Payload.TotalItems = payment.TotalItems
	}

	log.Info().Str("payment_id", payment.ID).Msg("Платёж возвращён")
	return saga.Compensated(), nil
}
