package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"example.com/saga-choreography/pkg/logger"
	"example.com/saga-choreography/pkg/metrics"
	"example.com/saga-choreography/pkg/tracing"
)

// Step — локальный эффект участника и его откат.
// Ошибка означает непредвиденный сбой (БД недоступна и т.п.);
// бизнес-отказ возвращается через Rejected/NotCompensated.
type Step interface {
	Execute(ctx context.Context, ev *Event) (Result, error)
	Compensate(ctx context.Context, ev *Event) (Compensation, error)
}

// Ledger — локальный журнал участника, по которому проверяется идемпотентность.
type Ledger interface {
	ExistsByOrderIDAndTransactionID(ctx context.Context, orderID, transactionID string) (bool, error)
}

// Claimer — быстрая предварительная блокировка ключа (order, transaction),
// отсекающая параллельную повторную доставку до обращения к БД.
type Claimer interface {
	Claim(ctx context.Context, orderID, transactionID string) (bool, error)
	Release(ctx context.Context, orderID, transactionID string) error
}

// Messages — тексты записей истории участника.
type Messages struct {
	Success             string
	Failure             string // префикс, к нему добавляется причина
	RollbackExecuted    string
	RollbackNotExecuted string // префикс, к нему добавляется причина
}

const duplicateReason = "повторная транзакция: для заказа уже есть запись с этим transactionId"

// Participant выполняет шаг саги по единому контракту:
// проверка идемпотентности, локальный эффект, обновление статуса и истории,
// маршрутизация. Ошибки шага никогда не выходят за его пределы:
// они превращаются в ROLLBACK_PENDING с записью в истории.
type Participant struct {
	source   Source
	step     Step
	ledger   Ledger
	claimer  Claimer
	router   *Router
	messages Messages
}

type ParticipantOption func(*Participant)

// WithClaimer подключает быструю проверку идемпотентности (Redis).
func WithClaimer(c Claimer) ParticipantOption {
	return func(p *Participant) {
		p.claimer = c
	}
}

func NewParticipant(source Source, step Step, ledger Ledger, router *Router, messages Messages, opts ...ParticipantOption) *Participant {
	p := &Participant{
		source:   source,
		step:     step,
		ledger:   ledger,
		router:   router,
		messages: messages,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Participant) Source() Source {
	return p.source
}

func (p *Participant) Topics() Topics {
	return p.router.Topics()
}

// Execute — прямой шаг. Возвращает только ошибку публикации.
func (p *Participant) Execute(ctx context.Context, in *Event) error {
	ev := in.Clone()
	ctx = logger.WithSaga(ctx, ev.OrderID, ev.TransactionID)
	ctx, span := tracing.Tracer(p.source.Service()).Start(ctx, "saga.execute")
	defer span.End()
	span.SetAttributes(
		attribute.String("saga.order_id", ev.OrderID),
		attribute.String("saga.transaction_id", ev.TransactionID),
	)

	start := time.Now()
	result := p.runForward(ctx, ev)

	ev.Source = p.source
	if result.OK() {
		ev.Status = StatusSuccess
		ev.AddHistory(p.messages.Success)
		logger.Ctx(ctx).Info().Msgf("Шаг выполнен успешно: %s", ev.LogID())
	} else {
		ev.Status = StatusRollbackPending
		ev.AddHistory(p.messages.Failure + result.Reason())
		span.SetStatus(codes.Error, result.Reason())
		logger.Ctx(ctx).Warn().
			Str("reason", result.Reason()).
			Msgf("Шаг не выполнен, требуется откат: %s", ev.LogID())
	}

	metrics.RecordStep(p.source.Service(), "execute", string(ev.Status), time.Since(start))
	return p.router.Route(ctx, ev)
}

// Compensate — откат шага. Событие всегда уходит дальше со статусом FAIL.
func (p *Participant) Compensate(ctx context.Context, in *Event) error {
	ev := in.Clone()
	ev.Status = StatusFail
	ev.Source = p.source

	ctx = logger.WithSaga(ctx, ev.OrderID, ev.TransactionID)
	ctx, span := tracing.Tracer(p.source.Service()).Start(ctx, "saga.compensate")
	defer span.End()
	span.SetAttributes(
		attribute.String("saga.order_id", ev.OrderID),
		attribute.String("saga.transaction_id", ev.TransactionID),
	)

	start := time.Now()
	comp := p.runCompensation(ctx, ev)

	// Шаг не должен менять статус, но откат обязан уйти назад по цепочке.
	ev.Status = StatusFail
	ev.Source = p.source
	if comp.Executed() {
		ev.AddHistory(p.messages.RollbackExecuted)
		logger.Ctx(ctx).Info().Msgf("Откат выполнен: %s", ev.LogID())
	} else {
		ev.AddHistory(p.messages.RollbackNotExecuted + comp.Reason())
		logger.Ctx(ctx).Warn().
			Str("reason", comp.Reason()).
			Msgf("Откат не выполнен: %s", ev.LogID())
	}

	metrics.RecordStep(p.source.Service(), "compensate", string(ev.Status), time.Since(start))
	return p.router.Route(ctx, ev)
}

func (p *Participant) runForward(ctx context.Context, ev *Event) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			logger.Ctx(ctx).Error().Interface("panic", r).Msg("Паника при выполнении шага")
			result = Rejectedf("внутренняя ошибка: %v", r)
		}
	}()

	exists, err := p.ledger.ExistsByOrderIDAndTransactionID(ctx, ev.OrderID, ev.TransactionID)
	if err != nil {
		return Rejectedf("ошибка проверки идемпотентности: %v", err)
	}
	if exists {
		return Rejected(duplicateReason)
	}

	claimed := false
	if p.claimer != nil {
		ok, err := p.claimer.Claim(ctx, ev.OrderID, ev.TransactionID)
		switch {
		case err != nil:
			// Redis недоступен: защиту обеспечивает уникальный индекс БД.
			logger.Ctx(ctx).Warn().Err(err).Msg("Быстрая проверка идемпотентности недоступна")
		case !ok:
			return Rejected(duplicateReason)
		default:
			claimed = true
		}
	}

	result, err = p.step.Execute(ctx, ev)
	if err != nil {
		if errors.Is(err, ErrDuplicateTransaction) {
			return Rejected(duplicateReason)
		}
		if claimed {
			if relErr := p.claimer.Release(ctx, ev.OrderID, ev.TransactionID); relErr != nil {
				logger.Ctx(ctx).Warn().Err(relErr).Msg("Не удалось снять блокировку идемпотентности")
			}
		}
		return Rejected(err.Error())
	}
	return result
}

func (p *Participant) runCompensation(ctx context.Context, ev *Event) (comp Compensation) {
	defer func() {
		if r := recover(); r != nil {
			logger.Ctx(ctx).Error().Interface("panic", r).Msg("Паника при откате шага")
			comp = NotCompensated(fmt.Sprintf("внутренняя ошибка: %v", r))
		}
	}()

	comp, err := p.step.Compensate(ctx, ev)
	if err != nil {
		return NotCompensated(err.Error())
	}
	return comp
}
