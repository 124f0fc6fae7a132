package saga

import (
	"context"

	"example.com/saga-choreography/pkg/logger"
)

// Handle разбирает входящее сообщение и запускает шаг, соответствующий топику:
// Start — выполнение, OwnCompensation — откат.
//
// Нечитаемые сообщения и сообщения из чужих топиков логируются и пропускаются.
// Ошибка возвращается только если не удалось опубликовать результат шага.
func (p *Participant) Handle(ctx context.Context, topic string, value []byte) error {
	ev, err := DecodeEvent(value)
	if err != nil {
		logger.Ctx(ctx).Error().
			Err(err).
			Str("topic", topic).
			Msg("Пропущено некорректное сообщение саги")
		return nil
	}

	topics := p.router.Topics()
	switch topic {
	case topics.Start:
		logger.Ctx(ctx).Info().Str("topic", topic).Msgf("Получено событие для выполнения: %s", ev.LogID())
		return p.Execute(ctx, ev)
	case topics.OwnCompensation:
		logger.Ctx(ctx).Info().Str("topic", topic).Msgf("Получено событие для отката: %s", ev.LogID())
		return p.Compensate(ctx, ev)
	default:
		logger.Ctx(ctx).Warn().Str("topic", topic).Msg("Сообщение из неожиданного топика пропущено")
		return nil
	}
}
