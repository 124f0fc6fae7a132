package saga

import (
	"errors"
	"fmt"
)

// ErrDuplicateTransaction возвращают хранилища, когда запись
// для (orderId, transactionId) уже существует.
var ErrDuplicateTransaction = errors.New("транзакция уже обработана")

// Result — итог локального эффекта шага: успех или отказ с причиной.
// Отказ — штатный исход, а не ошибка: он переводит сагу в ROLLBACK_PENDING.
type Result struct {
	rejected bool
	reason   string
}

func Ok() Result {
	return Result{}
}

func Rejected(reason string) Result {
	return Result{rejected: true, reason: reason}
}

func Rejectedf(format string, args ...any) Result {
	return Rejected(fmt.Sprintf(format, args...))
}

func (r Result) OK() bool {
	return !r.rejected
}

func (r Result) Reason() string {
	return r.reason
}

// Compensation — итог отката: выполнен или нет (с причиной).
// Невыполненный откат не останавливает сагу.
type Compensation struct {
	skipped bool
	reason  string
}

func Compensated() Compensation {
	return Compensation{}
}

func NotCompensated(reason string) Compensation {
	return Compensation{skipped: true, reason: reason}
}

func (c Compensation) Executed() bool {
	return !c.skipped
}

func (c Compensation) Reason() string {
	return c.reason
}
