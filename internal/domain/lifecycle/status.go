// Пакет lifecycle — правила жизненного цикла заявки (quote).
//
// Статусы упорядочены:
//
//	requested → provided → confirmed → in_production → quality_check → shipped → delivered
//
// Переходы монотонные: пропуск этапов допустим, откат назад — нет.
// delivered — конечный статус, из него переходов нет.
//
// Пакет не хранит состояние: текущий статус живёт в PostgreSQL,
// атомарность перехода обеспечивает service.QuoteService (SELECT ... FOR UPDATE).
package lifecycle

import (
	"fmt"
	"strings"
)

// Status — статус заявки.
type Status string

const (
	// StatusRequested — заявка создана клиентом (единственный начальный статус)
	StatusRequested Status = "requested"
	// StatusProvided — клиенту предоставлена цена
	StatusProvided Status = "provided"
	// StatusConfirmed — клиент подтвердил заказ
	StatusConfirmed Status = "confirmed"
	// StatusInProduction — заказ в производстве
	StatusInProduction Status = "in_production"
	// StatusQualityCheck — контроль качества
	StatusQualityCheck Status = "quality_check"
	// StatusShipped — заказ отгружен
	StatusShipped Status = "shipped"
	// StatusDelivered — заказ доставлен (конечный статус)
	StatusDelivered Status = "delivered"
)

// CodeInvalidTransition — машиночитаемый код ошибки перехода.
const CodeInvalidTransition = "INVALID_TRANSITION"

// order — порядковый номер статуса (1..7).
var order = map[Status]int{
	StatusRequested:    1,
	StatusProvided:     2,
	StatusConfirmed:    3,
	StatusInProduction: 4,
	StatusQualityCheck: 5,
	StatusShipped:      6,
	StatusDelivered:    7,
}

// All возвращает все статусы в порядке жизненного цикла.
func All() []Status {
	return []Status{
		StatusRequested, StatusProvided, StatusConfirmed, StatusInProduction,
		StatusQualityCheck, StatusShipped, StatusDelivered,
	}
}

// Index возвращает порядковый номер статуса или 0 для неизвестного.
func (s Status) Index() int {
	return order[s]
}

// IsValid проверяет, является ли статус допустимым.
func (s Status) IsValid() bool {
	_, ok := order[s]
	return ok
}

// IsTerminal проверяет, является ли статус конечным.
func (s Status) IsTerminal() bool {
	return s == StatusDelivered
}

// ParseStatus преобразует строку в Status. Регистр не учитывается,
// поэтому принимаются и "IN_PRODUCTION", и "in_production".
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("недопустимый статус: %q", s)
	}
	return st, nil
}

// ValidateTransition проверяет допустимость перехода current → target.
//
// Ошибки (*TransitionError с кодом INVALID_TRANSITION):
//   - target неизвестен;
//   - current — конечный статус (delivered);
//   - index(target) < index(current) — откат назад.
//
// Переход в тот же статус допустим (дополнительная запись в истории).
func ValidateTransition(current, target Status) error {
	if !target.IsValid() {
		return &TransitionError{
			Code:    CodeInvalidTransition,
			Message: fmt.Sprintf("недопустимый целевой статус: %q", target),
			From:    current,
			To:      target,
		}
	}

	if current.IsTerminal() {
		return &TransitionError{
			Code:    CodeInvalidTransition,
			Message: fmt.Sprintf("статус %s конечный, переходы невозможны", current),
			From:    current,
			To:      target,
		}
	}

	if target.Index() < current.Index() {
		return &TransitionError{
			Code:    CodeInvalidTransition,
			Message: fmt.Sprintf("откат %s → %s недопустим", current, target),
			From:    current,
			To:      target,
		}
	}

	return nil
}

// TransitionError — ошибка перехода между статусами.
type TransitionError struct {
	Code    string // Машиночитаемый код (INVALID_TRANSITION)
	Message string // Человекочитаемое описание
	From    Status
	To      Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
