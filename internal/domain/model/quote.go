// Пакет model — доменные модели Quote Module: заявки, история статусов,
// файлы заявок и политики доступа к объектам хранилища.
package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bigkaa/goartstore/quote-module/internal/domain/lifecycle"
)

// Quote — заявка клиента на расчёт стоимости.
// Хранится в таблице quotes.
type Quote struct {
	// ID — UUID заявки
	ID string `json:"id"`
	// UserID — sub клиента, создавшего заявку
	UserID string `json:"userId"`
	// Service — запрошенная услуга
	Service string `json:"service"`
	// Status — текущий статус (совпадает со статусом последней записи истории)
	Status lifecycle.Status `json:"status"`
	// FinalPrice — итоговая цена, назначенная администратором (может быть nil)
	FinalPrice *Money `json:"finalPrice"`
	// TargetPrice — желаемая цена клиента (может быть nil)
	TargetPrice *Money `json:"targetPrice"`
	// Notes — комментарий клиента
	Notes string `json:"notes,omitempty"`
	// CreatedAt — время создания
	CreatedAt time.Time `json:"createdAt"`
	// UpdatedAt — время последнего изменения статуса или цены
	UpdatedAt time.Time `json:"updatedAt"`
}

// StatusHistoryEntry — запись журнала статусов заявки.
// Только добавление: записи не изменяются и не удаляются.
type StatusHistoryEntry struct {
	ID        int64            `json:"id"`
	QuoteID   string           `json:"quoteId"`
	Status    lifecycle.Status `json:"status"`
	Notes     string           `json:"notes"`
	Actor     string           `json:"actor"`
	CreatedAt time.Time        `json:"createdAt"`
}

// QuoteFile — файл, приложенный к заявке.
// FilePath — канонический путь объекта (/objects/...).
type QuoteFile struct {
	ID        string    `json:"id"`
	QuoteID   string    `json:"quoteId"`
	FileName  string    `json:"fileName"`
	FilePath  string    `json:"filePath"`
	FileSize  int64     `json:"fileSize"`
	CreatedAt time.Time `json:"createdAt"`
}

// Money — денежная сумма в минимальных единицах (копейках/центах).
// В JSON представлена десятичным числом с двумя знаками: 1250.50.
type Money int64

// ParseMoney разбирает десятичную строку ("1250", "1250.5", "1250.50").
// Отрицательные суммы и более двух знаков после точки недопустимы.
func ParseMoney(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("пустая сумма")
	}
	if strings.HasPrefix(s, "-") {
		return 0, fmt.Errorf("сумма не может быть отрицательной: %q", s)
	}

	whole, frac, hasFrac := strings.Cut(s, ".")
	if hasFrac && (len(frac) == 0 || len(frac) > 2) {
		return 0, fmt.Errorf("некорректная сумма %q: допускается не более двух знаков после точки", s)
	}
	if !isDigits(whole) || (hasFrac && !isDigits(frac)) {
		return 0, fmt.Errorf("некорректная сумма: %q", s)
	}
	if len(frac) == 1 {
		frac += "0"
	}
	if frac == "" {
		frac = "00"
	}

	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || units < 0 {
		return 0, fmt.Errorf("некорректная сумма: %q", s)
	}
	cents, err := strconv.ParseInt(frac, 10, 64)
	if err != nil || cents < 0 {
		return 0, fmt.Errorf("некорректная сумма: %q", s)
	}
	if units > (1<<62)/100 {
		return 0, fmt.Errorf("сумма слишком велика: %q", s)
	}

	return Money(units*100 + cents), nil
}

// isDigits сообщает, что s непустая и состоит только из цифр ASCII.
func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// String возвращает сумму в виде "1250.50".
func (m Money) String() string {
	return fmt.Sprintf("%d.%02d", int64(m)/100, int64(m)%100)
}

// MarshalJSON сериализует сумму как JSON-число.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalJSON принимает как число (1250.5), так и строку ("1250.50").
func (m *Money) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	v, err := ParseMoney(s)
	if err != nil {
		return err
	}
	*m = v
	return nil
}
