// Пакет validation — проверка структур по тегам `validate`
// (go-playground/validator) с сообщениями на русском.
// Имена полей в сообщениях берутся из json-тегов.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate *validator.Validate
	once     sync.Once
)

// getValidator возвращает singleton-экземпляр валидатора.
func getValidator() *validator.Validate {
	once.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
		// trimmed: значение без пробельных символов по краям
		_ = validate.RegisterValidation("trimmed", func(fl validator.FieldLevel) bool {
			v := fl.Field().String()
			return strings.TrimSpace(v) == v
		})
	})
	return validate
}

// Error — ошибка валидации с перечнем полей.
type Error struct {
	Fields []FieldError
}

// FieldError — ошибка одного поля.
type FieldError struct {
	Field   string
	Message string
}

func (e *Error) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return strings.Join(parts, "; ")
}

// Struct проверяет структуру по тегам validate.
// Возвращает *Error при нарушениях или nil.
func Struct(s any) error {
	err := getValidator().Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("ошибка валидации: %w", err)
	}

	result := &Error{Fields: make([]FieldError, 0, len(verrs))}
	for _, fe := range verrs {
		result.Fields = append(result.Fields, FieldError{
			Field:   fieldPath(fe),
			Message: message(fe),
		})
	}
	return result
}

// fieldPath возвращает путь поля без имени корневой структуры:
// "ObjectPolicy.rules[0].groupId" → "rules[0].groupId".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return fe.Field()
}

// message формирует читаемое сообщение для ошибки поля.
func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "обязательное поле"
	case "max":
		return "не более " + fe.Param() + " символов"
	case "min":
		return "не менее " + fe.Param()
	case "gte":
		return "должно быть не меньше " + fe.Param()
	case "oneof":
		return "допустимые значения: " + fe.Param()
	case "printascii":
		return "допускаются только печатные ASCII-символы"
	case "uuid":
		return "должно быть UUID"
	case "trimmed":
		return "не должно начинаться или заканчиваться пробелами"
	default:
		return "некорректное значение"
	}
}
