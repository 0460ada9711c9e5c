// errors.go — ошибки бизнес-логики сервисного слоя.
// Обработчики HTTP сопоставляют их с кодами ответа через errors.Is.
package service

import "errors"

var (
	// ErrNotFound — объект, заявка или файл не найдены.
	ErrNotFound = errors.New("ресурс не найден")
	// ErrForbidden — субъект аутентифицирован, но не имеет прав.
	ErrForbidden = errors.New("доступ запрещён")
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
	// ErrInvalidTransition — откат статуса или переход из конечного статуса.
	ErrInvalidTransition = errors.New("недопустимый переход статуса")
	// ErrMalformedPolicy — метаданные политики объекта повреждены.
	ErrMalformedPolicy = errors.New("повреждена политика доступа объекта")
	// ErrBackendUnavailable — хранилище объектов или БД временно недоступны.
	ErrBackendUnavailable = errors.New("backend недоступен")
)
