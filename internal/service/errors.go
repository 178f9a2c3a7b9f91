// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import "errors"

var (
	// ErrDenied — задача не существует или недоступна вызывающему.
	// «Не существует» и «запрещено» намеренно неразличимы.
	ErrDenied = errors.New("задача не найдена или недоступна")
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
	// ErrStoreUnavailable — хранилище (БД или объектное) недоступно.
	ErrStoreUnavailable = errors.New("хранилище недоступно")
)
